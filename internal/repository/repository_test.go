package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRepo(t *testing.T) *SQLRepository {
	t.Helper()

	// Create temp database file
	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() {
		os.Remove(tmpPath)
		os.Remove(tmpPath + "-wal")
		os.Remove(tmpPath + "-shm")
	})

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func seedLedger(t *testing.T, repo *SQLRepository) {
	t.Helper()
	ctx := context.Background()

	accounts := []*domain.Account{
		{ID: "A", ClientID: "c-1", Balance: decimal.RequireFromString("1000.5"), Currency: "USD", Active: true},
		{ID: "B", ClientID: "c-2", Balance: decimal.NewFromInt(200), Currency: "USD", RiskLevel: 0.7, Active: true},
		{ID: "C", ClientID: "c-3", Balance: decimal.Zero, Currency: "USD", Active: false},
	}
	for _, acc := range accounts {
		if err := repo.SaveAccount(ctx, acc); err != nil {
			t.Fatalf("SaveAccount failed: %v", err)
		}
	}

	txs := []*domain.Transaction{
		{ID: "t2", SenderAccountID: "B", ReceiverAccountID: "C", Amount: decimal.NewFromInt(50), Currency: "USD", Status: domain.StatusCompleted, Timestamp: base.Add(2 * time.Minute), IPAddressID: "ip-tor"},
		{ID: "t1", SenderAccountID: "A", ReceiverAccountID: "B", Amount: decimal.RequireFromString("99.99"), Currency: "USD", Status: domain.StatusCompleted, Timestamp: base.Add(time.Minute), DeviceID: "dev-1"},
		{ID: "t0", SenderAccountID: "A", ReceiverAccountID: "B", Amount: decimal.NewFromInt(10), Currency: "USD", Status: domain.StatusCompleted, Timestamp: base.Add(-2 * time.Hour)},
	}
	for _, tx := range txs {
		if err := repo.SaveTransaction(ctx, tx); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}
	}

	if err := repo.SaveDevice(ctx, &domain.Device{ID: "dev-1", Fingerprint: "fp", DeviceType: "mobile", FirstSeen: base.Add(-time.Hour)}); err != nil {
		t.Fatalf("SaveDevice failed: %v", err)
	}
	if err := repo.SaveDevice(ctx, &domain.Device{ID: "dev-old", Fingerprint: "fp-old", FirstSeen: base.Add(-30 * 24 * time.Hour)}); err != nil {
		t.Fatalf("SaveDevice failed: %v", err)
	}

	ips := []*domain.IPAddress{
		{ID: "ip-tor", Address: "10.0.0.1", IsTor: true},
		{ID: "ip-clean", Address: "10.0.0.2", Country: "US"},
		{ID: "ip-hot", Address: "10.0.0.3", ThreatLevel: domain.ThreatCritical},
	}
	for _, ip := range ips {
		if err := repo.SaveIPAddress(ctx, ip); err != nil {
			t.Fatalf("SaveIPAddress failed: %v", err)
		}
	}
}

func TestLedgerSession(t *testing.T) {
	repo := newTestRepo(t)
	seedLedger(t, repo)
	ctx := context.Background()

	// A row the scanner cannot read as a transaction.
	if _, err := repo.db.Exec(`
		INSERT INTO transactions (id, sender_account_id, receiver_account_id, amount, currency, status, timestamp)
		VALUES ('bad', 'A', 'B', 'not-a-number', 'USD', 'completed', ?)`, base.Add(3*time.Minute)); err != nil {
		t.Fatalf("failed to insert malformed row: %v", err)
	}
	if _, err := repo.db.Exec(`INSERT INTO devices (id, fingerprint, first_seen) VALUES ('', 'fp-blank', ?)`, base.Add(-2*time.Hour)); err != nil {
		t.Fatalf("failed to insert malformed device: %v", err)
	}
	if _, err := repo.db.Exec(`INSERT INTO ip_addresses (id, address, is_tor) VALUES ('', '10.0.0.9', ?)`, true); err != nil {
		t.Fatalf("failed to insert malformed address: %v", err)
	}

	sess, err := repo.OpenSession(ctx)
	if err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}
	defer sess.Close()

	t.Run("FetchTransactions", func(t *testing.T) {
		txs, err := sess.FetchTransactions(ctx, domain.Window{Start: base, End: base.Add(time.Hour)})
		if err != nil {
			t.Fatalf("FetchTransactions failed: %v", err)
		}
		if len(txs) != 2 {
			t.Fatalf("expected 2 transactions (malformed row skipped), got %d", len(txs))
		}
		if txs[0].ID != "t1" || txs[1].ID != "t2" {
			t.Errorf("expected timestamp order t1, t2, got %s, %s", txs[0].ID, txs[1].ID)
		}
		if !txs[0].Amount.Equal(decimal.RequireFromString("99.99")) {
			t.Errorf("expected amount 99.99, got %s", txs[0].Amount)
		}
		if !txs[0].Timestamp.Equal(base.Add(time.Minute)) {
			t.Errorf("expected timestamp %v, got %v", base.Add(time.Minute), txs[0].Timestamp)
		}
		if txs[0].DeviceID != "dev-1" || txs[1].IPAddressID != "ip-tor" {
			t.Errorf("channel references not preserved: %q %q", txs[0].DeviceID, txs[1].IPAddressID)
		}
	})

	t.Run("FetchAccounts", func(t *testing.T) {
		accounts, err := sess.FetchAccounts(ctx, []string{"A", "B", "missing"})
		if err != nil {
			t.Fatalf("FetchAccounts failed: %v", err)
		}
		if len(accounts) != 2 {
			t.Fatalf("expected 2 accounts, got %d", len(accounts))
		}
		if !accounts["A"].Balance.Equal(decimal.RequireFromString("1000.5")) {
			t.Errorf("expected balance 1000.5, got %s", accounts["A"].Balance)
		}
		if accounts["B"].RiskLevel != 0.7 || accounts["B"].ClientID != "c-2" {
			t.Errorf("unexpected account B: %+v", accounts["B"])
		}
		if !accounts["A"].Active {
			t.Error("expected account A to be active")
		}
	})

	t.Run("FetchDevices", func(t *testing.T) {
		devices, err := sess.FetchDevices(ctx, domain.Lookback(base, 24*time.Hour))
		if err != nil {
			t.Fatalf("FetchDevices failed: %v", err)
		}
		if len(devices) != 1 || devices[0].ID != "dev-1" {
			t.Fatalf("expected only dev-1 (blank id skipped), got %d devices", len(devices))
		}
		if devices[0].DeviceType != "mobile" {
			t.Errorf("expected device type mobile, got %s", devices[0].DeviceType)
		}
	})

	t.Run("FetchIPs", func(t *testing.T) {
		all, err := sess.FetchIPs(ctx, domain.IPFilter{})
		if err != nil {
			t.Fatalf("FetchIPs failed: %v", err)
		}
		if len(all) != 3 {
			t.Errorf("expected 3 addresses (blank id skipped), got %d", len(all))
		}

		suspicious, err := sess.FetchIPs(ctx, domain.IPFilter{SuspiciousOnly: true})
		if err != nil {
			t.Fatalf("FetchIPs failed: %v", err)
		}
		if len(suspicious) != 2 {
			t.Fatalf("expected 2 suspicious addresses, got %d", len(suspicious))
		}
		for _, ip := range suspicious {
			if !ip.Suspicious() {
				t.Errorf("address %s is not suspicious", ip.ID)
			}
		}
	})

	t.Run("CloseTwice", func(t *testing.T) {
		s, err := repo.OpenSession(ctx)
		if err != nil {
			t.Fatalf("OpenSession failed: %v", err)
		}
		if err := s.Close(); err != nil {
			t.Errorf("first Close failed: %v", err)
		}
		if err := s.Close(); err != nil {
			t.Errorf("second Close failed: %v", err)
		}
	})
}

func TestDecimalPrecision(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	balance := decimal.RequireFromString("12345678901234567890.123456789")
	amount := decimal.RequireFromString("0.000000000000000001")

	if err := repo.SaveAccount(ctx, &domain.Account{ID: "A", ClientID: "c-1", Balance: balance, Currency: "USD", Active: true}); err != nil {
		t.Fatalf("SaveAccount failed: %v", err)
	}
	if err := repo.SaveTransaction(ctx, &domain.Transaction{
		ID: "t1", SenderAccountID: "A", ReceiverAccountID: "B", Amount: amount,
		Currency: "USD", Status: domain.StatusCompleted, Timestamp: base,
	}); err != nil {
		t.Fatalf("SaveTransaction failed: %v", err)
	}

	sess, err := repo.OpenSession(ctx)
	if err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}
	defer sess.Close()

	accounts, err := sess.FetchAccounts(ctx, []string{"A"})
	if err != nil {
		t.Fatalf("FetchAccounts failed: %v", err)
	}
	if got := accounts["A"].Balance; !got.Equal(balance) {
		t.Errorf("balance lost precision: got %s, want %s", got, balance)
	}

	txs, err := sess.FetchTransactions(ctx, domain.Lookback(base.Add(time.Minute), time.Hour))
	if err != nil {
		t.Fatalf("FetchTransactions failed: %v", err)
	}
	if len(txs) != 1 || !txs[0].Amount.Equal(amount) {
		t.Fatalf("amount lost precision: %v", txs)
	}
}

func TestStorageUnavailable(t *testing.T) {
	repo := newTestRepo(t)
	repo.Close()

	_, err := repo.OpenSession(context.Background())
	if !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Errorf("expected ErrStorageUnavailable, got %v", err)
	}
}

func TestAlerts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	newAlert := func(id, key string, score float64, at time.Time) *domain.Alert {
		return &domain.Alert{
			ID:             id,
			AlertType:      domain.AlertTypeFraud,
			Severity:       domain.SeverityFor(score),
			Title:          "Carousel Detected",
			Description:    "Suspicious carousel",
			RiskScore:      score,
			AutoGenerated:  true,
			Status:         domain.AlertStatusOpen,
			CreatedAt:      at,
			IdempotencyKey: key,
			Pattern:        domain.PatternCarousel,
			Accounts:       []string{"A", "B", "C", "A"},
		}
	}

	t.Run("InsertIsIdempotent", func(t *testing.T) {
		created, err := repo.InsertAlert(ctx, newAlert("a-1", "key-1", 0.9, base))
		if err != nil || !created {
			t.Fatalf("expected first insert to create, got created=%v err=%v", created, err)
		}

		created, err = repo.InsertAlert(ctx, newAlert("a-2", "key-1", 0.9, base))
		if err != nil {
			t.Fatalf("duplicate insert failed: %v", err)
		}
		if created {
			t.Error("expected duplicate key to be ignored")
		}
	})

	t.Run("RequiresKey", func(t *testing.T) {
		_, err := repo.InsertAlert(ctx, newAlert("a-3", "", 0.9, base))
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("List", func(t *testing.T) {
		if _, err := repo.InsertAlert(ctx, newAlert("a-4", "key-4", 0.65, base.Add(time.Minute))); err != nil {
			t.Fatalf("InsertAlert failed: %v", err)
		}

		alerts, err := repo.ListAlerts(ctx, domain.AlertFilter{})
		if err != nil {
			t.Fatalf("ListAlerts failed: %v", err)
		}
		if len(alerts) != 2 {
			t.Fatalf("expected 2 alerts, got %d", len(alerts))
		}
		if alerts[0].ID != "a-4" {
			t.Errorf("expected newest first, got %s", alerts[0].ID)
		}
		if len(alerts[1].Accounts) != 4 || alerts[1].Pattern != domain.PatternCarousel || !alerts[1].AutoGenerated {
			t.Errorf("alert fields not preserved: %+v", alerts[1])
		}

		critical, err := repo.ListAlerts(ctx, domain.AlertFilter{Severity: domain.SeverityCritical})
		if err != nil {
			t.Fatalf("ListAlerts failed: %v", err)
		}
		if len(critical) != 1 || critical[0].ID != "a-1" {
			t.Errorf("expected only a-1 as critical, got %d alerts", len(critical))
		}

		limited, err := repo.ListAlerts(ctx, domain.AlertFilter{Limit: 1})
		if err != nil {
			t.Fatalf("ListAlerts failed: %v", err)
		}
		if len(limited) != 1 {
			t.Errorf("expected limit 1, got %d", len(limited))
		}
	})
}

func TestWithinTransfer(t *testing.T) {
	repo := newTestRepo(t)
	seedLedger(t, repo)
	ctx := context.Background()

	balanceOf := func(id string) decimal.Decimal {
		t.Helper()
		sess, err := repo.OpenSession(ctx)
		if err != nil {
			t.Fatalf("OpenSession failed: %v", err)
		}
		defer sess.Close()
		accounts, err := sess.FetchAccounts(ctx, []string{id})
		if err != nil {
			t.Fatalf("FetchAccounts failed: %v", err)
		}
		return accounts[id].Balance
	}

	t.Run("Commit", func(t *testing.T) {
		err := repo.WithinTransfer(ctx, func(ctx context.Context, tx domain.TransferTx) error {
			acc, err := tx.LockAccount(ctx, "A")
			if err != nil {
				return err
			}
			n, err := tx.CountOutbound(ctx, "A", base.Add(-3*time.Hour))
			if err != nil {
				return err
			}
			if n != 2 {
				t.Errorf("expected 2 outbound transfers, got %d", n)
			}
			if err := tx.InsertTransaction(ctx, &domain.Transaction{
				ID: "t-new", SenderAccountID: "A", ReceiverAccountID: "B",
				Amount: decimal.NewFromInt(100), Currency: "USD",
				Status: domain.StatusCompleted, Timestamp: base.Add(5 * time.Minute),
			}); err != nil {
				return err
			}
			return tx.SetBalance(ctx, "A", acc.Balance.Sub(decimal.NewFromInt(100)))
		})
		if err != nil {
			t.Fatalf("WithinTransfer failed: %v", err)
		}

		if got := balanceOf("A"); !got.Equal(decimal.RequireFromString("900.5")) {
			t.Errorf("expected balance 900.5, got %s", got)
		}
	})

	t.Run("Rollback", func(t *testing.T) {
		boom := errors.New("boom")
		err := repo.WithinTransfer(ctx, func(ctx context.Context, tx domain.TransferTx) error {
			if err := tx.SetBalance(ctx, "B", decimal.Zero); err != nil {
				return err
			}
			if _, err := tx.InsertAlert(ctx, &domain.Alert{
				ID: "a-rb", AlertType: "HIGH_AMOUNT", Severity: domain.SeverityLow,
				Title: "t", Description: "d", Status: domain.AlertStatusOpen,
				CreatedAt: base, IdempotencyKey: "admission:rb",
			}); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected fn error, got %v", err)
		}

		if got := balanceOf("B"); !got.Equal(decimal.NewFromInt(200)) {
			t.Errorf("expected balance unchanged at 200, got %s", got)
		}
		alerts, err := repo.ListAlerts(ctx, domain.AlertFilter{})
		if err != nil {
			t.Fatalf("ListAlerts failed: %v", err)
		}
		if len(alerts) != 0 {
			t.Errorf("expected rolled back alert to be gone, got %d", len(alerts))
		}
	})

	t.Run("LockMissingAccount", func(t *testing.T) {
		err := repo.WithinTransfer(ctx, func(ctx context.Context, tx domain.TransferTx) error {
			_, err := tx.LockAccount(ctx, "nobody")
			return err
		})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestCompliance(t *testing.T) {
	repo := newTestRepo(t)
	seedLedger(t, repo)
	ctx := context.Background()

	if err := repo.BlockAccount(ctx, "A", "manual review"); err != nil {
		t.Fatalf("BlockAccount failed: %v", err)
	}
	if err := repo.FlagTransaction(ctx, "t1", "structuring"); err != nil {
		t.Fatalf("FlagTransaction failed: %v", err)
	}

	t.Run("NotFound", func(t *testing.T) {
		if err := repo.BlockAccount(ctx, "nobody", ""); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if err := repo.FlagTransaction(ctx, "nothing", ""); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Blocked", func(t *testing.T) {
		sess, err := repo.OpenSession(ctx)
		if err != nil {
			t.Fatalf("OpenSession failed: %v", err)
		}
		defer sess.Close()

		accounts, err := sess.FetchAccounts(ctx, []string{"A"})
		if err != nil {
			t.Fatalf("FetchAccounts failed: %v", err)
		}
		if !accounts["A"].Blocked {
			t.Error("expected account A to be blocked")
		}
	})

	t.Run("Stats", func(t *testing.T) {
		for i, score := range []float64{0.9, 0.85, 0.65} {
			if _, err := repo.InsertAlert(ctx, &domain.Alert{
				ID: fmt.Sprintf("alert-%d", i), AlertType: domain.AlertTypeFraud, Severity: domain.SeverityFor(score),
				Title: "t", Description: "d", RiskScore: score, Status: domain.AlertStatusOpen,
				CreatedAt: base, IdempotencyKey: fmt.Sprintf("key-%d", i),
			}); err != nil {
				t.Fatalf("InsertAlert failed: %v", err)
			}
		}

		stats, err := repo.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats failed: %v", err)
		}
		if stats.TotalTransactions != 3 {
			t.Errorf("expected 3 transactions, got %d", stats.TotalTransactions)
		}
		if stats.FlaggedTransactions != 1 {
			t.Errorf("expected 1 flagged transaction, got %d", stats.FlaggedTransactions)
		}
		if stats.BlockedAccounts != 1 {
			t.Errorf("expected 1 blocked account, got %d", stats.BlockedAccounts)
		}
		if stats.HighRiskAccounts != 1 {
			t.Errorf("expected 1 high risk account, got %d", stats.HighRiskAccounts)
		}
		if stats.OpenAlerts != 3 {
			t.Errorf("expected 3 open alerts, got %d", stats.OpenAlerts)
		}
		if stats.AlertsBySeverity[domain.SeverityCritical] != 2 || stats.AlertsBySeverity[domain.SeverityHigh] != 1 {
			t.Errorf("unexpected severity counts %v", stats.AlertsBySeverity)
		}
	})
}

func TestInMemory(t *testing.T) {
	repo, err := New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open in-memory repository: %v", err)
	}
	defer repo.Close()

	seedLedger(t, repo)

	stats, err := repo.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalTransactions != 3 {
		t.Errorf("expected 3 transactions, got %d", stats.TotalTransactions)
	}
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	c := conn{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := c.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}

	if got := (conn{driver: "sqlite"}).rebind("id = ?"); got != "id = ?" {
		t.Errorf("sqlite rebind changed the query: %q", got)
	}
	if got := placeholders(3); got != "?, ?, ?" {
		t.Errorf("placeholders(3) = %q", got)
	}
}
