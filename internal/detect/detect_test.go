package detect

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func transfer(id, from, to string, amount int64, at time.Duration) *domain.Transaction {
	return &domain.Transaction{
		ID:                id,
		SenderAccountID:   from,
		ReceiverAccountID: to,
		Amount:            decimal.NewFromInt(amount),
		Currency:          "USD",
		Status:            domain.StatusCompleted,
		Timestamp:         base.Add(at),
	}
}

func snapshotAt(asOf time.Duration, txs ...*domain.Transaction) *Snapshot {
	return NewSnapshot(base.Add(asOf), txs, nil, nil, nil)
}

func detectAll(t *testing.T, d Detector, snap *Snapshot) []domain.Finding {
	t.Helper()
	findings, err := d.Detect(context.Background(), snap)
	if err != nil {
		t.Fatalf("%s: Detect failed: %v", d.Name(), err)
	}
	for _, f := range findings {
		if f.RiskScore < 0 || f.RiskScore > 1 {
			t.Fatalf("%s: risk score %v out of range", d.Name(), f.RiskScore)
		}
		if f.Pattern != f.Detail.Pattern() {
			t.Fatalf("%s: detail %T does not match pattern %s", d.Name(), f.Detail, f.Pattern)
		}
	}
	return findings
}

func TestSnapshot(t *testing.T) {
	snap := snapshotAt(time.Hour,
		transfer("late", "A", "B", 1, 50*time.Minute),
		transfer("early", "A", "B", 1, 10*time.Minute),
		transfer("future", "A", "B", 1, 2*time.Hour),
		transfer("old", "A", "B", 1, -2*time.Hour),
	)

	t.Run("SortedByTime", func(t *testing.T) {
		if snap.Transactions[0].ID != "old" || snap.Transactions[3].ID != "future" {
			t.Errorf("transactions not sorted: first=%s last=%s", snap.Transactions[0].ID, snap.Transactions[3].ID)
		}
	})

	t.Run("TransactionsIn", func(t *testing.T) {
		txs := snap.TransactionsIn(snap.Window(time.Hour))
		if len(txs) != 2 {
			t.Fatalf("expected 2 transactions in the last hour, got %d", len(txs))
		}
		if txs[0].ID != "early" || txs[1].ID != "late" {
			t.Errorf("unexpected transactions %s, %s", txs[0].ID, txs[1].ID)
		}
	})

	t.Run("PreparedGraphIsShared", func(t *testing.T) {
		snap.PrepareGraphs(time.Hour)
		if snap.Graph(time.Hour) != snap.Graph(time.Hour) {
			t.Error("prepared graph should be returned as-is")
		}
		if g := snap.Graph(3 * time.Hour); g.Edge("A", "B").Count != 3 {
			t.Errorf("expected 3 transfers in the 3h graph, got %d", g.Edge("A", "B").Count)
		}
	})
}

func TestDefaults(t *testing.T) {
	detectors := Defaults(domain.DefaultAnalysisConfig())
	if len(detectors) != len(domain.AllPatterns()) {
		t.Fatalf("expected one detector per pattern, got %d", len(detectors))
	}
	names := make(map[string]bool)
	for _, d := range detectors {
		names[d.Name()] = true
	}
	for _, p := range domain.AllPatterns() {
		if !names[string(p)] {
			t.Errorf("no detector for %s", p)
		}
	}
}

func TestFetchSpan(t *testing.T) {
	cfg := domain.DefaultAnalysisConfig()
	if got := FetchSpan(Defaults(cfg)); got != 7*24*time.Hour {
		t.Errorf("expected the cluster lookback, got %v", got)
	}

	only := []Detector{NewVelocity(domain.VelocityConfig{Window: 10 * time.Minute})}
	if got := FetchSpan(only); got != 10*time.Minute {
		t.Errorf("expected velocity lookback to default to its window, got %v", got)
	}

	if got := FetchSpan(nil); got != 0 {
		t.Errorf("expected zero span, got %v", got)
	}
}

// clique returns transfers i->j for every i<j among the named accounts.
func clique(prefix string, n int, start time.Duration) []*domain.Transaction {
	var txs []*domain.Transaction
	k := 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			k++
			txs = append(txs, transfer(
				fmt.Sprintf("%s-t%d", prefix, k),
				fmt.Sprintf("%s%d", prefix, i),
				fmt.Sprintf("%s%d", prefix, j),
				100,
				start+time.Duration(k)*time.Minute,
			))
		}
	}
	return txs
}
