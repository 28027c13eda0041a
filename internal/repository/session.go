package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

// accountChunk bounds the IN list of one account query.
const accountChunk = 500

// session is a read transaction scoped to one analysis run.
type session struct {
	tx *sql.Tx
	conn
}

// OpenSession begins a read transaction on one pooled connection.
func (r *SQLRepository) OpenSession(ctx context.Context) (domain.LedgerSession, error) {
	// SQLite read-only transactions begin deferred and never take the write lock.
	opts := &sql.TxOptions{ReadOnly: true}
	if r.driver == "postgres" {
		opts.Isolation = sql.LevelRepeatableRead
	}

	tx, err := r.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: begin session: %v", domain.ErrStorageUnavailable, err)
	}
	return &session{tx: tx, conn: r.on(tx)}, nil
}

// Close ends the read transaction. Safe to call more than once.
func (s *session) Close() error {
	err := s.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}

// FetchTransactions returns the transactions inside w ordered by timestamp, then ID.
func (s *session) FetchTransactions(ctx context.Context, w domain.Window) ([]*domain.Transaction, error) {
	query := `
		SELECT id, sender_account_id, receiver_account_id, amount, currency,
			   transaction_type, description, status, timestamp,
			   device_id, ip_address_id, fraud_score, is_flagged, flagged_reason
		FROM transactions
		WHERE timestamp >= ? AND timestamp < ?
		ORDER BY timestamp, id
	`

	rows, err := s.q.QueryContext(ctx, s.rebind(query), w.Start.UTC(), w.End.UTC())
	if err != nil {
		return nil, storageErr("fetch transactions", err)
	}
	defer rows.Close()

	var txs []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			slog.Warn("skipping transaction row", "error", err)
			continue
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("fetch transactions", err)
	}
	return txs, nil
}

// FetchAccounts returns the accounts with the given IDs keyed by ID.
// Unknown IDs are absent from the map.
func (s *session) FetchAccounts(ctx context.Context, ids []string) (map[string]*domain.Account, error) {
	accounts := make(map[string]*domain.Account, len(ids))

	for start := 0; start < len(ids); start += accountChunk {
		end := min(start+accountChunk, len(ids))
		chunk := ids[start:end]

		query := `
			SELECT id, client_id, account_number, balance, currency,
				   risk_level, is_blocked, is_active
			FROM accounts
			WHERE id IN (` + placeholders(len(chunk)) + `)
		`
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		rows, err := s.q.QueryContext(ctx, s.rebind(query), args...)
		if err != nil {
			return nil, storageErr("fetch accounts", err)
		}
		for rows.Next() {
			acc, err := scanAccount(rows)
			if err != nil {
				slog.Warn("skipping account row", "error", err)
				continue
			}
			accounts[acc.ID] = acc
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, storageErr("fetch accounts", err)
		}
	}
	return accounts, nil
}

// FetchDevices returns the devices first seen inside w.
func (s *session) FetchDevices(ctx context.Context, w domain.Window) ([]*domain.Device, error) {
	query := `
		SELECT id, fingerprint, device_type, os, browser, first_seen
		FROM devices
		WHERE first_seen >= ? AND first_seen < ?
		ORDER BY id
	`

	rows, err := s.q.QueryContext(ctx, s.rebind(query), w.Start.UTC(), w.End.UTC())
	if err != nil {
		return nil, storageErr("fetch devices", err)
	}
	defer rows.Close()

	var devices []*domain.Device
	for rows.Next() {
		var (
			id, fingerprint           sql.NullString
			deviceType, osName, brows sql.NullString
			firstSeen                 sql.NullTime
		)
		if err := rows.Scan(&id, &fingerprint, &deviceType, &osName, &brows, &firstSeen); err != nil {
			slog.Warn("skipping device row", "error", fmt.Errorf("%w: %v", domain.ErrMalformedRow, err))
			continue
		}
		if !id.Valid || id.String == "" || !firstSeen.Valid {
			slog.Warn("skipping device row", "error", domain.ErrMalformedRow, "device_id", id.String)
			continue
		}
		devices = append(devices, &domain.Device{
			ID:          id.String,
			Fingerprint: fingerprint.String,
			DeviceType:  deviceType.String,
			OS:          osName.String,
			Browser:     brows.String,
			FirstSeen:   firstSeen.Time.UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("fetch devices", err)
	}
	return devices, nil
}

// FetchIPs returns IP addresses, optionally only those with adverse reputation.
func (s *session) FetchIPs(ctx context.Context, f domain.IPFilter) ([]*domain.IPAddress, error) {
	query := `
		SELECT id, address, country, is_proxy, is_tor, is_vpn, threat_level
		FROM ip_addresses
	`
	var args []any
	if f.SuspiciousOnly {
		query += ` WHERE is_proxy = ? OR is_tor = ? OR threat_level IN (?, ?)`
		args = append(args, true, true, domain.ThreatHigh, domain.ThreatCritical)
	}
	query += ` ORDER BY id`

	rows, err := s.q.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, storageErr("fetch ip addresses", err)
	}
	defer rows.Close()

	var ips []*domain.IPAddress
	for rows.Next() {
		var (
			id, address, country sql.NullString
			proxy, tor, vpn      sql.NullBool
			threat               sql.NullString
		)
		if err := rows.Scan(&id, &address, &country, &proxy, &tor, &vpn, &threat); err != nil {
			slog.Warn("skipping ip address row", "error", fmt.Errorf("%w: %v", domain.ErrMalformedRow, err))
			continue
		}
		if !id.Valid || id.String == "" || !address.Valid {
			slog.Warn("skipping ip address row", "error", domain.ErrMalformedRow, "ip_address_id", id.String)
			continue
		}
		level := threat.String
		if level == "" {
			level = domain.ThreatLow
		}
		ips = append(ips, &domain.IPAddress{
			ID:          id.String,
			Address:     address.String,
			Country:     country.String,
			IsProxy:     proxy.Bool,
			IsTor:       tor.Bool,
			IsVPN:       vpn.Bool,
			ThreatLevel: level,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("fetch ip addresses", err)
	}
	return ips, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanTransaction reads one transaction row. Rows with missing identity,
// amount or timestamp are reported as ErrMalformedRow.
func scanTransaction(row scanner) (*domain.Transaction, error) {
	var (
		id, sender, receiver sql.NullString
		amount               decimal.NullDecimal
		currency, txType     sql.NullString
		description, status  sql.NullString
		ts                   sql.NullTime
		deviceID, ipID       sql.NullString
		score                sql.NullFloat64
		flagged              sql.NullBool
		reason               sql.NullString
	)
	if err := row.Scan(
		&id, &sender, &receiver, &amount, &currency,
		&txType, &description, &status, &ts,
		&deviceID, &ipID, &score, &flagged, &reason,
	); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedRow, err)
	}
	if !id.Valid || !sender.Valid || !receiver.Valid || !amount.Valid || !ts.Valid {
		return nil, fmt.Errorf("%w: transaction %q has null required columns", domain.ErrMalformedRow, id.String)
	}

	return &domain.Transaction{
		ID:                id.String,
		SenderAccountID:   sender.String,
		ReceiverAccountID: receiver.String,
		Amount:            amount.Decimal,
		Currency:          currency.String,
		Type:              txType.String,
		Description:       description.String,
		Status:            status.String,
		Timestamp:         ts.Time.UTC(),
		DeviceID:          deviceID.String,
		IPAddressID:       ipID.String,
		FraudScore:        score.Float64,
		IsFlagged:         flagged.Bool,
		FlaggedReason:     reason.String,
	}, nil
}

// scanAccount reads one account row.
func scanAccount(row scanner) (*domain.Account, error) {
	var (
		id, client, number sql.NullString
		balance            decimal.NullDecimal
		currency           sql.NullString
		risk               sql.NullFloat64
		blocked, active    sql.NullBool
	)
	if err := row.Scan(&id, &client, &number, &balance, &currency, &risk, &blocked, &active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedRow, err)
	}
	if !id.Valid || id.String == "" {
		return nil, fmt.Errorf("%w: account row without id", domain.ErrMalformedRow)
	}

	return &domain.Account{
		ID:        id.String,
		ClientID:  client.String,
		Number:    number.String,
		Balance:   balance.Decimal,
		Currency:  currency.String,
		RiskLevel: risk.Float64,
		Blocked:   blocked.Bool,
		Active:    active.Bool,
	}, nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrStorageUnavailable, op, err)
}
