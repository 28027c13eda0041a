package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

// WithinTransfer runs fn in one database transaction.
// The transaction commits only if fn returns nil.
func (r *SQLRepository) WithinTransfer(ctx context.Context, fn func(ctx context.Context, tx domain.TransferTx) error) error {
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin transfer", err)
	}

	if err := fn(ctx, &transferTx{conn: r.on(sqlTx)}); err != nil {
		sqlTx.Rollback()
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return storageErr("commit transfer", err)
	}
	return nil
}

// transferTx implements domain.TransferTx on an open transaction.
type transferTx struct {
	conn
}

// LockAccount reads an account row. On PostgreSQL the row is locked until
// the transfer ends; SQLite serializes writers on the database lock.
func (t *transferTx) LockAccount(ctx context.Context, id string) (*domain.Account, error) {
	query := `
		SELECT id, client_id, account_number, balance, currency,
			   risk_level, is_blocked, is_active
		FROM accounts
		WHERE id = ?
	`
	if t.driver == "postgres" {
		query += ` FOR UPDATE`
	}

	acc, err := scanAccount(t.q.QueryRowContext(ctx, t.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: account %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, storageErr("lock account", err)
	}
	return acc, nil
}

// CountOutbound counts transfers sent by accountID at or after since.
func (t *transferTx) CountOutbound(ctx context.Context, accountID string, since time.Time) (int64, error) {
	query := `
		SELECT COUNT(*) FROM transactions
		WHERE sender_account_id = ? AND timestamp >= ?
	`

	var n int64
	if err := t.q.QueryRowContext(ctx, t.rebind(query), accountID, since.UTC()).Scan(&n); err != nil {
		return 0, storageErr("count outbound", err)
	}
	return n, nil
}

func (t *transferTx) InsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	return t.insertTransaction(ctx, tx)
}

// SetBalance overwrites an account balance.
func (t *transferTx) SetBalance(ctx context.Context, accountID string, balance decimal.Decimal) error {
	query := `UPDATE accounts SET balance = ? WHERE id = ?`

	res, err := t.q.ExecContext(ctx, t.rebind(query), balance, accountID)
	if err != nil {
		return storageErr("set balance", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: account %s", domain.ErrNotFound, accountID)
	}
	return nil
}

func (t *transferTx) InsertAlert(ctx context.Context, alert *domain.Alert) (bool, error) {
	return t.insertAlert(ctx, alert)
}

func (c conn) insertTransaction(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions (
			id, sender_account_id, receiver_account_id, amount, currency,
			transaction_type, description, status, timestamp,
			device_id, ip_address_id, fraud_score, is_flagged, flagged_reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	txType := tx.Type
	if txType == "" {
		txType = "transfer"
	}

	_, err := c.q.ExecContext(ctx, c.rebind(query),
		tx.ID, tx.SenderAccountID, tx.ReceiverAccountID, tx.Amount, tx.Currency,
		txType, nullString(tx.Description), tx.Status, tx.Timestamp.UTC(),
		nullString(tx.DeviceID), nullString(tx.IPAddressID), tx.FraudScore, tx.IsFlagged, nullString(tx.FlaggedReason),
	)
	if err != nil {
		return storageErr("insert transaction", err)
	}
	return nil
}
