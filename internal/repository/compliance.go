package repository

import (
	"context"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// highRiskLevel is the account risk level counted as high risk in Stats.
const highRiskLevel = 0.5

// BlockAccount marks an account as blocked. Subsequent transfers from it
// are rejected by admission.
func (r *SQLRepository) BlockAccount(ctx context.Context, accountID, reason string) error {
	c := r.on(r.db)
	query := `UPDATE accounts SET is_blocked = ?, blocked_reason = ? WHERE id = ?`

	res, err := c.q.ExecContext(ctx, c.rebind(query), true, nullString(reason), accountID)
	if err != nil {
		return storageErr("block account", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: account %s", domain.ErrNotFound, accountID)
	}
	return nil
}

// FlagTransaction marks a transaction as suspicious for review.
func (r *SQLRepository) FlagTransaction(ctx context.Context, txID, reason string) error {
	c := r.on(r.db)
	query := `UPDATE transactions SET is_flagged = ?, flagged_reason = ? WHERE id = ?`

	res, err := c.q.ExecContext(ctx, c.rebind(query), true, nullString(reason), txID)
	if err != nil {
		return storageErr("flag transaction", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: transaction %s", domain.ErrNotFound, txID)
	}
	return nil
}

// Stats returns the dashboard counters.
func (r *SQLRepository) Stats(ctx context.Context) (*domain.Stats, error) {
	c := r.on(r.db)
	stats := &domain.Stats{AlertsBySeverity: make(map[domain.Severity]int64)}

	counters := []struct {
		dst   *int64
		query string
		args  []any
	}{
		{&stats.TotalTransactions, `SELECT COUNT(*) FROM transactions`, nil},
		{&stats.FlaggedTransactions, `SELECT COUNT(*) FROM transactions WHERE is_flagged = ?`, []any{true}},
		{&stats.BlockedAccounts, `SELECT COUNT(*) FROM accounts WHERE is_blocked = ?`, []any{true}},
		{&stats.HighRiskAccounts, `SELECT COUNT(*) FROM accounts WHERE risk_level > ?`, []any{highRiskLevel}},
		{&stats.OpenAlerts, `SELECT COUNT(*) FROM alerts WHERE status = ?`, []any{domain.AlertStatusOpen}},
	}
	for _, ctr := range counters {
		if err := c.q.QueryRowContext(ctx, c.rebind(ctr.query), ctr.args...).Scan(ctr.dst); err != nil {
			return nil, storageErr("stats", err)
		}
	}

	query := `SELECT severity, COUNT(*) FROM alerts WHERE status = ? GROUP BY severity`
	rows, err := c.q.QueryContext(ctx, c.rebind(query), domain.AlertStatusOpen)
	if err != nil {
		return nil, storageErr("stats", err)
	}
	defer rows.Close()

	for rows.Next() {
		var severity string
		var n int64
		if err := rows.Scan(&severity, &n); err != nil {
			return nil, storageErr("stats", err)
		}
		stats.AlertsBySeverity[domain.Severity(severity)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("stats", err)
	}
	return stats, nil
}
