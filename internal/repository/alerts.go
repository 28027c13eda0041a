package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const defaultAlertLimit = 100

// InsertAlert stores an alert in its own atomic write.
// created is false when an alert with the same idempotency key exists.
func (r *SQLRepository) InsertAlert(ctx context.Context, alert *domain.Alert) (bool, error) {
	return r.on(r.db).insertAlert(ctx, alert)
}

func (c conn) insertAlert(ctx context.Context, alert *domain.Alert) (bool, error) {
	if alert.IdempotencyKey == "" {
		return false, fmt.Errorf("%w: idempotency key is required", domain.ErrValidation)
	}

	accounts, _ := json.Marshal(alert.Accounts)

	query := `
		INSERT INTO alerts (
			id, alert_type, severity, title, description, risk_score,
			auto_generated, status, created_at, idempotency_key,
			pattern_type, accounts, transaction_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (idempotency_key) DO NOTHING
	`

	res, err := c.q.ExecContext(ctx, c.rebind(query),
		alert.ID, alert.AlertType, string(alert.Severity), alert.Title, alert.Description, alert.RiskScore,
		alert.AutoGenerated, alert.Status, alert.CreatedAt.UTC(), alert.IdempotencyKey,
		nullString(string(alert.Pattern)), string(accounts), nullString(alert.TransactionID),
	)
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrAlertWriteFailed, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrAlertWriteFailed, err)
	}
	return n == 1, nil
}

// ListAlerts returns alerts newest first.
func (r *SQLRepository) ListAlerts(ctx context.Context, f domain.AlertFilter) ([]*domain.Alert, error) {
	query := `
		SELECT id, alert_type, severity, title, description, risk_score,
			   auto_generated, status, created_at, idempotency_key,
			   pattern_type, accounts, transaction_id
		FROM alerts
		WHERE 1 = 1
	`
	var args []any
	if f.Severity != "" {
		query += ` AND severity = ?`
		args = append(args, string(f.Severity))
	}
	if !f.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, f.Since.UTC())
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultAlertLimit
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limit)

	c := r.on(r.db)
	rows, err := c.q.QueryContext(ctx, c.rebind(query), args...)
	if err != nil {
		return nil, storageErr("list alerts", err)
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		var (
			a        domain.Alert
			severity string
			pattern  sql.NullString
			accounts sql.NullString
			txID     sql.NullString
		)
		if err := rows.Scan(
			&a.ID, &a.AlertType, &severity, &a.Title, &a.Description, &a.RiskScore,
			&a.AutoGenerated, &a.Status, &a.CreatedAt, &a.IdempotencyKey,
			&pattern, &accounts, &txID,
		); err != nil {
			slog.Warn("skipping alert row", "error", fmt.Errorf("%w: %v", domain.ErrMalformedRow, err))
			continue
		}

		a.Severity = domain.Severity(severity)
		a.Pattern = domain.PatternType(pattern.String)
		a.TransactionID = txID.String
		a.CreatedAt = a.CreatedAt.UTC()
		if accounts.String != "" {
			json.Unmarshal([]byte(accounts.String), &a.Accounts)
		}
		alerts = append(alerts, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("list alerts", err)
	}
	return alerts, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
