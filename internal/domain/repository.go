// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Ledger is the read side of the payment ledger used by batch analysis.
type Ledger interface {
	// OpenSession acquires a connection scoped to one analysis run.
	// The caller must Close the session.
	OpenSession(ctx context.Context) (LedgerSession, error)
}

// LedgerSession is a read-only view of the ledger for one run.
// Query failures are reported as ErrStorageUnavailable.
type LedgerSession interface {
	FetchTransactions(ctx context.Context, w Window) ([]*Transaction, error)
	FetchAccounts(ctx context.Context, ids []string) (map[string]*Account, error)
	FetchDevices(ctx context.Context, w Window) ([]*Device, error)
	FetchIPs(ctx context.Context, f IPFilter) ([]*IPAddress, error)
	Close() error
}

// IPFilter narrows FetchIPs.
type IPFilter struct {
	// SuspiciousOnly keeps proxy, Tor and high or critical threat addresses.
	SuspiciousOnly bool
}

// AlertStore persists alerts. Each insert is its own atomic write.
type AlertStore interface {
	// InsertAlert stores the alert unless one with the same idempotency key
	// exists. created is false for a duplicate.
	InsertAlert(ctx context.Context, alert *Alert) (created bool, err error)
	ListAlerts(ctx context.Context, f AlertFilter) ([]*Alert, error)
}

// TransferStore runs transfer admission in a single atomic unit.
type TransferStore interface {
	// WithinTransfer runs fn in one database transaction. Any error returned
	// by fn rolls the whole unit back.
	WithinTransfer(ctx context.Context, fn func(ctx context.Context, tx TransferTx) error) error
}

// TransferTx is the set of operations available inside WithinTransfer.
type TransferTx interface {
	// LockAccount reads an account for update. Returns ErrNotFound.
	LockAccount(ctx context.Context, id string) (*Account, error)
	CountOutbound(ctx context.Context, accountID string, since time.Time) (int64, error)
	InsertTransaction(ctx context.Context, tx *Transaction) error
	SetBalance(ctx context.Context, accountID string, balance decimal.Decimal) error
	InsertAlert(ctx context.Context, alert *Alert) (bool, error)
}

// ComplianceStore holds the explicit compliance actions and dashboard counters.
type ComplianceStore interface {
	BlockAccount(ctx context.Context, accountID, reason string) error
	FlagTransaction(ctx context.Context, txID, reason string) error
	Stats(ctx context.Context) (*Stats, error)
}

// Stats are the dashboard counters.
type Stats struct {
	TotalTransactions   int64              `json:"totalTransactions"`
	FlaggedTransactions int64              `json:"flaggedTransactions"`
	BlockedAccounts     int64              `json:"blockedAccounts"`
	HighRiskAccounts    int64              `json:"highRiskAccounts"`
	OpenAlerts          int64              `json:"openAlerts"`
	AlertsBySeverity    map[Severity]int64 `json:"alertsBySeverity"`
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost"`
	PostgresPort     int    `json:"postgresPort"`
	PostgresUser     string `json:"postgresUser"`
	PostgresPassword string `json:"-"`
	PostgresDB       string `json:"postgresDb"`
	PostgresSSLMode  string `json:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns"`
	MaxIdleConns    int           `json:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime"`

	// ConnectTimeout bounds the retried initial connect.
	ConnectTimeout time.Duration `json:"connectTimeout"`
}
