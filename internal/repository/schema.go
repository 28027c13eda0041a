package repository

import "strings"

// Development schema for the Kestrel ledger and alert tables.
// Compatible with both SQLite and PostgreSQL. Production ledgers are
// provisioned elsewhere; these statements only create missing tables.

const schemaAccounts = `
CREATE TABLE IF NOT EXISTS accounts (
    id TEXT PRIMARY KEY,
    client_id TEXT NOT NULL,
    account_number TEXT NOT NULL DEFAULT '',
    balance {{decimal}} NOT NULL DEFAULT 0,
    currency TEXT NOT NULL DEFAULT 'USD',
    risk_level REAL NOT NULL DEFAULT 0,
    is_blocked BOOLEAN NOT NULL DEFAULT FALSE,
    blocked_reason TEXT,
    is_active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE INDEX IF NOT EXISTS idx_accounts_client ON accounts(client_id);
`

const schemaDevices = `
CREATE TABLE IF NOT EXISTS devices (
    id TEXT PRIMARY KEY,
    fingerprint TEXT NOT NULL,
    device_type TEXT,
    os TEXT,
    browser TEXT,
    first_seen TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_devices_first_seen ON devices(first_seen);
`

const schemaIPAddresses = `
CREATE TABLE IF NOT EXISTS ip_addresses (
    id TEXT PRIMARY KEY,
    address TEXT NOT NULL,
    country TEXT,
    is_proxy BOOLEAN NOT NULL DEFAULT FALSE,
    is_tor BOOLEAN NOT NULL DEFAULT FALSE,
    is_vpn BOOLEAN NOT NULL DEFAULT FALSE,
    threat_level TEXT NOT NULL DEFAULT 'low'
);
`

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    sender_account_id TEXT NOT NULL,
    receiver_account_id TEXT NOT NULL,
    amount {{decimal}} NOT NULL,
    currency TEXT NOT NULL,
    transaction_type TEXT NOT NULL DEFAULT 'transfer',
    description TEXT,
    status TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    device_id TEXT,
    ip_address_id TEXT,
    fraud_score REAL NOT NULL DEFAULT 0,
    is_flagged BOOLEAN NOT NULL DEFAULT FALSE,
    flagged_reason TEXT
);

CREATE INDEX IF NOT EXISTS idx_transactions_timestamp ON transactions(timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_sender ON transactions(sender_account_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_receiver ON transactions(receiver_account_id);
`

// schemaAlerts defines the alerts table.
// The unique idempotency key is the durable guard against duplicate alerts
// from overlapping analysis runs.
const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    alert_type TEXT NOT NULL,
    severity TEXT NOT NULL,
    title TEXT NOT NULL,
    description TEXT NOT NULL,
    risk_score REAL NOT NULL,
    auto_generated BOOLEAN NOT NULL DEFAULT FALSE,
    status TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    idempotency_key TEXT NOT NULL UNIQUE,
    pattern_type TEXT,
    accounts TEXT,
    transaction_id TEXT
);

CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at);
CREATE INDEX IF NOT EXISTS idx_alerts_severity ON alerts(severity, created_at);
`

// AllSchemas returns all schema statements in order for the driver.
// Money columns are NUMERIC on PostgreSQL and TEXT on SQLite, where NUMERIC
// affinity would store decimals as REAL.
func AllSchemas(driver string) []string {
	decimalType := "TEXT"
	if driver == "postgres" {
		decimalType = "NUMERIC"
	}

	schemas := []string{
		schemaAccounts,
		schemaDevices,
		schemaIPAddresses,
		schemaTransactions,
		schemaAlerts,
	}
	for i, schema := range schemas {
		schemas[i] = strings.ReplaceAll(schema, "{{decimal}}", decimalType)
	}
	return schemas
}
