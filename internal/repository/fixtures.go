package repository

import (
	"context"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Ledger writers used to load development and test data. The production
// ledger is written by the payment system, never by these.

// SaveAccount inserts or replaces an account.
func (r *SQLRepository) SaveAccount(ctx context.Context, acc *domain.Account) error {
	c := r.on(r.db)
	query := `
		INSERT INTO accounts (
			id, client_id, account_number, balance, currency, risk_level, is_blocked, is_active
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			client_id = excluded.client_id,
			account_number = excluded.account_number,
			balance = excluded.balance,
			currency = excluded.currency,
			risk_level = excluded.risk_level,
			is_blocked = excluded.is_blocked,
			is_active = excluded.is_active
	`

	currency := acc.Currency
	if currency == "" {
		currency = "USD"
	}

	_, err := c.q.ExecContext(ctx, c.rebind(query),
		acc.ID, acc.ClientID, acc.Number, acc.Balance, currency,
		acc.RiskLevel, acc.Blocked, acc.Active,
	)
	if err != nil {
		return storageErr("save account", err)
	}
	return nil
}

// SaveTransaction inserts a ledger transaction as-is.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	return r.on(r.db).insertTransaction(ctx, tx)
}

// SaveDevice inserts a device.
func (r *SQLRepository) SaveDevice(ctx context.Context, d *domain.Device) error {
	c := r.on(r.db)
	query := `
		INSERT INTO devices (id, fingerprint, device_type, os, browser, first_seen)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := c.q.ExecContext(ctx, c.rebind(query),
		d.ID, d.Fingerprint, nullString(d.DeviceType), nullString(d.OS), nullString(d.Browser), d.FirstSeen.UTC(),
	)
	if err != nil {
		return storageErr("save device", err)
	}
	return nil
}

// SaveIPAddress inserts an IP address.
func (r *SQLRepository) SaveIPAddress(ctx context.Context, ip *domain.IPAddress) error {
	c := r.on(r.db)
	query := `
		INSERT INTO ip_addresses (id, address, country, is_proxy, is_tor, is_vpn, threat_level)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	level := ip.ThreatLevel
	if level == "" {
		level = domain.ThreatLow
	}

	_, err := c.q.ExecContext(ctx, c.rebind(query),
		ip.ID, ip.Address, nullString(ip.Country), ip.IsProxy, ip.IsTor, ip.IsVPN, level,
	)
	if err != nil {
		return storageErr("save ip address", err)
	}
	return nil
}
