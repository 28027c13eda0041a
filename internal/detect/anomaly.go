package detect

import (
	"context"
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Device flags transfers made from devices first seen recently.
type Device struct {
	cfg domain.DeviceConfig
}

// NewDevice creates a new-device finder. Zero fields take the defaults.
func NewDevice(cfg domain.DeviceConfig) *Device {
	return &Device{cfg: deviceDefaults(cfg)}
}

func (d *Device) Name() string        { return string(domain.PatternNewDevice) }
func (d *Device) Span() time.Duration { return d.cfg.Lookback }

// MaxAge is how recently a device must have been first seen to be reported.
func (d *Device) MaxAge() time.Duration { return d.cfg.MaxAge }

// Detect reports every device first seen within MaxAge of the run that
// carried at least one transfer.
func (d *Device) Detect(ctx context.Context, snap *Snapshot) ([]domain.Finding, error) {
	w := snap.Window(d.cfg.Lookback)
	byDevice := make(map[string][]*domain.Transaction)
	for _, tx := range snap.TransactionsIn(w) {
		if tx.DeviceID != "" {
			byDevice[tx.DeviceID] = append(byDevice[tx.DeviceID], tx)
		}
	}

	devices := append([]*domain.Device(nil), snap.Devices...)
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })

	var findings []domain.Finding
	for _, dev := range devices {
		age := snap.AsOf.Sub(dev.FirstSeen)
		if age < 0 || age > d.cfg.MaxAge {
			continue
		}
		txs := byDevice[dev.ID]
		if len(txs) == 0 {
			continue
		}
		senders := uniqueSenders(txs)

		f, err := newFinding(snap.AsOf, findingParts{
			pattern:  domain.PatternNewDevice,
			subject:  dev.ID,
			accounts: senders,
			txs:      txs,
			window:   w,
			detail: domain.DeviceDetail{
				DeviceID:       dev.ID,
				Fingerprint:    dev.Fingerprint,
				DeviceType:     dev.DeviceType,
				FirstSeen:      dev.FirstSeen,
				TxCount:        len(txs),
				UniqueAccounts: len(senders),
			},
		})
		if err != nil {
			return nil, err
		}
		findings = append(findings, f)
	}
	return findings, nil
}

// IP flags transfers made from addresses with adverse reputation.
type IP struct {
	cfg domain.DeviceConfig
}

// NewIP creates a suspicious address finder. Zero fields take the defaults.
func NewIP(cfg domain.DeviceConfig) *IP {
	return &IP{cfg: deviceDefaults(cfg)}
}

func (p *IP) Name() string        { return string(domain.PatternSuspiciousIP) }
func (p *IP) Span() time.Duration { return p.cfg.Lookback }

// Detect reports every proxy, Tor, high or critical threat address that
// carried at least one transfer.
func (p *IP) Detect(ctx context.Context, snap *Snapshot) ([]domain.Finding, error) {
	w := snap.Window(p.cfg.Lookback)
	byIP := make(map[string][]*domain.Transaction)
	for _, tx := range snap.TransactionsIn(w) {
		if tx.IPAddressID != "" {
			byIP[tx.IPAddressID] = append(byIP[tx.IPAddressID], tx)
		}
	}

	ips := append([]*domain.IPAddress(nil), snap.IPs...)
	sort.Slice(ips, func(i, j int) bool { return ips[i].ID < ips[j].ID })

	var findings []domain.Finding
	for _, ip := range ips {
		if !ip.Suspicious() {
			continue
		}
		txs := byIP[ip.ID]
		if len(txs) == 0 {
			continue
		}
		senders := uniqueSenders(txs)

		f, err := newFinding(snap.AsOf, findingParts{
			pattern:  domain.PatternSuspiciousIP,
			subject:  ip.ID,
			accounts: senders,
			txs:      txs,
			window:   w,
			detail: domain.IPDetail{
				IPAddressID:    ip.ID,
				Address:        ip.Address,
				Country:        ip.Country,
				IsProxy:        ip.IsProxy,
				IsTor:          ip.IsTor,
				ThreatLevel:    ip.ThreatLevel,
				TxCount:        len(txs),
				UniqueAccounts: len(senders),
			},
		})
		if err != nil {
			return nil, err
		}
		findings = append(findings, f)
	}
	return findings, nil
}

func deviceDefaults(cfg domain.DeviceConfig) domain.DeviceConfig {
	def := domain.DefaultAnalysisConfig().Device
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = def.MaxAge
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = def.Lookback
	}
	return cfg
}
