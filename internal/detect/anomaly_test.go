package detect

import (
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestDevice(t *testing.T) {
	asOf := base.Add(3 * time.Hour)
	devices := []*domain.Device{
		{ID: "d-new", Fingerprint: "fp-1", DeviceType: "mobile", FirstSeen: asOf.Add(-2 * time.Hour)},
		{ID: "d-old", Fingerprint: "fp-2", DeviceType: "desktop", FirstSeen: asOf.Add(-72 * time.Hour)},
		{ID: "d-idle", Fingerprint: "fp-3", DeviceType: "tablet", FirstSeen: asOf.Add(-time.Hour)},
	}

	t1 := transfer("t1", "S1", "R", 100, time.Hour)
	t1.DeviceID = "d-new"
	t2 := transfer("t2", "S2", "R", 100, 2*time.Hour)
	t2.DeviceID = "d-new"
	t3 := transfer("t3", "S1", "R", 100, 2*time.Hour)
	t3.DeviceID = "d-old"

	snap := NewSnapshot(asOf, []*domain.Transaction{t1, t2, t3}, nil, devices, nil)
	findings := detectAll(t, NewDevice(domain.DeviceConfig{}), snap)
	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(findings))
	}

	f := findings[0]
	if f.Subject != "d-new" {
		t.Errorf("expected subject d-new, got %s", f.Subject)
	}
	if got := strings.Join(f.Accounts, ","); got != "S1,S2" {
		t.Errorf("expected accounts S1,S2, got %s", got)
	}
	detail := f.Detail.(domain.DeviceDetail)
	if detail.TxCount != 2 || detail.UniqueAccounts != 2 {
		t.Errorf("expected 2 transfers from 2 accounts, got %d from %d", detail.TxCount, detail.UniqueAccounts)
	}
	if detail.Fingerprint != "fp-1" {
		t.Errorf("expected fingerprint fp-1, got %s", detail.Fingerprint)
	}
}

func TestIP(t *testing.T) {
	asOf := base.Add(3 * time.Hour)
	ips := []*domain.IPAddress{
		{ID: "ip-tor", Address: "10.0.0.1", Country: "XX", IsTor: true, ThreatLevel: domain.ThreatLow},
		{ID: "ip-clean", Address: "10.0.0.2", Country: "US", ThreatLevel: domain.ThreatLow},
		{ID: "ip-proxy", Address: "10.0.0.3", IsProxy: true, ThreatLevel: domain.ThreatMedium},
	}

	t1 := transfer("t1", "S1", "R", 100, time.Hour)
	t1.IPAddressID = "ip-tor"
	t2 := transfer("t2", "S1", "R", 100, 2*time.Hour)
	t2.IPAddressID = "ip-clean"

	snap := NewSnapshot(asOf, []*domain.Transaction{t1, t2}, nil, nil, ips)
	findings := detectAll(t, NewIP(domain.DeviceConfig{}), snap)
	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(findings))
	}

	f := findings[0]
	if f.Subject != "ip-tor" {
		t.Errorf("expected subject ip-tor, got %s", f.Subject)
	}
	detail := f.Detail.(domain.IPDetail)
	if !detail.IsTor || detail.TxCount != 1 || detail.UniqueAccounts != 1 {
		t.Errorf("unexpected detail %+v", detail)
	}
	if f.RiskScore < 0.8 {
		t.Errorf("expected a Tor address to score at least 0.8, got %v", f.RiskScore)
	}
}
