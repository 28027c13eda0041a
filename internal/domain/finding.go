package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PatternType identifies the detector family that produced a Finding.
type PatternType string

const (
	PatternCarousel      PatternType = "carousel"
	PatternVelocityBurst PatternType = "velocity_burst"
	PatternLayering      PatternType = "layered_transaction"
	PatternCluster       PatternType = "network_cluster"
	PatternNewDevice     PatternType = "new_device"
	PatternSuspiciousIP  PatternType = "suspicious_ip"
)

// AllPatterns lists every pattern type in reporting order.
func AllPatterns() []PatternType {
	return []PatternType{
		PatternCarousel,
		PatternVelocityBurst,
		PatternLayering,
		PatternCluster,
		PatternNewDevice,
		PatternSuspiciousIP,
	}
}

// Window is the half-open time range [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Lookback returns the window of length d ending at asOf.
func Lookback(asOf time.Time, d time.Duration) Window {
	return Window{Start: asOf.Add(-d), End: asOf}
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Finding is one suspected pattern instance produced by a detector.
type Finding struct {
	ID      string      `json:"id"`
	Pattern PatternType `json:"patternType"`

	// Subject is the canonical identity of the instance within its pattern,
	// stable across runs over the same data.
	Subject string `json:"subject"`

	Accounts       []string        `json:"accounts"`
	TransactionIDs []string        `json:"transactionIds,omitempty"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	RiskScore      float64         `json:"riskScore"`
	Window         Window          `json:"window"`
	DetectedAt     time.Time       `json:"detectedAt"`
	Detail         Detail          `json:"detail"`
}

// Detail carries the pattern-specific attributes of a Finding.
// It is implemented only by the detail types in this package.
type Detail interface {
	Pattern() PatternType
}

// CarouselDetail describes a closed directed cycle.
type CarouselDetail struct {
	PathLength int `json:"pathLength"`
}

// VelocityDetail describes a burst of outbound transfers.
type VelocityDetail struct {
	ClientID      string          `json:"clientId"`
	SenderAccount string          `json:"senderAccount"`
	Count         int             `json:"transactionCount"`
	AvgAmount     decimal.Decimal `json:"avgAmount"`
	First         time.Time       `json:"firstTransaction"`
	Last          time.Time       `json:"lastTransaction"`
	WindowMinutes int             `json:"windowMinutes"`
}

// LayeringDetail describes chains between one originator and one beneficiary.
type LayeringDetail struct {
	Originator     string   `json:"originator"`
	Beneficiary    string   `json:"beneficiary"`
	ChainLength    int      `json:"chainLength"`
	ChainCount     int      `json:"chainCount"`
	Intermediaries []string `json:"intermediaries"`
}

// Centrality is an account's degree centrality within a cluster.
type Centrality struct {
	AccountID string  `json:"accountId"`
	Score     float64 `json:"score"`
}

// ClusterDetail describes a densely connected component.
type ClusterDetail struct {
	Size             int          `json:"size"`
	EdgeCount        int          `json:"edgeCount"`
	Density          float64      `json:"density"`
	AvgClustering    float64      `json:"avgClustering"`
	Central          []Centrality `json:"centralAccounts"`
	TransactionCount int          `json:"transactionCount"`
}

// DeviceDetail describes activity from a newly registered device.
type DeviceDetail struct {
	DeviceID       string    `json:"deviceId"`
	Fingerprint    string    `json:"fingerprint"`
	DeviceType     string    `json:"deviceType,omitempty"`
	FirstSeen      time.Time `json:"firstSeen"`
	TxCount        int       `json:"transactionCount"`
	UniqueAccounts int       `json:"uniqueAccounts"`
}

// IPDetail describes activity from an address with adverse reputation.
type IPDetail struct {
	IPAddressID    string `json:"ipAddressId"`
	Address        string `json:"address"`
	Country        string `json:"country,omitempty"`
	IsProxy        bool   `json:"isProxy"`
	IsTor          bool   `json:"isTor"`
	ThreatLevel    string `json:"threatLevel"`
	TxCount        int    `json:"transactionCount"`
	UniqueAccounts int    `json:"uniqueAccounts"`
}

func (CarouselDetail) Pattern() PatternType { return PatternCarousel }
func (VelocityDetail) Pattern() PatternType { return PatternVelocityBurst }
func (LayeringDetail) Pattern() PatternType { return PatternLayering }
func (ClusterDetail) Pattern() PatternType  { return PatternCluster }
func (DeviceDetail) Pattern() PatternType   { return PatternNewDevice }
func (IPDetail) Pattern() PatternType       { return PatternSuspiciousIP }
