package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction statuses written at admission time.
const (
	StatusCompleted = "completed"
	StatusReview    = "review"
	StatusBlocked   = "blocked"
)

// Transaction is a single transfer between two accounts in the ledger.
type Transaction struct {
	ID                string          `json:"id"`
	SenderAccountID   string          `json:"senderAccountId"`
	ReceiverAccountID string          `json:"receiverAccountId"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Type              string          `json:"type"`
	Description       string          `json:"description,omitempty"`
	Status            string          `json:"status"`
	Timestamp         time.Time       `json:"timestamp"`

	// Optional channel references
	DeviceID    string `json:"deviceId,omitempty"`
	IPAddressID string `json:"ipAddressId,omitempty"`

	// Set once by the admission scorer
	FraudScore    float64 `json:"fraudScore"`
	IsFlagged     bool    `json:"isFlagged"`
	FlaggedReason string  `json:"flaggedReason,omitempty"`
}

// Account is a ledger account owned by a client.
// RiskLevel and Blocked change only through compliance actions.
type Account struct {
	ID        string          `json:"id"`
	ClientID  string          `json:"clientId"`
	Number    string          `json:"number,omitempty"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	RiskLevel float64         `json:"riskLevel"`
	Blocked   bool            `json:"blocked"`
	Active    bool            `json:"active"`
}

// Device is a client device observed by the payment front-end.
type Device struct {
	ID          string    `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	DeviceType  string    `json:"deviceType,omitempty"`
	OS          string    `json:"os,omitempty"`
	Browser     string    `json:"browser,omitempty"`
	FirstSeen   time.Time `json:"firstSeen"`
}

// Threat levels carried by IPAddress.
const (
	ThreatLow      = "low"
	ThreatMedium   = "medium"
	ThreatHigh     = "high"
	ThreatCritical = "critical"
)

// IPAddress is a network origin with static reputation attributes.
type IPAddress struct {
	ID          string `json:"id"`
	Address     string `json:"address"`
	Country     string `json:"country,omitempty"`
	IsProxy     bool   `json:"isProxy"`
	IsTor       bool   `json:"isTor"`
	IsVPN       bool   `json:"isVpn"`
	ThreatLevel string `json:"threatLevel"`
}

// Suspicious reports whether the address has adverse reputation.
func (ip *IPAddress) Suspicious() bool {
	return ip.IsProxy || ip.IsTor || ip.ThreatLevel == ThreatHigh || ip.ThreatLevel == ThreatCritical
}
