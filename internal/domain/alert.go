package domain

import "time"

// Severity tiers for alerts.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityFor maps a risk score to its severity tier.
func SeverityFor(score float64) Severity {
	switch {
	case score >= 0.8:
		return SeverityCritical
	case score >= 0.6:
		return SeverityHigh
	case score >= 0.4:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// AlertTypeFraud is the alert type of batch pattern alerts.
const AlertTypeFraud = "fraud"

// AlertStatusOpen is the status of every newly created alert.
const AlertStatusOpen = "open"

// Alert is a persisted, severity-tagged record for triage.
type Alert struct {
	ID             string    `json:"id"`
	AlertType      string    `json:"alertType"`
	Severity       Severity  `json:"severity"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	RiskScore      float64   `json:"riskScore"`
	AutoGenerated  bool      `json:"autoGenerated"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	IdempotencyKey string    `json:"idempotencyKey"`

	// Provenance
	Pattern       PatternType `json:"patternType,omitempty"`
	Accounts      []string    `json:"accounts,omitempty"`
	TransactionID string      `json:"transactionId,omitempty"`
}

// AlertFilter narrows ListAlerts.
type AlertFilter struct {
	Severity Severity
	Since    time.Time
	Limit    int
}
