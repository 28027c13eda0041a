package domain

import (
	"time"
)

// FlagBlockedClient is reported when the sender account is blocked.
const FlagBlockedClient = "BLOCKED_CLIENT"

// FraudCheck is the admission scorer verdict for one proposed transfer.
type FraudCheck struct {
	Passed    bool     `json:"passed"`
	Score     float64  `json:"score"`
	IsFlagged bool     `json:"is_flagged"`
	Flags     []string `json:"flags"`
	Reason    string   `json:"reason"`

	// Rule results
	RuleResults []RuleResult `json:"-"`
}

// FirstFlag returns the first fired rule, or "" if none fired.
func (c *FraudCheck) FirstFlag() string {
	if len(c.Flags) == 0 {
		return ""
	}
	return c.Flags[0]
}

// Decision is the outcome of an admitted transfer.
type Decision struct {
	TransactionID string     `json:"transaction_id"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	FraudCheck    FraudCheck `json:"fraud_check"`
	AlertID       string     `json:"alert_id,omitempty"`
}

// StatusForScore maps an admission score to the transaction status.
func StatusForScore(score float64) string {
	switch {
	case score >= 0.8:
		return StatusBlocked
	case score >= 0.5:
		return StatusReview
	default:
		return StatusCompleted
	}
}
