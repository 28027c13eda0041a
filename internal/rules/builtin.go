package rules

import "github.com/opensource-finance/kestrel/internal/domain"

// Rule IDs double as the flags reported on a fraud check.
const (
	RuleHighAmount       = "HIGH_AMOUNT"
	RuleMediumAmount     = "MEDIUM_AMOUNT"
	RuleHighRiskSender   = "HIGH_RISK_SENDER"
	RuleHighRiskReceiver = "HIGH_RISK_RECEIVER"
	RuleBlockedReceiver  = "BLOCKED_RECEIVER"
	RuleRoundAmount      = "ROUND_AMOUNT"
	RuleHighVelocity     = "HIGH_VELOCITY"
	RuleNightTransaction = "NIGHT_TRANSACTION"
)

// AdmissionRules returns the built-in transfer admission rules in evaluation order.
func AdmissionRules() []*domain.RuleConfig {
	return []*domain.RuleConfig{
		{
			ID:          RuleHighAmount,
			Name:        "High Amount",
			Description: "Transfers of 100000 or more",
			Expression:  "amount >= 100000.0 ? 0.3 : 0.0",
			Reason:      `"Large transfer amount: %.2f".format([amount])`,
			Enabled:     true,
		},
		{
			ID:          RuleMediumAmount,
			Name:        "Medium Amount",
			Description: "Transfers above 50000 and below the high amount threshold",
			Expression:  "amount > 50000.0 && amount < 100000.0 ? 0.15 : 0.0",
			Reason:      `"Elevated transfer amount: %.2f".format([amount])`,
			Enabled:     true,
		},
		{
			ID:          RuleHighRiskSender,
			Name:        "High Risk Sender",
			Description: "Sender risk level above 0.5",
			Expression:  "sender_risk > 0.5 ? sender_risk * 0.4 : 0.0",
			Reason:      `"High sender risk: %.2f".format([sender_risk])`,
			Enabled:     true,
		},
		{
			ID:          RuleHighRiskReceiver,
			Name:        "High Risk Receiver",
			Description: "Receiver risk level above 0.5",
			Expression:  "receiver_risk > 0.5 ? receiver_risk * 0.3 : 0.0",
			Reason:      `"High receiver risk: %.2f".format([receiver_risk])`,
			Enabled:     true,
		},
		{
			ID:          RuleBlockedReceiver,
			Name:        "Blocked Receiver",
			Description: "Receiver client is blocked",
			Expression:  "receiver_blocked ? 0.5 : 0.0",
			Reason:      `"Receiver is blocked"`,
			Enabled:     true,
		},
		{
			ID:          RuleRoundAmount,
			Name:        "Round Amount",
			Description: "Whole multiples of 10000",
			Expression:  "amount >= 10000.0 && amount == double(int(amount / 10000.0)) * 10000.0 ? 0.1 : 0.0",
			Reason:      `"Suspiciously round amount"`,
			Enabled:     true,
		},
		{
			ID:          RuleHighVelocity,
			Name:        "High Velocity",
			Description: "Five or more sender transfers in the velocity window",
			Expression:  "velocity_count >= 5 ? 0.25 : 0.0",
			Reason:      `"Many transfers in the last hour: %d".format([velocity_count])`,
			Enabled:     true,
		},
		{
			ID:          RuleNightTransaction,
			Name:        "Night Transaction",
			Description: "Transfers between 00:00 and 06:00",
			Expression:  "hour >= 0 && hour < 6 ? 0.15 : 0.0",
			Reason:      `"Night-time transfer"`,
			Enabled:     true,
		},
	}
}
