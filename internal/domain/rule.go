package domain

// RuleConfig defines one admission scoring rule.
type RuleConfig struct {
	// ID is also the flag name reported when the rule fires, e.g. HIGH_AMOUNT.
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`

	// Expression is a CEL expression returning the rule's score
	// contribution as a double (or bool/int). Zero means not fired.
	Expression string `json:"expression"`

	// Reason is a CEL expression returning the human-readable reason.
	Reason string `json:"reason"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}

// RuleResult is the output of a rule evaluation.
type RuleResult struct {
	RuleID     string  `json:"ruleId"`
	SubRuleRef string  `json:"subRuleRef"` // ".pass", ".fail", ".err"
	Score      float64 `json:"score"`      // Contribution to the admission score
	Reason     string  `json:"reason"`
	ProcessMs  int64   `json:"processMs"` // Processing time in milliseconds
}

// Fired reports whether the rule contributed to the score.
func (r RuleResult) Fired() bool {
	return r.SubRuleRef == RuleOutcomeFail
}

// Predefined rule outcomes
const (
	RuleOutcomePass  = ".pass"
	RuleOutcomeFail  = ".fail"
	RuleOutcomeError = ".err"
)
