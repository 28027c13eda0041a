package rules

import (
	"math"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Processor aggregates rule results into a fraud check.
type Processor struct {
	// FlagThreshold is the score at which a transfer is flagged.
	FlagThreshold float64

	// FlagMinRules flags a transfer when at least this many rules fired.
	FlagMinRules int
}

// NewProcessor creates a processor with the default flagging policy.
func NewProcessor() *Processor {
	return &Processor{
		FlagThreshold: 0.4,
		FlagMinRules:  2,
	}
}

// Process sums the contributions of fired rules, capped at 1.0 and rounded
// to two decimals. Flags and reasons keep rule order.
func (p *Processor) Process(results []domain.RuleResult) domain.FraudCheck {
	check := domain.FraudCheck{
		Flags:       []string{},
		RuleResults: results,
	}

	var sum float64
	for _, r := range results {
		if r.Fired() {
			sum += r.Score
			check.Flags = append(check.Flags, r.RuleID)
		}
	}

	// Flagging reads the unrounded score; status reads the rounded one.
	capped := math.Min(sum, 1.0)
	check.Score = roundScore(capped)
	check.IsFlagged = capped >= p.FlagThreshold || len(check.Flags) >= p.FlagMinRules
	check.Passed = domain.StatusForScore(check.Score) != domain.StatusBlocked
	check.Reason = strings.Join(GetReasons(results), "; ")

	return check
}

// GetReasons extracts the reasons of fired rules.
func GetReasons(results []domain.RuleResult) []string {
	var reasons []string
	for _, r := range results {
		if r.Fired() && r.Reason != "" {
			reasons = append(reasons, r.Reason)
		}
	}
	return reasons
}

func roundScore(v float64) float64 {
	return math.Round(v*100) / 100
}
