// Package rules provides the CEL-Go based admission rule engine.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine is the CEL-based rule evaluation engine.
// Rules keep their load order, which is also the order of reported flags.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules []*CompiledRule
	maxWorkers    int
}

// CompiledRule holds the pre-compiled score and reason programs of a rule.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
	Reason  cel.Program
}

// NewEngine creates a new rule evaluation engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	// Create CEL environment with transfer variables
	env, err := cel.NewEnv(
		ext.Strings(),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("sender_id", cel.StringType),
		cel.Variable("receiver_id", cel.StringType),
		cel.Variable("sender_risk", cel.DoubleType),
		cel.Variable("receiver_risk", cel.DoubleType),
		cel.Variable("receiver_blocked", cel.BoolType),
		cel.Variable("velocity_count", cel.IntType),
		cel.Variable("hour", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:        env,
		maxWorkers: maxWorkers,
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles a rule and appends it to the engine. A rule with the
// same ID is replaced in place.
func (e *Engine) LoadRule(cfg *domain.RuleConfig) error {
	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i, r := range e.compiledRules {
		if r.Config.ID == cfg.ID {
			e.compiledRules[i] = compiled
			return nil
		}
	}
	e.compiledRules = append(e.compiledRules, compiled)

	return nil
}

// LoadRules compiles and loads multiple rules, skipping disabled ones.
func (e *Engine) LoadRules(configs []*domain.RuleConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// Input holds the transfer facts rules are evaluated against.
type Input struct {
	Amount          float64
	Currency        string
	SenderID        string
	ReceiverID      string
	SenderRisk      float64
	ReceiverRisk    float64
	ReceiverBlocked bool
	VelocityCount   int64
	Hour            int
}

func (in *Input) activation() map[string]any {
	return map[string]any{
		"amount":           in.Amount,
		"currency":         in.Currency,
		"sender_id":        in.SenderID,
		"receiver_id":      in.ReceiverID,
		"sender_risk":      in.SenderRisk,
		"receiver_risk":    in.ReceiverRisk,
		"receiver_blocked": in.ReceiverBlocked,
		"velocity_count":   in.VelocityCount,
		"hour":             int64(in.Hour),
	}
}

// EvaluateAll evaluates all loaded rules in parallel. Results are returned
// in rule order.
func (e *Engine) EvaluateAll(ctx context.Context, input *Input) ([]domain.RuleResult, error) {
	e.mu.RLock()
	rules := make([]*CompiledRule, len(e.compiledRules))
	copy(rules, e.compiledRules)
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	activation := input.activation()

	// Parallel evaluation using worker pool pattern
	results := make([]domain.RuleResult, len(rules))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			results[idx] = evaluateRule(r, activation)
		}(i, rule)
	}

	wg.Wait()

	return results, nil
}

// evaluateRule evaluates a single rule and returns the result.
func evaluateRule(rule *CompiledRule, activation map[string]any) domain.RuleResult {
	start := time.Now()

	result := domain.RuleResult{
		RuleID:     rule.Config.ID,
		SubRuleRef: domain.RuleOutcomePass,
	}

	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		slog.Warn("rule evaluation failed", "rule_id", rule.Config.ID, "error", err)
		result.SubRuleRef = domain.RuleOutcomeError
		result.Reason = fmt.Sprintf("evaluation error: %v", err)
		result.ProcessMs = time.Since(start).Milliseconds()
		return result
	}

	result.Score = toScore(out)
	if result.Score > 0 {
		result.SubRuleRef = domain.RuleOutcomeFail
		result.Reason = reasonFor(rule, activation)
	}
	result.ProcessMs = time.Since(start).Milliseconds()

	return result
}

// reasonFor renders the rule's reason, falling back to its name.
func reasonFor(rule *CompiledRule, activation map[string]any) string {
	if rule.Reason != nil {
		out, _, err := rule.Reason.Eval(activation)
		if err == nil {
			if s, ok := out.(types.String); ok {
				return string(s)
			}
		}
	}
	if rule.Config.Name != "" {
		return rule.Config.Name
	}
	return rule.Config.ID
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// ReloadRules replaces every loaded rule. Nothing changes if any rule fails to compile.
func (e *Engine) ReloadRules(configs []*domain.RuleConfig) error {
	newRules := make([]*CompiledRule, 0, len(configs))
	for _, cfg := range configs {
		if cfg == nil || !cfg.Enabled {
			continue
		}

		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules = append(newRules, compiled)
	}

	e.mu.Lock()
	e.compiledRules = newRules
	e.mu.Unlock()

	return nil
}

// GetLoadedRules returns the currently loaded rule configurations.
func (e *Engine) GetLoadedRules() []*domain.RuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.RuleConfig, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Config)
	}
	return rules
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = nil
	return nil
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	compiled := &CompiledRule{
		Config:  cfg,
		Program: program,
	}

	if cfg.Reason != "" {
		reasonAst, issues := e.env.Compile(cfg.Reason)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("failed to compile reason of rule %s: %w", cfg.ID, issues.Err())
		}
		if reasonAst.OutputType() != cel.StringType {
			return nil, fmt.Errorf("rule %s: reason must return string, got %s", cfg.ID, reasonAst.OutputType())
		}
		compiled.Reason, err = e.env.Program(reasonAst)
		if err != nil {
			return nil, fmt.Errorf("failed to create reason program for rule %s: %w", cfg.ID, err)
		}
	}

	return compiled, nil
}
