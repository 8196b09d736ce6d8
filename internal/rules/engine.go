// Package rules provides the CEL-Go based policy rule engine.
package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/creditline/internal/domain"
)

// Engine evaluates operator policy rules against a decision.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Rule    *domain.PolicyRule
	Program cel.Program
}

// Input is the decision context a rule sees.
type Input struct {
	Profile domain.CustomerProfile
	Request domain.LoanRequest
	Result  domain.DecisionResult
}

// NewEngine creates a policy rule engine evaluating at most maxWorkers rules at once.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := cel.NewEnv(
		cel.Variable("monthly_income", cel.DoubleType),
		cel.Variable("approved_limit", cel.DoubleType),
		cel.Variable("current_principal", cel.DoubleType),
		cel.Variable("current_emi", cel.DoubleType),
		cel.Variable("credit_score", cel.DoubleType),
		cel.Variable("loan_amount", cel.DoubleType),
		cel.Variable("interest_rate", cel.DoubleType),
		cel.Variable("corrected_rate", cel.DoubleType),
		cel.Variable("monthly_installment", cel.DoubleType),
		cel.Variable("tenure", cel.IntType),
		cel.Variable("age", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
		maxWorkers:    maxWorkers,
	}, nil
}

// ValidateRule compiles a rule without loading it.
func (e *Engine) ValidateRule(rule *domain.PolicyRule) error {
	if rule == nil {
		return fmt.Errorf("rule is required")
	}
	_, err := e.compileRule(rule)
	return err
}

// LoadRule compiles and loads a rule, replacing any rule with the same ID.
func (e *Engine) LoadRule(rule *domain.PolicyRule) error {
	compiled, err := e.compileRule(rule)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.compiledRules[rule.ID] = compiled
	e.mu.Unlock()
	return nil
}

// ReloadRules replaces every loaded rule. Disabled rules are skipped.
// Nothing changes when any enabled rule fails to compile.
func (e *Engine) ReloadRules(rules []domain.PolicyRule) error {
	next := make(map[string]*CompiledRule, len(rules))
	for i := range rules {
		rule := rules[i]
		if !rule.Enabled {
			continue
		}
		compiled, err := e.compileRule(&rule)
		if err != nil {
			return err
		}
		next[rule.ID] = compiled
	}

	e.mu.Lock()
	e.compiledRules = next
	e.mu.Unlock()
	return nil
}

// EvaluateAll evaluates every loaded rule in parallel.
// Results are ordered by rule ID.
func (e *Engine) EvaluateAll(ctx context.Context, in Input) []domain.RuleResult {
	rules := e.sortedRules()
	if len(rules) == 0 {
		return nil
	}

	activation := newActivation(in)
	results := make([]domain.RuleResult, len(rules))

	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = evaluateRule(ctx, r, activation)
		}(i, rule)
	}

	wg.Wait()
	return results
}

func evaluateRule(ctx context.Context, rule *CompiledRule, activation map[string]any) domain.RuleResult {
	start := time.Now()
	result := domain.RuleResult{RuleID: rule.Rule.ID}

	if err := ctx.Err(); err != nil {
		result.Outcome = domain.RuleOutcomeError
		result.Reason = err.Error()
		return result
	}

	out, _, err := rule.Program.Eval(activation)
	result.ProcessMs = time.Since(start).Milliseconds()
	if err != nil {
		result.Outcome = domain.RuleOutcomeError
		result.Reason = fmt.Sprintf("evaluation error: %v", err)
		return result
	}

	if triggered, ok := out.(types.Bool); ok && bool(triggered) {
		result.Outcome = domain.RuleOutcomeFail
		result.Reason = rule.Rule.Reason
		if result.Reason == "" {
			result.Reason = "rejected by policy rule " + rule.Rule.ID
		}
		return result
	}
	result.Outcome = domain.RuleOutcomePass
	return result
}

func newActivation(in Input) map[string]any {
	return map[string]any{
		"monthly_income":      in.Profile.MonthlyIncome.InexactFloat64(),
		"approved_limit":      in.Profile.ApprovedLimit.InexactFloat64(),
		"current_principal":   in.Profile.CurrentTotalPrincipal.InexactFloat64(),
		"current_emi":         in.Profile.CurrentTotalEMI.InexactFloat64(),
		"credit_score":        in.Result.CreditScore.InexactFloat64(),
		"loan_amount":         in.Request.Principal.InexactFloat64(),
		"interest_rate":       in.Request.InterestRate.InexactFloat64(),
		"corrected_rate":      in.Result.CorrectedRate.InexactFloat64(),
		"monthly_installment": in.Result.MonthlyInstallment.InexactFloat64(),
		"tenure":              int64(in.Request.TenureMonths),
		"age":                 int64(in.Profile.Age),
	}
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// Rules returns the loaded rules ordered by ID.
func (e *Engine) Rules() []*domain.PolicyRule {
	compiled := e.sortedRules()
	rules := make([]*domain.PolicyRule, len(compiled))
	for i, c := range compiled {
		rules[i] = c.Rule
	}
	return rules
}

// Close unloads every rule.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) sortedRules() []*CompiledRule {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	sort.Slice(rules, func(i, j int) bool { return rules[i].Rule.ID < rules[j].Rule.ID })
	return rules
}

func (e *Engine) compileRule(rule *domain.PolicyRule) (*CompiledRule, error) {
	if rule.ID == "" {
		return nil, fmt.Errorf("rule id is required")
	}

	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", rule.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", rule.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", rule.ID, err)
	}

	copied := *rule
	return &CompiledRule{Rule: &copied, Program: program}, nil
}
