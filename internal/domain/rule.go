package domain

// PolicyRule is an operator-defined CEL veto applied after the engine approves.
// The expression must evaluate to bool; true rejects with Reason.
type PolicyRule struct {
	ID          string `json:"id" mapstructure:"id"`
	Name        string `json:"name" mapstructure:"name"`
	Description string `json:"description" mapstructure:"description"`

	// CEL expression over the decision variables
	Expression string `json:"expression" mapstructure:"expression"`

	// Rejection reason reported when the rule triggers
	Reason string `json:"reason" mapstructure:"reason"`

	Enabled bool `json:"enabled" mapstructure:"enabled"`
}

// RuleResult is the output of one policy rule evaluation.
type RuleResult struct {
	RuleID    string `json:"ruleId"`
	Outcome   string `json:"outcome"` // ".pass", ".fail", ".err"
	Reason    string `json:"reason,omitempty"`
	ProcessMs int64  `json:"processMs"`
}

// Triggered reports whether the rule vetoed the decision.
func (r RuleResult) Triggered() bool {
	return r.Outcome == RuleOutcomeFail
}

// Predefined rule outcomes
const (
	RuleOutcomePass  = ".pass"
	RuleOutcomeFail  = ".fail"
	RuleOutcomeError = ".err"
)
