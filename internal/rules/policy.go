package rules

import (
	"context"
	"log/slog"

	"github.com/opensource-finance/creditline/internal/domain"
	"github.com/shopspring/decimal"
)

// Apply runs the loaded rules over an approved decision and returns the
// decision after vetoes. Rejected decisions pass through untouched.
//
// The first triggered rule in ID order rejects the decision. Rules that
// fail to evaluate are logged and do not veto.
func (e *Engine) Apply(ctx context.Context, in Input) (domain.DecisionResult, []domain.RuleResult) {
	result := in.Result
	if !result.Approved {
		return result, nil
	}

	results := e.EvaluateAll(ctx, in)
	for _, r := range results {
		switch r.Outcome {
		case domain.RuleOutcomeError:
			slog.Warn("policy rule evaluation failed",
				"rule_id", r.RuleID,
				"customer_id", in.Request.CustomerID,
				"error", r.Reason,
			)
		case domain.RuleOutcomeFail:
			if result.Approved {
				result = reject(result, r)
			}
		}
	}
	return result, results
}

func reject(result domain.DecisionResult, r domain.RuleResult) domain.DecisionResult {
	result.Approved = false
	result.CorrectedRate = result.RequestedRate
	result.MonthlyInstallment = decimal.Zero
	result.Reason = r.Reason
	result.PolicyRuleID = r.RuleID
	return result
}
