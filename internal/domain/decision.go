package domain

import (
	"github.com/shopspring/decimal"
)

// DecisionResult is the outcome of evaluating a LoanRequest.
// Rejections are results, not errors.
type DecisionResult struct {
	Approved           bool            `json:"approved"`
	RequestedRate      decimal.Decimal `json:"requestedRate"`
	CorrectedRate      decimal.Decimal `json:"correctedRate"`
	MonthlyInstallment decimal.Decimal `json:"monthlyInstallment"`
	CreditScore        decimal.Decimal `json:"creditScore"`
	Reason             string          `json:"reason,omitempty"`

	// Set by the policy layer when a configured rule vetoed an approval.
	PolicyRuleID string `json:"policyRuleId,omitempty"`
}

// Rejection reasons.
const (
	ReasonEMIBurden     = "existing EMI burden exceeds 50% of income"
	ReasonLimitExceeded = "requested amount would exceed approved credit limit"
	ReasonLowScore      = "credit score too low"
)

// Decision is a DecisionResult bound to the request that produced it.
// It is the payload of decision events.
type Decision struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenantId"`
	CustomerID string         `json:"customerId"`
	LoanID     string         `json:"loanId,omitempty"`
	Request    LoanRequest    `json:"request"`
	Result     DecisionResult `json:"result"`
	TraceID    string         `json:"traceId,omitempty"`
	DecisionMs int64          `json:"decisionMs"`

	// Policy rules evaluated against an engine approval
	RuleResults []RuleResult `json:"ruleResults,omitempty"`
}
