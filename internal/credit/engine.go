package credit

import (
	"github.com/opensource-finance/creditline/internal/domain"
	"github.com/opensource-finance/creditline/internal/emi"
	"github.com/shopspring/decimal"
)

// Tier boundaries and rate floors.
var (
	primeScore    = decimal.NewFromInt(50)
	standardScore = decimal.NewFromInt(30)
	subprimeScore = decimal.NewFromInt(10)

	standardFloor = decimal.NewFromInt(12)
	subprimeFloor = decimal.NewFromInt(16)

	emiBurdenShare = decimal.RequireFromString("0.5")
)

// Engine decides loan requests. It holds only immutable weights and is
// safe for concurrent use.
type Engine struct {
	weights Weights
}

// NewEngine creates an engine with the given score weights.
func NewEngine(w Weights) (*Engine, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &Engine{weights: w}, nil
}

var defaultEngine = &Engine{weights: DefaultWeights()}

// Decide evaluates req with the default weights.
func Decide(profile domain.CustomerProfile, history []domain.LoanHistoryRecord, req domain.LoanRequest) (domain.DecisionResult, error) {
	return defaultEngine.Decide(profile, history, req)
}

// Score returns the credit score for a customer snapshot.
func (e *Engine) Score(profile domain.CustomerProfile, history []domain.LoanHistoryRecord) decimal.Decimal {
	return e.weights.combine(signals(profile, history))
}

// Explain returns the score together with the signals behind it.
func (e *Engine) Explain(profile domain.CustomerProfile, history []domain.LoanHistoryRecord) (decimal.Decimal, Signals) {
	s := signals(profile, history)
	return e.weights.combine(s), s
}

// Decide evaluates req against the customer snapshot.
//
// Invalid input is reported before any scoring. Affordability checks run
// before the score ladder, so an over-burdened customer is rejected with
// the burden reason whatever their score.
func (e *Engine) Decide(profile domain.CustomerProfile, history []domain.LoanHistoryRecord, req domain.LoanRequest) (domain.DecisionResult, error) {
	if err := validateRequest(profile, req); err != nil {
		return domain.DecisionResult{}, err
	}

	result := domain.DecisionResult{
		RequestedRate:      req.InterestRate,
		CorrectedRate:      req.InterestRate,
		MonthlyInstallment: decimal.Zero,
		CreditScore:        e.Score(profile, history),
	}

	if profile.CurrentTotalEMI.GreaterThan(profile.MonthlyIncome.Mul(emiBurdenShare)) {
		result.Reason = domain.ReasonEMIBurden
		return result, nil
	}
	if profile.CurrentTotalPrincipal.Add(req.Principal).GreaterThan(profile.ApprovedLimit) {
		result.Reason = domain.ReasonLimitExceeded
		return result, nil
	}

	score := result.CreditScore
	switch {
	case score.GreaterThan(primeScore):
		// Requested rate stands.
	case score.GreaterThanOrEqual(standardScore):
		result.CorrectedRate = decimal.Max(req.InterestRate, standardFloor)
	case score.GreaterThanOrEqual(subprimeScore):
		result.CorrectedRate = decimal.Max(req.InterestRate, subprimeFloor)
	default:
		result.Reason = domain.ReasonLowScore
		return result, nil
	}

	installment, err := emi.Compute(req.Principal, result.CorrectedRate, req.TenureMonths)
	if err != nil {
		return domain.DecisionResult{}, err
	}
	result.Approved = true
	result.MonthlyInstallment = installment
	return result, nil
}

func validateRequest(profile domain.CustomerProfile, req domain.LoanRequest) error {
	if !req.Principal.IsPositive() {
		return domain.InvalidInput("loan_amount", "must be greater than 0")
	}
	if req.TenureMonths <= 0 {
		return domain.InvalidInput("tenure", "must be at least 1 month")
	}
	if req.TenureMonths > emi.MaxTenureMonths {
		return domain.InvalidInput("tenure", "must be at most 600 months")
	}
	if req.InterestRate.IsNegative() {
		return domain.InvalidInput("interest_rate", "must not be negative")
	}
	if !profile.MonthlyIncome.IsPositive() {
		return domain.InvalidInput("monthly_income", "must be greater than 0")
	}
	return nil
}
