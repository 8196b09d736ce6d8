package lending

import (
	"time"

	"github.com/opensource-finance/creditline/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	limitMultiplier = decimal.NewFromInt(36)
	limitUnit       = decimal.NewFromInt(100000)
)

// Snapshot is the customer state a decision is made against.
type Snapshot struct {
	Customer *domain.Customer           `json:"customer"`
	Profile  domain.CustomerProfile     `json:"profile"`
	History  []domain.LoanHistoryRecord `json:"history"`
}

// BuildSnapshot derives the decision inputs from a customer and their loans.
// Current totals cover loans active at asOf. Every loan is carried into the
// history; the engine decides which records it grades.
func BuildSnapshot(c *domain.Customer, loans []*domain.Loan, asOf time.Time) Snapshot {
	principal := decimal.Zero
	installments := decimal.Zero
	history := make([]domain.LoanHistoryRecord, 0, len(loans))

	for _, loan := range loans {
		history = append(history, loan.History(c.ApprovedLimit))
		if loan.IsActive(asOf) {
			principal = principal.Add(loan.Amount)
			installments = installments.Add(loan.MonthlyInstallment)
		}
	}

	return Snapshot{
		Customer: c,
		Profile: domain.CustomerProfile{
			CustomerID:            c.ID,
			MonthlyIncome:         c.MonthlyIncome,
			ApprovedLimit:         c.ApprovedLimit,
			CurrentTotalPrincipal: principal,
			CurrentTotalEMI:       installments,
			Age:                   c.Age,
			AsOf:                  asOf,
		},
		History: history,
	}
}

// ActiveTotals sums principal and installments over loans active at asOf.
func ActiveTotals(loans []*domain.Loan, asOf time.Time) (debt, emi decimal.Decimal) {
	debt, emi = decimal.Zero, decimal.Zero
	for _, loan := range loans {
		if loan.IsActive(asOf) {
			debt = debt.Add(loan.Amount)
			emi = emi.Add(loan.MonthlyInstallment)
		}
	}
	return debt, emi
}

// ApprovedLimit is 36 months of income rounded to the nearest 100000.
// Incomes too small to reach half a unit keep the unrounded product.
func ApprovedLimit(monthlyIncome decimal.Decimal) decimal.Decimal {
	raw := monthlyIncome.Mul(limitMultiplier)
	rounded := raw.Div(limitUnit).Round(0).Mul(limitUnit)
	if rounded.IsZero() {
		return raw
	}
	return rounded
}
