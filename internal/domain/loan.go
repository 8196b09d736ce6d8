package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LoanStatus is the lifecycle state of a loan record.
type LoanStatus string

const (
	LoanApproved LoanStatus = "approved"
	LoanRejected LoanStatus = "rejected"
	LoanPending  LoanStatus = "pending"
)

// Loan is a persisted loan.
type Loan struct {
	ID         string `json:"loanId"`
	TenantID   string `json:"tenantId"`
	CustomerID string `json:"customerId"`

	Amount             decimal.Decimal `json:"loanAmount"`
	TenureMonths       int             `json:"tenure"`
	InterestRate       decimal.Decimal `json:"interestRate"`
	MonthlyInstallment decimal.Decimal `json:"monthlyInstallment"`
	Status             LoanStatus      `json:"status"`
	EMIsPaidOnTime     int             `json:"emisPaidOnTime"`

	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RepaymentsLeft is the number of installments not yet paid.
func (l *Loan) RepaymentsLeft() int {
	left := l.TenureMonths - l.EMIsPaidOnTime
	if left < 0 {
		return 0
	}
	return left
}

// IsActive reports whether the loan still counts toward current debt at asOf.
// Loans without an end date are active while repayments remain.
func (l *Loan) IsActive(asOf time.Time) bool {
	if l.Status != LoanApproved {
		return false
	}
	if l.EndDate.IsZero() {
		return l.RepaymentsLeft() > 0
	}
	y, m, d := asOf.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, asOf.Location())
	return !l.EndDate.Before(day)
}

// History converts the loan to the record the decision engine scores.
func (l *Loan) History(approvedLimit decimal.Decimal) LoanHistoryRecord {
	return LoanHistoryRecord{
		LoanID:         l.ID,
		Amount:         l.Amount,
		TenureMonths:   l.TenureMonths,
		EMIsPaidOnTime: l.EMIsPaidOnTime,
		ExceedsLimit:   l.Amount.GreaterThan(approvedLimit),
		Status:         l.Status,
		StartDate:      l.StartDate,
		EndDate:        l.EndDate,
	}
}

// LoanHistoryRecord is one past loan as seen by the credit score.
type LoanHistoryRecord struct {
	LoanID         string          `json:"loanId"`
	Amount         decimal.Decimal `json:"amount"`
	TenureMonths   int             `json:"tenure"`
	EMIsPaidOnTime int             `json:"emisPaidOnTime"`
	ExceedsLimit   bool            `json:"exceedsLimit"`
	Status         LoanStatus      `json:"status"`
	StartDate      time.Time       `json:"startDate"`
	EndDate        time.Time       `json:"endDate,omitempty"`
}

// LoanRequest is a request for a new loan.
type LoanRequest struct {
	CustomerID   string          `json:"customer_id"`
	Principal    decimal.Decimal `json:"loan_amount"`
	InterestRate decimal.Decimal `json:"interest_rate"`
	TenureMonths int             `json:"tenure"`
}
