package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Customer is a registered borrower.
type Customer struct {
	ID       string `json:"customerId"`
	TenantID string `json:"tenantId"`

	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Age         int    `json:"age"`
	PhoneNumber string `json:"phoneNumber"`

	// Financial details
	MonthlyIncome decimal.Decimal `json:"monthlyIncome"`
	ApprovedLimit decimal.Decimal `json:"approvedLimit"`

	// Running aggregates of loans approved through the service
	CurrentDebt decimal.Decimal `json:"currentDebt"`
	CurrentEMI  decimal.Decimal `json:"currentEmi"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FullName joins first and last name.
func (c *Customer) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// CustomerProfile is the point-in-time snapshot the decision engine reads.
// Totals cover active loans only.
type CustomerProfile struct {
	CustomerID            string          `json:"customerId"`
	MonthlyIncome         decimal.Decimal `json:"monthlyIncome"`
	ApprovedLimit         decimal.Decimal `json:"approvedLimit"`
	CurrentTotalPrincipal decimal.Decimal `json:"currentTotalPrincipal"`
	CurrentTotalEMI       decimal.Decimal `json:"currentTotalEmi"`
	Age                   int             `json:"age"`

	// AsOf fixes "now" for the snapshot; the current-year signal counts
	// loans started in AsOf's calendar year.
	AsOf time.Time `json:"asOf"`
}

// RegistrationRequest is the API payload for registering a customer.
type RegistrationRequest struct {
	FirstName     string          `json:"first_name"`
	LastName      string          `json:"last_name"`
	Age           int             `json:"age"`
	MonthlyIncome decimal.Decimal `json:"monthly_income"`
	PhoneNumber   string          `json:"phone_number"`
}
