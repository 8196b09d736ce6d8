// Package importer bulk-loads customers and their loan history from
// spreadsheet exports.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/opensource-finance/creditline/internal/domain"
	"github.com/opensource-finance/creditline/internal/lending"
)

// Customer columns: id, first name, last name, age, phone, monthly salary,
// approved limit, current debt (optional).
const (
	colCustomerID = iota
	colFirstName
	colLastName
	colAge
	colPhone
	colSalary
	colApprovedLimit
	colCurrentDebt
)

// Loan columns: customer id, loan id, amount, tenure, interest rate,
// monthly repayment, EMIs paid on time, start date, end date.
const (
	colLoanCustomerID = iota
	colLoanID
	colLoanAmount
	colTenure
	colInterestRate
	colMonthlyRepayment
	colEMIsPaid
	colStartDate
	colEndDate
)

// RowError reports a row that could not be imported.
type RowError struct {
	File string `json:"file"`
	Row  int    `json:"row"`
	Err  string `json:"error"`
}

func (e RowError) Error() string {
	return fmt.Sprintf("%s row %d: %s", e.File, e.Row, e.Err)
}

// Report summarises an import run.
type Report struct {
	CustomersCreated    int        `json:"customersCreated"`
	CustomersSkipped    int        `json:"customersSkipped"`
	LoansCreated        int        `json:"loansCreated"`
	LoansSkipped        int        `json:"loansSkipped"`
	CustomersRecomputed int        `json:"customersRecomputed"`
	Errors              []RowError `json:"errors,omitempty"`
}

// Importer writes spreadsheet rows through the repository.
type Importer struct {
	repo domain.Repository
	now  func() time.Time
}

// New creates an importer.
func New(repo domain.Repository) *Importer {
	return &Importer{repo: repo, now: time.Now}
}

// Import loads customers first, then loans. Either path may be empty.
func (im *Importer) Import(ctx context.Context, tenantID, customersPath, loansPath string) (*Report, error) {
	report := &Report{}
	if customersPath != "" {
		if err := im.importCustomers(ctx, tenantID, customersPath, report); err != nil {
			return report, err
		}
	}
	if loansPath != "" {
		if err := im.importLoans(ctx, tenantID, loansPath, report); err != nil {
			return report, err
		}
	}

	slog.Info("import finished",
		"tenant_id", tenantID,
		"customers_created", report.CustomersCreated,
		"customers_skipped", report.CustomersSkipped,
		"loans_created", report.LoansCreated,
		"loans_skipped", report.LoansSkipped,
		"row_errors", len(report.Errors),
	)
	return report, nil
}

// ImportCustomers loads a customers file.
func (im *Importer) ImportCustomers(ctx context.Context, tenantID, path string) (*Report, error) {
	report := &Report{}
	return report, im.importCustomers(ctx, tenantID, path, report)
}

// ImportLoans loads a loans file and recomputes the touched customers' totals.
func (im *Importer) ImportLoans(ctx context.Context, tenantID, path string) (*Report, error) {
	report := &Report{}
	return report, im.importLoans(ctx, tenantID, path, report)
}

func (im *Importer) importCustomers(ctx context.Context, tenantID, path string, report *Report) error {
	rows, err := ReadRows(path)
	if err != nil {
		return err
	}

	for i, row := range rows {
		if i == 0 || cell(row, colCustomerID) == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		customer, err := parseCustomer(row)
		if err != nil {
			report.Errors = append(report.Errors, RowError{File: path, Row: i + 1, Err: err.Error()})
			continue
		}

		created, err := im.saveCustomer(ctx, tenantID, customer)
		if err != nil {
			return fmt.Errorf("%s row %d: %w", path, i+1, err)
		}
		if created {
			report.CustomersCreated++
		} else {
			report.CustomersSkipped++
		}
	}
	return nil
}

func parseCustomer(row []string) (*domain.Customer, error) {
	c := &domain.Customer{
		ID:          parseID(row, colCustomerID),
		FirstName:   cell(row, colFirstName),
		LastName:    cell(row, colLastName),
		PhoneNumber: parseID(row, colPhone),
	}

	var err error
	if c.Age, err = parseInt(row, colAge, "age"); err != nil {
		return nil, err
	}
	if c.MonthlyIncome, err = parseDecimal(row, colSalary, "monthly salary"); err != nil {
		return nil, err
	}
	if c.ApprovedLimit, err = parseDecimal(row, colApprovedLimit, "approved limit"); err != nil {
		return nil, err
	}
	if c.CurrentDebt, err = parseDecimal(row, colCurrentDebt, "current debt"); err != nil {
		return nil, err
	}
	if !c.MonthlyIncome.IsPositive() {
		return nil, fmt.Errorf("monthly salary must be greater than 0")
	}
	if c.ApprovedLimit.IsNegative() {
		return nil, fmt.Errorf("approved limit must not be negative")
	}
	if c.CurrentDebt.IsNegative() {
		return nil, fmt.Errorf("current debt must not be negative")
	}
	if c.ApprovedLimit.IsZero() {
		c.ApprovedLimit = lending.ApprovedLimit(c.MonthlyIncome)
	}
	return c, nil
}

// saveCustomer stores c unless its id or phone is already taken.
func (im *Importer) saveCustomer(ctx context.Context, tenantID string, c *domain.Customer) (bool, error) {
	if _, err := im.repo.GetCustomer(ctx, tenantID, c.ID); err == nil {
		return false, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return false, err
	}

	if c.PhoneNumber != "" {
		if _, err := im.repo.GetCustomerByPhone(ctx, tenantID, c.PhoneNumber); err == nil {
			return false, nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			return false, err
		}
	}

	if err := im.repo.SaveCustomer(ctx, tenantID, c); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (im *Importer) importLoans(ctx context.Context, tenantID, path string, report *Report) error {
	rows, err := ReadRows(path)
	if err != nil {
		return err
	}

	touched := make(map[string]struct{})

	for i, row := range rows {
		if i == 0 || cell(row, colLoanCustomerID) == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		loan, err := parseLoan(row)
		if err != nil {
			report.Errors = append(report.Errors, RowError{File: path, Row: i + 1, Err: err.Error()})
			continue
		}

		if _, err := im.repo.GetCustomer(ctx, tenantID, loan.CustomerID); err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				return err
			}
			report.Errors = append(report.Errors, RowError{
				File: path, Row: i + 1, Err: fmt.Sprintf("customer %s not found", loan.CustomerID),
			})
			continue
		}

		if _, err := im.repo.GetLoan(ctx, tenantID, loan.ID); err == nil {
			report.LoansSkipped++
			continue
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		if err := im.repo.SaveLoan(ctx, tenantID, loan); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				report.LoansSkipped++
				continue
			}
			return fmt.Errorf("%s row %d: %w", path, i+1, err)
		}
		report.LoansCreated++
		touched[loan.CustomerID] = struct{}{}
	}

	return im.recompute(ctx, tenantID, touched, report)
}

func parseLoan(row []string) (*domain.Loan, error) {
	loan := &domain.Loan{
		CustomerID: parseID(row, colLoanCustomerID),
		ID:         parseID(row, colLoanID),
		Status:     domain.LoanApproved,
	}
	if loan.ID == "" {
		return nil, fmt.Errorf("loan id is required")
	}

	var err error
	if loan.Amount, err = parseDecimal(row, colLoanAmount, "loan amount"); err != nil {
		return nil, err
	}
	if loan.TenureMonths, err = parseInt(row, colTenure, "tenure"); err != nil {
		return nil, err
	}
	if loan.InterestRate, err = parseDecimal(row, colInterestRate, "interest rate"); err != nil {
		return nil, err
	}
	if loan.MonthlyInstallment, err = parseDecimal(row, colMonthlyRepayment, "monthly repayment"); err != nil {
		return nil, err
	}
	if loan.EMIsPaidOnTime, err = parseInt(row, colEMIsPaid, "emis paid on time"); err != nil {
		return nil, err
	}
	if loan.StartDate, err = parseDate(row, colStartDate, "start date"); err != nil {
		return nil, err
	}
	if loan.EndDate, err = parseDate(row, colEndDate, "end date"); err != nil {
		return nil, err
	}
	if loan.StartDate.IsZero() {
		return nil, fmt.Errorf("start date is required")
	}
	if !loan.Amount.IsPositive() {
		return nil, fmt.Errorf("loan amount must be greater than 0")
	}
	if loan.TenureMonths < 1 {
		return nil, fmt.Errorf("tenure must be at least 1 month")
	}
	if loan.InterestRate.IsNegative() {
		return nil, fmt.Errorf("interest rate must not be negative")
	}
	if loan.MonthlyInstallment.IsNegative() {
		return nil, fmt.Errorf("monthly repayment must not be negative")
	}
	if loan.EMIsPaidOnTime < 0 {
		return nil, fmt.Errorf("emis paid on time must not be negative")
	}
	return loan, nil
}

// recompute rewrites the running totals of customers whose loans changed.
func (im *Importer) recompute(ctx context.Context, tenantID string, touched map[string]struct{}, report *Report) error {
	ids := make([]string, 0, len(touched))
	for id := range touched {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	asOf := im.now()
	for _, id := range ids {
		loans, err := im.repo.ListLoansByCustomer(ctx, tenantID, id)
		if err != nil {
			return fmt.Errorf("failed to list loans for %s: %w", id, err)
		}
		debt, emi := lending.ActiveTotals(loans, asOf)
		if err := im.repo.UpdateCustomerAggregates(ctx, tenantID, id, debt, emi); err != nil {
			return fmt.Errorf("failed to update totals for %s: %w", id, err)
		}
		report.CustomersRecomputed++
	}
	return nil
}
