// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/creditline/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound     = fmt.Errorf("record %w", domain.ErrNotFound)
	ErrInvalidInput = fmt.Errorf("repository %w", domain.ErrInvalidInput)
	ErrConflict     = fmt.Errorf("record already exists: %w", domain.ErrConflict)
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration and applies the schema.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := newWithDB(db, cfg.Driver)
	if err := repo.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func newWithDB(db *sql.DB, driver string) *SQLRepository {
	return &SQLRepository{db: db, driver: driver}
}

// Migrate applies every schema statement. Statements are idempotent.
func (r *SQLRepository) Migrate(ctx context.Context) error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.ExecContext(ctx, schema); err != nil {
			return err
		}
	}
	return nil
}

const customerColumns = `
	id, tenant_id, first_name, last_name, age, phone_number,
	monthly_income, approved_limit, current_debt, current_emi,
	created_at, updated_at`

// SaveCustomer inserts a customer with tenant isolation.
func (r *SQLRepository) SaveCustomer(ctx context.Context, tenantID string, c *domain.Customer) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	c.TenantID = tenantID

	query := `INSERT INTO customers (` + customerColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		c.ID, tenantID, c.FirstName, c.LastName, c.Age, c.PhoneNumber,
		c.MonthlyIncome.String(), c.ApprovedLimit.String(),
		c.CurrentDebt.String(), c.CurrentEMI.String(),
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil && r.isUnique(err) {
		return fmt.Errorf("%w: customer %s", ErrConflict, c.ID)
	}
	return err
}

// GetCustomer retrieves a customer by ID with tenant isolation.
func (r *SQLRepository) GetCustomer(ctx context.Context, tenantID string, customerID string) (*domain.Customer, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + customerColumns + ` FROM customers WHERE tenant_id = ? AND id = ?`
	return scanCustomer(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, customerID))
}

// GetCustomerByPhone retrieves a customer by phone number with tenant isolation.
func (r *SQLRepository) GetCustomerByPhone(ctx context.Context, tenantID string, phone string) (*domain.Customer, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + customerColumns + ` FROM customers WHERE tenant_id = ? AND phone_number = ?`
	return scanCustomer(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, phone))
}

// UpdateCustomerAggregates overwrites the customer's running debt and EMI totals.
func (r *SQLRepository) UpdateCustomerAggregates(ctx context.Context, tenantID string, customerID string, debt, emi decimal.Decimal) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE customers SET current_debt = ?, current_emi = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`
	result, err := r.db.ExecContext(ctx, r.rebind(query),
		debt.String(), emi.String(), time.Now().UTC(), tenantID, customerID)
	if err != nil {
		return err
	}
	return requireRow(result)
}

const loanColumns = `
	id, tenant_id, customer_id, amount, tenure, interest_rate,
	monthly_installment, status, emis_paid_on_time, start_date, end_date,
	created_at, updated_at`

// SaveLoan inserts a loan as-is, without touching customer aggregates.
func (r *SQLRepository) SaveLoan(ctx context.Context, tenantID string, loan *domain.Loan) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	return r.insertLoan(ctx, r.db, tenantID, loan)
}

// CreateLoan inserts the loan and adds it to the customer's aggregates atomically.
func (r *SQLRepository) CreateLoan(ctx context.Context, tenantID string, loan *domain.Loan) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT current_debt, current_emi FROM customers WHERE tenant_id = ? AND id = ?`
	if r.driver == "postgres" {
		query += ` FOR UPDATE`
	}

	var debt, emi decimal.Decimal
	err = tx.QueryRowContext(ctx, r.rebind(query), tenantID, loan.CustomerID).Scan(&debt, &emi)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if err := r.insertLoan(ctx, tx, tenantID, loan); err != nil {
		return err
	}

	update := `
		UPDATE customers SET current_debt = ?, current_emi = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`
	if _, err := tx.ExecContext(ctx, r.rebind(update),
		debt.Add(loan.Amount).String(),
		emi.Add(loan.MonthlyInstallment).String(),
		time.Now().UTC(), tenantID, loan.CustomerID,
	); err != nil {
		return err
	}

	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *SQLRepository) insertLoan(ctx context.Context, db execer, tenantID string, loan *domain.Loan) error {
	now := time.Now().UTC()
	if loan.CreatedAt.IsZero() {
		loan.CreatedAt = now
	}
	loan.UpdatedAt = now
	loan.TenantID = tenantID

	var endDate sql.NullTime
	if !loan.EndDate.IsZero() {
		endDate = sql.NullTime{Time: loan.EndDate, Valid: true}
	}

	query := `INSERT INTO loans (` + loanColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.ExecContext(ctx, r.rebind(query),
		loan.ID, tenantID, loan.CustomerID,
		loan.Amount.String(), loan.TenureMonths, loan.InterestRate.String(),
		loan.MonthlyInstallment.String(), string(loan.Status), loan.EMIsPaidOnTime,
		loan.StartDate, endDate,
		loan.CreatedAt, loan.UpdatedAt,
	)
	if err != nil && r.isUnique(err) {
		return fmt.Errorf("%w: loan %s", ErrConflict, loan.ID)
	}
	return err
}

// GetLoan retrieves a loan by ID with tenant isolation.
func (r *SQLRepository) GetLoan(ctx context.Context, tenantID string, loanID string) (*domain.Loan, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + loanColumns + ` FROM loans WHERE tenant_id = ? AND id = ?`
	return scanLoan(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, loanID))
}

// ListLoansByCustomer returns a customer's loans, oldest first.
func (r *SQLRepository) ListLoansByCustomer(ctx context.Context, tenantID string, customerID string) ([]*domain.Loan, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + loanColumns + ` FROM loans
		WHERE tenant_id = ? AND customer_id = ?
		ORDER BY start_date ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var loans []*domain.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		loans = append(loans, loan)
	}

	return loans, rows.Err()
}

// UpdateEMIsPaid sets the number of installments paid on time.
func (r *SQLRepository) UpdateEMIsPaid(ctx context.Context, tenantID string, loanID string, emisPaid int) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `UPDATE loans SET emis_paid_on_time = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`
	result, err := r.db.ExecContext(ctx, r.rebind(query), emisPaid, time.Now().UTC(), tenantID, loanID)
	if err != nil {
		return err
	}
	return requireRow(result)
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCustomer(row rowScanner) (*domain.Customer, error) {
	var c domain.Customer
	err := row.Scan(
		&c.ID, &c.TenantID, &c.FirstName, &c.LastName, &c.Age, &c.PhoneNumber,
		&c.MonthlyIncome, &c.ApprovedLimit, &c.CurrentDebt, &c.CurrentEMI,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanLoan(row rowScanner) (*domain.Loan, error) {
	var (
		loan    domain.Loan
		status  string
		endDate sql.NullTime
	)
	err := row.Scan(
		&loan.ID, &loan.TenantID, &loan.CustomerID,
		&loan.Amount, &loan.TenureMonths, &loan.InterestRate,
		&loan.MonthlyInstallment, &status, &loan.EMIsPaidOnTime,
		&loan.StartDate, &endDate,
		&loan.CreatedAt, &loan.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	loan.Status = domain.LoanStatus(status)
	if endDate.Valid {
		loan.EndDate = endDate.Time
	}
	return &loan, nil
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLRepository) isUnique(err error) bool {
	if r.driver == "postgres" {
		return isPostgresUnique(err)
	}
	return isSQLiteUnique(err)
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
