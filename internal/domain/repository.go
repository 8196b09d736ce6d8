// Package domain defines the core types and collaborator interfaces for creditline.
package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Customer operations
	SaveCustomer(ctx context.Context, tenantID string, c *Customer) error
	GetCustomer(ctx context.Context, tenantID string, customerID string) (*Customer, error)
	GetCustomerByPhone(ctx context.Context, tenantID string, phone string) (*Customer, error)
	UpdateCustomerAggregates(ctx context.Context, tenantID string, customerID string, debt, emi decimal.Decimal) error

	// Loan operations
	SaveLoan(ctx context.Context, tenantID string, loan *Loan) error
	GetLoan(ctx context.Context, tenantID string, loanID string) (*Loan, error)
	ListLoansByCustomer(ctx context.Context, tenantID string, customerID string) ([]*Loan, error)
	UpdateEMIsPaid(ctx context.Context, tenantID string, loanID string, emisPaid int) error

	// CreateLoan inserts an approved loan and adds its principal and
	// installment to the customer's aggregates in one transaction.
	CreateLoan(ctx context.Context, tenantID string, loan *Loan) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDB       string `mapstructure:"postgres_db"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}
