// Package lending runs the customer and loan workflows on top of the
// credit engine: registration, eligibility checks, loan creation and
// repayments.
package lending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/creditline/internal/cache"
	"github.com/opensource-finance/creditline/internal/credit"
	"github.com/opensource-finance/creditline/internal/domain"
	"github.com/opensource-finance/creditline/internal/metrics"
	"github.com/opensource-finance/creditline/internal/rules"
	"github.com/shopspring/decimal"
)

const minAge = 18

// Options tunes caching and locking.
type Options struct {
	SnapshotTTL time.Duration
	LockTTL     time.Duration
	LockWait    time.Duration
}

// OptionsFromConfig reads service options from the application config.
func OptionsFromConfig(cfg *domain.Config) Options {
	return Options{
		SnapshotTTL: time.Duration(cfg.Cache.SnapshotTTL) * time.Second,
		LockTTL:     time.Duration(cfg.Policy.LockTTL) * time.Millisecond,
		LockWait:    time.Duration(cfg.Policy.LockWait) * time.Millisecond,
	}
}

// Service implements the lending workflows for every tenant.
type Service struct {
	repo   domain.Repository
	cache  domain.Cache
	bus    domain.EventBus
	engine *credit.Engine
	policy *rules.Engine
	opts   Options

	now func() time.Time
}

// NewService wires the lending workflows. bus and policy may be nil; a nil
// cache falls back to an in-process LRU and a nil engine to the default weights.
func NewService(repo domain.Repository, c domain.Cache, b domain.EventBus, engine *credit.Engine, policy *rules.Engine, opts Options) *Service {
	if c == nil {
		c = cache.NewLRUCache(1000)
	}
	if engine == nil {
		engine, _ = credit.NewEngine(credit.DefaultWeights())
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 5 * time.Second
	}
	if opts.LockWait < 0 {
		opts.LockWait = 0
	}
	return &Service{
		repo:   repo,
		cache:  c,
		bus:    b,
		engine: engine,
		policy: policy,
		opts:   opts,
		now:    time.Now,
	}
}

// RegisterCustomer validates and stores a new customer with a derived
// approved limit.
func (s *Service) RegisterCustomer(ctx context.Context, tenantID string, req domain.RegistrationRequest) (*domain.Customer, error) {
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)

	switch {
	case req.FirstName == "":
		return nil, domain.InvalidInput("first_name", "is required")
	case req.LastName == "":
		return nil, domain.InvalidInput("last_name", "is required")
	case req.PhoneNumber == "":
		return nil, domain.InvalidInput("phone_number", "is required")
	case req.Age < minAge:
		return nil, domain.InvalidInput("age", fmt.Sprintf("must be at least %d", minAge))
	case !req.MonthlyIncome.IsPositive():
		return nil, domain.InvalidInput("monthly_income", "must be greater than 0")
	}

	_, err := s.repo.GetCustomerByPhone(ctx, tenantID, req.PhoneNumber)
	if err == nil {
		return nil, ErrDuplicatePhone
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to check phone number: %w", err)
	}

	customer := &domain.Customer{
		ID:            uuid.NewString(),
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		Age:           req.Age,
		PhoneNumber:   req.PhoneNumber,
		MonthlyIncome: req.MonthlyIncome,
		ApprovedLimit: ApprovedLimit(req.MonthlyIncome),
		CurrentDebt:   decimal.Zero,
		CurrentEMI:    decimal.Zero,
	}

	if err := s.repo.SaveCustomer(ctx, tenantID, customer); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, ErrDuplicatePhone
		}
		return nil, fmt.Errorf("failed to save customer: %w", err)
	}

	slog.Info("customer registered",
		"tenant_id", tenantID,
		"customer_id", customer.ID,
		"approved_limit", customer.ApprovedLimit.String(),
	)
	return customer, nil
}

// Snapshot returns the customer's decision inputs, served from cache when fresh.
func (s *Service) Snapshot(ctx context.Context, tenantID, customerID string) (Snapshot, error) {
	key := snapshotKey(customerID)

	if data, err := s.cache.Get(ctx, tenantID, key); err == nil && data != nil {
		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err == nil && snap.Customer != nil {
			return snap, nil
		}
	}

	snap, err := s.loadSnapshot(ctx, tenantID, customerID)
	if err != nil {
		return Snapshot{}, err
	}

	if s.opts.SnapshotTTL > 0 {
		if data, err := json.Marshal(snap); err == nil {
			if err := s.cache.Set(ctx, tenantID, key, data, s.opts.SnapshotTTL); err != nil {
				slog.Warn("failed to cache snapshot", "customer_id", customerID, "error", err)
			}
		}
	}
	return snap, nil
}

func (s *Service) loadSnapshot(ctx context.Context, tenantID, customerID string) (Snapshot, error) {
	customer, err := s.repo.GetCustomer(ctx, tenantID, customerID)
	if err != nil {
		return Snapshot{}, notFound(err, ErrCustomerNotFound)
	}

	loans, err := s.repo.ListLoansByCustomer(ctx, tenantID, customerID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to list loans: %w", err)
	}

	return BuildSnapshot(customer, loans, s.now()), nil
}

// CheckEligibility quotes a loan request without persisting anything.
func (s *Service) CheckEligibility(ctx context.Context, tenantID string, req domain.LoanRequest) (*domain.Decision, error) {
	if req.CustomerID == "" {
		return nil, domain.InvalidInput("customer_id", "is required")
	}

	snap, err := s.Snapshot(ctx, tenantID, req.CustomerID)
	if err != nil {
		return nil, err
	}

	decision, err := s.decide(ctx, tenantID, snap, req)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, tenantID, domain.TopicLoanDecided, decision)

	slog.Info("eligibility checked",
		"tenant_id", tenantID,
		"customer_id", req.CustomerID,
		"approved", decision.Result.Approved,
		"credit_score", decision.Result.CreditScore.String(),
		"duration_ms", decision.DecisionMs,
	)
	return decision, nil
}

// CreateLoan decides the request against fresh customer state and persists
// the loan when approved. Requests for one customer are serialized through
// a cache lock, so concurrent approvals cannot overshoot the approved limit.
//
// A rejected decision returns a nil loan and no error.
func (s *Service) CreateLoan(ctx context.Context, tenantID string, req domain.LoanRequest) (*domain.Decision, *domain.Loan, error) {
	if req.CustomerID == "" {
		return nil, nil, domain.InvalidInput("customer_id", "is required")
	}

	unlock, err := s.lockCustomer(ctx, tenantID, req.CustomerID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	snap, err := s.loadSnapshot(ctx, tenantID, req.CustomerID)
	if err != nil {
		return nil, nil, err
	}

	decision, err := s.decide(ctx, tenantID, snap, req)
	if err != nil {
		return nil, nil, err
	}

	if !decision.Result.Approved {
		s.publish(ctx, tenantID, domain.TopicLoanDecided, decision)
		slog.Info("loan rejected",
			"tenant_id", tenantID,
			"customer_id", req.CustomerID,
			"credit_score", decision.Result.CreditScore.String(),
			"reason", decision.Result.Reason,
		)
		return decision, nil, nil
	}

	start := s.today()
	loan := &domain.Loan{
		ID:                 uuid.NewString(),
		CustomerID:         req.CustomerID,
		Amount:             req.Principal,
		TenureMonths:       req.TenureMonths,
		InterestRate:       decision.Result.CorrectedRate,
		MonthlyInstallment: decision.Result.MonthlyInstallment,
		Status:             domain.LoanApproved,
		StartDate:          start,
		EndDate:            start.AddDate(0, 0, 30*req.TenureMonths),
	}

	if err := s.repo.CreateLoan(ctx, tenantID, loan); err != nil {
		return nil, nil, fmt.Errorf("failed to create loan: %w", notFound(err, ErrCustomerNotFound))
	}
	decision.LoanID = loan.ID

	s.invalidate(ctx, tenantID, req.CustomerID)
	metrics.ObserveLoanCreated(loan.Amount)

	s.publish(ctx, tenantID, domain.TopicLoanDecided, decision)
	s.publish(ctx, tenantID, domain.TopicLoanApproved, loan)

	slog.Info("loan created",
		"tenant_id", tenantID,
		"customer_id", req.CustomerID,
		"loan_id", loan.ID,
		"amount", loan.Amount.String(),
		"monthly_installment", loan.MonthlyInstallment.String(),
		"credit_score", decision.Result.CreditScore.String(),
	)
	return decision, loan, nil
}

// GetLoan returns a loan together with its customer.
func (s *Service) GetLoan(ctx context.Context, tenantID, loanID string) (*domain.Loan, *domain.Customer, error) {
	loan, err := s.repo.GetLoan(ctx, tenantID, loanID)
	if err != nil {
		return nil, nil, notFound(err, ErrLoanNotFound)
	}

	customer, err := s.repo.GetCustomer(ctx, tenantID, loan.CustomerID)
	if err != nil {
		return nil, nil, notFound(err, ErrCustomerNotFound)
	}
	return loan, customer, nil
}

// ListLoans returns every loan of a customer, oldest first.
func (s *Service) ListLoans(ctx context.Context, tenantID, customerID string) ([]*domain.Loan, error) {
	if _, err := s.repo.GetCustomer(ctx, tenantID, customerID); err != nil {
		return nil, notFound(err, ErrCustomerNotFound)
	}

	loans, err := s.repo.ListLoansByCustomer(ctx, tenantID, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	if loans == nil {
		loans = []*domain.Loan{}
	}
	return loans, nil
}

// RecordPayment marks the next installment of a loan as paid on time and
// refreshes the customer's running totals.
func (s *Service) RecordPayment(ctx context.Context, tenantID, loanID string) (*domain.Loan, error) {
	loan, err := s.repo.GetLoan(ctx, tenantID, loanID)
	if err != nil {
		return nil, notFound(err, ErrLoanNotFound)
	}

	unlock, err := s.lockCustomer(ctx, tenantID, loan.CustomerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Re-read under the lock.
	loan, err = s.repo.GetLoan(ctx, tenantID, loanID)
	if err != nil {
		return nil, notFound(err, ErrLoanNotFound)
	}
	if loan.Status != domain.LoanApproved || loan.RepaymentsLeft() == 0 {
		return nil, ErrLoanClosed
	}

	loan.EMIsPaidOnTime++
	if err := s.repo.UpdateEMIsPaid(ctx, tenantID, loan.ID, loan.EMIsPaidOnTime); err != nil {
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}

	loans, err := s.repo.ListLoansByCustomer(ctx, tenantID, loan.CustomerID)
	if err == nil {
		debt, emi := ActiveTotals(loans, s.now())
		err = s.repo.UpdateCustomerAggregates(ctx, tenantID, loan.CustomerID, debt, emi)
	}
	if err != nil {
		slog.Warn("failed to refresh customer totals",
			"tenant_id", tenantID,
			"customer_id", loan.CustomerID,
			"error", err,
		)
	}

	s.invalidate(ctx, tenantID, loan.CustomerID)

	slog.Info("payment recorded",
		"tenant_id", tenantID,
		"loan_id", loan.ID,
		"emis_paid", loan.EMIsPaidOnTime,
		"repayments_left", loan.RepaymentsLeft(),
	)
	return loan, nil
}

// lockCustomer takes the per-customer lock and returns its release func.
func (s *Service) lockCustomer(ctx context.Context, tenantID, customerID string) (func(), error) {
	key := lockKey(customerID)

	token, ok, err := cache.AcquireLock(ctx, s.cache, tenantID, key, s.opts.LockTTL, s.opts.LockWait)
	if err != nil {
		return nil, fmt.Errorf("failed to lock customer: %w", err)
	}
	if !ok {
		return nil, ErrCustomerBusy
	}

	return func() {
		if err := s.cache.Unlock(context.WithoutCancel(ctx), tenantID, key, token); err != nil {
			slog.Warn("failed to release customer lock",
				"tenant_id", tenantID,
				"customer_id", customerID,
				"error", err,
			)
		}
	}, nil
}

func (s *Service) invalidate(ctx context.Context, tenantID, customerID string) {
	if err := s.cache.Delete(ctx, tenantID, snapshotKey(customerID)); err != nil {
		slog.Warn("failed to invalidate snapshot",
			"tenant_id", tenantID,
			"customer_id", customerID,
			"error", err,
		)
	}
}

func (s *Service) publish(ctx context.Context, tenantID, topic string, v any) {
	if s.bus == nil {
		return
	}

	payload, err := json.Marshal(v)
	if err == nil {
		err = s.bus.Publish(ctx, tenantID, topic, payload)
	}
	if err != nil {
		slog.Error("failed to publish event",
			"tenant_id", tenantID,
			"topic", topic,
			"error", err,
		)
	}
}

func (s *Service) today() time.Time {
	y, m, d := s.now().UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func snapshotKey(customerID string) string {
	return "snapshot:" + customerID
}

func lockKey(customerID string) string {
	return "customer:" + customerID
}
