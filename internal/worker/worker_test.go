package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/creditline/internal/bus"
	"github.com/opensource-finance/creditline/internal/domain"
	"github.com/shopspring/decimal"
)

// fakeLender records calls and approves every request.
type fakeLender struct {
	mu      sync.Mutex
	checks  []string
	creates []string
	err     error
}

func (f *fakeLender) CheckEligibility(ctx context.Context, tenantID string, req domain.LoanRequest) (*domain.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks = append(f.checks, tenantID+"/"+req.CustomerID)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Decision{
		TenantID:   tenantID,
		CustomerID: req.CustomerID,
		Request:    req,
		Result:     domain.DecisionResult{Approved: true, CreditScore: decimal.NewFromInt(60)},
	}, nil
}

func (f *fakeLender) CreateLoan(ctx context.Context, tenantID string, req domain.LoanRequest) (*domain.Decision, *domain.Loan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, tenantID+"/"+req.CustomerID)
	d := &domain.Decision{TenantID: tenantID, CustomerID: req.CustomerID, LoanID: "loan-1", Result: domain.DecisionResult{Approved: true}}
	return d, &domain.Loan{ID: "loan-1", CustomerID: req.CustomerID, Amount: req.Principal}, nil
}

func (f *fakeLender) calls() (checks, creates int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.checks), len(f.creates)
}

func requestPayload(t *testing.T, requestID, customerID string, create bool) []byte {
	t.Helper()
	payload, err := json.Marshal(domain.LoanRequestedEvent{
		RequestID: requestID,
		Request: domain.LoanRequest{
			CustomerID:   customerID,
			Principal:    decimal.NewFromInt(100000),
			InterestRate: decimal.NewFromInt(12),
			TenureMonths: 12,
		},
		Create: create,
	})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return payload
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	t.Run("StartAndStop", func(t *testing.T) {
		worker := NewWorker(eventBus, &fakeLender{})
		if err := worker.Start(Config{TenantIDs: []string{"tenant-001"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := worker.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}
		if stats.Topics[0] != domain.TopicLoanRequested {
			t.Errorf("unexpected topic %s", stats.Topics[0])
		}

		if err := worker.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if worker.GetStats().SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop")
		}
	})

	t.Run("RequestReplyQuote", func(t *testing.T) {
		lender := &fakeLender{}
		w := NewWorker(eventBus, lender)
		w.Start(Config{TenantIDs: []string{"tenant-quote"}})
		defer w.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		reply, err := eventBus.Request(ctx, "tenant-quote", domain.TopicLoanRequested, requestPayload(t, "req-1", "c-9", false))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}

		var result Result
		if err := json.Unmarshal(reply, &result); err != nil {
			t.Fatalf("failed to parse reply: %v", err)
		}
		if result.RequestID != "req-1" || result.TenantID != "tenant-quote" {
			t.Errorf("unexpected reply envelope %+v", result)
		}
		if result.Decision == nil || !result.Decision.Result.Approved || result.Loan != nil {
			t.Errorf("expected approved quote without loan, got %+v", result)
		}
		if checks, creates := lender.calls(); checks != 1 || creates != 0 {
			t.Errorf("expected 1 check and 0 creates, got %d/%d", checks, creates)
		}
	})

	t.Run("CreateRequest", func(t *testing.T) {
		lender := &fakeLender{}
		w := NewWorker(eventBus, lender)
		w.Start(Config{TenantIDs: []string{"tenant-create"}})
		defer w.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		reply, err := eventBus.Request(ctx, "tenant-create", domain.TopicLoanRequested, requestPayload(t, "req-2", "c-1", true))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}

		var result Result
		json.Unmarshal(reply, &result)
		if result.Loan == nil || result.Loan.ID != "loan-1" {
			t.Errorf("expected created loan, got %+v", result)
		}
		if _, creates := lender.calls(); creates != 1 {
			t.Errorf("expected 1 create, got %d", creates)
		}
	})

	t.Run("LenderErrorReported", func(t *testing.T) {
		w := NewWorker(eventBus, &fakeLender{err: errors.New("customer not found")})
		w.Start(Config{TenantIDs: []string{"tenant-err"}})
		defer w.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		reply, err := eventBus.Request(ctx, "tenant-err", domain.TopicLoanRequested, requestPayload(t, "req-3", "ghost", false))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}

		var result Result
		json.Unmarshal(reply, &result)
		if result.Error != "customer not found" || result.Decision != nil {
			t.Errorf("expected error reply, got %+v", result)
		}
	})

	t.Run("MalformedPayload", func(t *testing.T) {
		w := NewWorker(eventBus, &fakeLender{})
		w.Start(Config{TenantIDs: []string{"tenant-bad"}})
		defer w.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		reply, err := eventBus.Request(ctx, "tenant-bad", domain.TopicLoanRequested, []byte("{not json"))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}

		var result Result
		json.Unmarshal(reply, &result)
		if result.Error == "" {
			t.Error("expected parse error in reply")
		}
	})

	t.Run("GlobalWorker", func(t *testing.T) {
		lender := &fakeLender{}
		w := NewWorker(eventBus, lender)
		if err := w.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		eventBus.Publish(context.Background(), "tenant-x", domain.TopicLoanRequested, requestPayload(t, "", "c-x", false))
		eventBus.Publish(context.Background(), "tenant-y", domain.TopicLoanRequested, requestPayload(t, "", "c-y", false))

		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			if checks, _ := lender.calls(); checks == 2 {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}

		lender.mu.Lock()
		defer lender.mu.Unlock()
		if len(lender.checks) != 2 {
			t.Fatalf("expected 2 checks, got %v", lender.checks)
		}
		seen := map[string]bool{}
		for _, c := range lender.checks {
			seen[c] = true
		}
		if !seen["tenant-x/c-x"] || !seen["tenant-y/c-y"] {
			t.Errorf("global worker must keep the publishing tenant, got %v", lender.checks)
		}
	})

	t.Run("MultiTenant", func(t *testing.T) {
		w := NewWorker(eventBus, &fakeLender{})
		w.Start(Config{TenantIDs: []string{"tenant-a", "tenant-b"}})
		defer w.Stop()

		if n := w.GetStats().SubscriptionCount; n != 2 {
			t.Errorf("expected 2 subscriptions for 2 tenants, got %d", n)
		}
	})
}

func TestWorkerQueueGroup(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	a, b := &fakeLender{}, &fakeLender{}
	for _, lender := range []*fakeLender{a, b} {
		w := NewWorker(eventBus, lender)
		if err := w.Start(Config{Queue: DefaultQueue}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()
	}

	const requests = 10
	for i := 0; i < requests; i++ {
		payload := requestPayload(t, "req-q", "cust-q", false)
		if err := eventBus.Publish(context.Background(), "tenant-q", domain.TopicLoanRequested, payload); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	total := func() int {
		ca, _ := a.calls()
		cb, _ := b.calls()
		return ca + cb
	}
	for total() < requests && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	// Give a duplicate delivery the chance to show up.
	time.Sleep(20 * time.Millisecond)

	if got := total(); got != requests {
		t.Fatalf("expected each request decided once, got %d decisions for %d requests", got, requests)
	}
	ca, _ := a.calls()
	cb, _ := b.calls()
	if ca == 0 || cb == 0 {
		t.Errorf("expected both workers to share the load, got %d and %d", ca, cb)
	}
}
