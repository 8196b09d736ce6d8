// Package worker provides async processing of loan requests from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/creditline/internal/bus"
	"github.com/opensource-finance/creditline/internal/domain"
)

// Lender is the part of the lending service the worker drives.
type Lender interface {
	CheckEligibility(ctx context.Context, tenantID string, req domain.LoanRequest) (*domain.Decision, error)
	CreateLoan(ctx context.Context, tenantID string, req domain.LoanRequest) (*domain.Decision, *domain.Loan, error)
}

// Worker consumes loan requests and answers them with decisions.
type Worker struct {
	bus    domain.EventBus
	lender Lender

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = all via the global subscription)
	TenantIDs []string

	// Queue joins a queue group on buses that support one, so replicas
	// share requests instead of each deciding every one.
	Queue string
}

// DefaultQueue is the queue group used by creditline servers.
const DefaultQueue = "creditline-workers"

// Result is the reply sent to a requester. The decision itself is also
// published on TopicLoanDecided by the lending service.
type Result struct {
	RequestID string           `json:"requestId"`
	TenantID  string           `json:"tenantId"`
	Decision  *domain.Decision `json:"decision,omitempty"`
	Loan      *domain.Loan     `json:"loan,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// NewWorker creates a new async worker.
func NewWorker(b domain.EventBus, lender Lender) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    b,
		lender: lender,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to loan requests for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.subscribe(domain.GlobalTenant, cfg.Queue)
	}

	started := 0
	for _, tenantID := range cfg.TenantIDs {
		if err := w.subscribe(tenantID, cfg.Queue); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
		started++
	}
	if started == 0 {
		return fmt.Errorf("no tenant worker could be started")
	}

	slog.Info("workers started",
		"tenant_count", started,
	)
	return nil
}

func (w *Worker) subscribe(tenantID, queue string) error {
	var sub domain.Subscription
	var err error
	if qs, ok := w.bus.(domain.QueueSubscriber); ok && queue != "" {
		sub, err = qs.QueueSubscribe(w.ctx, tenantID, domain.TopicLoanRequested, queue, w.handleMessage)
	} else {
		sub, err = w.bus.Subscribe(w.ctx, tenantID, domain.TopicLoanRequested, w.handleMessage)
	}
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("worker subscribed",
		"tenant_id", tenantID,
		"topic", domain.TopicLoanRequested,
		"queue", queue,
	)
	return nil
}

// handleMessage processes one loan request and replies when asked to.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	result := w.process(ctx, msg)

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal worker result: %w", err)
	}
	if err := bus.Reply(ctx, w.bus, msg, payload); err != nil {
		slog.Error("failed to reply",
			"request_id", result.RequestID,
			"tenant_id", result.TenantID,
			"error", err,
		)
		return err
	}
	return nil
}

func (w *Worker) process(ctx context.Context, msg *domain.Message) Result {
	start := time.Now()

	var event domain.LoanRequestedEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		slog.Error("failed to parse loan request",
			"message_id", msg.ID,
			"error", err,
		)
		return Result{RequestID: msg.ID, TenantID: msg.TenantID, Error: "malformed loan request: " + err.Error()}
	}

	// The envelope names the publishing tenant, also on global subscriptions.
	tenantID := msg.TenantID
	if tenantID == "" {
		tenantID = event.TenantID
	}

	result := Result{RequestID: event.RequestID, TenantID: tenantID}
	if result.RequestID == "" {
		result.RequestID = msg.ID
	}

	var err error
	if event.Create {
		result.Decision, result.Loan, err = w.lender.CreateLoan(ctx, tenantID, event.Request)
	} else {
		result.Decision, err = w.lender.CheckEligibility(ctx, tenantID, event.Request)
	}
	if err != nil {
		result.Error = err.Error()
		slog.Warn("loan request failed",
			"request_id", result.RequestID,
			"tenant_id", tenantID,
			"customer_id", event.Request.CustomerID,
			"error", err,
		)
		return result
	}

	slog.Info("loan request processed",
		"request_id", result.RequestID,
		"tenant_id", tenantID,
		"customer_id", event.Request.CustomerID,
		"approved", result.Decision.Result.Approved,
		"created", result.Loan != nil,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
