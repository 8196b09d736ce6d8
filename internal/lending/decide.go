package lending

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/creditline/internal/domain"
	"github.com/opensource-finance/creditline/internal/metrics"
	"github.com/opensource-finance/creditline/internal/rules"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("creditline-lending")

// decide runs the credit engine and then the policy rules over a snapshot.
// The decision carries the evaluated rules and its own latency.
func (s *Service) decide(ctx context.Context, tenantID string, snap Snapshot, req domain.LoanRequest) (*domain.Decision, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "lending.decide",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("customer.id", req.CustomerID),
			attribute.String("loan.amount", req.Principal.String()),
			attribute.Int("loan.tenure", req.TenureMonths),
		),
	)
	defer span.End()

	result, err := s.engine.Decide(snap.Profile, snap.History, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var ruleResults []domain.RuleResult
	if s.policy != nil {
		result, ruleResults = s.policy.Apply(ctx, rules.Input{
			Profile: snap.Profile,
			Request: req,
			Result:  result,
		})
	}

	elapsed := time.Since(start)
	metrics.ObserveDecision(result, elapsed)

	span.SetAttributes(
		attribute.Bool("decision.approved", result.Approved),
		attribute.String("decision.credit_score", result.CreditScore.String()),
		attribute.String("decision.reason", result.Reason),
	)

	decision := &domain.Decision{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		CustomerID:  req.CustomerID,
		Request:     req,
		Result:      result,
		DecisionMs:  elapsed.Milliseconds(),
		RuleResults: ruleResults,
	}
	if sc := span.SpanContext(); sc.HasTraceID() {
		decision.TraceID = sc.TraceID().String()
	}

	return decision, nil
}
