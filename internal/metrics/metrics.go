// Package metrics holds the Prometheus collectors for lending decisions.
package metrics

import (
	"time"

	"github.com/opensource-finance/creditline/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

var (
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "creditline_decisions_total",
			Help: "Total number of loan decisions by outcome and rejection reason",
		},
		[]string{"outcome", "reason"},
	)

	DecisionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "creditline_decision_duration_seconds",
			Help:    "Duration of loan decisions including snapshot reads and policy rules",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	LoansCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "creditline_loans_created_total",
			Help: "Total number of loans persisted",
		},
	)

	LoanPrincipal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "creditline_loan_principal_total",
			Help: "Sum of principal over persisted loans",
		},
	)
)

// Outcome labels.
const (
	OutcomeApproved = "approved"
	OutcomeRejected = "rejected"
)

// ObserveDecision records one decision and its latency.
func ObserveDecision(result domain.DecisionResult, elapsed time.Duration) {
	outcome := OutcomeApproved
	reason := ""
	if !result.Approved {
		outcome = OutcomeRejected
		reason = reasonLabel(result)
	}
	DecisionsTotal.WithLabelValues(outcome, reason).Inc()
	DecisionDuration.Observe(elapsed.Seconds())
}

// ObserveLoanCreated records a persisted loan.
func ObserveLoanCreated(principal decimal.Decimal) {
	LoansCreated.Inc()
	LoanPrincipal.Add(principal.InexactFloat64())
}

// reasonLabel maps a rejection onto a fixed label set. Policy vetoes are
// labelled by rule ID.
func reasonLabel(result domain.DecisionResult) string {
	switch {
	case result.PolicyRuleID != "":
		return "policy:" + result.PolicyRuleID
	case result.Reason == domain.ReasonEMIBurden:
		return "emi_burden"
	case result.Reason == domain.ReasonLimitExceeded:
		return "limit_exceeded"
	case result.Reason == domain.ReasonLowScore:
		return "low_score"
	default:
		return "other"
	}
}
