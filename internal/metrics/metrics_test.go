package metrics

import (
	"testing"
	"time"

	"github.com/opensource-finance/creditline/internal/domain"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestObserveDecision(t *testing.T) {
	approved := DecisionsTotal.WithLabelValues(OutcomeApproved, "")
	lowScore := DecisionsTotal.WithLabelValues(OutcomeRejected, "low_score")
	policy := DecisionsTotal.WithLabelValues(OutcomeRejected, "policy:r-1")

	beforeApproved := testutil.ToFloat64(approved)
	beforeLow := testutil.ToFloat64(lowScore)
	beforePolicy := testutil.ToFloat64(policy)

	ObserveDecision(domain.DecisionResult{Approved: true}, time.Millisecond)
	ObserveDecision(domain.DecisionResult{Reason: domain.ReasonLowScore}, time.Millisecond)
	ObserveDecision(domain.DecisionResult{Reason: "free text", PolicyRuleID: "r-1"}, time.Millisecond)

	assert.Equal(t, beforeApproved+1, testutil.ToFloat64(approved))
	assert.Equal(t, beforeLow+1, testutil.ToFloat64(lowScore))
	assert.Equal(t, beforePolicy+1, testutil.ToFloat64(policy))
}

func TestObserveLoanCreated(t *testing.T) {
	beforeCount := testutil.ToFloat64(LoansCreated)
	beforeSum := testutil.ToFloat64(LoanPrincipal)

	ObserveLoanCreated(decimal.NewFromInt(250000))

	assert.Equal(t, beforeCount+1, testutil.ToFloat64(LoansCreated))
	assert.InDelta(t, beforeSum+250000, testutil.ToFloat64(LoanPrincipal), 0.001)
}

func TestReasonLabel(t *testing.T) {
	cases := map[string]domain.DecisionResult{
		"emi_burden":     {Reason: domain.ReasonEMIBurden},
		"limit_exceeded": {Reason: domain.ReasonLimitExceeded},
		"low_score":      {Reason: domain.ReasonLowScore},
		"other":          {Reason: "something else"},
	}
	for want, result := range cases {
		t.Run(want, func(t *testing.T) {
			assert.Equal(t, want, reasonLabel(result))
		})
	}
}
