// Package credit derives credit scores from loan history and decides loan
// requests. It is pure: no I/O, no clocks, no shared mutable state.
package credit

import (
	"fmt"

	"github.com/opensource-finance/creditline/internal/domain"
	"github.com/shopspring/decimal"
)

// Signal caps.
const (
	loanCountCap   = 5
	currentYearCap = 3
)

var (
	hundred  = decimal.NewFromInt(100)
	maxScore = hundred
)

// Weights are the percentage contributions of each history signal.
// They must be non-negative and sum to 100.
type Weights struct {
	OnTime      decimal.Decimal
	LoanCount   decimal.Decimal
	CurrentYear decimal.Decimal
	Volume      decimal.Decimal
}

// DefaultWeights favour repayment discipline over activity.
func DefaultWeights() Weights {
	return Weights{
		OnTime:      decimal.NewFromInt(35),
		LoanCount:   decimal.NewFromInt(20),
		CurrentYear: decimal.NewFromInt(20),
		Volume:      decimal.NewFromInt(25),
	}
}

// WeightsFromConfig converts policy weights.
func WeightsFromConfig(cfg domain.PolicyConfig) Weights {
	return Weights{
		OnTime:      decimal.NewFromFloat(cfg.OnTimeWeight),
		LoanCount:   decimal.NewFromFloat(cfg.LoanCountWeight),
		CurrentYear: decimal.NewFromFloat(cfg.CurrentYearWeight),
		Volume:      decimal.NewFromFloat(cfg.VolumeWeight),
	}
}

// Validate checks the weights are usable.
func (w Weights) Validate() error {
	for name, v := range map[string]decimal.Decimal{
		"onTime":      w.OnTime,
		"loanCount":   w.LoanCount,
		"currentYear": w.CurrentYear,
		"volume":      w.Volume,
	} {
		if v.IsNegative() {
			return fmt.Errorf("%w: %s weight must not be negative", domain.ErrInvalidInput, name)
		}
	}
	sum := w.OnTime.Add(w.LoanCount).Add(w.CurrentYear).Add(w.Volume)
	if !sum.Equal(hundred) {
		return fmt.Errorf("%w: weights must sum to 100, got %s", domain.ErrInvalidInput, sum)
	}
	return nil
}

// Signals are the normalised 0–100 components of a score.
type Signals struct {
	OnTime      decimal.Decimal `json:"onTime"`
	LoanCount   decimal.Decimal `json:"loanCount"`
	CurrentYear decimal.Decimal `json:"currentYear"`
	Volume      decimal.Decimal `json:"volume"`
	LimitBreach bool            `json:"limitBreach"`
}

// signals derives the score components. Only approved loans are graded.
func signals(profile domain.CustomerProfile, history []domain.LoanHistoryRecord) Signals {
	var (
		s         Signals
		count     int64
		thisYear  int64
		paid      int64
		scheduled int64
		volume    = decimal.Zero
	)

	for _, h := range history {
		// Any loan above the limit zeroes the score, whatever its status.
		if h.ExceedsLimit || h.Amount.GreaterThan(profile.ApprovedLimit) {
			s.LimitBreach = true
		}
		if h.Status != domain.LoanApproved {
			continue
		}

		count++
		volume = volume.Add(h.Amount)

		if h.TenureMonths > 0 {
			scheduled += int64(h.TenureMonths)
			paid += int64(min(max(h.EMIsPaidOnTime, 0), h.TenureMonths))
		}
		if !profile.AsOf.IsZero() && !h.StartDate.IsZero() && h.StartDate.Year() == profile.AsOf.Year() {
			thisYear++
		}
	}

	s.OnTime = ratio(paid, scheduled)
	s.LoanCount = ratio(min(count, loanCountCap), loanCountCap)
	s.CurrentYear = ratio(min(thisYear, currentYearCap), currentYearCap)

	s.Volume = decimal.Zero
	if profile.ApprovedLimit.IsPositive() {
		v := volume.Div(profile.ApprovedLimit)
		if v.GreaterThan(decimal.NewFromInt(1)) {
			v = decimal.NewFromInt(1)
		}
		s.Volume = v.Mul(hundred)
	}
	return s
}

// ratio returns num/den scaled to 0–100, or 0 for an empty denominator.
func ratio(num, den int64) decimal.Decimal {
	if den <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(num).Mul(hundred).Div(decimal.NewFromInt(den))
}

// combine weights the signals into a score clamped to [0, 100].
func (w Weights) combine(s Signals) decimal.Decimal {
	if s.LimitBreach {
		return decimal.Zero
	}
	score := w.OnTime.Mul(s.OnTime).
		Add(w.LoanCount.Mul(s.LoanCount)).
		Add(w.CurrentYear.Mul(s.CurrentYear)).
		Add(w.Volume.Mul(s.Volume)).
		Div(hundred)

	if score.IsNegative() {
		score = decimal.Zero
	}
	if score.GreaterThan(maxScore) {
		score = maxScore
	}
	return score.Round(2)
}
