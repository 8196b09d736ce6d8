package credit

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/creditline/internal/domain"
	"github.com/shopspring/decimal"
)

var asOf = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newProfile() domain.CustomerProfile {
	return domain.CustomerProfile{
		CustomerID:            "cust-001",
		MonthlyIncome:         d("100000"),
		ApprovedLimit:         d("3600000"),
		CurrentTotalPrincipal: decimal.Zero,
		CurrentTotalEMI:       decimal.Zero,
		AsOf:                  asOf,
	}
}

func paidLoan(id, amount string, tenure, paid int, start time.Time) domain.LoanHistoryRecord {
	return domain.LoanHistoryRecord{
		LoanID:         id,
		Amount:         d(amount),
		TenureMonths:   tenure,
		EMIsPaidOnTime: paid,
		Status:         domain.LoanApproved,
		StartDate:      start,
		EndDate:        start.AddDate(0, tenure, 0),
	}
}

var longAgo = time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)

// strongHistory scores 80: full on-time, capped count, full volume, nothing this year.
func strongHistory() []domain.LoanHistoryRecord {
	var h []domain.LoanHistoryRecord
	for _, id := range []string{"l1", "l2", "l3", "l4", "l5"} {
		h = append(h, paidLoan(id, "800000", 12, 12, longAgo))
	}
	return h
}

// fairHistory scores 39.69: one small loan repaid in full.
func fairHistory() []domain.LoanHistoryRecord {
	return []domain.LoanHistoryRecord{paidLoan("l1", "100000", 12, 12, longAgo)}
}

// weakHistory scores 22.19: one small loan half repaid.
func weakHistory() []domain.LoanHistoryRecord {
	return []domain.LoanHistoryRecord{paidLoan("l1", "100000", 12, 6, longAgo)}
}

func request(principal, rate string, tenure int) domain.LoanRequest {
	return domain.LoanRequest{
		CustomerID:   "cust-001",
		Principal:    d(principal),
		InterestRate: d(rate),
		TenureMonths: tenure,
	}
}

func TestScore(t *testing.T) {
	engine := defaultEngine
	profile := newProfile()

	cases := []struct {
		name    string
		history []domain.LoanHistoryRecord
		want    string
	}{
		{"NoHistory", nil, "0.00"},
		{"Strong", strongHistory(), "80.00"},
		{"Fair", fairHistory(), "39.69"},
		{"Weak", weakHistory(), "22.19"},
		{"CurrentYearCapped", []domain.LoanHistoryRecord{
			paidLoan("a", "300000", 12, 12, asOf.AddDate(0, -1, 0)),
			paidLoan("b", "300000", 12, 12, asOf.AddDate(0, -2, 0)),
			paidLoan("c", "300000", 12, 12, asOf.AddDate(0, -3, 0)),
			paidLoan("d", "300000", 12, 12, asOf.AddDate(0, -4, 0)),
			paidLoan("e", "300000", 12, 12, asOf.AddDate(0, -5, 0)),
		}, "85.42"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := engine.Score(profile, tc.history)
			if got.StringFixed(2) != tc.want {
				t.Errorf("score = %s, want %s", got.StringFixed(2), tc.want)
			}
		})
	}

	t.Run("LimitOverrideZeroesScore", func(t *testing.T) {
		h := append(strongHistory(), paidLoan("big", "4000000", 24, 24, longAgo))
		if got := engine.Score(profile, h); !got.IsZero() {
			t.Errorf("expected score 0, got %s", got)
		}
	})

	t.Run("ExceedsLimitFlag", func(t *testing.T) {
		h := strongHistory()
		h[0].ExceedsLimit = true
		if got := engine.Score(profile, h); !got.IsZero() {
			t.Errorf("expected score 0, got %s", got)
		}
	})

	t.Run("RejectedLoansNotGraded", func(t *testing.T) {
		h := fairHistory()
		rejected := paidLoan("r1", "100000", 12, 0, asOf)
		rejected.Status = domain.LoanRejected
		h = append(h, rejected)
		if got := engine.Score(profile, h); got.StringFixed(2) != "39.69" {
			t.Errorf("expected 39.69, got %s", got.StringFixed(2))
		}
	})

	t.Run("RejectedOverLimitStillZeroes", func(t *testing.T) {
		rejected := paidLoan("r1", "4000000", 24, 0, longAgo)
		rejected.Status = domain.LoanRejected
		h := append(strongHistory(), rejected)
		if got := engine.Score(profile, h); !got.IsZero() {
			t.Errorf("expected score 0, got %s", got)
		}
	})

	t.Run("ZeroAsOfIgnoresCurrentYear", func(t *testing.T) {
		p := profile
		p.AsOf = time.Time{}
		_, s := engine.Explain(p, []domain.LoanHistoryRecord{paidLoan("a", "100000", 12, 12, asOf)})
		if !s.CurrentYear.IsZero() {
			t.Errorf("expected current-year signal 0, got %s", s.CurrentYear)
		}
	})

	t.Run("OverpaidEMIsCapped", func(t *testing.T) {
		_, s := engine.Explain(profile, []domain.LoanHistoryRecord{paidLoan("a", "100000", 12, 40, longAgo)})
		if !s.OnTime.Equal(d("100")) {
			t.Errorf("expected on-time signal 100, got %s", s.OnTime)
		}
	})

	t.Run("Clamped", func(t *testing.T) {
		for _, h := range [][]domain.LoanHistoryRecord{nil, strongHistory(), fairHistory()} {
			got := engine.Score(profile, h)
			if got.IsNegative() || got.GreaterThan(d("100")) {
				t.Errorf("score %s outside [0, 100]", got)
			}
		}
	})
}

func TestScoreMonotonic(t *testing.T) {
	profile := newProfile()

	// Each case grows one signal while the others stay fixed.
	cases := []struct {
		name    string
		steps   int
		history func(step int) []domain.LoanHistoryRecord
	}{
		{"OnTime", 12, func(paid int) []domain.LoanHistoryRecord {
			return []domain.LoanHistoryRecord{paidLoan("l1", "100000", 12, paid, longAgo)}
		}},
		{"LoanCount", 7, func(n int) []domain.LoanHistoryRecord {
			var h []domain.LoanHistoryRecord
			for i := 0; i < n; i++ {
				h = append(h, paidLoan(fmt.Sprintf("l%d", i), "1000", 12, 12, longAgo))
			}
			return h
		}},
		{"CurrentYear", 5, func(n int) []domain.LoanHistoryRecord {
			h := []domain.LoanHistoryRecord{
				paidLoan("o1", "1000", 12, 12, longAgo),
				paidLoan("o2", "1000", 12, 12, longAgo),
				paidLoan("o3", "1000", 12, 12, longAgo),
				paidLoan("o4", "1000", 12, 12, longAgo),
				paidLoan("o5", "1000", 12, 12, longAgo),
			}
			// Moving loans into this year keeps count, on-time and volume fixed.
			for i := 0; i < n; i++ {
				h[i].StartDate = asOf.AddDate(0, 0, -1)
				h[i].EndDate = h[i].StartDate.AddDate(0, 12, 0)
			}
			return h
		}},
		{"Volume", 8, func(step int) []domain.LoanHistoryRecord {
			amount := decimal.NewFromInt(int64(step) * 400000)
			return []domain.LoanHistoryRecord{paidLoan("l1", amount.Add(d("1")).String(), 12, 12, longAgo)}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			prev := decimal.NewFromInt(-1)
			for step := 0; step <= tc.steps; step++ {
				got := defaultEngine.Score(profile, tc.history(step))
				if got.LessThan(prev) {
					t.Errorf("step %d: score %s dropped below %s", step, got, prev)
				}
				prev = got
			}
		})
	}
}

func TestDecide(t *testing.T) {
	t.Run("PrimeKeepsRequestedRate", func(t *testing.T) {
		res, err := Decide(newProfile(), strongHistory(), request("200000", "15", 12))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !res.Approved {
			t.Fatalf("expected approval, got reason %q", res.Reason)
		}
		if !res.CorrectedRate.Equal(d("15")) {
			t.Errorf("expected corrected rate 15, got %s", res.CorrectedRate)
		}
		if res.MonthlyInstallment.StringFixed(2) != "18051.66" {
			t.Errorf("expected installment 18051.66, got %s", res.MonthlyInstallment.StringFixed(2))
		}
		if res.Reason != "" {
			t.Errorf("expected empty reason, got %q", res.Reason)
		}
	})

	t.Run("PrimeKeepsLowRate", func(t *testing.T) {
		res, err := Decide(newProfile(), strongHistory(), request("100000", "8", 12))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !res.Approved || !res.CorrectedRate.Equal(d("8")) {
			t.Errorf("expected approval at 8%%, got approved=%v rate=%s", res.Approved, res.CorrectedRate)
		}
	})

	t.Run("StandardTierRaisesRate", func(t *testing.T) {
		res, err := Decide(newProfile(), fairHistory(), request("100000", "10", 12))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !res.Approved {
			t.Fatalf("expected approval, got reason %q", res.Reason)
		}
		if !res.CorrectedRate.Equal(d("12")) {
			t.Errorf("expected corrected rate 12, got %s", res.CorrectedRate)
		}
		if !res.RequestedRate.Equal(d("10")) {
			t.Errorf("expected requested rate 10, got %s", res.RequestedRate)
		}
		if res.MonthlyInstallment.StringFixed(2) != "8884.88" {
			t.Errorf("expected installment at 12%%, got %s", res.MonthlyInstallment.StringFixed(2))
		}
	})

	t.Run("StandardTierKeepsHigherRate", func(t *testing.T) {
		res, err := Decide(newProfile(), fairHistory(), request("100000", "14", 12))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !res.Approved || !res.CorrectedRate.Equal(d("14")) {
			t.Errorf("expected approval at 14%%, got approved=%v rate=%s", res.Approved, res.CorrectedRate)
		}
		if res.MonthlyInstallment.StringFixed(2) != "8978.71" {
			t.Errorf("expected installment 8978.71, got %s", res.MonthlyInstallment.StringFixed(2))
		}
	})

	t.Run("SubprimeTierRaisesRate", func(t *testing.T) {
		res, err := Decide(newProfile(), weakHistory(), request("100000", "10", 12))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !res.Approved || !res.CorrectedRate.Equal(d("16")) {
			t.Errorf("expected approval at 16%%, got approved=%v rate=%s", res.Approved, res.CorrectedRate)
		}
		if res.MonthlyInstallment.StringFixed(2) != "9073.09" {
			t.Errorf("expected installment 9073.09, got %s", res.MonthlyInstallment.StringFixed(2))
		}
	})

	t.Run("SubprimeTierKeepsHigherRate", func(t *testing.T) {
		res, err := Decide(newProfile(), weakHistory(), request("100000", "18", 12))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !res.Approved || !res.CorrectedRate.Equal(d("18")) {
			t.Errorf("expected approval at 18%%, got approved=%v rate=%s", res.Approved, res.CorrectedRate)
		}
	})

	t.Run("LowScoreRejected", func(t *testing.T) {
		res, err := Decide(newProfile(), nil, request("100000", "10", 12))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Approved {
			t.Fatal("expected rejection")
		}
		if res.Reason != domain.ReasonLowScore {
			t.Errorf("expected %q, got %q", domain.ReasonLowScore, res.Reason)
		}
		if !res.MonthlyInstallment.IsZero() {
			t.Errorf("expected zero installment, got %s", res.MonthlyInstallment)
		}
		if !res.CorrectedRate.Equal(d("10")) {
			t.Errorf("expected requested rate echoed, got %s", res.CorrectedRate)
		}
	})

	t.Run("LimitBreachHistoryRejected", func(t *testing.T) {
		h := append(strongHistory(), paidLoan("big", "4000000", 24, 24, longAgo))
		res, err := Decide(newProfile(), h, request("100000", "20", 12))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Approved || res.Reason != domain.ReasonLowScore {
			t.Errorf("expected low score rejection, got approved=%v reason=%q", res.Approved, res.Reason)
		}
		if !res.CreditScore.IsZero() {
			t.Errorf("expected score 0, got %s", res.CreditScore)
		}
	})

	t.Run("EMIBurdenRejectedRegardlessOfScore", func(t *testing.T) {
		p := newProfile()
		p.CurrentTotalEMI = d("50000.01")
		res, err := Decide(p, strongHistory(), request("100000", "15", 12))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Approved || res.Reason != domain.ReasonEMIBurden {
			t.Errorf("expected burden rejection, got approved=%v reason=%q", res.Approved, res.Reason)
		}
	})

	t.Run("EMIBurdenAtHalfAllowed", func(t *testing.T) {
		p := newProfile()
		p.CurrentTotalEMI = d("50000")
		res, err := Decide(p, strongHistory(), request("100000", "15", 12))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !res.Approved {
			t.Errorf("expected approval, got reason %q", res.Reason)
		}
	})

	t.Run("LimitExceededRejected", func(t *testing.T) {
		p := newProfile()
		p.CurrentTotalPrincipal = d("3500000")
		res, err := Decide(p, strongHistory(), request("200000", "15", 12))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Approved || res.Reason != domain.ReasonLimitExceeded {
			t.Errorf("expected limit rejection, got approved=%v reason=%q", res.Approved, res.Reason)
		}
	})

	t.Run("LimitReachedExactlyAllowed", func(t *testing.T) {
		p := newProfile()
		p.CurrentTotalPrincipal = d("3400000")
		res, err := Decide(p, strongHistory(), request("200000", "15", 12))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !res.Approved {
			t.Errorf("expected approval, got reason %q", res.Reason)
		}
	})

	t.Run("BurdenCheckedBeforeLimit", func(t *testing.T) {
		p := newProfile()
		p.CurrentTotalEMI = d("60000")
		p.CurrentTotalPrincipal = d("3500000")
		res, err := Decide(p, strongHistory(), request("200000", "15", 12))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Reason != domain.ReasonEMIBurden {
			t.Errorf("expected burden reason first, got %q", res.Reason)
		}
	})
}

func TestDecideTierBoundaries(t *testing.T) {
	// With all weight on repayment the score is the on-time percentage.
	engine, err := NewEngine(Weights{
		OnTime:      d("100"),
		LoanCount:   decimal.Zero,
		CurrentYear: decimal.Zero,
		Volume:      decimal.Zero,
	})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	cases := []struct {
		name     string
		paid     int
		approved bool
		rate     string
	}{
		{"Score50IsStandard", 5, true, "12"},
		{"Score30IsStandard", 3, true, "12"},
		{"Score20IsSubprime", 2, true, "16"},
		{"Score10IsSubprime", 1, true, "16"},
		{"Score0Rejected", 0, false, "10"},
		{"Score60IsPrime", 6, true, "10"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := []domain.LoanHistoryRecord{paidLoan("l1", "100000", 10, tc.paid, longAgo)}
			res, err := engine.Decide(newProfile(), h, request("100000", "10", 12))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Approved != tc.approved {
				t.Fatalf("approved = %v, want %v (score %s)", res.Approved, tc.approved, res.CreditScore)
			}
			if !res.CorrectedRate.Equal(d(tc.rate)) {
				t.Errorf("corrected rate = %s, want %s", res.CorrectedRate, tc.rate)
			}
		})
	}
}

func TestDecideInvalidInput(t *testing.T) {
	cases := []struct {
		name    string
		profile func(p *domain.CustomerProfile)
		req     domain.LoanRequest
	}{
		{"ZeroPrincipal", nil, request("0", "10", 12)},
		{"NegativePrincipal", nil, request("-100", "10", 12)},
		{"ZeroTenure", nil, request("1000", "10", 0)},
		{"TenureOverCap", nil, request("1000", "10", 601)},
		{"HugeTenure", nil, request("1000", "10", 2_000_000_000)},
		{"NegativeRate", nil, request("1000", "-2", 12)},
		{"ZeroIncome", func(p *domain.CustomerProfile) { p.MonthlyIncome = decimal.Zero }, request("1000", "10", 12)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newProfile()
			if tc.profile != nil {
				tc.profile(&p)
			}
			_, err := Decide(p, strongHistory(), tc.req)
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestNewEngineValidatesWeights(t *testing.T) {
	t.Run("SumMustBe100", func(t *testing.T) {
		w := DefaultWeights()
		w.Volume = d("10")
		if _, err := NewEngine(w); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("NoNegativeWeights", func(t *testing.T) {
		w := Weights{OnTime: d("120"), LoanCount: d("-20"), CurrentYear: decimal.Zero, Volume: decimal.Zero}
		if _, err := NewEngine(w); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("FromConfig", func(t *testing.T) {
		w := WeightsFromConfig(domain.DefaultConfig().Policy)
		if _, err := NewEngine(w); err != nil {
			t.Errorf("default policy weights rejected: %v", err)
		}
	})
}

func TestDecideConcurrent(t *testing.T) {
	want, err := Decide(newProfile(), fairHistory(), request("100000", "10", 12))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan string, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := Decide(newProfile(), fairHistory(), request("100000", "10", 12))
			if err != nil {
				errs <- err.Error()
				return
			}
			if got.Approved != want.Approved || !got.MonthlyInstallment.Equal(want.MonthlyInstallment) ||
				!got.CreditScore.Equal(want.CreditScore) {
				errs <- "result differs between calls"
			}
		}()
	}
	wg.Wait()
	close(errs)

	for e := range errs {
		t.Error(e)
	}
}
