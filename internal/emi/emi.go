// Package emi computes equated monthly installments for fixed-rate loans.
package emi

import (
	"github.com/opensource-finance/creditline/internal/domain"
	"github.com/shopspring/decimal"
)

// MaxTenureMonths is the longest tenure Compute accepts (50 years).
const MaxTenureMonths = 600

// powPrecision is the number of decimal places kept between squarings.
const powPrecision = 40

var (
	monthsPerYearPercent = decimal.NewFromInt(1200)
	one                  = decimal.NewFromInt(1)
)

// Compute returns the monthly installment for principal borrowed at
// annualRatePercent over tenureMonths, rounded half away from zero to 2 places.
// A zero rate yields straight-line division.
func Compute(principal, annualRatePercent decimal.Decimal, tenureMonths int) (decimal.Decimal, error) {
	if err := validate(principal, annualRatePercent, tenureMonths); err != nil {
		return decimal.Zero, err
	}
	return installment(principal, monthlyRate(annualRatePercent), tenureMonths).Round(2), nil
}

func validate(principal, rate decimal.Decimal, tenure int) error {
	if !principal.IsPositive() {
		return domain.InvalidInput("principal", "must be greater than 0")
	}
	if tenure <= 0 {
		return domain.InvalidInput("tenure", "must be at least 1 month")
	}
	if tenure > MaxTenureMonths {
		return domain.InvalidInput("tenure", "must be at most 600 months")
	}
	if rate.IsNegative() {
		return domain.InvalidInput("interest_rate", "must not be negative")
	}
	return nil
}

func monthlyRate(annualRatePercent decimal.Decimal) decimal.Decimal {
	return annualRatePercent.Div(monthsPerYearPercent)
}

// installment is the unrounded annuity payment P·r·(1+r)^n / ((1+r)^n − 1).
func installment(principal, r decimal.Decimal, n int) decimal.Decimal {
	if r.IsZero() {
		return principal.Div(decimal.NewFromInt(int64(n)))
	}
	factor := pow(one.Add(r), n)
	return principal.Mul(r).Mul(factor).Div(factor.Sub(one))
}

// pow raises base to n by squaring, rounding every product to powPrecision
// places so the operands stay bounded in size.
func pow(base decimal.Decimal, n int) decimal.Decimal {
	result := one
	for n > 0 {
		if n&1 == 1 {
			result = result.Mul(base).Round(powPrecision)
		}
		n >>= 1
		if n > 0 {
			base = base.Mul(base).Round(powPrecision)
		}
	}
	return result
}
