package emi

import (
	"github.com/shopspring/decimal"
)

// Installment is one month of an amortization schedule.
type Installment struct {
	Month     int             `json:"month"`
	Opening   decimal.Decimal `json:"opening"`
	Payment   decimal.Decimal `json:"payment"`
	Interest  decimal.Decimal `json:"interest"`
	Principal decimal.Decimal `json:"principal"`
	Closing   decimal.Decimal `json:"closing"`
}

// Schedule returns the month-by-month amortization of a loan repaid with the
// installment from Compute. Interest is rounded to cents each month and the
// final row absorbs the rounding so the balance closes at exactly zero.
func Schedule(principal, annualRatePercent decimal.Decimal, tenureMonths int) ([]Installment, error) {
	payment, err := Compute(principal, annualRatePercent, tenureMonths)
	if err != nil {
		return nil, err
	}

	r := monthlyRate(annualRatePercent)
	balance := principal
	rows := make([]Installment, 0, tenureMonths)

	for month := 1; month <= tenureMonths; month++ {
		interest := balance.Mul(r).Round(2)
		row := Installment{
			Month:    month,
			Opening:  balance,
			Payment:  payment,
			Interest: interest,
		}

		if month == tenureMonths || payment.Sub(interest).GreaterThanOrEqual(balance) {
			row.Principal = balance
			row.Payment = balance.Add(interest)
			row.Closing = decimal.Zero
			rows = append(rows, row)
			break
		}

		row.Principal = payment.Sub(interest)
		row.Closing = balance.Sub(row.Principal)
		balance = row.Closing
		rows = append(rows, row)
	}

	return rows, nil
}

// TotalInterest sums the interest column of a schedule.
func TotalInterest(rows []Installment) decimal.Decimal {
	total := decimal.Zero
	for _, row := range rows {
		total = total.Add(row.Interest)
	}
	return total
}
