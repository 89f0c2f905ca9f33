package billing

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Round2 rounds an amount to cents. Every boundary crossing goes through it.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Sum adds amounts and rounds the result to cents.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return Round2(total)
}

// toCents converts a cent-rounded amount to an integer count of cents.
func toCents(d decimal.Decimal) int64 {
	return Round2(d).Mul(hundred).IntPart()
}

func fromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}
