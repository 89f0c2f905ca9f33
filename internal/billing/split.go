package billing

import (
	"fmt"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/skewerpos-backend/pkg/errors"
)

// SplitEqual divides total into persons shares that sum to total to the cent.
// Shares differ by at most one cent; leftover cents go to the first payers.
func SplitEqual(total decimal.Decimal, persons int) ([]decimal.Decimal, error) {
	if persons < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "persons must be at least 1").
			WithDetails(map[string]any{"persons": persons})
	}
	if total.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "total must be non-negative")
	}

	cents := toCents(total)
	base := cents / int64(persons)
	extra := cents % int64(persons)

	shares := make([]decimal.Decimal, persons)
	for i := range shares {
		c := base
		if int64(i) < extra {
			c++
		}
		shares[i] = fromCents(c)
	}
	return shares, nil
}

// ApplyDiscount returns subtotal reduced by percent, rounded to cents.
func ApplyDiscount(subtotal, percent decimal.Decimal) (decimal.Decimal, error) {
	if subtotal.IsNegative() {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "subtotal must be non-negative")
	}
	if percent.IsNegative() || percent.GreaterThan(hundred) {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("discount percent %s outside 0-100", percent.String()))
	}
	remaining := hundred.Sub(percent)
	return Round2(subtotal.Mul(remaining).Div(hundred)), nil
}
