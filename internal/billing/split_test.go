package billing

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/skewerpos-backend/pkg/errors"
)

func fixed(shares []decimal.Decimal) []string {
	out := make([]string, len(shares))
	for i, s := range shares {
		out[i] = s.StringFixed(2)
	}
	return out
}

func TestSplitEqualExamples(t *testing.T) {
	cases := []struct {
		total   string
		persons int
		want    []string
	}{
		{"100.00", 3, []string{"33.34", "33.33", "33.33"}},
		{"250.00", 1, []string{"250.00"}},
		{"0", 4, []string{"0.00", "0.00", "0.00", "0.00"}},
		{"10.00", 4, []string{"2.50", "2.50", "2.50", "2.50"}},
		{"0.05", 3, []string{"0.02", "0.02", "0.01"}},
		{"0.01", 2, []string{"0.01", "0.00"}},
	}

	for _, tc := range cases {
		shares, err := SplitEqual(decimal.RequireFromString(tc.total), tc.persons)
		require.NoError(t, err)
		assert.Equal(t, tc.want, fixed(shares), "%s/%d", tc.total, tc.persons)
	}
}

func TestSplitEqualSumsToTotal(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		total := decimal.New(rng.Int63n(10_000_000), -2)
		persons := rng.Intn(25) + 1

		shares, err := SplitEqual(total, persons)
		require.NoError(t, err)
		require.Len(t, shares, persons)

		sum := Sum(shares...)
		require.True(t, sum.Equal(total), "sum %s != total %s", sum, total)

		lo, hi := shares[0], shares[0]
		for _, s := range shares {
			if s.LessThan(lo) {
				lo = s
			}
			if s.GreaterThan(hi) {
				hi = s
			}
		}
		require.True(t, hi.Sub(lo).LessThanOrEqual(decimal.New(1, -2)), "spread too wide for %s/%d", total, persons)
	}
}

func TestSplitEqualRejectsInvalidInput(t *testing.T) {
	_, err := SplitEqual(decimal.NewFromInt(100), 0)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	_, err = SplitEqual(decimal.NewFromInt(-1), 2)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestApplyDiscount(t *testing.T) {
	total, err := ApplyDiscount(decimal.RequireFromString("250.00"), decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.Equal(t, "225.00", total.StringFixed(2))

	total, err = ApplyDiscount(decimal.RequireFromString("99.99"), decimal.RequireFromString("33.3"))
	require.NoError(t, err)
	assert.Equal(t, "66.69", total.StringFixed(2))

	total, err = ApplyDiscount(decimal.RequireFromString("80"), decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.True(t, total.IsZero())

	_, err = ApplyDiscount(decimal.NewFromInt(10), decimal.NewFromInt(101))
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	_, err = ApplyDiscount(decimal.NewFromInt(10), decimal.NewFromInt(-5))
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}
