package colorprice

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/skewerpos-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/skewerpos-backend/pkg/errors"
)

type stubLoader struct {
	prices map[string]models.ColorPrice
	err    error
	calls  int
}

func (s *stubLoader) ColorPrices(context.Context) (map[string]models.ColorPrice, error) {
	s.calls++
	return s.prices, s.err
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"แดง":          "red",
		"  Red ":       "red",
		"สีแดง":        "red",
		"สี เขียว":     "green",
		"BLUE":         "blue",
		"ฟ้า":          "blue",
		"light  green": "light green",
		"Pink color":   "pink",
		"น้ำตาล":       "brown",
		"   ":          "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), in)
	}
}

func TestLineID(t *testing.T) {
	assert.Equal(t, "color-red", LineID("red"))
}

func TestResolve(t *testing.T) {
	loader := &stubLoader{prices: map[string]models.ColorPrice{
		"red": {ColorKey: "red", Price: decimal.RequireFromString("5.005"), Stock: 40, Version: 3},
	}}
	resolver, err := NewResolver(loader)
	require.NoError(t, err)

	entry, err := resolver.Resolve(context.Background(), "แดง")
	require.NoError(t, err)
	assert.Equal(t, "red", entry.Key)
	assert.Equal(t, "5.01", entry.Price.StringFixed(2))
	assert.Equal(t, 40, entry.Stock)
	assert.Equal(t, 3, entry.Version)
}

func TestResolveAllUsesOneRead(t *testing.T) {
	loader := &stubLoader{prices: map[string]models.ColorPrice{
		"red":   {ColorKey: "red", Price: decimal.NewFromInt(5), Stock: 10},
		"green": {ColorKey: "green", Price: decimal.NewFromInt(8), Stock: 4},
	}}
	resolver, err := NewResolver(loader)
	require.NoError(t, err)

	entries, err := resolver.ResolveAll(context.Background(), []string{"แดง", "green", "Red"})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, 1, loader.calls)
}

func TestResolveErrors(t *testing.T) {
	resolver, err := NewResolver(&stubLoader{prices: map[string]models.ColorPrice{}})
	require.NoError(t, err)

	_, err = resolver.Resolve(context.Background(), "gold")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	_, err = resolver.Resolve(context.Background(), " ")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	failing, err := NewResolver(&stubLoader{err: errors.New("db down")})
	require.NoError(t, err)
	_, err = failing.Resolve(context.Background(), "red")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDependency))

	_, err = NewResolver(nil)
	assert.Error(t, err)
}
