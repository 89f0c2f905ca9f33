package colorprice

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/skewerpos-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/skewerpos-backend/pkg/errors"
)

// thaiColorPrefix is the word for "color" staff often type before the name.
const thaiColorPrefix = "สี"

var aliases = map[string]string{
	"แดง":     "red",
	"red":     "red",
	"เขียว":   "green",
	"green":   "green",
	"น้ำเงิน": "blue",
	"ฟ้า":     "blue",
	"blue":    "blue",
	"เหลือง":  "yellow",
	"yellow":  "yellow",
	"ดำ":      "black",
	"black":   "black",
	"ขาว":     "white",
	"white":   "white",
	"ชมพู":    "pink",
	"pink":    "pink",
	"ส้ม":     "orange",
	"orange":  "orange",
	"ม่วง":    "purple",
	"purple":  "purple",
	"violet":  "purple",
	"น้ำตาล":  "brown",
	"brown":   "brown",
}

// Normalize lower-cases and trims a free-form color label and resolves
// localized aliases to the canonical key. Labels without an alias are returned
// in their normalized form so catalog-only colors still resolve.
func Normalize(label string) string {
	key := strings.ToLower(strings.TrimSpace(label))
	key = strings.Join(strings.Fields(key), " ")
	if key == "" {
		return ""
	}
	if canonical, ok := aliases[key]; ok {
		return canonical
	}
	if trimmed := strings.TrimSpace(strings.TrimPrefix(key, thaiColorPrefix)); trimmed != key && trimmed != "" {
		if canonical, ok := aliases[trimmed]; ok {
			return canonical
		}
	}
	if trimmed := strings.TrimSpace(strings.TrimSuffix(key, " color")); trimmed != key && trimmed != "" {
		if canonical, ok := aliases[trimmed]; ok {
			return canonical
		}
	}
	return key
}

// LineID returns the synthetic cart line id used for color-only items.
func LineID(key string) string {
	return "color-" + key
}

// Entry is the resolved price and stock for one canonical color.
type Entry struct {
	Key     string
	Price   decimal.Decimal
	Stock   int
	Version int
}

type priceLoader interface {
	ColorPrices(ctx context.Context) (map[string]models.ColorPrice, error)
}

// Resolver maps color labels to their catalog entry.
type Resolver struct {
	loader priceLoader
}

// NewResolver builds a resolver reading from the catalog color price table.
func NewResolver(loader priceLoader) (*Resolver, error) {
	if loader == nil {
		return nil, fmt.Errorf("color price loader required")
	}
	return &Resolver{loader: loader}, nil
}

// Resolve normalizes label and returns its price entry.
func (r *Resolver) Resolve(ctx context.Context, label string) (Entry, error) {
	entries, err := r.ResolveAll(ctx, []string{label})
	if err != nil {
		return Entry{}, err
	}
	return entries[Normalize(label)], nil
}

// ResolveAll resolves every label against a single catalog read. The result is
// keyed by canonical color key; an unknown color fails the whole call.
func (r *Resolver) ResolveAll(ctx context.Context, labels []string) (map[string]Entry, error) {
	prices, err := r.loader.ColorPrices(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load color prices")
	}

	out := make(map[string]Entry, len(labels))
	for _, label := range labels {
		key := Normalize(label)
		if key == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "color label is required")
		}
		row, ok := prices[key]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown color %q", label)).
				WithDetails(map[string]any{"color": label, "color_key": key})
		}
		out[key] = Entry{
			Key:     key,
			Price:   row.Price.Round(2),
			Stock:   row.Stock,
			Version: row.Version,
		}
	}
	return out, nil
}
