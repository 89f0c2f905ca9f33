package cart

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/skewerpos-backend/internal/billing"
	"github.com/angelmondragon/skewerpos-backend/pkg/enums"
)

// LineItem is one cart line. ID is the product id, or color-<key> for
// color-only skewers.
type LineItem struct {
	ID            string             `json:"id"`
	Kind          enums.LineItemKind `json:"kind"`
	ProductID     *uuid.UUID         `json:"product_id,omitempty"`
	ColorKey      string             `json:"color_key,omitempty"`
	Name          string             `json:"name"`
	UnitPrice     decimal.Decimal    `json:"unit_price"`
	Quantity      int                `json:"quantity"`
	StockSnapshot int                `json:"stock_snapshot"`
}

// LineTotal returns unit price times quantity rounded to cents.
func (l LineItem) LineTotal() decimal.Decimal {
	return billing.Round2(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
}

// State is the cart owned by one workflow session. Every mutation replaces the
// items slice as a whole; slices handed out are never written again.
type State struct {
	items []LineItem
}

// NewState returns an empty cart.
func NewState() *State {
	return &State{}
}

// Items returns a copy of the current lines.
func (s *State) Items() []LineItem {
	out := make([]LineItem, len(s.items))
	copy(out, s.items)
	return out
}

// Len returns the number of lines.
func (s *State) Len() int {
	return len(s.items)
}

// IsEmpty reports whether the cart has no lines.
func (s *State) IsEmpty() bool {
	return len(s.items) == 0
}

// Subtotal sums all line totals.
func (s *State) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range s.items {
		total = total.Add(item.LineTotal())
	}
	return billing.Round2(total)
}

// Find returns the line with id.
func (s *State) Find(id string) (LineItem, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return LineItem{}, false
}

func (s *State) replace(items []LineItem) {
	s.items = items
}

// Clear drops every line.
func (s *State) Clear() {
	s.items = nil
}
