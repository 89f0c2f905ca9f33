package cart

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/skewerpos-backend/internal/colorprice"
	"github.com/angelmondragon/skewerpos-backend/pkg/db/models"
	"github.com/angelmondragon/skewerpos-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/skewerpos-backend/pkg/errors"
)

type productLoader interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Product, error)
}

type colorResolver interface {
	ResolveAll(ctx context.Context, labels []string) (map[string]colorprice.Entry, error)
}

// Service applies cart mutations against live stock. A rejected mutation
// leaves the State untouched.
type Service interface {
	AddProduct(ctx context.Context, state *State, productID uuid.UUID, qty int) error
	AddColor(ctx context.Context, state *State, label string, qty int) error
	SetQuantity(ctx context.Context, state *State, itemID string, qty int) error
	Remove(state *State, itemID string) error
	MergeDetection(ctx context.Context, state *State, counts map[string]int) error
}

type service struct {
	products productLoader
	colors   colorResolver
}

// NewService builds a cart service backed by the catalog.
func NewService(products productLoader, colors colorResolver) (Service, error) {
	if products == nil {
		return nil, fmt.Errorf("product loader required")
	}
	if colors == nil {
		return nil, fmt.Errorf("color resolver required")
	}
	return &service{products: products, colors: colors}, nil
}

func (s *service) AddProduct(ctx context.Context, state *State, productID uuid.UUID, qty int) error {
	if qty < 1 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}
	if productID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}

	product, err := s.products.Get(ctx, productID)
	if err != nil {
		return err
	}
	if !product.IsActive {
		return pkgerrors.New(pkgerrors.CodeValidation, "product is not available")
	}

	id := productID.String()
	existing, _ := state.Find(id)
	next := existing.Quantity + qty
	if err := checkCeiling(id, next, product.Stock); err != nil {
		return err
	}

	pid := product.ID
	state.replace(upsert(state.Items(), LineItem{
		ID:            id,
		Kind:          enums.LineItemKindProduct,
		ProductID:     &pid,
		Name:          product.Name,
		UnitPrice:     product.Price.Round(2),
		Quantity:      next,
		StockSnapshot: product.Stock,
	}))
	return nil
}

func (s *service) AddColor(ctx context.Context, state *State, label string, qty int) error {
	return s.MergeDetection(ctx, state, map[string]int{label: qty})
}

func (s *service) SetQuantity(ctx context.Context, state *State, itemID string, qty int) error {
	if qty < 1 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}
	item, ok := state.Find(itemID)
	if !ok {
		return pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
	}

	stock := item.StockSnapshot
	if qty > item.Quantity {
		current, err := s.currentStock(ctx, item)
		if err != nil {
			return err
		}
		if err := checkCeiling(itemID, qty, current); err != nil {
			return err
		}
		stock = current
	}

	item.Quantity = qty
	item.StockSnapshot = stock
	state.replace(upsert(state.Items(), item))
	return nil
}

func (s *service) Remove(state *State, itemID string) error {
	items := state.Items()
	out := make([]LineItem, 0, len(items))
	found := false
	for _, item := range items {
		if item.ID == itemID {
			found = true
			continue
		}
		out = append(out, item)
	}
	if !found {
		return pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
	}
	state.replace(out)
	return nil
}

// MergeDetection adds detected counts to color lines. Counts are keyed by free
// form labels; labels resolving to the same color are summed. Zero counts are
// ignored. Any unknown color or stock overflow rejects the whole merge.
func (s *service) MergeDetection(ctx context.Context, state *State, counts map[string]int) error {
	if len(counts) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "no detected items to add")
	}

	labels := make([]string, 0, len(counts))
	for label, n := range counts {
		if n < 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("count for %q must be non-negative", label))
		}
		if n == 0 {
			continue
		}
		labels = append(labels, label)
	}
	if len(labels) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "no detected items to add")
	}
	sort.Strings(labels)

	entries, err := s.colors.ResolveAll(ctx, labels)
	if err != nil {
		return err
	}

	added := map[string]int{}
	for _, label := range labels {
		added[colorprice.Normalize(label)] += counts[label]
	}

	keys := make([]string, 0, len(added))
	for key := range added {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	items := state.Items()
	var overflow []string
	for _, key := range keys {
		entry := entries[key]
		id := colorprice.LineID(key)
		existing, _ := state.Find(id)
		next := existing.Quantity + added[key]
		if next > entry.Stock {
			overflow = append(overflow, fmt.Sprintf("%s (%d > %d)", key, next, entry.Stock))
			continue
		}
		items = upsert(items, LineItem{
			ID:            id,
			Kind:          enums.LineItemKindColor,
			ColorKey:      key,
			Name:          key,
			UnitPrice:     entry.Price,
			Quantity:      next,
			StockSnapshot: entry.Stock,
		})
	}
	if len(overflow) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity exceeds available stock").
			WithDetails(map[string]any{"items": overflow})
	}

	state.replace(items)
	return nil
}

func (s *service) currentStock(ctx context.Context, item LineItem) (int, error) {
	switch item.Kind {
	case enums.LineItemKindProduct:
		if item.ProductID == nil {
			return 0, pkgerrors.New(pkgerrors.CodeInternal, "product line without product id")
		}
		product, err := s.products.Get(ctx, *item.ProductID)
		if err != nil {
			return 0, err
		}
		return product.Stock, nil
	case enums.LineItemKindColor:
		entries, err := s.colors.ResolveAll(ctx, []string{item.ColorKey})
		if err != nil {
			return 0, err
		}
		return entries[item.ColorKey].Stock, nil
	default:
		return 0, pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("unknown line kind %q", item.Kind))
	}
}

func checkCeiling(id string, qty, stock int) error {
	if qty <= stock {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "quantity exceeds available stock").
		WithDetails(map[string]any{
			"item_id":   id,
			"requested": qty,
			"available": stock,
		})
}

// upsert replaces the line with the same id or appends it, preserving order.
func upsert(items []LineItem, line LineItem) []LineItem {
	for i := range items {
		if strings.EqualFold(items[i].ID, line.ID) {
			items[i] = line
			return items
		}
	}
	return append(items, line)
}
