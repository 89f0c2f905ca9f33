package reconcile

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/skewerpos-backend/internal/catalog"
	"github.com/angelmondragon/skewerpos-backend/pkg/db/models"
	"github.com/angelmondragon/skewerpos-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/skewerpos-backend/pkg/errors"
	"github.com/angelmondragon/skewerpos-backend/pkg/logger"
)

type stubOrders struct {
	order  *models.Order
	marked [][]uuid.UUID
}

func (s *stubOrders) Get(_ context.Context, _ uuid.UUID) (*models.Order, error) {
	clone := *s.order
	clone.Items = append([]models.OrderItem(nil), s.order.Items...)
	return &clone, nil
}

func (s *stubOrders) MarkItemsReconciled(_ context.Context, _ uuid.UUID, ids []uuid.UUID) error {
	s.marked = append(s.marked, ids)
	set := map[uuid.UUID]bool{}
	for _, id := range ids {
		set[id] = true
	}
	for i := range s.order.Items {
		if set[s.order.Items[i].ID] {
			s.order.Items[i].StockReconciled = true
		}
	}
	return nil
}

type stubCatalog struct {
	products    map[uuid.UUID]*models.Product
	colors      map[string]models.ColorPrice
	failProduct map[uuid.UUID]error
	colorErr    error
	colorWrites int
}

func (s *stubCatalog) Get(_ context.Context, id uuid.UUID) (*models.Product, error) {
	p, ok := s.products[id]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	clone := *p
	return &clone, nil
}

func (s *stubCatalog) Update(_ context.Context, id uuid.UUID, patch catalog.ProductPatch) (*models.Product, error) {
	if err := s.failProduct[id]; err != nil {
		return nil, err
	}
	p := s.products[id]
	if patch.ExpectedVersion != nil && *patch.ExpectedVersion != p.Version {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "version mismatch")
	}
	p.Stock = *patch.Stock
	p.Version++
	clone := *p
	return &clone, nil
}

func (s *stubCatalog) ColorPrices(context.Context) (map[string]models.ColorPrice, error) {
	out := make(map[string]models.ColorPrice, len(s.colors))
	for k, v := range s.colors {
		out[k] = v
	}
	return out, nil
}

func (s *stubCatalog) SetColorPrices(_ context.Context, entries map[string]models.ColorPrice) error {
	s.colorWrites++
	if s.colorErr != nil {
		return s.colorErr
	}
	for k, v := range entries {
		v.Version++
		s.colors[k] = v
	}
	return nil
}

type stubMetrics struct {
	failures  map[string]int
	durations int
}

func (m *stubMetrics) IncReconcileFailure(kind string) {
	if m.failures == nil {
		m.failures = map[string]int{}
	}
	m.failures[kind]++
}

func (m *stubMetrics) ObserveReconcileDuration(time.Duration) { m.durations++ }

func strPtr(s string) *string { return &s }

type fixture struct {
	orders  *stubOrders
	catalog *stubCatalog
	metrics *stubMetrics
	rec     *Reconciler
	skewer  uuid.UUID
	drink   uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	skewer, drink := uuid.New(), uuid.New()
	cat := &stubCatalog{
		products: map[uuid.UUID]*models.Product{
			skewer: {ID: skewer, Name: "Pork skewer", Price: decimal.NewFromInt(10), Stock: 5, Version: 1},
			drink:  {ID: drink, Name: "Iced tea", Price: decimal.NewFromInt(25), Stock: 1, Version: 4},
		},
		colors: map[string]models.ColorPrice{
			"red":  {ColorKey: "red", Price: decimal.NewFromInt(5), Stock: 10, Version: 1},
			"blue": {ColorKey: "blue", Price: decimal.NewFromInt(8), Stock: 2, Version: 1},
		},
		failProduct: map[uuid.UUID]error{},
	}
	order := &models.Order{
		ID:    uuid.New(),
		Paid:  true,
		Total: decimal.NewFromInt(100),
		Items: []models.OrderItem{
			{ID: uuid.New(), LineID: skewer.String(), Kind: enums.LineItemKindProduct, ProductID: &skewer, Quantity: 3},
			{ID: uuid.New(), LineID: drink.String(), Kind: enums.LineItemKindProduct, ProductID: &drink, Quantity: 4},
			{ID: uuid.New(), LineID: "color-red", Kind: enums.LineItemKindColor, ColorKey: strPtr("red"), Quantity: 4},
			{ID: uuid.New(), LineID: "color-blue", Kind: enums.LineItemKindColor, ColorKey: strPtr("blue"), Quantity: 3},
		},
	}
	orders := &stubOrders{order: order}
	metrics := &stubMetrics{}
	rec, err := NewReconciler(orders, cat, logger.New(logger.Options{ServiceName: "test", Output: io.Discard}), metrics)
	require.NoError(t, err)
	return &fixture{orders: orders, catalog: cat, metrics: metrics, rec: rec, skewer: skewer, drink: drink}
}

func TestReconcileDecrementsAndClampsAtZero(t *testing.T) {
	f := newFixture(t)

	report, err := f.rec.Reconcile(context.Background(), f.orders.order.ID)
	require.NoError(t, err)
	assert.True(t, report.Complete())
	assert.Len(t, report.Reconciled, 4)

	assert.Equal(t, 2, f.catalog.products[f.skewer].Stock)
	assert.Equal(t, 0, f.catalog.products[f.drink].Stock)
	assert.Equal(t, 6, f.catalog.colors["red"].Stock)
	assert.Equal(t, 0, f.catalog.colors["blue"].Stock)
	assert.Equal(t, 1, f.catalog.colorWrites)
	assert.Equal(t, 1, f.metrics.durations)
}

func TestReconcileIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.rec.Reconcile(ctx, f.orders.order.ID)
	require.NoError(t, err)

	report, err := f.rec.Reconcile(ctx, f.orders.order.ID)
	require.NoError(t, err)
	assert.Empty(t, report.Reconciled)
	assert.Len(t, report.Skipped, 4)
	assert.Equal(t, 2, f.catalog.products[f.skewer].Stock)
	assert.Equal(t, 6, f.catalog.colors["red"].Stock)
	assert.Equal(t, 1, f.catalog.colorWrites)
}

func TestReconcileReportsPartialFailure(t *testing.T) {
	f := newFixture(t)
	f.catalog.failProduct[f.drink] = errors.New("catalog timeout")
	ctx := context.Background()

	report, err := f.rec.Reconcile(ctx, f.orders.order.ID)
	require.Error(t, err)

	var partial *PartialError
	require.ErrorAs(t, err, &partial)
	require.Len(t, partial.Failures, 1)
	assert.Equal(t, f.drink.String(), partial.Failures[0].LineID)
	assert.Contains(t, err.Error(), "catalog timeout")
	assert.Len(t, report.Reconciled, 3)
	assert.Equal(t, 1, f.metrics.failures["product"])

	// independent items still moved
	assert.Equal(t, 2, f.catalog.products[f.skewer].Stock)
	assert.Equal(t, 6, f.catalog.colors["red"].Stock)

	// a retry only touches the failed item
	delete(f.catalog.failProduct, f.drink)
	report, err = f.rec.Reconcile(ctx, f.orders.order.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{f.drink.String()}, report.Reconciled)
	assert.Equal(t, 2, f.catalog.products[f.skewer].Stock)
	assert.Equal(t, 0, f.catalog.products[f.drink].Stock)
}

func TestReconcileColorWriteFailureFailsAllColors(t *testing.T) {
	f := newFixture(t)
	f.catalog.colorErr = pkgerrors.New(pkgerrors.CodeConflict, "color prices changed concurrently")

	report, err := f.rec.Reconcile(context.Background(), f.orders.order.ID)
	require.Error(t, err)
	assert.Len(t, report.Failed, 2)
	assert.Equal(t, 2, f.metrics.failures["color"])
	assert.Equal(t, 10, f.catalog.colors["red"].Stock)
}

func TestReconcileRequiresPaidOrder(t *testing.T) {
	f := newFixture(t)
	f.orders.order.Paid = false

	_, err := f.rec.Reconcile(context.Background(), f.orders.order.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))
	assert.Empty(t, f.orders.marked)
}

func TestNewReconcilerValidatesDependencies(t *testing.T) {
	logg := logger.New(logger.Options{Output: io.Discard})
	_, err := NewReconciler(nil, &stubCatalog{}, logg, nil)
	assert.Error(t, err)
	_, err = NewReconciler(&stubOrders{}, nil, logg, nil)
	assert.Error(t, err)
	_, err = NewReconciler(&stubOrders{}, &stubCatalog{}, nil, nil)
	assert.Error(t, err)
}
