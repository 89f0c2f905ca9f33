package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/skewerpos-backend/internal/catalog"
	"github.com/angelmondragon/skewerpos-backend/pkg/db/models"
	"github.com/angelmondragon/skewerpos-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/skewerpos-backend/pkg/errors"
	"github.com/angelmondragon/skewerpos-backend/pkg/logger"
)

type orderStore interface {
	Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	MarkItemsReconciled(ctx context.Context, orderID uuid.UUID, itemIDs []uuid.UUID) error
}

type catalogStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Product, error)
	Update(ctx context.Context, id uuid.UUID, patch catalog.ProductPatch) (*models.Product, error)
	ColorPrices(ctx context.Context) (map[string]models.ColorPrice, error)
	SetColorPrices(ctx context.Context, entries map[string]models.ColorPrice) error
}

type recorder interface {
	IncReconcileFailure(kind string)
	ObserveReconcileDuration(d time.Duration)
}

// Report summarizes one reconciliation pass.
type Report struct {
	OrderID    uuid.UUID     `json:"order_id"`
	Reconciled []string      `json:"reconciled"`
	Skipped    []string      `json:"skipped"`
	Failed     []ItemFailure `json:"failed"`
}

// Complete reports whether every item of the order is now reconciled.
func (r *Report) Complete() bool {
	return r != nil && len(r.Failed) == 0
}

// Reconciler decrements catalog stock for the items of a paid order. Items
// already flagged as reconciled are skipped, so repeated passes never
// decrement twice.
type Reconciler struct {
	orders  orderStore
	catalog catalogStore
	logg    *logger.Logger
	metrics recorder
}

// NewReconciler wires the reconciler. metrics may be nil.
func NewReconciler(orders orderStore, catalog catalogStore, logg *logger.Logger, metrics recorder) (*Reconciler, error) {
	if orders == nil {
		return nil, fmt.Errorf("order store required")
	}
	if catalog == nil {
		return nil, fmt.Errorf("catalog store required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Reconciler{orders: orders, catalog: catalog, logg: logg, metrics: metrics}, nil
}

// Reconcile runs one pass for orderID. A non-nil *PartialError accompanies a
// report with failures; any other error means nothing was attempted.
func (r *Reconciler) Reconcile(ctx context.Context, orderID uuid.UUID) (*Report, error) {
	started := time.Now()
	ctx = r.logg.WithOrderID(ctx, orderID.String())

	order, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Paid {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not paid; stock is only reconciled after settlement")
	}

	report := &Report{OrderID: orderID}
	var pendingProducts, pendingColors []models.OrderItem
	for _, item := range order.Items {
		switch {
		case item.StockReconciled:
			report.Skipped = append(report.Skipped, item.LineID)
		case item.Kind == enums.LineItemKindColor:
			pendingColors = append(pendingColors, item)
		default:
			pendingProducts = append(pendingProducts, item)
		}
	}

	var done []uuid.UUID
	for _, item := range pendingProducts {
		if err := r.decrementProduct(ctx, item); err != nil {
			report.Failed = append(report.Failed, failure(item, err))
			continue
		}
		done = append(done, item.ID)
		report.Reconciled = append(report.Reconciled, item.LineID)
	}

	if len(pendingColors) > 0 {
		if err := r.decrementColors(ctx, pendingColors); err != nil {
			for _, item := range pendingColors {
				report.Failed = append(report.Failed, failure(item, err))
			}
		} else {
			for _, item := range pendingColors {
				done = append(done, item.ID)
				report.Reconciled = append(report.Reconciled, item.LineID)
			}
		}
	}

	if len(done) > 0 {
		if err := r.orders.MarkItemsReconciled(ctx, orderID, done); err != nil {
			// Stock already moved; the flags must be fixed by hand before a retry.
			r.logg.Error(ctx, "reconcile.mark_items_failed", err)
		}
	}

	if r.metrics != nil {
		r.metrics.ObserveReconcileDuration(time.Since(started))
		for _, f := range report.Failed {
			r.metrics.IncReconcileFailure(f.Kind.String())
		}
	}

	if len(report.Failed) > 0 {
		partial := newPartialError(orderID, report.Failed)
		r.logg.Error(r.logg.WithFields(ctx, map[string]any{
			"failed_items":     len(report.Failed),
			"reconciled_items": len(report.Reconciled),
		}), "reconcile.partial_failure", partial)
		return report, partial
	}

	r.logg.Info(r.logg.WithField(ctx, "reconciled_items", len(report.Reconciled)), "reconcile.completed")
	return report, nil
}

func (r *Reconciler) decrementProduct(ctx context.Context, item models.OrderItem) error {
	if item.ProductID == nil {
		return errors.New("product item without product id")
	}
	product, err := r.catalog.Get(ctx, *item.ProductID)
	if err != nil {
		return err
	}
	stock := max(0, product.Stock-item.Quantity)
	version := product.Version
	_, err = r.catalog.Update(ctx, product.ID, catalog.ProductPatch{
		Stock:           &stock,
		ExpectedVersion: &version,
	})
	return err
}

// decrementColors applies every color decrement in a single versioned write.
func (r *Reconciler) decrementColors(ctx context.Context, items []models.OrderItem) error {
	sold := map[string]int{}
	for _, item := range items {
		if item.ColorKey == nil || *item.ColorKey == "" {
			return errors.New("color item without color key")
		}
		sold[*item.ColorKey] += item.Quantity
	}

	prices, err := r.catalog.ColorPrices(ctx)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(sold))
	for key := range sold {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	patch := make(map[string]models.ColorPrice, len(sold))
	for _, key := range keys {
		entry, ok := prices[key]
		if !ok {
			return fmt.Errorf("color %q no longer in catalog", key)
		}
		entry.Stock = max(0, entry.Stock-sold[key])
		patch[key] = entry
	}
	return r.catalog.SetColorPrices(ctx, patch)
}

func failure(item models.OrderItem, err error) ItemFailure {
	return ItemFailure{
		ItemID: item.ID,
		LineID: item.LineID,
		Kind:   item.Kind,
		Reason: err.Error(),
		err:    err,
	}
}
