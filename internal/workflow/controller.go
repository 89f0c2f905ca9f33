package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/skewerpos-backend/internal/cart"
	"github.com/angelmondragon/skewerpos-backend/internal/detection"
	"github.com/angelmondragon/skewerpos-backend/internal/events"
	"github.com/angelmondragon/skewerpos-backend/internal/imageprep"
	"github.com/angelmondragon/skewerpos-backend/internal/orders"
	"github.com/angelmondragon/skewerpos-backend/internal/settings"
	"github.com/angelmondragon/skewerpos-backend/internal/settlement"
	"github.com/angelmondragon/skewerpos-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/skewerpos-backend/pkg/errors"
)

// Settlement summarizes the last order a terminal closed.
type Settlement struct {
	OrderID       uuid.UUID       `json:"order_id"`
	Total         decimal.Decimal `json:"total"`
	Change        decimal.Decimal `json:"change"`
	StockComplete bool            `json:"stock_complete"`
	SettledAt     time.Time       `json:"settled_at"`
}

// Snapshot is the state a terminal renders.
type Snapshot struct {
	TerminalID     string             `json:"terminal_id"`
	Step           enums.WorkflowStep `json:"step"`
	Cart           []cart.LineItem    `json:"cart"`
	Subtotal       decimal.Decimal    `json:"subtotal"`
	Detection      *detection.Result  `json:"detection,omitempty"`
	Billing        *settlement.View   `json:"billing,omitempty"`
	QR             *settings.QRAssets `json:"qr,omitempty"`
	QRAvailable    bool               `json:"qr_available"`
	LastSettlement *Settlement        `json:"last_settlement,omitempty"`
}

// PaymentResult is returned for every accepted payment.
type PaymentResult struct {
	Payment  settlement.Outcome `json:"-"`
	Change   decimal.Decimal    `json:"change"`
	Settled  bool               `json:"settled"`
	Snapshot Snapshot           `json:"snapshot"`
}

// Controller drives one terminal through selection, detection and billing.
// All state changes go through the controller; the cart and the settlement
// engine are never shared between terminals.
type Controller struct {
	terminalID string
	deps       Deps

	mu   sync.Mutex
	step enums.WorkflowStep
	// epoch counts step changes so work finished outside the lock can tell
	// whether the terminal moved on meanwhile.
	epoch     uint64
	cart      *cart.State
	detection *detection.Result
	engine    *settlement.Engine
	qr        *settings.QRAssets
	last      *Settlement
}

// NewController returns a controller in SELECTION with an empty cart.
func NewController(terminalID string, deps Deps) (*Controller, error) {
	if terminalID == "" {
		return nil, fmt.Errorf("terminal id required")
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	return &Controller{
		terminalID: terminalID,
		deps:       deps,
		step:       enums.WorkflowStepSelection,
		cart:       cart.NewState(),
	}, nil
}

func (c *Controller) ctx(ctx context.Context) context.Context {
	return c.deps.Logger.WithTerminalID(ctx, c.terminalID)
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		TerminalID:     c.terminalID,
		Step:           c.step,
		Cart:           c.cart.Items(),
		Subtotal:       c.cart.Subtotal(),
		QR:             c.qr,
		QRAvailable:    c.qr != nil,
		LastSettlement: c.last,
	}
	if c.detection != nil {
		d := *c.detection
		d.Counts = copyCounts(c.detection.Counts)
		snap.Detection = &d
	}
	if c.engine != nil {
		view := c.engine.View()
		snap.Billing = &view
	}
	return snap
}

func (c *Controller) requireStep(step enums.WorkflowStep) error {
	if c.step != step {
		return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("action requires the %s step, terminal is in %s", step, c.step)).
			WithDetails(map[string]any{"required_step": step, "current_step": c.step})
	}
	return nil
}

func (c *Controller) setStepLocked(step enums.WorkflowStep) {
	c.step = step
	c.epoch++
}

func (c *Controller) requireCartEditable() error {
	if c.step == enums.WorkflowStepBilling {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "cart cannot change while billing; go back to selection first")
	}
	return nil
}

// AddProduct adds qty units of a catalog product.
func (c *Controller) AddProduct(ctx context.Context, productID uuid.UUID, qty int) (Snapshot, error) {
	return c.mutateCart(func(state *cart.State) error {
		return c.deps.Cart.AddProduct(c.ctx(ctx), state, productID, qty)
	})
}

// AddColor adds qty color-priced skewers.
func (c *Controller) AddColor(ctx context.Context, label string, qty int) (Snapshot, error) {
	return c.mutateCart(func(state *cart.State) error {
		return c.deps.Cart.AddColor(c.ctx(ctx), state, label, qty)
	})
}

// SetQuantity overwrites the quantity of a cart line.
func (c *Controller) SetQuantity(ctx context.Context, itemID string, qty int) (Snapshot, error) {
	return c.mutateCart(func(state *cart.State) error {
		return c.deps.Cart.SetQuantity(c.ctx(ctx), state, itemID, qty)
	})
}

// RemoveItem drops a cart line.
func (c *Controller) RemoveItem(itemID string) (Snapshot, error) {
	return c.mutateCart(func(state *cart.State) error {
		return c.deps.Cart.Remove(state, itemID)
	})
}

// ClearCart empties the cart.
func (c *Controller) ClearCart() (Snapshot, error) {
	return c.mutateCart(func(state *cart.State) error {
		state.Clear()
		return nil
	})
}

func (c *Controller) mutateCart(fn func(state *cart.State) error) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireCartEditable(); err != nil {
		return Snapshot{}, err
	}
	if err := fn(c.cart); err != nil {
		return Snapshot{}, err
	}
	return c.snapshotLocked(), nil
}

// Detect sends a photo to the detection service. A failure keeps the
// terminal in DETECTION with its previous result. The controller lock is not
// held during the call, so the terminal stays usable while it runs; a result
// arriving after the terminal left DETECTION is discarded.
func (c *Controller) Detect(ctx context.Context, photo imageprep.File) (Snapshot, error) {
	c.mu.Lock()
	if err := c.requireStep(enums.WorkflowStepDetection); err != nil {
		c.mu.Unlock()
		return Snapshot{}, err
	}
	epoch := c.epoch
	c.mu.Unlock()

	ctx = c.ctx(ctx)
	result, err := c.deps.Detector.Detect(ctx, photo)
	if err != nil {
		c.deps.Logger.Warn(c.deps.Logger.WithField(ctx, "error", err.Error()), "workflow.detection_failed")
		return Snapshot{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		c.deps.Logger.Info(ctx, "workflow.detection_discarded")
		return Snapshot{}, pkgerrors.New(pkgerrors.CodeStateConflict, "terminal left detection while the photo was being analysed")
	}
	c.detection = result
	return c.snapshotLocked(), nil
}

// SetDetectionCounts replaces the detected counts with staff corrections.
// A zero count removes the color.
func (c *Controller) SetDetectionCounts(counts map[string]int) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireStep(enums.WorkflowStepDetection); err != nil {
		return Snapshot{}, err
	}
	clean := make(map[string]int, len(counts))
	for label, n := range counts {
		if n < 0 {
			return Snapshot{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("count for %q must be non-negative", label))
		}
		if n > 0 {
			clean[label] = n
		}
	}
	if c.detection == nil {
		c.detection = &detection.Result{}
	}
	c.detection.Counts = clean
	return c.snapshotLocked(), nil
}

// ApplyDetection merges the detected counts into the cart and clears them.
func (c *Controller) ApplyDetection(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireStep(enums.WorkflowStepDetection); err != nil {
		return Snapshot{}, err
	}
	if c.detection == nil || len(c.detection.Counts) == 0 {
		return Snapshot{}, pkgerrors.New(pkgerrors.CodeValidation, "no detected items to add")
	}
	if err := c.deps.Cart.MergeDetection(c.ctx(ctx), c.cart, c.detection.Counts); err != nil {
		return Snapshot{}, err
	}
	c.detection = nil
	return c.snapshotLocked(), nil
}

// Transition moves the terminal to target. Moving forward needs a non-empty
// cart; entering BILLING creates the order with discountPercent applied.
// Moving backward is always allowed and abandons an unpaid order.
func (c *Controller) Transition(ctx context.Context, target enums.WorkflowStep, discountPercent decimal.Decimal) (Snapshot, error) {
	if !target.IsValid() {
		return Snapshot{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown step %q", target))
	}
	ctx = c.ctx(ctx)

	c.mu.Lock()
	snap, orphans, err := c.transitionLocked(ctx, target, discountPercent)
	c.mu.Unlock()

	c.discardSlips(ctx, orphans)
	return snap, err
}

func (c *Controller) transitionLocked(ctx context.Context, target enums.WorkflowStep, discountPercent decimal.Decimal) (Snapshot, []settlement.Slip, error) {
	from := c.step
	switch {
	case target == from:
		return c.snapshotLocked(), nil, nil
	case target.Rank() < from.Rank():
		orphans, err := c.leaveLocked(ctx, target)
		if err != nil {
			return Snapshot{}, nil, err
		}
		return c.snapshotLocked(), orphans, nil
	}

	if c.cart.IsEmpty() {
		return Snapshot{}, nil, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}
	if target == enums.WorkflowStepBilling {
		if err := c.enterBillingLocked(ctx, discountPercent); err != nil {
			return Snapshot{}, nil, err
		}
	}
	c.setStepLocked(target)
	c.deps.Logger.Info(c.deps.Logger.WithFields(ctx, map[string]any{"from": from, "to": target}), "workflow.transition")
	return c.snapshotLocked(), nil, nil
}

func (c *Controller) enterBillingLocked(ctx context.Context, discountPercent decimal.Decimal) error {
	draft := orders.Draft{
		TerminalID:      c.terminalID,
		DiscountPercent: discountPercent,
	}
	for _, item := range c.cart.Items() {
		line := orders.DraftItem{
			LineID:    item.ID,
			Kind:      item.Kind,
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		}
		if item.ColorKey != "" {
			key := item.ColorKey
			line.ColorKey = &key
		}
		draft.Items = append(draft.Items, line)
	}

	order, err := c.deps.Orders.Create(ctx, draft)
	if err != nil {
		c.deps.Logger.Error(ctx, "workflow.create_order_failed", err)
		return err
	}
	engine, err := c.deps.NewEngine(order)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "start settlement")
	}
	c.engine = engine
	c.last = nil

	assets, err := c.deps.Settings.QRAssets(ctx)
	if err != nil {
		c.deps.Logger.Warn(c.deps.Logger.WithField(ctx, "error", err.Error()), "workflow.qr_assets_unavailable")
		c.qr = nil
	} else {
		c.qr = assets
	}
	return nil
}

// leaveLocked handles backward navigation. An unpaid engine is dropped and
// its buffered slips are returned for deletion; the order stays unpaid in the
// store. Leaving is refused while a payment is saving or once it settled.
func (c *Controller) leaveLocked(ctx context.Context, target enums.WorkflowStep) ([]settlement.Slip, error) {
	var orphans []settlement.Slip
	if c.step == enums.WorkflowStepBilling && c.engine != nil {
		slips, err := c.engine.Abandon()
		if err != nil {
			return nil, err
		}
		c.deps.Logger.Info(c.deps.Logger.WithOrderID(ctx, c.engine.OrderID().String()), "workflow.order_abandoned")
		orphans = slips
		c.engine = nil
		c.qr = nil
	}
	if target != enums.WorkflowStepDetection {
		c.detection = nil
	}
	c.setStepLocked(target)
	return orphans, nil
}

// discardSlips deletes stored slip objects best-effort.
func (c *Controller) discardSlips(ctx context.Context, slips []settlement.Slip) {
	for _, slip := range slips {
		if err := c.deps.Slips.Delete(ctx, slip); err != nil {
			c.deps.Logger.Error(c.deps.Logger.WithField(ctx, "slip_id", slip.ID.String()), "workflow.slip_cleanup_failed", err)
		}
	}
}

// billingEngine returns the active engine, or an error outside BILLING.
func (c *Controller) billingEngine() (*settlement.Engine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireStep(enums.WorkflowStepBilling); err != nil {
		return nil, err
	}
	if c.engine == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "no order is being billed")
	}
	return c.engine, nil
}

// SetPersons switches split billing on (persons > 1) or off.
func (c *Controller) SetPersons(ctx context.Context, persons int) (Snapshot, error) {
	engine, err := c.billingEngine()
	if err != nil {
		return Snapshot{}, err
	}
	if _, err := engine.SetPersons(c.ctx(ctx), persons); err != nil {
		return Snapshot{}, err
	}
	return c.Snapshot(), nil
}

func (c *Controller) requireQR() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.qr == nil {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "qr payment is unavailable for this order; use cash")
	}
	return nil
}

// UploadSlip stores a transfer slip and buffers it for the next QR payment.
func (c *Controller) UploadSlip(ctx context.Context, data []byte) (settlement.Slip, error) {
	engine, err := c.billingEngine()
	if err != nil {
		return settlement.Slip{}, err
	}
	if err := c.requireQR(); err != nil {
		return settlement.Slip{}, err
	}
	ctx = c.ctx(ctx)
	slip, err := c.deps.Slips.Upload(ctx, data)
	if err != nil {
		return settlement.Slip{}, err
	}
	if err := engine.AddSlip(slip); err != nil {
		if delErr := c.deps.Slips.Delete(ctx, slip); delErr != nil {
			c.deps.Logger.Error(ctx, "workflow.slip_cleanup_failed", delErr)
		}
		return settlement.Slip{}, err
	}
	return slip, nil
}

// RemoveSlip drops a buffered slip and deletes its object best-effort.
func (c *Controller) RemoveSlip(ctx context.Context, slipID uuid.UUID) (Snapshot, error) {
	engine, err := c.billingEngine()
	if err != nil {
		return Snapshot{}, err
	}
	slip, err := engine.RemoveSlip(slipID)
	if err != nil {
		return Snapshot{}, err
	}
	ctx = c.ctx(ctx)
	if err := c.deps.Slips.Delete(ctx, slip); err != nil {
		c.deps.Logger.Error(c.deps.Logger.WithField(ctx, "slip_id", slipID.String()), "workflow.slip_delete_failed", err)
	}
	return c.Snapshot(), nil
}

// PayCash records a cash payment. person selects the payer in split mode.
func (c *Controller) PayCash(ctx context.Context, received decimal.Decimal, person *int) (*PaymentResult, error) {
	return c.pay(ctx, settlement.Cash{Received: received, Person: person})
}

// PayQR records a transfer backed by the buffered slips.
func (c *Controller) PayQR(ctx context.Context) (*PaymentResult, error) {
	if err := c.requireQR(); err != nil {
		return nil, err
	}
	return c.pay(ctx, settlement.QR{})
}

// pay runs the engine without holding the controller lock so a second
// confirmation hits the engine's in-flight guard instead of queueing.
func (c *Controller) pay(ctx context.Context, tender settlement.Tender) (*PaymentResult, error) {
	engine, err := c.billingEngine()
	if err != nil {
		return nil, err
	}
	ctx = c.ctx(ctx)

	outcome, err := engine.Pay(ctx, tender)
	if err != nil {
		return nil, err
	}
	if outcome.Settled {
		c.finish(ctx, engine, outcome)
	}
	return &PaymentResult{
		Payment:  *outcome,
		Change:   outcome.Change,
		Settled:  outcome.Settled,
		Snapshot: c.Snapshot(),
	}, nil
}

// finish publishes the settlement event and resets the terminal for the next
// customer. Stock reconciliation already ran inside the engine.
func (c *Controller) finish(ctx context.Context, engine *settlement.Engine, outcome *settlement.Outcome) {
	orderID := engine.OrderID()
	ctx = c.deps.Logger.WithOrderID(ctx, orderID.String())
	stockComplete := outcome.Reconciliation.Complete()

	order, err := c.deps.Orders.Get(ctx, orderID)
	if err != nil {
		c.deps.Logger.Error(ctx, "workflow.settled_order_reload_failed", err)
	} else if c.deps.Events != nil {
		evt := events.NewOrderSettled(order, stockComplete, c.deps.Now())
		if err := c.deps.Events.PublishOrderSettled(ctx, evt); err != nil {
			c.deps.Logger.Error(ctx, "workflow.settlement_event_failed", err)
		}
	}

	view := engine.View()
	c.discardSlips(ctx, engine.Close())

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine != engine {
		return
	}
	c.last = &Settlement{
		OrderID:       orderID,
		Total:         view.Total,
		Change:        outcome.Change,
		StockComplete: stockComplete,
		SettledAt:     c.deps.Now(),
	}
	c.cart.Clear()
	c.detection = nil
	c.engine = nil
	c.qr = nil
	c.setStepLocked(enums.WorkflowStepSelection)
	c.deps.Logger.Info(ctx, "workflow.order_settled")
}

func copyCounts(in map[string]int) map[string]int {
	if in == nil {
		return nil
	}
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
