package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/skewerpos-backend/internal/billing"
	"github.com/angelmondragon/skewerpos-backend/internal/orders"
	"github.com/angelmondragon/skewerpos-backend/internal/reconcile"
	"github.com/angelmondragon/skewerpos-backend/pkg/db/models"
	"github.com/angelmondragon/skewerpos-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/skewerpos-backend/pkg/errors"
	"github.com/angelmondragon/skewerpos-backend/pkg/logger"
)

const (
	rejectInsufficientCash = "insufficient_cash"
	rejectMissingSlips     = "missing_slips"
	rejectInvalidPerson    = "invalid_person"
	rejectAlreadyPaid      = "already_paid"
	rejectClosed           = "closed"
	rejectStore            = "order_store"
)

type orderStore interface {
	Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	AddPayment(ctx context.Context, orderID uuid.UUID, payment orders.PaymentInput) (*models.Order, error)
	SetSplit(ctx context.Context, orderID uuid.UUID, persons int) (*models.Order, error)
}

type stockReconciler interface {
	Reconcile(ctx context.Context, orderID uuid.UUID) (*reconcile.Report, error)
}

type recorder interface {
	IncPaymentAccepted(method string)
	IncPaymentRejected(reason string)
	IncOrderSettled()
}

// Deps are the collaborators shared by every engine.
type Deps struct {
	Orders     orderStore
	Reconciler stockReconciler
	Locker     Locker
	Logger     *logger.Logger
	Metrics    recorder
	MaxPersons int
}

func (d Deps) validate() error {
	if d.Orders == nil {
		return fmt.Errorf("order store required")
	}
	if d.Reconciler == nil {
		return fmt.Errorf("stock reconciler required")
	}
	if d.Logger == nil {
		return fmt.Errorf("logger required")
	}
	return nil
}

// Outcome describes an accepted payment.
type Outcome struct {
	Payment        models.OrderPayment
	Change         decimal.Decimal
	Settled        bool
	Reconciliation *reconcile.Report
}

// View is a read-only snapshot of the engine.
type View struct {
	OrderID      uuid.UUID             `json:"order_id"`
	Subtotal     decimal.Decimal       `json:"subtotal"`
	Discount     decimal.Decimal       `json:"discount_percent"`
	Total        decimal.Decimal       `json:"total"`
	AmountPaid   decimal.Decimal       `json:"amount_paid"`
	Balance      decimal.Decimal       `json:"balance"`
	SplitMode    enums.SplitMode       `json:"split_mode"`
	PersonsCount int                   `json:"persons_count"`
	Shares       []decimal.Decimal     `json:"shares"`
	PaidPersons  []int                 `json:"paid_persons"`
	Payments     []models.OrderPayment `json:"payments"`
	Slips        []Slip                `json:"slips"`
	Paid         bool                  `json:"paid"`
	Saving       bool                  `json:"saving"`
}

// Engine accumulates payments against one order until it is paid.
//
// The saving flag rejects a second settlement attempt while one is in flight;
// an optional Locker extends that guard across processes. The order store
// remains the authority on whether the order is paid.
type Engine struct {
	deps   Deps
	saving atomic.Bool

	mu      sync.Mutex
	order   *models.Order
	shares  []decimal.Decimal
	slips   []Slip
	settled bool
	// closed engines accept no further slips or payments
	closed bool
}

// NewEngine starts settlement for a freshly created or reloaded order.
func NewEngine(order *models.Order, deps Deps) (*Engine, error) {
	if order == nil {
		return nil, fmt.Errorf("order required")
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	e := &Engine{deps: deps}
	if err := e.setOrder(order); err != nil {
		return nil, err
	}
	e.settled = order.Paid
	return e, nil
}

// OrderID returns the order being settled.
func (e *Engine) OrderID() uuid.UUID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.order.ID
}

// setOrder must be called with mu held or before the engine is shared.
func (e *Engine) setOrder(order *models.Order) error {
	persons := max(order.PersonsCount, 1)
	shares, err := billing.SplitEqual(order.Total, persons)
	if err != nil {
		return err
	}
	e.order = order
	e.shares = shares
	return nil
}

// View snapshots the engine state.
func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()

	payments := append([]models.OrderPayment(nil), e.order.Payments...)
	slips := append([]Slip(nil), e.slips...)
	shares := append([]decimal.Decimal(nil), e.shares...)
	return View{
		OrderID:      e.order.ID,
		Subtotal:     e.order.Subtotal,
		Discount:     e.order.DiscountPercent,
		Total:        e.order.Total,
		AmountPaid:   e.order.AmountPaid(),
		Balance:      e.order.Balance(),
		SplitMode:    e.order.SplitMode,
		PersonsCount: max(e.order.PersonsCount, 1),
		Shares:       shares,
		PaidPersons:  e.paidPersonsLocked(),
		Payments:     payments,
		Slips:        slips,
		Paid:         e.order.Paid,
		Saving:       e.saving.Load(),
	}
}

// paidPersonsLocked derives the paid-person checklist from recorded payments.
// A paid order marks every person.
func (e *Engine) paidPersonsLocked() []int {
	persons := max(e.order.PersonsCount, 1)
	out := []int{}
	if e.order.Paid {
		for i := 0; i < persons; i++ {
			out = append(out, i)
		}
		return out
	}
	seen := make(map[int]bool, persons)
	for _, p := range e.order.Payments {
		if p.PersonIndex == nil || seen[*p.PersonIndex] {
			continue
		}
		seen[*p.PersonIndex] = true
	}
	for i := 0; i < persons; i++ {
		if seen[i] {
			out = append(out, i)
		}
	}
	return out
}

func (e *Engine) splitLocked() bool {
	return e.order.SplitMode == enums.SplitModeSplit && e.order.PersonsCount > 1
}

// SetPersons switches between single and split billing. It is only allowed
// before any payment was recorded.
func (e *Engine) SetPersons(ctx context.Context, persons int) (View, error) {
	if persons < 1 {
		return View{}, pkgerrors.New(pkgerrors.CodeValidation, "persons must be at least 1")
	}
	if e.deps.MaxPersons > 0 && persons > e.deps.MaxPersons {
		return View{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("persons must be at most %d", e.deps.MaxPersons))
	}
	if e.saving.Load() {
		return View{}, pkgerrors.New(pkgerrors.CodeConflict, "a payment is being saved")
	}

	updated, err := e.deps.Orders.SetSplit(ctx, e.OrderID(), persons)
	if err != nil {
		return View{}, err
	}

	e.mu.Lock()
	err = e.setOrder(updated)
	e.mu.Unlock()
	if err != nil {
		return View{}, err
	}
	return e.View(), nil
}

// AddSlip buffers an uploaded slip for the next QR payment. Slips cannot be
// added while a payment is saving because the running payment has already
// taken its copy of the buffer.
func (e *Engine) AddSlip(slip Slip) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errClosed()
	}
	if e.order.Paid {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order is already paid")
	}
	if e.saving.Load() {
		return pkgerrors.New(pkgerrors.CodeConflict, "a payment is being saved")
	}
	e.slips = append(e.slips, slip)
	return nil
}

// Abandon closes an unpaid engine and hands back its buffered slips so the
// caller can delete the stored objects. It refuses while a payment is saving
// and once the order is paid, since the sale must then run to completion.
func (e *Engine) Abandon() ([]Slip, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.saving.Load() {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "a payment is being saved")
	}
	if e.settled || e.order.Paid {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is already paid")
	}
	return e.closeLocked(), nil
}

// Close ends the engine after settlement and returns slips that no payment
// recorded.
func (e *Engine) Close() []Slip {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeLocked()
}

func (e *Engine) closeLocked() []Slip {
	e.closed = true
	left := e.slips
	e.slips = nil
	return left
}

func errClosed() error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "order is no longer being billed")
}

// RemoveSlip drops a buffered slip and returns it so the caller can delete
// the stored object.
func (e *Engine) RemoveSlip(id uuid.UUID) (Slip, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.saving.Load() {
		return Slip{}, pkgerrors.New(pkgerrors.CodeConflict, "a payment is being saved")
	}
	for i, s := range e.slips {
		if s.ID == id {
			e.slips = append(e.slips[:i:i], e.slips[i+1:]...)
			return s, nil
		}
	}
	return Slip{}, pkgerrors.New(pkgerrors.CodeNotFound, "slip not found")
}

// Slips returns the buffered slips.
func (e *Engine) Slips() []Slip {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Slip(nil), e.slips...)
}

// Pay validates tender against the amount due, records it and, when the
// order becomes paid, runs stock reconciliation exactly once.
func (e *Engine) Pay(ctx context.Context, tender Tender) (*Outcome, error) {
	if tender == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment tender is required")
	}
	if !e.saving.CompareAndSwap(false, true) {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "a payment is already being saved")
	}
	defer e.saving.Store(false)

	orderID := e.OrderID()
	ctx = e.deps.Logger.WithFields(ctx, map[string]any{
		"order_id": orderID.String(),
		"method":   tender.Method().String(),
	})

	if e.deps.Locker != nil {
		release, err := e.deps.Locker.Acquire(ctx, orderID)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	input, reason, err := e.prepare(tender)
	if err != nil {
		e.reject(ctx, reason, err)
		return nil, err
	}

	updated, err := e.deps.Orders.AddPayment(ctx, orderID, input)
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
			e.refresh(ctx, orderID)
		}
		e.reject(ctx, rejectStore, err)
		return nil, err
	}

	e.mu.Lock()
	if err := e.setOrder(updated); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if input.Method == enums.PaymentMethodQR {
		e.slips = nil
	}
	var recorded models.OrderPayment
	if n := len(updated.Payments); n > 0 {
		recorded = updated.Payments[n-1]
	}
	fire := updated.Paid && !e.settled
	if fire {
		e.settled = true
	}
	e.mu.Unlock()

	if e.deps.Metrics != nil {
		e.deps.Metrics.IncPaymentAccepted(input.Method.String())
	}
	e.deps.Logger.Info(e.deps.Logger.WithFields(ctx, map[string]any{
		"amount": input.Amount.StringFixed(2),
		"change": input.Change.StringFixed(2),
		"paid":   updated.Paid,
	}), "settlement.payment_accepted")

	out := &Outcome{Payment: recorded, Change: input.Change, Settled: updated.Paid}
	if fire {
		if e.deps.Metrics != nil {
			e.deps.Metrics.IncOrderSettled()
		}
		out.Reconciliation = e.reconcile(ctx, orderID)
	}
	return out, nil
}

// prepare builds the payment record for tender. It returns a rejection reason
// alongside validation errors.
func (e *Engine) prepare(tender Tender) (orders.PaymentInput, string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return orders.PaymentInput{}, rejectClosed, errClosed()
	}
	if e.order.Paid {
		return orders.PaymentInput{}, rejectAlreadyPaid, pkgerrors.New(pkgerrors.CodeStateConflict, "order is already paid")
	}
	balance := e.order.Balance()

	switch t := tender.(type) {
	case Cash:
		return e.prepareCashLocked(t, balance)
	case *Cash:
		return e.prepareCashLocked(*t, balance)
	case QR, *QR:
		return e.prepareQRLocked(balance)
	default:
		return orders.PaymentInput{}, "unknown_tender", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported tender %T", tender))
	}
}

func (e *Engine) prepareCashLocked(cash Cash, balance decimal.Decimal) (orders.PaymentInput, string, error) {
	received := billing.Round2(cash.Received)
	if received.IsNegative() {
		return orders.PaymentInput{}, rejectInsufficientCash, pkgerrors.New(pkgerrors.CodeValidation, "received amount must be non-negative")
	}

	due := balance
	var person *int
	if e.splitLocked() {
		if cash.Person == nil {
			return orders.PaymentInput{}, rejectInvalidPerson, pkgerrors.New(pkgerrors.CodeValidation, "person is required for split cash payments")
		}
		p := *cash.Person
		if p < 0 || p >= len(e.shares) {
			return orders.PaymentInput{}, rejectInvalidPerson, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("person must be between 0 and %d", len(e.shares)-1))
		}
		for _, paid := range e.paidPersonsLocked() {
			if paid == p {
				return orders.PaymentInput{}, rejectInvalidPerson, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("person %d has already paid", p))
			}
		}
		due = decimal.Min(e.shares[p], balance)
		person = &p
	} else if cash.Person != nil {
		return orders.PaymentInput{}, rejectInvalidPerson, pkgerrors.New(pkgerrors.CodeValidation, "person is only accepted for split payments")
	}

	if received.LessThan(due) {
		return orders.PaymentInput{}, rejectInsufficientCash, pkgerrors.New(pkgerrors.CodeValidation, "received cash is less than the amount due").
			WithDetails(map[string]any{
				"amount_due": due.StringFixed(2),
				"received":   received.StringFixed(2),
			})
	}

	return orders.PaymentInput{
		Method:      enums.PaymentMethodCash,
		Amount:      due,
		Received:    received,
		Change:      billing.Round2(received.Sub(due)),
		PersonIndex: person,
	}, "", nil
}

func (e *Engine) prepareQRLocked(balance decimal.Decimal) (orders.PaymentInput, string, error) {
	required := 1
	if e.splitLocked() {
		required = max(len(e.shares)-len(e.paidPersonsLocked()), 1)
	}
	if len(e.slips) < required {
		return orders.PaymentInput{}, rejectMissingSlips, pkgerrors.New(pkgerrors.CodeValidation, "not enough transfer slips uploaded").
			WithDetails(map[string]any{
				"required": required,
				"uploaded": len(e.slips),
			})
	}

	slips := make([]orders.SlipInput, 0, len(e.slips))
	for _, s := range e.slips {
		slips = append(slips, orders.SlipInput{
			ID:          s.ID,
			FileRef:     s.FileRef,
			PreviewRef:  s.PreviewRef,
			ContentType: s.ContentType,
			SizeBytes:   s.SizeBytes,
			UploadedAt:  s.UploadedAt,
		})
	}
	return orders.PaymentInput{
		Method:   enums.PaymentMethodQR,
		Amount:   balance,
		Received: balance,
		Change:   decimal.Zero,
		Slips:    slips,
	}, "", nil
}

func (e *Engine) reject(ctx context.Context, reason string, err error) {
	if e.deps.Metrics != nil {
		e.deps.Metrics.IncPaymentRejected(reason)
	}
	if pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		e.deps.Logger.Warn(e.deps.Logger.WithField(ctx, "reason", reason), "settlement.payment_rejected")
		return
	}
	e.deps.Logger.Error(e.deps.Logger.WithField(ctx, "reason", reason), "settlement.payment_failed", err)
}

// refresh reloads the order after the store reported it already paid.
func (e *Engine) refresh(ctx context.Context, orderID uuid.UUID) {
	order, err := e.deps.Orders.Get(ctx, orderID)
	if err != nil {
		e.deps.Logger.Error(ctx, "settlement.refresh_failed", err)
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.setOrder(order); err != nil {
		e.deps.Logger.Error(ctx, "settlement.refresh_failed", err)
	}
}

// reconcile never fails the payment: the sale is final by now.
func (e *Engine) reconcile(ctx context.Context, orderID uuid.UUID) *reconcile.Report {
	report, err := e.deps.Reconciler.Reconcile(ctx, orderID)
	var partial *reconcile.PartialError
	switch {
	case err == nil:
	case errors.As(err, &partial):
		// already logged by the reconciler
	default:
		e.deps.Logger.Error(ctx, "settlement.reconcile_failed", err)
	}
	return report
}

// Settled reports whether the order reached paid during this engine's life or before it.
func (e *Engine) Settled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settled
}
