package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/skewerpos-backend/internal/billing"
	"github.com/angelmondragon/skewerpos-backend/pkg/db"
	"github.com/angelmondragon/skewerpos-backend/pkg/db/models"
	"github.com/angelmondragon/skewerpos-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/skewerpos-backend/pkg/errors"
)

// PaidTolerance absorbs representation noise when comparing paid sums to totals.
var PaidTolerance = decimal.New(1, -6)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service is the order store the settlement workflow drives.
type Service interface {
	Create(ctx context.Context, draft Draft) (*models.Order, error)
	AddPayment(ctx context.Context, orderID uuid.UUID, payment PaymentInput) (*models.Order, error)
	Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	SetSplit(ctx context.Context, orderID uuid.UUID, persons int) (*models.Order, error)
	MarkItemsReconciled(ctx context.Context, orderID uuid.UUID, itemIDs []uuid.UUID) error
}

type service struct {
	repo Repository
	tx   txRunner
	now  func() time.Time
}

// NewService builds the order store backed by repo.
func NewService(repo Repository, tx txRunner) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{
		repo: repo,
		tx:   tx,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// Create validates the draft, prices it once and persists it. The stored total
// is never recomputed from items afterwards.
func (s *service) Create(ctx context.Context, draft Draft) (*models.Order, error) {
	if strings.TrimSpace(draft.TerminalID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "terminal id is required")
	}
	if len(draft.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order must contain at least one item")
	}

	orderID := uuid.New()
	items := make([]models.OrderItem, 0, len(draft.Items))
	subtotal := decimal.Zero
	for _, in := range draft.Items {
		if err := validateDraftItem(in); err != nil {
			return nil, err
		}
		item := models.OrderItem{
			ID:        uuid.New(),
			OrderID:   orderID,
			LineID:    in.LineID,
			Kind:      in.Kind,
			ProductID: in.ProductID,
			ColorKey:  in.ColorKey,
			Name:      in.Name,
			UnitPrice: billing.Round2(in.UnitPrice),
			Quantity:  in.Quantity,
		}
		subtotal = subtotal.Add(item.LineTotal())
		items = append(items, item)
	}
	subtotal = billing.Round2(subtotal)

	total, err := billing.ApplyDiscount(subtotal, draft.DiscountPercent)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		ID:              orderID,
		TerminalID:      draft.TerminalID,
		Subtotal:        subtotal,
		DiscountPercent: draft.DiscountPercent.Round(2),
		Total:           total,
		SplitMode:       enums.SplitModeNone,
		PersonsCount:    1,
		Items:           items,
	}
	if err := s.repo.CreateOrder(ctx, order); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}
	return s.Get(ctx, orderID)
}

func validateDraftItem(in DraftItem) error {
	if strings.TrimSpace(in.LineID) == "" || strings.TrimSpace(in.Name) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order item requires id and name")
	}
	if in.Quantity < 1 {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %s quantity must be at least 1", in.LineID))
	}
	if in.UnitPrice.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %s price must be non-negative", in.LineID))
	}
	switch in.Kind {
	case enums.LineItemKindProduct:
		if in.ProductID == nil {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %s missing product id", in.LineID))
		}
	case enums.LineItemKindColor:
		if in.ColorKey == nil || *in.ColorKey == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %s missing color key", in.LineID))
		}
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %s has unknown kind %q", in.LineID, in.Kind))
	}
	return nil
}

// AddPayment appends payment and marks the order paid once the recorded sum
// reaches the total. Payments against a paid order are refused.
func (s *service) AddPayment(ctx context.Context, orderID uuid.UUID, payment PaymentInput) (*models.Order, error) {
	if !payment.Method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown payment method %q", payment.Method))
	}
	if payment.Amount.IsNegative() || payment.Received.IsNegative() || payment.Change.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment amounts must be non-negative")
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		locked, err := repo.LockForPayment(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock order")
		}
		if !locked {
			if _, err := s.loadOrder(ctx, repo, orderID); err != nil {
				return err
			}
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is already paid")
		}

		order, err := s.loadOrder(ctx, repo, orderID)
		if err != nil {
			return err
		}

		now := s.now()
		record := &models.OrderPayment{
			ID:          uuid.New(),
			OrderID:     orderID,
			Sequence:    len(order.Payments) + 1,
			Method:      payment.Method,
			Amount:      billing.Round2(payment.Amount),
			Received:    billing.Round2(payment.Received),
			Change:      billing.Round2(payment.Change),
			PersonIndex: payment.PersonIndex,
			CreatedAt:   now,
		}
		if err := repo.CreatePayment(ctx, record); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "payment recorded concurrently")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment")
		}

		if len(payment.Slips) > 0 {
			slips := make([]models.PaymentSlip, 0, len(payment.Slips))
			for _, in := range payment.Slips {
				paymentID := record.ID
				slips = append(slips, models.PaymentSlip{
					ID:          in.ID,
					OrderID:     orderID,
					PaymentID:   &paymentID,
					FileRef:     in.FileRef,
					PreviewRef:  in.PreviewRef,
					ContentType: in.ContentType,
					SizeBytes:   in.SizeBytes,
					UploadedAt:  in.UploadedAt,
				})
			}
			if err := repo.CreateSlips(ctx, slips); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment slips")
			}
		}

		paid := order.AmountPaid().Add(record.Amount)
		if IsSettled(paid, order.Total) {
			if _, err := repo.MarkPaid(ctx, orderID, now); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order paid")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, orderID)
}

// IsSettled reports whether paid covers total within PaidTolerance.
func IsSettled(paid, total decimal.Decimal) bool {
	return paid.GreaterThanOrEqual(total.Sub(PaidTolerance))
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return s.loadOrder(ctx, s.repo, orderID)
}

func (s *service) loadOrder(ctx context.Context, repo Repository, orderID uuid.UUID) (*models.Order, error) {
	order, err := repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

// SetSplit switches an unpaid order without payments between single and split billing.
func (s *service) SetSplit(ctx context.Context, orderID uuid.UUID, persons int) (*models.Order, error) {
	if persons < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "persons must be at least 1")
	}
	mode := enums.SplitModeNone
	if persons > 1 {
		mode = enums.SplitModeSplit
	}

	// the row lock serializes against AddPayment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		locked, err := repo.LockForPayment(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock order")
		}
		if !locked {
			if _, err := s.loadOrder(ctx, repo, orderID); err != nil {
				return err
			}
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is already paid")
		}

		ok, err := repo.UpdateSplit(ctx, orderID, mode, persons)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update split")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "split cannot change after payments were recorded")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, orderID)
}

func (s *service) MarkItemsReconciled(ctx context.Context, orderID uuid.UUID, itemIDs []uuid.UUID) error {
	if _, err := s.repo.MarkItemsReconciled(ctx, orderID, itemIDs, s.now()); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark items reconciled")
	}
	return nil
}
