package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/skewerpos-backend/pkg/db/models"
	"github.com/angelmondragon/skewerpos-backend/pkg/enums"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// CreateOrder inserts the order together with its items.
func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, line_id ASC")
		}).
		Preload("Payments", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence ASC")
		}).
		Preload("Payments.Slips").
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// LockForPayment touches an unpaid order so the enclosing transaction holds
// its row until commit. It reports false when the order is missing or paid.
func (r *repository) LockForPayment(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND paid = ?", id, false).
		Update("updated_at", time.Now().UTC())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) CreatePayment(ctx context.Context, payment *models.OrderPayment) error {
	return r.db.WithContext(ctx).Omit("Slips").Create(payment).Error
}

func (r *repository) CreateSlips(ctx context.Context, slips []models.PaymentSlip) error {
	if len(slips) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&slips).Error
}

// MarkPaid flips paid once; a second call reports false.
func (r *repository) MarkPaid(ctx context.Context, id uuid.UUID, paidAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND paid = ?", id, false).
		Updates(map[string]any{
			"paid":       true,
			"paid_at":    paidAt,
			"updated_at": paidAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// UpdateSplit changes the split configuration of an unpaid order that has no
// payments yet. It reports false when either condition no longer holds.
func (r *repository) UpdateSplit(ctx context.Context, id uuid.UUID, mode enums.SplitMode, persons int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND paid = ?", id, false).
		Where("NOT EXISTS (SELECT 1 FROM order_payments WHERE order_payments.order_id = orders.id)").
		Updates(map[string]any{
			"split_mode":    mode,
			"persons_count": persons,
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkItemsReconciled flags the given items of orderID. Already flagged items
// are left untouched and not counted.
func (r *repository) MarkItemsReconciled(ctx context.Context, orderID uuid.UUID, itemIDs []uuid.UUID, at time.Time) (int64, error) {
	if len(itemIDs) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Model(&models.OrderItem{}).
		Where("order_id = ? AND id IN ? AND stock_reconciled = ?", orderID, itemIDs, false).
		Updates(map[string]any{
			"stock_reconciled": true,
			"reconciled_at":    at,
		})
	return res.RowsAffected, res.Error
}
