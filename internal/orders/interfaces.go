package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/skewerpos-backend/pkg/db/models"
	"github.com/angelmondragon/skewerpos-backend/pkg/enums"
)

// Repository exposes order persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrder(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	LockForPayment(ctx context.Context, id uuid.UUID) (bool, error)
	CreatePayment(ctx context.Context, payment *models.OrderPayment) error
	CreateSlips(ctx context.Context, slips []models.PaymentSlip) error
	MarkPaid(ctx context.Context, id uuid.UUID, paidAt time.Time) (bool, error)
	UpdateSplit(ctx context.Context, id uuid.UUID, mode enums.SplitMode, persons int) (bool, error)
	MarkItemsReconciled(ctx context.Context, orderID uuid.UUID, itemIDs []uuid.UUID, at time.Time) (int64, error)
}
