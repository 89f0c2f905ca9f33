package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/skewerpos-backend/pkg/enums"
)

// OrderPayment is an append-only payment contribution against an order.
type OrderPayment struct {
	ID          uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderID     uuid.UUID           `gorm:"column:order_id;type:uuid;not null"`
	Sequence    int                 `gorm:"column:sequence;not null"`
	Method      enums.PaymentMethod `gorm:"column:method;not null"`
	Amount      decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	Received    decimal.Decimal     `gorm:"column:received;type:numeric(12,2);not null"`
	Change      decimal.Decimal     `gorm:"column:change_amount;type:numeric(12,2);not null"`
	PersonIndex *int                `gorm:"column:person_index"`
	Slips       []PaymentSlip       `gorm:"foreignKey:PaymentID"`
	CreatedAt   time.Time           `gorm:"column:created_at;autoCreateTime"`
}
