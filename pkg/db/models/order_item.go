package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/skewerpos-backend/pkg/enums"
)

// OrderItem snapshots one cart line at order creation.
type OrderItem struct {
	ID              uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	OrderID         uuid.UUID          `gorm:"column:order_id;type:uuid;not null"`
	LineID          string             `gorm:"column:line_id;not null"`
	Kind            enums.LineItemKind `gorm:"column:kind;not null"`
	ProductID       *uuid.UUID         `gorm:"column:product_id;type:uuid"`
	ColorKey        *string            `gorm:"column:color_key"`
	Name            string             `gorm:"column:name;not null"`
	UnitPrice       decimal.Decimal    `gorm:"column:unit_price;type:numeric(12,2);not null"`
	Quantity        int                `gorm:"column:quantity;not null"`
	StockReconciled bool               `gorm:"column:stock_reconciled;not null"`
	ReconciledAt    *time.Time         `gorm:"column:reconciled_at"`
	CreatedAt       time.Time          `gorm:"column:created_at;autoCreateTime"`
}

// LineTotal returns unit price times quantity rounded to cents.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity))).Round(2)
}
