package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/skewerpos-backend/pkg/enums"
)

// Order is the draft created when a terminal enters billing. Total is fixed at
// creation and the row becomes immutable once Paid is set.
type Order struct {
	ID              uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	TerminalID      string          `gorm:"column:terminal_id;not null"`
	Subtotal        decimal.Decimal `gorm:"column:subtotal;type:numeric(12,2);not null"`
	DiscountPercent decimal.Decimal `gorm:"column:discount_percent;type:numeric(5,2);not null"`
	Total           decimal.Decimal `gorm:"column:total;type:numeric(12,2);not null"`
	SplitMode       enums.SplitMode `gorm:"column:split_mode;not null"`
	PersonsCount    int             `gorm:"column:persons_count;not null"`
	Paid            bool            `gorm:"column:paid;not null"`
	PaidAt          *time.Time      `gorm:"column:paid_at"`
	Items           []OrderItem     `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Payments        []OrderPayment  `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// AmountPaid sums the recorded payment amounts.
func (o *Order) AmountPaid() decimal.Decimal {
	sum := decimal.Zero
	if o == nil {
		return sum
	}
	for _, p := range o.Payments {
		sum = sum.Add(p.Amount)
	}
	return sum.Round(2)
}

// Balance returns the amount still owed, never negative.
func (o *Order) Balance() decimal.Decimal {
	if o == nil {
		return decimal.Zero
	}
	due := o.Total.Sub(o.AmountPaid())
	if due.IsNegative() {
		return decimal.Zero
	}
	return due.Round(2)
}
