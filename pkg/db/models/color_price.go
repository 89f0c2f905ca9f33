package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ColorPrice prices and stocks skewers by stick color.
type ColorPrice struct {
	ColorKey  string          `gorm:"column:color_key;primaryKey"`
	Price     decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	Stock     int             `gorm:"column:stock;not null"`
	Version   int             `gorm:"column:version;not null"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
