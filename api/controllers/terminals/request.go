package terminals

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type addItemRequest struct {
	ProductID *uuid.UUID `json:"product_id"`
	Color     string     `json:"color" validate:"omitempty,max=64"`
	Quantity  int        `json:"quantity" validate:"min=1,max=999"`
}

type updateItemRequest struct {
	Quantity int `json:"quantity" validate:"min=1,max=999"`
}

type stepRequest struct {
	Step            string          `json:"step" validate:"required,oneof=selection detection billing"`
	DiscountPercent decimal.Decimal `json:"discount_percent" validate:"gte=0,lte=100"`
}

type detectionCountsRequest struct {
	Counts map[string]int `json:"counts" validate:"required"`
}

type splitRequest struct {
	Persons int `json:"persons" validate:"min=1"`
}

type cashPaymentRequest struct {
	Received decimal.Decimal `json:"received" validate:"gte=0"`
	Person   *int            `json:"person" validate:"omitempty,min=0"`
}
