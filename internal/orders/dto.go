package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/skewerpos-backend/pkg/enums"
)

// Draft is the cart snapshot a terminal submits when it enters billing.
type Draft struct {
	TerminalID      string
	DiscountPercent decimal.Decimal
	Items           []DraftItem
}

// DraftItem is one cart line frozen into the order.
type DraftItem struct {
	LineID    string
	Kind      enums.LineItemKind
	ProductID *uuid.UUID
	ColorKey  *string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
}

// PaymentInput is one accepted payment contribution.
type PaymentInput struct {
	Method      enums.PaymentMethod
	Amount      decimal.Decimal
	Received    decimal.Decimal
	Change      decimal.Decimal
	PersonIndex *int
	Slips       []SlipInput
}

// SlipInput references an uploaded proof-of-transfer image.
type SlipInput struct {
	ID          uuid.UUID
	FileRef     string
	PreviewRef  string
	ContentType string
	SizeBytes   int64
	UploadedAt  time.Time
}
