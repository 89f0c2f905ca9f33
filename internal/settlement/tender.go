package settlement

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/skewerpos-backend/pkg/enums"
)

// Tender is a payment attempt. The set of implementations is closed: Cash and QR.
type Tender interface {
	Method() enums.PaymentMethod
	isTender()
}

// Cash is money handed over at the counter. Person selects the payer in split
// mode and must be nil otherwise.
type Cash struct {
	Received decimal.Decimal
	Person   *int
}

// Method implements Tender.
func (Cash) Method() enums.PaymentMethod { return enums.PaymentMethodCash }
func (Cash) isTender()                   {}

// QR is a bank transfer proven by the slips currently buffered on the engine.
type QR struct{}

// Method implements Tender.
func (QR) Method() enums.PaymentMethod { return enums.PaymentMethodQR }
func (QR) isTender()                   {}
