package enums

// PaymentMethod describes how a payment contribution was tendered.
type PaymentMethod string

const (
	PaymentMethodCash PaymentMethod = "cash"
	// PaymentMethodQR is a bank transfer proven by uploaded slip images.
	PaymentMethodQR PaymentMethod = "qr"
)

var paymentMethods = []PaymentMethod{PaymentMethodCash, PaymentMethodQR}

func (p PaymentMethod) String() string { return string(p) }

func (p PaymentMethod) IsValid() bool { return isMember(paymentMethods, p) }

func ParsePaymentMethod(value string) (PaymentMethod, error) {
	return parseMember(paymentMethods, "payment method", value)
}
