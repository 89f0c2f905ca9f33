package enums

// LineItemKind tells whether a cart line is backed by a catalog product or by
// a skewer color price entry.
type LineItemKind string

const (
	LineItemKindProduct LineItemKind = "product"
	LineItemKindColor   LineItemKind = "color"
)

var lineItemKinds = []LineItemKind{LineItemKindProduct, LineItemKindColor}

func (k LineItemKind) String() string { return string(k) }

func (k LineItemKind) IsValid() bool { return isMember(lineItemKinds, k) }

func ParseLineItemKind(value string) (LineItemKind, error) {
	return parseMember(lineItemKinds, "line item kind", value)
}
