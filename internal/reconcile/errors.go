package reconcile

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/skewerpos-backend/pkg/enums"
)

// ItemFailure records one order item whose stock could not be decremented.
type ItemFailure struct {
	ItemID uuid.UUID          `json:"item_id"`
	LineID string             `json:"line_id"`
	Kind   enums.LineItemKind `json:"kind"`
	Reason string             `json:"reason"`
	err    error
}

// PartialError reports that a subset of decrements failed after the sale was
// final. Callers log it; it is never shown to the cashier.
type PartialError struct {
	OrderID  uuid.UUID
	Failures []ItemFailure
	err      error
}

func newPartialError(orderID uuid.UUID, failures []ItemFailure) *PartialError {
	var combined error
	for _, f := range failures {
		combined = multierr.Append(combined, fmt.Errorf("item %s (%s): %w", f.LineID, f.Kind, f.err))
	}
	return &PartialError{OrderID: orderID, Failures: failures, err: combined}
}

func (e *PartialError) Error() string {
	ids := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		ids = append(ids, f.LineID)
	}
	return fmt.Sprintf("stock reconciliation incomplete for order %s: %d item(s) failed [%s]: %v",
		e.OrderID, len(e.Failures), strings.Join(ids, ", "), e.err)
}

// Unwrap exposes the individual item errors.
func (e *PartialError) Unwrap() []error {
	return multierr.Errors(e.err)
}
