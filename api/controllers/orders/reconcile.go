package orders

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/skewerpos-backend/api/responses"
	"github.com/angelmondragon/skewerpos-backend/api/validators"
	"github.com/angelmondragon/skewerpos-backend/internal/reconcile"
	pkgerrors "github.com/angelmondragon/skewerpos-backend/pkg/errors"
	"github.com/angelmondragon/skewerpos-backend/pkg/logger"
)

// Reconciler re-applies stock decrements for a paid order.
type Reconciler interface {
	Reconcile(ctx context.Context, orderID uuid.UUID) (*reconcile.Report, error)
}

type reconcileResponse struct {
	Report   *reconcile.Report `json:"report"`
	Complete bool              `json:"complete"`
}

// Reconcile retries stock reconciliation for items a previous pass could not
// decrement. Items already reconciled are skipped, so retries are safe.
func Reconcile(svc Reconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconciler unavailable"))
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithOrderID(ctx, orderID.String())
		}
		report, err := svc.Reconcile(ctx, orderID)
		var partial *reconcile.PartialError
		if err != nil && !errors.As(err, &partial) {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, reconcileResponse{Report: report, Complete: report.Complete()})
	}
}
