package billing

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/skewerpos-backend/api/responses"
	"github.com/angelmondragon/skewerpos-backend/api/validators"
	internalbilling "github.com/angelmondragon/skewerpos-backend/internal/billing"
	"github.com/angelmondragon/skewerpos-backend/pkg/logger"
)

type splitResponse struct {
	Total   decimal.Decimal   `json:"total"`
	Persons int               `json:"persons"`
	Shares  []decimal.Decimal `json:"shares"`
}

// Split previews an equal split of total across persons without touching an order.
func Split(maxPersons int, logg *logger.Logger) http.HandlerFunc {
	if maxPersons < 1 {
		maxPersons = 1
	}
	return func(w http.ResponseWriter, r *http.Request) {
		total, err := validators.ParseQueryDecimal(r, "total")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		persons, err := validators.ParseQueryInt(r, "persons", 1, 1, maxPersons)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		shares, err := internalbilling.SplitEqual(total, persons)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, splitResponse{Total: internalbilling.Round2(total), Persons: persons, Shares: shares})
	}
}
