package controllers

import (
	"context"
	"net/http"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/skewerpos-backend/api/responses"
	"github.com/angelmondragon/skewerpos-backend/internal/colorprice"
	"github.com/angelmondragon/skewerpos-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/skewerpos-backend/pkg/errors"
	"github.com/angelmondragon/skewerpos-backend/pkg/logger"
)

// CatalogReader is the read side of the catalog store.
type CatalogReader interface {
	List(ctx context.Context) ([]models.Product, error)
	ColorPrices(ctx context.Context) (map[string]models.ColorPrice, error)
}

type productDTO struct {
	ID       uuid.UUID       `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Stock    int             `json:"stock"`
	IsActive bool            `json:"is_active"`
}

type colorPriceDTO struct {
	Color  string          `json:"color"`
	LineID string          `json:"line_id"`
	Price  decimal.Decimal `json:"price"`
	Stock  int             `json:"stock"`
}

// CatalogProducts lists the products a terminal can sell.
func CatalogProducts(repo CatalogReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog unavailable"))
			return
		}
		products, err := repo.List(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]productDTO, 0, len(products))
		for _, p := range products {
			out = append(out, productDTO{ID: p.ID, Name: p.Name, Price: p.Price, Stock: p.Stock, IsActive: p.IsActive})
		}
		responses.WriteSuccess(w, out)
	}
}

// CatalogColorPrices lists color prices ordered by color key.
func CatalogColorPrices(repo CatalogReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog unavailable"))
			return
		}
		entries, err := repo.ColorPrices(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]colorPriceDTO, 0, len(entries))
		for key, cp := range entries {
			out = append(out, colorPriceDTO{Color: key, LineID: colorprice.LineID(key), Price: cp.Price, Stock: cp.Stock})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Color < out[j].Color })
		responses.WriteSuccess(w, out)
	}
}
