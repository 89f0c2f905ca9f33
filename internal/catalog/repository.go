package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/skewerpos-backend/internal/repo"
	"github.com/angelmondragon/skewerpos-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/skewerpos-backend/pkg/errors"
)

// ProductPatch lists the product fields an update may change. A non-nil
// ExpectedVersion makes the write conditional on the stored version.
type ProductPatch struct {
	Name            *string
	Price           *decimal.Decimal
	Stock           *int
	IsActive        *bool
	ExpectedVersion *int
}

// Repository persists catalog products and color prices.
type Repository struct {
	repo.Base
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// List returns the active products ordered by name.
func (r *Repository) List(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	if err := r.DB(ctx).
		Where("is_active = ?", true).
		Order("name ASC").
		Find(&products).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list products")
	}
	return products, nil
}

// Get loads a single product.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	if err := r.DB(ctx).First(&product, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	return &product, nil
}

// Update applies patch and bumps the product version.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, patch ProductPatch) (*models.Product, error) {
	updates := map[string]any{
		"version":    gorm.Expr("version + 1"),
		"updated_at": time.Now().UTC(),
	}
	if patch.Name != nil {
		updates["name"] = *patch.Name
	}
	if patch.Price != nil {
		if patch.Price.IsNegative() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "price must be non-negative")
		}
		updates["price"] = patch.Price.Round(2)
	}
	if patch.Stock != nil {
		if *patch.Stock < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "stock must be non-negative")
		}
		updates["stock"] = *patch.Stock
	}
	if patch.IsActive != nil {
		updates["is_active"] = *patch.IsActive
	}

	query := r.DB(ctx).Model(&models.Product{}).Where("id = ?", id)
	if patch.ExpectedVersion != nil {
		query = query.Where("version = ?", *patch.ExpectedVersion)
	}
	res := query.Updates(updates)
	if res.Error != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update product")
	}
	if res.RowsAffected == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "product was modified concurrently").
			WithDetails(map[string]any{"product_id": id.String()})
	}
	return r.Get(ctx, id)
}

// ColorPrices returns every color price keyed by canonical color key.
func (r *Repository) ColorPrices(ctx context.Context) (map[string]models.ColorPrice, error) {
	var rows []models.ColorPrice
	if err := r.DB(ctx).Order("color_key ASC").Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load color prices")
	}
	out := make(map[string]models.ColorPrice, len(rows))
	for _, row := range rows {
		out[row.ColorKey] = row
	}
	return out, nil
}

// SetColorPrices writes every entry in one transaction. Existing rows are only
// replaced when the entry's Version matches the stored version; new keys are
// inserted at version 1. Any mismatch rolls back the whole batch.
func (r *Repository) SetColorPrices(ctx context.Context, entries map[string]models.ColorPrice) error {
	for key, entry := range entries {
		if entry.Price.IsNegative() || entry.Stock < 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("color %q has negative price or stock", key))
		}
	}

	err := r.DB(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		for key, entry := range entries {
			res := tx.Model(&models.ColorPrice{}).
				Where("color_key = ? AND version = ?", key, entry.Version).
				Updates(map[string]any{
					"price":      entry.Price.Round(2),
					"stock":      entry.Stock,
					"version":    gorm.Expr("version + 1"),
					"updated_at": now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 1 {
				continue
			}

			var count int64
			if err := tx.Model(&models.ColorPrice{}).Where("color_key = ?", key).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("color %q was modified concurrently", key)).
					WithDetails(map[string]any{"color_key": key})
			}
			row := models.ColorPrice{
				ColorKey:  key,
				Price:     entry.Price.Round(2),
				Stock:     entry.Stock,
				Version:   1,
				UpdatedAt: now,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		return nil
	}
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save color prices")
}
