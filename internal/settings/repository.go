package settings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/skewerpos-backend/internal/repo"
	"github.com/angelmondragon/skewerpos-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/skewerpos-backend/pkg/errors"
)

const (
	KeyQRLabel    = "qr_label"
	KeyQRImageURL = "qr_image_url"
)

// QRAssets are shown to the customer when paying by transfer.
type QRAssets struct {
	Label    string `json:"label"`
	ImageURL string `json:"image_url"`
}

// Repository reads and writes pos_settings rows.
type Repository struct {
	repo.Base
}

// NewRepository binds the settings store to a gorm connection.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// Values loads the requested keys; missing keys are absent from the result.
func (r *Repository) Values(ctx context.Context, keys ...string) (map[string]string, error) {
	var rows []models.PosSetting
	if err := r.DB(ctx).Where("key IN ?", keys).Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load settings")
	}
	out := make(map[string]string, len(rows))
	for _, row := range rows {
		out[row.Key] = row.Value
	}
	return out, nil
}

// Set upserts a single setting.
func (r *Repository) Set(ctx context.Context, key, value string) error {
	if strings.TrimSpace(key) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "setting key is required")
	}
	row := models.PosSetting{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	err := r.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save setting")
	}
	return nil
}

// QRAssets returns the transfer label and image. Both must be configured.
func (r *Repository) QRAssets(ctx context.Context) (*QRAssets, error) {
	values, err := r.Values(ctx, KeyQRLabel, KeyQRImageURL)
	if err != nil {
		return nil, err
	}
	assets := &QRAssets{
		Label:    strings.TrimSpace(values[KeyQRLabel]),
		ImageURL: strings.TrimSpace(values[KeyQRImageURL]),
	}
	if assets.Label == "" || assets.ImageURL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("qr payment settings %s and %s are not configured", KeyQRLabel, KeyQRImageURL))
	}
	return assets, nil
}
