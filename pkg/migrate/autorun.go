package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/skewerpos-backend/pkg/config"
	"github.com/angelmondragon/skewerpos-backend/pkg/db"
	"github.com/angelmondragon/skewerpos-backend/pkg/db/models"
	"github.com/angelmondragon/skewerpos-backend/pkg/logger"
)

// SchemaModels lists every table the POS writes, in dependency order.
func SchemaModels() []any {
	return []any{
		&models.Product{},
		&models.ColorPrice{},
		&models.Order{},
		&models.OrderItem{},
		&models.OrderPayment{},
		&models.PaymentSlip{},
		&models.PosSetting{},
	}
}

// MaybeRunDev executes migrations automatically when the app is running in dev mode and
// the feature flag is enabled. SQLite terminals always get their schema from the models.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if client.Dialect() == db.DialectSQLite {
		ctx = logg.WithFields(ctx, map[string]any{"dialect": client.Dialect()})
		logg.Info(ctx, "auto-migrating sqlite schema")
		return AutoMigrateModels(client)
	}

	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	meta := map[string]any{"env": cfg.App.Env, "dir": DefaultDir}
	ctx = logg.WithFields(ctx, meta)
	logg.Info(ctx, "running Goose migrations (dev auto-run)")

	if err := Run(ctx, sqlDB, DefaultDir, "up"); err != nil {
		return fmt.Errorf("running goose up: %w", err)
	}

	logg.Info(ctx, "Goose migrations completed")
	return nil
}

// AutoMigrateModels creates or widens the schema straight from the gorm models.
func AutoMigrateModels(client *db.Client) error {
	if client == nil {
		return fmt.Errorf("db client required")
	}
	if err := client.DB().AutoMigrate(SchemaModels()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
