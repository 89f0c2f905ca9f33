package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/skewerpos-backend/internal/cart"
	"github.com/angelmondragon/skewerpos-backend/internal/detection"
	"github.com/angelmondragon/skewerpos-backend/internal/events"
	"github.com/angelmondragon/skewerpos-backend/internal/imageprep"
	"github.com/angelmondragon/skewerpos-backend/internal/orders"
	"github.com/angelmondragon/skewerpos-backend/internal/settings"
	"github.com/angelmondragon/skewerpos-backend/internal/settlement"
	"github.com/angelmondragon/skewerpos-backend/pkg/db/models"
	"github.com/angelmondragon/skewerpos-backend/pkg/logger"
)

type orderStore interface {
	Create(ctx context.Context, draft orders.Draft) (*models.Order, error)
	Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
}

type qrSettings interface {
	QRAssets(ctx context.Context) (*settings.QRAssets, error)
}

type detector interface {
	Detect(ctx context.Context, photo imageprep.File) (*detection.Result, error)
}

type slipStore interface {
	Upload(ctx context.Context, data []byte) (settlement.Slip, error)
	Delete(ctx context.Context, slip settlement.Slip) error
}

type eventPublisher interface {
	PublishOrderSettled(ctx context.Context, evt events.OrderSettled) error
}

// EngineFactory starts settlement for a newly created order.
type EngineFactory func(order *models.Order) (*settlement.Engine, error)

// Deps are shared by every terminal session.
type Deps struct {
	Cart      cart.Service
	Orders    orderStore
	Settings  qrSettings
	Detector  detector
	Slips     slipStore
	Events    eventPublisher
	NewEngine EngineFactory
	Logger    *logger.Logger
	Now       func() time.Time
}

func (d *Deps) validate() error {
	switch {
	case d.Cart == nil:
		return fmt.Errorf("cart service required")
	case d.Orders == nil:
		return fmt.Errorf("order store required")
	case d.Settings == nil:
		return fmt.Errorf("settings store required")
	case d.Detector == nil:
		return fmt.Errorf("detector required")
	case d.Slips == nil:
		return fmt.Errorf("slip store required")
	case d.NewEngine == nil:
		return fmt.Errorf("settlement engine factory required")
	case d.Logger == nil:
		return fmt.Errorf("logger required")
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	return nil
}
