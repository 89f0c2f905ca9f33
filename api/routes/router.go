package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/skewerpos-backend/api/controllers"
	billingcontrollers "github.com/angelmondragon/skewerpos-backend/api/controllers/billing"
	ordercontrollers "github.com/angelmondragon/skewerpos-backend/api/controllers/orders"
	terminalcontrollers "github.com/angelmondragon/skewerpos-backend/api/controllers/terminals"
	"github.com/angelmondragon/skewerpos-backend/api/middleware"
	"github.com/angelmondragon/skewerpos-backend/pkg/config"
	"github.com/angelmondragon/skewerpos-backend/pkg/logger"
	"github.com/angelmondragon/skewerpos-backend/pkg/redis"
)

// RedisStore is the redis surface the HTTP layer uses for idempotency and
// rate limiting.
type RedisStore interface {
	redis.IdempotencyStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	RateLimitKey(scope string) string
}

// Params collects everything the router serves. Redis may be nil, which
// turns idempotency replay and rate limiting off.
type Params struct {
	Config     *config.Config
	Logger     *logger.Logger
	Gatherer   prometheus.Gatherer
	Redis      RedisStore
	Readiness  map[string]controllers.Pinger
	Catalog    controllers.CatalogReader
	Reconciler ordercontrollers.Reconciler
	Terminals  terminalcontrollers.Registry
}

func NewRouter(p Params) http.Handler {
	cfg, logg := p.Config, p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.CORS.AllowedOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.Readiness))
	})

	if p.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(p.Gatherer, promhttp.HandlerOpts{}))
	}

	var idempotencyStore redis.IdempotencyStore
	if p.Redis != nil {
		idempotencyStore = p.Redis
	}
	idempotent := middleware.Idempotency(idempotencyStore, logg)
	detectionLimit := middleware.RateLimit(middleware.NewRateLimitPolicy(
		"detection",
		cfg.RateLimit.DetectionWindow,
		cfg.RateLimit.DetectionTerminalLimit,
		cfg.RateLimit.DetectionIPLimit,
	), p.Redis, logg)

	terminals := terminalcontrollers.NewHandlers(p.Terminals, logg, cfg.Media.MaxUploadBytes())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/catalog", func(r chi.Router) {
			r.Get("/products", controllers.CatalogProducts(p.Catalog, logg))
			r.Get("/color-prices", controllers.CatalogColorPrices(p.Catalog, logg))
		})

		r.Get("/billing/split", billingcontrollers.Split(cfg.Settlement.MaxPersons, logg))

		r.Route("/orders/{orderId}", func(r chi.Router) {
			r.With(idempotent).Post("/reconcile", ordercontrollers.Reconcile(p.Reconciler, logg))
		})

		r.Route("/terminals/{"+middleware.TerminalIDParam+"}", func(r chi.Router) {
			r.Use(middleware.TerminalContext(logg))

			r.Get("/", terminals.Snapshot)
			r.Post("/step", terminals.Transition)

			r.Route("/cart", func(r chi.Router) {
				r.Delete("/", terminals.ClearCart)
				r.Post("/items", terminals.AddItem)
				r.Patch("/items/{itemId}", terminals.UpdateItem)
				r.Delete("/items/{itemId}", terminals.RemoveItem)
			})

			r.Route("/detection", func(r chi.Router) {
				r.With(detectionLimit).Post("/", terminals.Detect)
				r.Put("/counts", terminals.SetDetectionCounts)
				r.Post("/apply", terminals.ApplyDetection)
			})

			r.Put("/split", terminals.SetSplit)

			r.Post("/slips", terminals.UploadSlip)
			r.Delete("/slips/{slipId}", terminals.RemoveSlip)

			r.Route("/payments", func(r chi.Router) {
				r.With(idempotent).Post("/cash", terminals.PayCash)
				r.With(idempotent).Post("/qr", terminals.PayQR)
			})
		})
	})

	return r
}
