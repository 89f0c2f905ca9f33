package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/skewerpos-backend/api/controllers"
	"github.com/angelmondragon/skewerpos-backend/api/routes"
	"github.com/angelmondragon/skewerpos-backend/internal/cart"
	"github.com/angelmondragon/skewerpos-backend/internal/catalog"
	"github.com/angelmondragon/skewerpos-backend/internal/colorprice"
	"github.com/angelmondragon/skewerpos-backend/internal/detection"
	"github.com/angelmondragon/skewerpos-backend/internal/events"
	"github.com/angelmondragon/skewerpos-backend/internal/imageprep"
	"github.com/angelmondragon/skewerpos-backend/internal/orders"
	"github.com/angelmondragon/skewerpos-backend/internal/reconcile"
	"github.com/angelmondragon/skewerpos-backend/internal/settings"
	"github.com/angelmondragon/skewerpos-backend/internal/settlement"
	"github.com/angelmondragon/skewerpos-backend/internal/slips"
	"github.com/angelmondragon/skewerpos-backend/internal/workflow"
	"github.com/angelmondragon/skewerpos-backend/pkg/config"
	"github.com/angelmondragon/skewerpos-backend/pkg/db"
	"github.com/angelmondragon/skewerpos-backend/pkg/db/models"
	"github.com/angelmondragon/skewerpos-backend/pkg/logger"
	"github.com/angelmondragon/skewerpos-backend/pkg/metrics"
	"github.com/angelmondragon/skewerpos-backend/pkg/migrate"
	"github.com/angelmondragon/skewerpos-backend/pkg/pubsub"
	"github.com/angelmondragon/skewerpos-backend/pkg/redis"
	"github.com/angelmondragon/skewerpos-backend/pkg/storage/gcs"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, cfg.FeatureFlags.UseSQLite, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	readiness := map[string]controllers.Pinger{"db": dbClient}

	// redis is optional: without it payments skip replay protection and the
	// settlement lock is process-local.
	var (
		redisClient *redis.Client
		redisStore  routes.RedisStore
		locker      settlement.Locker
	)
	if cfg.Redis.Enabled() {
		redisClient, err = redis.New(ctx, cfg.Redis, logg)
		requireResource(ctx, logg, "redis", err)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
		redisStore = redisClient
		readiness["redis"] = redisClient
		redisLocker, err := settlement.NewRedisLocker(redisClient, cfg.Settlement.LockTTL, logg)
		requireResource(ctx, logg, "settlement lock", err)
		locker = redisLocker
	} else {
		readiness["redis"] = nil
		logg.Warn(ctx, "redis not configured; idempotency and rate limits disabled")
	}

	gcsClient, err := gcs.NewClient(ctx, cfg.GCS, cfg.GCP, logg)
	requireResource(ctx, logg, "gcs", err)
	defer func() {
		if err := gcsClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing gcs", err)
		}
	}()
	readiness["gcs"] = gcsClient

	var publisher *events.Publisher
	if cfg.PubSub.SettlementTopic != "" {
		psClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		requireResource(ctx, logg, "pubsub", err)
		defer func() {
			if err := psClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub", err)
			}
		}()
		readiness["pubsub"] = psClient
		publisher = events.NewPublisher(psClient.SettlementPublisher(), logg)
	} else {
		readiness["pubsub"] = nil
		logg.Warn(ctx, "pubsub settlement topic not configured; settlement events disabled")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	posMetrics := metrics.NewPosMetrics(registry)

	catalogRepo := catalog.NewRepository(dbClient.DB())
	resolver, err := colorprice.NewResolver(catalogRepo)
	requireResource(ctx, logg, "color price resolver", err)
	cartSvc, err := cart.NewService(catalogRepo, resolver)
	requireResource(ctx, logg, "cart service", err)
	orderSvc, err := orders.NewService(orders.NewRepository(dbClient.DB()), dbClient)
	requireResource(ctx, logg, "order service", err)
	reconciler, err := reconcile.NewReconciler(orderSvc, catalogRepo, logg, posMetrics)
	requireResource(ctx, logg, "stock reconciler", err)

	prep, err := imageprep.New(imageprep.OptionsFromConfig(cfg.Media), posMetrics)
	requireResource(ctx, logg, "image preprocessor", err)
	provider, err := detection.NewProvider(cfg.Detection)
	requireResource(ctx, logg, "detection provider", err)
	detector, err := detection.NewService(prep, provider, cfg.Detection.Timeout, logg)
	requireResource(ctx, logg, "detection service", err)

	slipStore, err := slips.NewStore(gcsClient, cfg.GCS.BucketName, cfg.GCS.SlipPrefix, cfg.Media.MaxUploadBytes(), logg)
	requireResource(ctx, logg, "slip store", err)

	deps := workflow.Deps{
		Cart:     cartSvc,
		Orders:   orderSvc,
		Settings: settings.NewRepository(dbClient.DB()),
		Detector: detector,
		Slips:    slipStore,
		NewEngine: func(order *models.Order) (*settlement.Engine, error) {
			return settlement.NewEngine(order, settlement.Deps{
				Orders:     orderSvc,
				Reconciler: reconciler,
				Locker:     locker,
				Logger:     logg,
				Metrics:    posMetrics,
				MaxPersons: cfg.Settlement.MaxPersons,
			})
		},
		Logger: logg,
	}
	if publisher.Enabled() {
		deps.Events = publisher
	}
	terminals, err := workflow.NewRegistry(deps)
	requireResource(ctx, logg, "workflow registry", err)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	logCtx := logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"detector": provider.Name(),
	})
	logg.Info(logCtx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Params{
			Config:     cfg,
			Logger:     logg,
			Gatherer:   registry,
			Redis:      redisStore,
			Readiness:  readiness,
			Catalog:    catalogRepo,
			Reconciler: reconciler,
			Terminals:  terminals,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(logCtx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logg.Info(logCtx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(logCtx, "graceful shutdown failed", err)
		}
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, "resource not working: "+resource, err)
	os.Exit(1)
}
