package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/skewerpos-backend/api/controllers"
	"github.com/angelmondragon/skewerpos-backend/internal/cart"
	"github.com/angelmondragon/skewerpos-backend/internal/catalog"
	"github.com/angelmondragon/skewerpos-backend/internal/colorprice"
	"github.com/angelmondragon/skewerpos-backend/internal/detection"
	"github.com/angelmondragon/skewerpos-backend/internal/imageprep"
	"github.com/angelmondragon/skewerpos-backend/internal/orders"
	"github.com/angelmondragon/skewerpos-backend/internal/reconcile"
	"github.com/angelmondragon/skewerpos-backend/internal/settings"
	"github.com/angelmondragon/skewerpos-backend/internal/settlement"
	"github.com/angelmondragon/skewerpos-backend/internal/workflow"
	"github.com/angelmondragon/skewerpos-backend/pkg/config"
	"github.com/angelmondragon/skewerpos-backend/pkg/db"
	"github.com/angelmondragon/skewerpos-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/skewerpos-backend/pkg/errors"
	"github.com/angelmondragon/skewerpos-backend/pkg/logger"
	"github.com/angelmondragon/skewerpos-backend/pkg/metrics"
	"github.com/angelmondragon/skewerpos-backend/pkg/migrate"
)

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(context.Context) error {
	return s.err
}

type stubDetector struct{}

func (stubDetector) Detect(context.Context, imageprep.File) (*detection.Result, error) {
	return &detection.Result{Counts: map[string]int{"red": 2}}, nil
}

type stubSlips struct{}

func (stubSlips) Upload(_ context.Context, data []byte) (settlement.Slip, error) {
	return settlement.Slip{ID: uuid.New(), FileRef: "slips/x.png", SizeBytes: int64(len(data))}, nil
}

func (stubSlips) Delete(context.Context, settlement.Slip) error {
	return nil
}

type fakeRedis struct {
	mu     sync.Mutex
	data   map[string]string
	counts map[string]int64
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, counts: map[string]int64{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key] = fmt.Sprint(value)
	return true, nil
}

func (f *fakeRedis) IdempotencyKey(scope, id string) string {
	return "idem:" + scope + ":" + id
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func (f *fakeRedis) IncrWithTTL(_ context.Context, key string, _ time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[key]++
	return f.counts[key], nil
}

func (f *fakeRedis) RateLimitKey(scope string) string {
	return "rl:" + scope
}

type testServer struct {
	handler http.Handler
	catalog *catalog.Repository
	porkID  uuid.UUID
}

func newTestServer(t *testing.T, redisStore RedisStore, readiness map[string]controllers.Pinger) *testServer {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	client := db.Wrap(conn)
	require.NoError(t, migrate.AutoMigrateModels(client))

	pork := models.Product{ID: uuid.New(), Name: "Pork skewer", Price: decimal.RequireFromString("15.00"), Stock: 10, IsActive: true, Version: 1}
	require.NoError(t, conn.Create(&pork).Error)
	require.NoError(t, conn.Create(&models.ColorPrice{ColorKey: "red", Price: decimal.RequireFromString("5.00"), Stock: 30, Version: 1}).Error)

	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	reg := prometheus.NewRegistry()
	posMetrics := metrics.NewPosMetrics(reg)

	catalogRepo := catalog.NewRepository(conn)
	resolver, err := colorprice.NewResolver(catalogRepo)
	require.NoError(t, err)
	cartSvc, err := cart.NewService(catalogRepo, resolver)
	require.NoError(t, err)
	orderSvc, err := orders.NewService(orders.NewRepository(conn), client)
	require.NoError(t, err)
	reconciler, err := reconcile.NewReconciler(orderSvc, catalogRepo, logg, posMetrics)
	require.NoError(t, err)

	registry, err := workflow.NewRegistry(workflow.Deps{
		Cart:     cartSvc,
		Orders:   orderSvc,
		Settings: settings.NewRepository(conn),
		Detector: stubDetector{},
		Slips:    stubSlips{},
		NewEngine: func(order *models.Order) (*settlement.Engine, error) {
			return settlement.NewEngine(order, settlement.Deps{
				Orders:     orderSvc,
				Reconciler: reconciler,
				Logger:     logg,
				Metrics:    posMetrics,
				MaxPersons: 20,
			})
		},
		Logger: logg,
	})
	require.NoError(t, err)

	cfg := &config.Config{
		App:        config.AppConfig{Env: "test"},
		Media:      config.MediaConfig{MaxUploadMB: 1},
		Settlement: config.SettlementConfig{MaxPersons: 20},
		RateLimit:  config.RateLimitConfig{DetectionWindow: time.Minute, DetectionTerminalLimit: 1},
	}

	return &testServer{
		handler: NewRouter(Params{
			Config:     cfg,
			Logger:     logg,
			Gatherer:   reg,
			Redis:      redisStore,
			Readiness:  readiness,
			Catalog:    catalogRepo,
			Reconciler: reconciler,
			Terminals:  registry,
		}),
		catalog: catalogRepo,
		porkID:  pork.ID,
	}
}

func (s *testServer) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope), rec.Body.String())
	require.NoError(t, json.Unmarshal(envelope.Data, dest))
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope), rec.Body.String())
	return envelope.Error.Code
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t, nil, map[string]controllers.Pinger{
		"db":    stubPinger{},
		"redis": nil,
	})

	rec := s.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test", rec.Header().Get("X-SkewerPOS-Env"))

	rec = s.do(t, http.MethodGet, "/health/ready", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ready struct {
		Checks map[string]string `json:"checks"`
	}
	decodeData(t, rec, &ready)
	assert.Equal(t, "ok", ready.Checks["db"])
	assert.Equal(t, "disabled", ready.Checks["redis"])

	failing := newTestServer(t, nil, map[string]controllers.Pinger{"db": stubPinger{err: errors.New("down")}})
	rec = failing.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCatalogAndSplitEndpoints(t *testing.T) {
	s := newTestServer(t, nil, nil)

	rec := s.do(t, http.MethodGet, "/api/v1/catalog/products", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var products []struct {
		ID   uuid.UUID `json:"id"`
		Name string    `json:"name"`
	}
	decodeData(t, rec, &products)
	require.Len(t, products, 1)
	assert.Equal(t, s.porkID, products[0].ID)

	rec = s.do(t, http.MethodGet, "/api/v1/catalog/color-prices", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"line_id":"color-red"`)

	rec = s.do(t, http.MethodGet, "/api/v1/billing/split?total=100&persons=3", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var split struct {
		Shares []decimal.Decimal `json:"shares"`
	}
	decodeData(t, rec, &split)
	require.Len(t, split.Shares, 3)
	assert.Equal(t, "33.34", split.Shares[0].StringFixed(2))
	assert.Equal(t, "33.33", split.Shares[2].StringFixed(2))

	rec = s.do(t, http.MethodGet, "/api/v1/billing/split?total=100&persons=0", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCashSettlementOverHTTP(t *testing.T) {
	store := newFakeRedis()
	s := newTestServer(t, store, nil)
	base := "/api/v1/terminals/till-1"

	rec := s.do(t, http.MethodPost, base+"/cart/items", fmt.Sprintf(`{"product_id":%q,"quantity":2}`, s.porkID), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, base+"/cart/items", `{"color":"แดง","quantity":2}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, base+"/step", `{"step":"billing","discount_percent":"0"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var snap workflow.Snapshot
	decodeData(t, rec, &snap)
	require.NotNil(t, snap.Billing)
	assert.Equal(t, "40.00", snap.Billing.Total.StringFixed(2))

	rec = s.do(t, http.MethodPost, base+"/cart/items", `{"color":"red","quantity":1}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(t, http.MethodPost, base+"/payments/cash", `{"received":"50"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing idempotency key")

	headers := map[string]string{"Idempotency-Key": "pay-1"}
	rec = s.do(t, http.MethodPost, base+"/payments/cash", `{"received":"50"}`, headers)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := rec.Body.String()
	var result struct {
		Change  decimal.Decimal   `json:"change"`
		Settled bool              `json:"settled"`
		Snap    workflow.Snapshot `json:"snapshot"`
	}
	decodeData(t, rec, &result)
	assert.True(t, result.Settled)
	assert.Equal(t, "10.00", result.Change.StringFixed(2))
	assert.Equal(t, "selection", string(result.Snap.Step))

	rec = s.do(t, http.MethodPost, base+"/payments/cash", `{"received":"50"}`, headers)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, first, rec.Body.String())

	pork, err := s.catalog.Get(context.Background(), s.porkID)
	require.NoError(t, err)
	assert.Equal(t, 8, pork.Stock)

	orderID := result.Snap.LastSettlement.OrderID
	rec = s.do(t, http.MethodPost, "/api/v1/orders/"+orderID.String()+"/reconcile", "", map[string]string{"Idempotency-Key": "rec-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report struct {
		Complete bool `json:"complete"`
		Report   struct {
			Reconciled []string `json:"reconciled"`
			Skipped    []string `json:"skipped"`
		} `json:"report"`
	}
	decodeData(t, rec, &report)
	assert.True(t, report.Complete)
	assert.Empty(t, report.Report.Reconciled)
	assert.Len(t, report.Report.Skipped, 2)

	rec = s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pos_orders_settled_total 1")
}

func TestDetectionUploadAndRateLimit(t *testing.T) {
	store := newFakeRedis()
	s := newTestServer(t, store, nil)
	base := "/api/v1/terminals/till-9"

	rec := s.do(t, http.MethodPost, base+"/cart/items", `{"color":"red","quantity":1}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = s.do(t, http.MethodPost, base+"/step", `{"step":"detection"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	upload := func() *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, err := mw.CreateFormFile("image", "tray.jpg")
		require.NoError(t, err)
		_, _ = part.Write([]byte("jpeg-bytes"))
		require.NoError(t, mw.Close())
		req := httptest.NewRequest(http.MethodPost, base+"/detection", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, req)
		return rec
	}

	rec = upload()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var snap workflow.Snapshot
	decodeData(t, rec, &snap)
	require.NotNil(t, snap.Detection)
	assert.Equal(t, 2, snap.Detection.Counts["red"])

	rec = upload()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeRateLimit), errorCode(t, rec))

	rec = s.do(t, http.MethodPost, base+"/detection/apply", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeData(t, rec, &snap)
	require.Len(t, snap.Cart, 1)
	assert.Equal(t, 3, snap.Cart[0].Quantity)
}

func TestTerminalValidation(t *testing.T) {
	s := newTestServer(t, nil, nil)

	rec := s.do(t, http.MethodGet, "/api/v1/terminals/bad%20id", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/terminals/till-1/step", `{"step":"billing"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "empty cart cannot advance")

	rec = s.do(t, http.MethodPost, "/api/v1/terminals/till-1/step", `{"step":"checkout"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// no redis configured: payments run without a key
	rec = s.do(t, http.MethodPost, "/api/v1/terminals/till-1/payments/qr", "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
