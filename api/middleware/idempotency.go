package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/skewerpos-backend/api/responses"
	pkgerrors "github.com/angelmondragon/skewerpos-backend/pkg/errors"
	"github.com/angelmondragon/skewerpos-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/skewerpos-backend/pkg/redis"
)

const (
	idempotencyHeader = "Idempotency-Key"

	defaultIdempotencyTTL = 24 * time.Hour
	// payments are retried by tills that were offline, so they are remembered longer
	criticalIdempotencyTTL = 7 * 24 * time.Hour
)

type idempotentRoute struct {
	prefix string
	suffix string
	ttl    time.Duration
}

var idempotentRoutes = []idempotentRoute{
	{prefix: "/api/v1/terminals/", suffix: "/payments/cash", ttl: criticalIdempotencyTTL},
	{prefix: "/api/v1/terminals/", suffix: "/payments/qr", ttl: criticalIdempotencyTTL},
	{prefix: "/api/v1/orders/", suffix: "/reconcile", ttl: defaultIdempotencyTTL},
}

// storedResponse is the replayable copy of a completed request.
type storedResponse struct {
	Status      int    `json:"status"`
	Body        string `json:"body"`
	ContentType string `json:"content_type,omitempty"`
	RequestHash string `json:"request_hash"`
}

func (s storedResponse) replay(w http.ResponseWriter) {
	if s.ContentType != "" {
		w.Header().Set("Content-Type", s.ContentType)
	}
	w.Header().Set("Idempotent-Replay", "true")
	w.WriteHeader(s.Status)
	if body, err := base64.StdEncoding.DecodeString(s.Body); err == nil {
		_, _ = w.Write(body)
	}
}

// Idempotency replays the stored response when a payment request is retried
// with the same Idempotency-Key, and rejects a reused key with a new body.
// A nil store turns the middleware into a passthrough.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, ok := routeTTL(r.Method, routePattern(r))
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if clientKey == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, idempotencyHeader+" header required"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			hash := hashBody(body)
			key := store.IdempotencyKey(terminalScope(r), clientKey)

			previous, err := loadStoredResponse(ctx, store, key)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			if previous != nil {
				if previous.RequestHash != hash {
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
					return
				}
				previous.replay(w)
				return
			}

			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r)

			status := capture.status
			if status == 0 {
				status = http.StatusOK
			}
			// server failures stay retryable under the same key
			if status >= http.StatusInternalServerError {
				return
			}
			saveStoredResponse(ctx, logg, store, key, ttl, storedResponse{
				Status:      status,
				Body:        base64.StdEncoding.EncodeToString(capture.body.Bytes()),
				ContentType: capture.Header().Get("Content-Type"),
				RequestHash: hash,
			})
		})
	}
}

func loadStoredResponse(ctx context.Context, store pkgredis.IdempotencyStore, key string) (*storedResponse, error) {
	raw, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) || (err == nil && raw == "") {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency")
	}
	var stored storedResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record")
	}
	return &stored, nil
}

func saveStoredResponse(ctx context.Context, logg *logger.Logger, store pkgredis.IdempotencyStore, key string, ttl time.Duration, stored storedResponse) {
	payload, err := json.Marshal(stored)
	if err == nil {
		_, err = store.SetNX(ctx, key, string(payload), ttl)
	}
	if err != nil && logg != nil {
		logg.Error(ctx, "persist idempotency record", err)
	}
}

// terminalScope keeps keys from different tills apart even when a client reuses ids.
func terminalScope(r *http.Request) string {
	return strings.Join([]string{TerminalIDFromContext(r.Context()), r.Method, r.URL.Path}, "|")
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

func routeTTL(method, pattern string) (time.Duration, bool) {
	if method != http.MethodPost || pattern == "" {
		return 0, false
	}
	for _, route := range idempotentRoutes {
		if strings.HasPrefix(pattern, route.prefix) && strings.HasSuffix(pattern, route.suffix) {
			return route.ttl, true
		}
	}
	return 0, false
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}
