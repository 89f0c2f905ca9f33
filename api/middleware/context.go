package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/skewerpos-backend/pkg/logger"
)

type contextKey string

const (
	ctxTerminalID contextKey = "terminal_id"

	// TerminalIDParam is the chi URL parameter naming the terminal.
	TerminalIDParam = "terminalId"
)

func TerminalIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxTerminalID).(string); ok {
		return v
	}
	return ""
}

// WithTerminalID injects the terminal identifier into the context.
func WithTerminalID(ctx context.Context, terminalID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxTerminalID, terminalID)
}

// TerminalContext copies the {terminalId} URL parameter into the request
// context and the log fields so downstream middleware can scope by terminal.
func TerminalContext(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			terminalID := strings.TrimSpace(chi.URLParam(r, TerminalIDParam))
			if terminalID == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := WithTerminalID(r.Context(), terminalID)
			if logg != nil {
				ctx = logg.WithTerminalID(ctx, terminalID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
