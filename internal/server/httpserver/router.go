package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/kvmesh/kvmesh-go/internal/server/httpserver/handler"
	"github.com/kvmesh/kvmesh-go/internal/telemetry/metric"
)

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	// Handler serves the API endpoints.
	Handler *handler.Handler

	// Metrics serves GET /metrics. Nil disables the endpoint.
	Metrics *metric.Set

	// Logger for request logging and panic recovery.
	Logger *slog.Logger
}

// NewRouter builds the full HTTP handler stack.
func NewRouter(cfg *RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	mux := http.NewServeMux()

	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", Chain(cfg.Metrics.Handler(),
			Recover(cfg.Logger)))
	}

	mux.Handle("/", Chain(cfg.Handler,
		RequestID(),
		Recover(cfg.Logger),
		RequestLog(cfg.Logger)))

	return mux
}
