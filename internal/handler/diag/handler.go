// Package diag serves the engine's diagnostics surface: pool, router and
// bridge snapshots as JSON.
package diag

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/webitel/im-connect/internal/domain/pool"
	"github.com/webitel/im-connect/internal/domain/routing"
	"github.com/webitel/im-connect/internal/service"
)

type Handler struct {
	logger  *slog.Logger
	pool    pool.Manager
	router  routing.Router
	bridge  *service.CacheBridge
	started time.Time
}

func NewHandler(logger *slog.Logger, mgr pool.Manager, router routing.Router, bridge *service.CacheBridge) *Handler {
	return &Handler{
		logger:  logger,
		pool:    mgr,
		router:  router,
		bridge:  bridge,
		started: time.Now(),
	}
}

// Routes builds the chi mux for the diagnostics listener.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/healthz", h.healthz)
	r.Get("/stats", h.stats)
	return r
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	h.respond(w, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	records := h.pool.Records()
	h.respond(w, map[string]any{
		"pool":        h.pool.Stats(),
		"connections": records,
		"router":      h.router.Metrics(),
		"bridge":      h.bridge.Stats(),
	})
}

func (h *Handler) respond(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Warn("diag response failed", "error", err)
	}
}
