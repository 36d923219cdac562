package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// SetupControlRouter serves the session control API, discovery and metrics.
func SetupControlRouter(h *APIHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	route := func(pattern string, fn http.HandlerFunc) http.Handler {
		return h.metrics.WrapHandler(pattern, fn)
	}

	r.Get("/healthz", h.HandleHealth)
	r.Handle("/metrics", h.metrics.Handler())
	r.Method(http.MethodPost, "/auth/token", route("/auth/token", h.auth.HandleToken))

	r.Group(func(r chi.Router) {
		// --> Apply Authentication Middleware to the control endpoints <--
		r.Use(h.auth.Middleware)

		r.Method(http.MethodGet, "/devices", route("/devices", h.HandleDevices))
		r.Method(http.MethodGet, "/sessions", route("/sessions", h.HandleListSessions))
		r.Method(http.MethodGet, "/sessions/{id}", route("/sessions/{id}", h.HandleSessionStatus))
		r.Method(http.MethodGet, "/sessions/{id}/window", route("/sessions/{id}/window", h.HandleWindow))
		r.Method(http.MethodGet, "/alerts", route("/alerts", h.HandleAlerts))

		r.Group(func(r chi.Router) {
			r.Use(h.auth.RequireOperator)
			r.Method(http.MethodPut, "/sessions", route("/sessions", h.HandleAssign))
			r.Method(http.MethodPost, "/sessions/monitor", route("/sessions/monitor", h.HandleStartMonitor()))
			r.Method(http.MethodPost, "/sessions/record", route("/sessions/record", h.HandleStartRecord()))
			r.Method(http.MethodPost, "/sessions/stop", route("/sessions/stop", h.HandleStop()))
		})
	})

	return r
}

// SetupUIRouter serves the live websocket feed. The upgrade handler is not
// instrumented; it needs the raw ResponseWriter to hijack.
func SetupUIRouter(h *APIHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.HandleHealth)
	r.Get("/ws", h.HandleWebSocket)

	return r
}
