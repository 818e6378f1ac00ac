// Package www is the terminal's HTTP surface: a JSON API plus SSE stream
// consumed by the register front-end and the back-office operator screens.
package www

import (
	"net/http"

	"tillsync/engine"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	engine   *engine.Engine
	sessions *sessionStore
	eventHub *EventHub
}

// NewRouter creates the chi router and returns it along with a stop function.
func NewRouter(eng *engine.Engine) (http.Handler, func()) {
	h := &Handlers{
		engine:   eng,
		sessions: newSessionStore(eng.AppConfig().Web.SessionSecret),
		eventHub: NewEventHub(),
	}

	h.eventHub.Start()
	h.eventHub.SetupEngineListeners(eng)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// SSE (no auth — register front-end)
	r.Get("/events", h.eventHub.HandleSSE)

	// Login/logout
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)

	r.Route("/api", func(r chi.Router) {
		// Public API (register actions and reads)
		r.Get("/status", h.apiStatus)

		r.Post("/orders", h.apiSubmitOrder)
		r.Post("/payments", h.apiSubmitPayment)
		r.Post("/stock-movements", h.apiSubmitStockMovement)

		r.Get("/queue", h.apiListQueue)
		r.Get("/queue/counts", h.apiQueueCounts)

		r.Get("/catalog/status", h.apiCatalogStatus)
		r.Get("/catalog/{domain}", h.apiListCatalog)
		r.Get("/catalog/{domain}/{id}", h.apiGetCatalogEntry)
		r.Get("/catalog/{domain}/lookup/{key}", h.apiLookupCatalogEntry)

		r.Get("/reports/{type}", h.apiGetReport)

		r.Get("/sessions", h.apiListSessions)
		r.Get("/sessions/current", h.apiCurrentSession)

		r.Get("/lan/status", h.apiLANStatus)
		r.Post("/lan/{type}", h.apiPublishLAN)

		// Admin API (operator decisions and manual triggers)
		r.Group(func(r chi.Router) {
			r.Use(h.adminMiddleware)

			r.Post("/queue/{id}/retry", h.apiRetryQueueItem)
			r.Delete("/queue/{id}", h.apiRemoveQueueItem)

			r.Get("/conflicts", h.apiListConflicts)
			r.Get("/conflicts/{id}/diff", h.apiConflictDiff)
			r.Post("/conflicts/{id}/resolve", h.apiResolveConflict)

			r.Post("/sync", h.apiSyncNow)
			r.Post("/catalog/sync", h.apiSyncCatalog)
			r.Post("/reports/refresh", h.apiRefreshReports)

			r.Post("/config/password", h.apiChangePassword)
		})
	})

	return r, func() {
		h.eventHub.Stop()
	}
}

func (h *Handlers) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := h.sessions.operator(r)
		if !ok {
			respondError(w, http.StatusUnauthorized, "login required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
