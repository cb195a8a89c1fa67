package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nerrad567/ledlocator/internal/auth"
	"github.com/nerrad567/ledlocator/internal/metrics"
	"github.com/nerrad567/ledlocator/internal/panel"
)

// healthControllerTimeout bounds the controller probe in /health.
const healthControllerTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID, requestIDHeader)
	r.Use(s.accessLog)
	r.Use(s.recoverPanics)
	r.Use(s.cors)
	r.Use(middleware.RequestSize(maxRequestBodySize))

	// Pick-station page
	r.Handle("/panel/*", http.StripPrefix("/panel", panel.Handler(s.cfg.PanelDir)))
	r.Handle("/panel", http.RedirectHandler("/panel/", http.StatusMovedPermanently))

	r.Route("/api/v1", func(r chi.Router) {
		// No auth required
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Method(http.MethodGet, "/metrics/prometheus", metrics.Handler())
		r.Post("/auth/login", s.handleLogin)

		// WebSocket authenticates with a ticket, validated in the handler.
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)
			r.Post("/auth/password", s.handleChangePassword)

			r.Route("/locations", func(r chi.Router) {
				r.Get("/", s.handleListLocations)
				r.With(s.requirePermission(auth.PermLocationManage)).Post("/", s.handleCreateLocation)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetLocation)
					r.With(s.requirePermission(auth.PermLocationManage)).Delete("/", s.handleDeleteLocation)
					r.Post("/locate", s.handleLocate)
				})
			})

			// LED management. Permission checks for off/register/unregister
			// happen in the locator so every entry point gets them.
			r.Route("/leds", func(r chi.Router) {
				r.Get("/", s.handleListLEDs)
				r.Post("/off", s.handleLEDsOff)

				r.Options("/register", s.handleRegisterMetadata)
				r.Get("/register", s.handleRegisterMetadata)
				r.Post("/register", s.handleRegister)
				r.Post("/register/{id}/{led}", s.handleRegisterPath)
				r.Post("/unregister/{id}", s.handleUnregister)
			})

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", s.handleListNotifications)
				r.Post("/{id}/read", s.handleMarkNotificationRead)
			})

			r.With(s.requirePermission(auth.PermLEDManage)).Get("/audit", s.handleListAuditLogs)

			r.Route("/users", func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermUserManage))
				r.Get("/", s.handleListUsers)
				r.Post("/", s.handleCreateUser)
				r.Get("/{id}", s.handleGetUser)
				r.Patch("/{id}", s.handleUpdateUser)
				r.Delete("/{id}", s.handleDeleteUser)
			})
		})
	})

	return r
}

// handleHealth returns the server health status. Controller details are
// best-effort: an unreachable or unconfigured controller does not make the
// service unhealthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"version": s.version,
	}

	if s.controller != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthControllerTimeout)
		defer cancel()

		info, err := s.controller.Info(ctx)
		if err != nil {
			resp["controller"] = map[string]any{"reachable": false, "error": err.Error()}
		} else {
			resp["controller"] = map[string]any{
				"reachable": true,
				"name":      info.Name,
				"version":   info.Version,
				"led_count": info.LEDCount,
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
