package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// healthCheckTimeout bounds each dependency check in /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/system", s.handleSystem)

		r.Route("/nodes", func(r chi.Router) {
			r.Get("/", s.handleListNodes)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetNode)
				r.Get("/latest", s.handleLatestReading)
				r.Post("/pump", s.handlePump)
			})
		})

		r.Get("/readings", s.handleListReadings)
		r.Get("/commands", s.handleListCommands)

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.handleListRules)
			r.Post("/", s.handleCreateRule)

			r.Route("/{ruleID}", func(r chi.Router) {
				r.Get("/", s.handleGetRule)
				r.Put("/", s.handleUpdateRule)
				r.Delete("/", s.handleDeleteRule)
			})
		})
		r.Get("/pumps", s.handleListPumps)

		r.Get("/ws", s.handleWebSocket)
	})

	if s.dashboard != nil {
		r.Handle("/*", s.dashboard)
	}

	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})

	return r
}

// handleHealth reports the gateway version and the state of each dependency.
// Any failing check turns the response into 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	checks := make(map[string]string, len(s.checks)+1)

	mqttConnected := s.publisher != nil && s.publisher.IsConnected()
	if s.publisher != nil && !mqttConnected {
		status = "degraded"
	}

	for _, c := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := c.Check(ctx)
		cancel()
		if err != nil {
			checks[c.Name] = err.Error()
			status = "degraded"
			continue
		}
		checks[c.Name] = "ok"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":         status,
		"version":        s.version,
		"mqtt_connected": mqttConnected,
		"checks":         checks,
	})
}
