/**
 * @description
 * This file sets up the HTTP router for the tipping-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS support for the browser frontend.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Routes creates and returns the router for the tipping service.
func Routes(h *TipHandlers, webhook *WebhookHandler, jwksURL string, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Public endpoints: the tip payment flow and page/cause read views are
	// reachable without authentication, since supporters are anonymous.
	r.Post("/tips", h.CreateTipHandler)
	r.Get("/tips/{id}/status", h.GetTipStatusHandler)
	r.Get("/pages/{username}", h.GetPageHandler)
	r.Get("/pages/{username}/stats", h.GetPageStatsHandler)
	r.Get("/pages/{username}/tips", h.GetPageTipsHandler)
	r.Get("/causes", h.ListCausesHandler)
	r.Get("/causes/{id}", h.GetCauseHandler)

	// Gateway webhook: authenticated by HMAC signature, not bearer tokens.
	r.Post("/webhooks/zbd", webhook.ServeHTTP)

	// Group routes that require creator authentication.
	r.Group(func(r chi.Router) {
		r.Use(CreatorAuthMiddleware(jwksURL))

		r.Post("/pages", h.CreatePageHandler)
		r.Put("/pages/{username}", h.UpdatePageHandler)
		r.Post("/causes", h.CreateCauseHandler)
	})

	return r
}
