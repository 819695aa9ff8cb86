/**
 * @description
 * This file sets up the HTTP router for the lifecycle engine. It defines the
 * API endpoints, associates them with their handlers, and applies middleware
 * for logging, CORS, authentication, and rate limiting.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for browser clients.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/appdotbuilder/iklan-baris-online/internal/app"
	"github.com/appdotbuilder/iklan-baris-online/internal/config"
)

// NewRouter creates a new Chi router and registers the lifecycle routes.
func NewRouter(h *Handlers, cfg config.Config, limiter *app.RedisRateLimiter) *chi.Mux {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Public gateway callback. Midtrans authenticates with the payload
	// signature, not a bearer token, so the route stays outside the auth
	// group and is rate limited by source address instead.
	r.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(limiter, "midtrans_callback", cfg.CallbackRateLimitPerMinute, time.Minute, remoteAddrSubject))
		r.Post("/callbacks/midtrans", h.MidtransCallbackHandler)
	})

	// Public engagement counters hit by the listing frontend.
	r.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(limiter, "ad_tracking", cfg.CallbackRateLimitPerMinute, time.Minute, remoteAddrSubject))
		r.Post("/ads/{adID}/track-view", h.TrackAdViewHandler)
		r.Post("/ads/{adID}/track-contact", h.TrackAdContactHandler)
	})

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWKSURL))

		r.Post("/payments/membership", h.CreateMembershipPaymentHandler)
		r.Post("/payments/boost", h.CreateBoostPaymentHandler)

		r.Get("/membership/status", h.MembershipStatusHandler)
		r.Get("/statistics", h.UserStatisticsHandler)

		// Quota mutations get a tighter per-user limit.
		r.Group(func(r chi.Router) {
			r.Use(RateLimitMiddleware(limiter, "quota", cfg.QuotaRateLimitPerMinute, time.Minute, authUserSubject))
			r.Post("/quota/ads/consume", h.ConsumeAdQuotaHandler)
			r.Post("/ads/{adID}/boost-with-credit", h.BoostAdWithCreditHandler)
		})
	})

	// Service-to-service routes guarded by the shared internal key.
	r.Group(func(r chi.Router) {
		r.Use(InternalAPIKeyMiddleware(cfg.InternalAPIKey))
		r.Post("/internal/payments/{paymentID}/refund", h.RefundPaymentHandler)
	})

	return r
}
