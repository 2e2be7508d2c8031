package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/halcyonwell/booking-widget/internal/http/handlers"
	httpmiddleware "github.com/halcyonwell/booking-widget/internal/http/middleware"
	"github.com/halcyonwell/booking-widget/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Widget             *handlers.WidgetHandler
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// RateLimitPerSecond throttles the widget API per session; zero
	// disables throttling.
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.Session)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints (health checks, metrics)
	r.Group(func(public chi.Router) {
		public.Get("/health", cfg.Widget.Health)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Widget API, scoped to the visitor's session
	r.Route("/api/widget", func(api chi.Router) {
		if cfg.RateLimitPerSecond > 0 {
			burst := cfg.RateLimitBurst
			if burst <= 0 {
				burst = 10
			}
			api.Use(httpmiddleware.RateLimit(cfg.RateLimitPerSecond, burst))
		}

		api.Get("/services", cfg.Widget.ListServices)
		api.Get("/state", cfg.Widget.GetState)
		api.Post("/commands", cfg.Widget.Dispatch)
		api.Get("/dates", cfg.Widget.Dates)
		api.Get("/times", cfg.Widget.Times)
		api.Post("/promo", cfg.Widget.Promo)

		api.Route("/auth", func(auth chi.Router) {
			auth.Post("/login", cfg.Widget.Login)
			auth.Post("/register", cfg.Widget.Register)
			auth.Get("/me", cfg.Widget.Me)
		})

		api.Post("/checkout", cfg.Widget.Checkout)
	})

	return r
}
