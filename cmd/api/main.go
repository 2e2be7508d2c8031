package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/halcyonwell/booking-widget/internal/api/router"
	"github.com/halcyonwell/booking-widget/internal/availability"
	"github.com/halcyonwell/booking-widget/internal/booking"
	"github.com/halcyonwell/booking-widget/internal/catalog"
	"github.com/halcyonwell/booking-widget/internal/clients"
	appconfig "github.com/halcyonwell/booking-widget/internal/config"
	"github.com/halcyonwell/booking-widget/internal/http/handlers"
	"github.com/halcyonwell/booking-widget/internal/identity"
	"github.com/halcyonwell/booking-widget/internal/mindbody"
	"github.com/halcyonwell/booking-widget/internal/observability/metrics"
	"github.com/halcyonwell/booking-widget/internal/wizard"
	"github.com/halcyonwell/booking-widget/pkg/logging"
)

func main() {
	// Load .env if present; real environments set variables directly.
	_ = godotenv.Load()

	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting booking-widget API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	venue, err := time.LoadLocation(cfg.VenueTimezone)
	if err != nil {
		logger.Error("invalid venue timezone", "tz", cfg.VenueTimezone, "error", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer func() { _ = rdb.Close() }()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	bookingMetrics := metrics.NewBookingMetrics(registry)

	tokens := mindbody.NewTokenCache(mindbody.TokenCacheConfig{
		BaseURL: cfg.MindbodyBaseURL,
		APIKey:  cfg.MindbodyAPIKey,
		SiteID:  cfg.MindbodySiteID,
		Staff:   mindbody.Credentials{Username: cfg.StaffUsername, Password: cfg.StaffPassword},
		User:    mindbody.Credentials{Username: cfg.UserUsername, Password: cfg.UserPassword},
		Redis:   rdb,
		Logger:  logger,
	})

	gateway := mindbody.NewGateway(mindbody.GatewayConfig{
		BaseURL:      cfg.MindbodyBaseURL,
		APIKey:       cfg.MindbodyAPIKey,
		SiteID:       cfg.MindbodySiteID,
		Tokens:       tokens,
		Timeout:      cfg.UpstreamTimeout,
		DebugLogging: cfg.DebugAPILogging,
		Logger:       logger,
		Metrics:      bookingMetrics,
	})

	// The booking ledger is optional; without a database the widget
	// still books, it just keeps no local history.
	var records *booking.Records
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		records = booking.NewRecords(pool)
	} else {
		logger.Warn("DATABASE_URL not set, booking ledger disabled")
	}

	upstream := clients.NewIdentity(gateway, logger)

	sessions, err := identity.NewSessions(cfg.SessionSecret, cfg.SessionTTL)
	if err != nil {
		logger.Error("failed to create session manager", "error", err)
		os.Exit(1)
	}
	identitySvc := identity.NewService(rdb, upstream, sessions, logger)

	if cfg.DemoMode {
		logger.Warn("demo mode enabled: availability falls back to synthetic dates")
	}

	wz := wizard.New(wizard.WizardConfig{
		Store:   wizard.NewStore(rdb, cfg.WizardTTL, cfg.TaxRate, logger),
		Catalog: catalog.NewAggregator(gateway, logger),
		Availability: availability.NewResolver(availability.ResolverConfig{
			Gateway:       gateway,
			Logger:        logger,
			VenueLocation: venue,
			DemoMode:      cfg.DemoMode,
		}),
		Booking: booking.NewOrchestrator(booking.OrchestratorConfig{
			Gateway:           gateway,
			Identity:          upstream,
			Records:           records,
			DefaultLocationID: cfg.DefaultLocationID,
			Logger:            logger,
			Metrics:           bookingMetrics,
		}),
		Logger:           logger,
		PromoCode:        cfg.PromoCode,
		PromoDiscountPct: cfg.PromoDiscountPct,
		VenueLocation:    venue,
	})

	r := router.New(&router.Config{
		Logger:             logger,
		Widget:             handlers.NewWidgetHandler(wz, identitySvc, logger),
		MetricsHandler:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		RateLimitBurst:     cfg.RateLimitBurst,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
