package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	httphandlers "famfin/internal/interfaces/http"
	"famfin/internal/shared/config"
	"famfin/internal/shared/middleware"
	"famfin/internal/shared/telemetry"
)

// SetupRoutes configures all HTTP routes and returns the final handler with middleware.
func SetupRoutes(deps *Dependencies, cfg *config.Config, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS(cfg.Server.AllowedHosts))
	if cfg.Telemetry.Enabled {
		r.Use(middleware.Tracing)
	}
	if cfg.TLS.Enabled {
		r.Use(middleware.HSTS)
	}

	r.Get("/health", httphandlers.HandleHealth)
	if cfg.Telemetry.Enabled && cfg.Telemetry.MetricsPort == "" {
		r.Handle("/metrics", telemetry.MetricsHandler())
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(deps.JWT))

		r.Mount("/api/banking", deps.BankingHandler.Routes())
		r.Mount("/api/accounts", deps.AccountHandler.Routes())
		r.Post("/api/devices", deps.NotificationHandler.HandleRegisterDevice)
	})

	r.Route("/internal/cron", func(r chi.Router) {
		r.Use(middleware.CronKey(cfg.Cron.KeyHash))

		r.Post("/balances", deps.CronHandler.HandleBalances)
		r.Post("/transactions", deps.CronHandler.HandleTransactions)
	})

	var handler http.Handler = r
	if cfg.Telemetry.Enabled {
		handler = middleware.Telemetry(cfg.Telemetry.ServiceName)(handler)
	}
	return handler
}
