package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fieldline/be-sales-conversions/internal/client"
	"github.com/fieldline/be-sales-conversions/internal/config"
	"github.com/fieldline/be-sales-conversions/internal/currency"
	"github.com/fieldline/be-sales-conversions/internal/database"
	"github.com/fieldline/be-sales-conversions/internal/handler"
	"github.com/fieldline/be-sales-conversions/internal/logger"
	"github.com/fieldline/be-sales-conversions/internal/repository"
	"github.com/fieldline/be-sales-conversions/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Sales Conversions Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Repositories
	conversionRepo := repository.NewConversionRepository(db)
	rulesRepo := repository.NewDeductionRulesRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	rateStore := repository.NewRateStore(db)

	// Collaborator clients
	identityClient := client.NewIdentityClient(cfg.Identity.BaseURL)

	var natsConn *nats.Conn
	if cfg.NATS.URL != "" {
		natsConn, err = nats.Connect(cfg.NATS.URL,
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			log.Warn().Err(err).Str("url", cfg.NATS.URL).
				Msg("NATS unavailable, notifications disabled")
			natsConn = nil
		} else {
			defer natsConn.Close()
			log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
		}
	}
	notifier := client.NewNotificationPublisher(natsConn, log)

	// Currency normalization
	rateSource := currency.NewAPIClient(cfg.Currency.APIURL, cfg.Currency.APIKey, cfg.Currency.Timeout)
	normalizer := currency.NewNormalizer(rateSource, rateStore, cfg.Currency.CacheTTL, log.Logger)

	// Services
	workflowService := service.NewWorkflowService(conversionRepo, rulesRepo, identityClient, auditRepo, notifier, log)
	aggregationService := service.NewAggregationService(normalizer, log)
	rulesService := service.NewRulesService(rulesRepo)

	httpHandler := handler.NewHTTPHandler(workflowService, aggregationService, rulesService, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-User-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/conversions", func(r chi.Router) {
		r.Post("/", httpHandler.CreateConversion)
		r.Get("/", httpHandler.ListConversions)
		r.Get("/get", httpHandler.GetConversion)
		r.Get("/audit", httpHandler.GetConversionAudit)
		r.Get("/totals", httpHandler.GetTotals)
		r.Post("/recommend", httpHandler.RecommendConversion)
		r.Post("/approve", httpHandler.ApproveConversion)
		r.Post("/reject", httpHandler.RejectConversion)
		r.Post("/amend", httpHandler.AmendConversion)
	})

	r.Route("/api/v1/deduction-rules", func(r chi.Router) {
		r.Get("/", httpHandler.ListDeductionRules)
		r.Get("/get", httpHandler.GetDeductionRule)
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}
