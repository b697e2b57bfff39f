package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/omnichat-platform/omnichat/internal/api"
	"github.com/omnichat-platform/omnichat/internal/auth"
	"github.com/omnichat-platform/omnichat/internal/config"
	"github.com/omnichat-platform/omnichat/internal/database"
	"github.com/omnichat-platform/omnichat/internal/gateway"
	"github.com/omnichat-platform/omnichat/internal/gateway/audit"
	"github.com/omnichat-platform/omnichat/internal/gateway/quota"
	"github.com/omnichat-platform/omnichat/internal/model"
	inats "github.com/omnichat-platform/omnichat/internal/nats"
	iredis "github.com/omnichat-platform/omnichat/internal/redis"
	"github.com/omnichat-platform/omnichat/internal/search"
	"github.com/omnichat-platform/omnichat/internal/server"
)

const retentionSweepInterval = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("config validation", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// PostgreSQL
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		slog.Error("connecting to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := database.RunMigrations(cfg.DB.DSN(), "migrations"); err != nil {
		slog.Error("running migrations", "error", err)
		os.Exit(1)
	}

	// Redis
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// NATS (optional)
	var natsClient *inats.Client
	var publisher audit.EventPublisher
	if cfg.NATS.Enabled {
		natsClient, err = inats.NewClient(ctx, cfg.NATS)
		if err != nil {
			slog.Error("connecting to nats", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()
		publisher = inats.NewPublisher(natsClient.JetStream())
	}

	// Quota ledger
	limits := quota.Limits{
		DailyRequests:   cfg.Gateway.DailyRequestLimit,
		DailyTokens:     cfg.Gateway.DailyTokenLimit,
		DailyCost:       cfg.Gateway.DailyCostLimit,
		MonthlyRequests: cfg.Gateway.MonthlyRequestLimit,
		MonthlyTokens:   cfg.Gateway.MonthlyTokenLimit,
		MonthlyCost:     cfg.Gateway.MonthlyCostLimit,
	}
	limiter := quota.NewRateLimiter(redisClient, cfg.Gateway.RequestsPerMinute, time.Minute)
	ledger := quota.NewLedger(quota.NewPostgresStore(pool), limiter, limits)

	// Usage audit log
	auditStore := audit.NewPostgresStore(pool)
	auditor := audit.NewService(auditStore, publisher)
	if natsClient != nil {
		consumer := audit.NewConsumer(auditStore, inats.NewConsumerManager(natsClient.JetStream()))
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("usage audit consumer stopped", "error", err)
			}
		}()
	}
	go auditor.RunRetention(ctx, cfg.Gateway.AuditRetention, retentionSweepInterval)

	// Remote model client and semantic search
	modelClient := model.NewClient(cfg.Model)
	searchRepo := search.NewPostgresRepository(pool)
	searchSvc := search.NewService(searchRepo, modelClient)

	// Gateway facade
	gatewaySvc := gateway.NewService(ledger, auditor, modelClient, searchSvc,
		model.NewPriceTable(model.DefaultPricing), cfg.Gateway)
	gatewayHandler := gateway.NewHandler(gatewaySvc, ledger, auditor)

	// Auth
	jwtManager := auth.NewJWTManager(cfg.JWT.AccessSecret, cfg.JWT.AccessExpiry)

	// Router
	router := api.NewRouter(pool, natsClient, api.RouterConfig{
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
	}, api.HandlerSet{
		Invoke:           gatewayHandler.Invoke,
		GetUsage:         gatewayHandler.GetUsage,
		GetUsageRollup:   gatewayHandler.GetUsageRollup,
		ListAuditEntries: gatewayHandler.ListAuditEntries,

		ListFailures:   gatewayHandler.ListFailures,
		ApplyRateLimit: gatewayHandler.ApplyRateLimit,
		ClearRateLimit: gatewayHandler.ClearRateLimit,
		SetActive:      gatewayHandler.SetActive,
		SetLimits:      gatewayHandler.SetLimits,
		Purge:          gatewayHandler.Purge,

		AuthMiddleware:  auth.Middleware(jwtManager),
		AdminMiddleware: auth.RequireAdmin,

		ModelHealthy: func() bool {
			probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return gatewaySvc.IsHealthy(probeCtx)
		},
	})

	// Start server
	srv := server.New(cfg.Server, router)
	if err := srv.Start(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
