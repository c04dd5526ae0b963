package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/captainace/backend/internal/auth"
	"github.com/captainace/backend/internal/config"
	"github.com/captainace/backend/internal/dashboard"
	"github.com/captainace/backend/internal/execution"
	"github.com/captainace/backend/internal/handlers"
	"github.com/captainace/backend/internal/ledger"
	"github.com/captainace/backend/internal/policy"
	"github.com/captainace/backend/internal/repository"
	"github.com/captainace/backend/internal/router"
	"github.com/captainace/backend/internal/services"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ledgerSvc := ledger.NewService(logger)
	sink := execution.NewSink(cfg.Notify.WebhookURL, cfg.Notify.Timeout, logger)
	limits := policy.Limits(cfg.RateLimit.Limits)

	var (
		store   repository.Store
		limiter services.RateLimiter
		// background runs the periodic work once the engine exists.
		background func(engine *services.Engine)
	)

	switch cfg.Database.Driver {
	case "memory":
		mem := repository.NewMemoryStore()
		mem.SetNotifier(execution.SinkNotifier(sink, logger))
		store = mem
		limiter = policy.NewMemoryLimiter(limits, cfg.RateLimit.Window, nil)
		background = func(engine *services.Engine) {
			autoRelease := execution.NewAutoReleaseWorker(engine, cfg.Jobs.AutoReleaseBatch)
			reconcile := execution.NewReconcileWorker(ledgerSvc, store)
			go execution.Every(ctx, cfg.Jobs.AutoReleaseInterval, "auto_release", logger, autoRelease.Run)
			go execution.Every(ctx, cfg.Jobs.ReconcileInterval, "reconcile_ledger", logger, func(ctx context.Context) error {
				_, err := reconcile.Run(ctx)
				return err
			})
		}
		slog.Info("Using in-memory store; data is lost on restart")

	default:
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			slog.Error("Unable to create database pool", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. docker-compose up -d", "error", err)
			os.Exit(1)
		}
		slog.Info("Connected to PostgreSQL database successfully!")

		if err := repository.EnsureSchema(ctx, pool); err != nil {
			slog.Error("Schema setup failed", "error", err)
			os.Exit(1)
		}

		// River migrations
		migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
		if err != nil {
			slog.Error("Failed to create River migrator", "error", err)
			os.Exit(1)
		}
		if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
			slog.Error("River migrate up failed", "error", err)
			os.Exit(1)
		}
		slog.Info("River migrations applied")

		pg := repository.NewPgStore(pool)
		store = pg
		pgLimiter := policy.NewPgLimiter(pool, limits, cfg.RateLimit.Window)
		limiter = pgLimiter

		background = func(engine *services.Engine) {
			workers := river.NewWorkers()
			river.AddWorker(workers, execution.NewNotifyWorker(sink, logger))
			river.AddWorker(workers, execution.NewAutoReleaseWorker(engine, cfg.Jobs.AutoReleaseBatch))
			river.AddWorker(workers, execution.NewReconcileWorker(ledgerSvc, store))

			riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
				Queues: map[string]river.QueueConfig{
					river.QueueDefault: {MaxWorkers: 10},
				},
				Workers:      workers,
				PeriodicJobs: execution.PeriodicJobs(cfg.Jobs.AutoReleaseInterval, cfg.Jobs.ReconcileInterval),
				Logger:       logger,
			})
			if err != nil {
				slog.Error("Failed to create River client", "error", err)
				os.Exit(1)
			}
			// Notifications are inserted in the same transaction as the mutation.
			pg.SetEnqueuer(execution.Enqueuer(riverClient))

			// Start River client (processes jobs)
			go func() {
				if err := riverClient.Start(ctx); err != nil && ctx.Err() == nil {
					slog.Error("River client stopped", "error", err)
				}
			}()
			go execution.Every(ctx, cfg.RateLimit.Window, "rate_limit_sweep", logger, func(ctx context.Context) error {
				n, err := pgLimiter.Sweep(ctx)
				if n > 0 {
					slog.Debug("Swept rate limit counters", "rows", n)
				}
				return err
			})
		}
	}

	engine := services.NewEngine(store, ledgerSvc, policy.NewProfileFreeze(store), limiter, services.Options{
		AutoReleaseWindow: cfg.Settlement.AutoReleaseWindow,
		MinGrossAmount:    cfg.Settlement.MinGrossAmount,
		MaxGrossAmount:    cfg.Settlement.MaxGrossAmount,
		Logger:            logger,
	})
	background(engine)

	validator, err := services.NewValidator()
	if err != nil {
		slog.Error("Schema validator init failed", "error", err)
		os.Exit(1)
	}

	// Auth
	authSvc := auth.NewService(auth.NewRepository(store), cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if cfg.Auth.AdminEmail != "" && cfg.Auth.AdminPassword != "" {
		if err := authSvc.SeedAdmin(ctx, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword); err != nil {
			slog.Error("Admin seed failed", "error", err)
			os.Exit(1)
		}
	}
	authHandler := auth.NewHandler(authSvc, logger)
	dashHandler := dashboard.NewHandler(authSvc, store, engine, logger)

	mux := http.NewServeMux()
	mux.Handle("/api/", router.New(authHandler, dashHandler))
	RegisterV1Routes(mux, &handlers.TaskHandler{
		Store:     store,
		Engine:    engine,
		Validator: validator,
		Logger:    logger,
	}, authSvc)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: true,
	}).Handler(mux)

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: corsHandler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("Starting HTTP server", "addr", cfg.Server.Addr, "store", cfg.Database.Driver)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
