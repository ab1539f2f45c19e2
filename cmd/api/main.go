package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clinicvoice_backend/internal/booking"
	"clinicvoice_backend/internal/dispatch"
	apphttp "clinicvoice_backend/internal/http"
	"clinicvoice_backend/internal/http/router"
	"clinicvoice_backend/internal/idempotency"
	"clinicvoice_backend/internal/summarize"
	"clinicvoice_backend/internal/vault"
	"clinicvoice_backend/internal/webhook"
	"clinicvoice_backend/migrations"
	"clinicvoice_backend/platform/config"
	"clinicvoice_backend/platform/db"
	"clinicvoice_backend/platform/events"
	"clinicvoice_backend/platform/logger"
	"clinicvoice_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg, migrations.FS)
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	ledger, err := idempotency.New(cfg.GetRedisURL(), cfg.GetDedupTTL(), log)
	if err != nil {
		log.Error("failed to initialize idempotency ledger", "error", err)
		panic("failed to initialize idempotency ledger: " + err.Error())
	}
	defer func() { _ = ledger.Close() }()

	credVault := vault.NewStore(pool, cfg)

	eventBus := events.NewInMemoryBus(log)

	dispatcher, err := dispatch.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize dispatch client", "error", err)
		panic("failed to initialize dispatch client: " + err.Error())
	}
	defer func() { _ = dispatcher.Close() }()

	val := validator.New()

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	bookingModule := booking.NewModule(pool, dispatcher, val, log)
	webhookModule := webhook.NewModule(pool, credVault, ledger, bookingModule.Service(), eventBus, log)

	var summarizer summarize.Summarizer
	if gemini, err := summarize.NewGeminiSummarizer(ctx, cfg); err != nil {
		log.Warn("summarizer unavailable, using heuristic fallback", "error", err)
	} else if gemini != nil {
		summarizer = gemini
	}
	subscriber := summarize.NewSubscriber(summarizer, webhookModule.Repository(), log)
	subscriber.SetEnqueuer(dispatcher)
	subscriber.Register(eventBus)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config: cfg,
		Logger: log,
		Health: db.NewPoolAdapter(pool),
		Modules: []apphttp.Module{
			webhookModule,
			bookingModule,
		},
	}

	engine := router.New(app)
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		// Let in-flight bus handlers (summarization) finish.
		eventBus.Wait()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		panic("server error: " + err.Error())
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
