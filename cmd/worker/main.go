package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clinicvoice_backend/internal/booking"
	"clinicvoice_backend/internal/calendar"
	"clinicvoice_backend/internal/dispatch"
	"clinicvoice_backend/internal/notify"
	"clinicvoice_backend/internal/summarize"
	"clinicvoice_backend/internal/vault"
	"clinicvoice_backend/internal/webhook"
	"clinicvoice_backend/platform/config"
	"clinicvoice_backend/platform/db"
	"clinicvoice_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting dispatch worker", "env", cfg.Env, "queue", cfg.GetQueueName())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	credVault := vault.NewStore(pool, cfg)
	engine := booking.NewReservationEngine(pool)

	worker, err := dispatch.NewWorker(
		cfg,
		credVault,
		engine,
		notify.NewSMSClient(os.Getenv("SMS_API_BASE_URL"), log),
		notify.NewEmailSender(cfg),
		notify.NewAlertClient(log),
		calendar.NewClient(log),
		log,
	)
	if err != nil {
		log.Error("failed to initialize dispatch worker", "error", err)
		panic("failed to initialize dispatch worker: " + err.Error())
	}

	var summarizer summarize.Summarizer
	if gemini, err := summarize.NewGeminiSummarizer(ctx, cfg); err != nil {
		log.Warn("summarizer unavailable, using heuristic fallback", "error", err)
	} else if gemini != nil {
		summarizer = gemini
	}
	worker.SetSummaryPipeline(summarizer, webhook.NewRepository(pool))

	worker.Run(ctx)
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
