package dispatch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"clinicvoice_backend/internal/booking"
	"clinicvoice_backend/internal/summarize"
	"clinicvoice_backend/platform/config"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// Client enqueues side-effect tasks. It implements booking.Dispatcher and
// summarize.Enqueuer.
type Client struct {
	client *asynq.Client
	queue  string
}

var _ booking.Dispatcher = (*Client)(nil)
var _ summarize.Enqueuer = (*Client)(nil)

func NewClient(cfg config.QueueConfig) (*Client, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL)
	if err != nil {
		return nil, err
	}

	queue := cfg.GetQueueName()
	if queue == "" {
		queue = "default"
	}

	return &Client{
		client: asynq.NewClient(opt),
		queue:  queue,
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// EnqueueBookingSideEffects fans one booking out into independent tasks.
// Effects with no usable destination (no phone, no email) are skipped here
// rather than failed later. Partial enqueue failures are joined so the
// caller can log one error; effects already queued stay queued.
func (c *Client) EnqueueBookingSideEffects(ctx context.Context, job booking.SideEffectJob) error {
	if c == nil || c.client == nil {
		return nil
	}

	type effect struct {
		build func(booking.SideEffectJob) (*asynq.Task, error)
		want  bool
	}

	effects := []effect{
		{build: NewSMSConfirmationTask, want: job.ContactPhone != ""},
		{build: NewEmailConfirmationTask, want: job.ContactEmail != ""},
		{build: NewCalendarSyncTask, want: true},
		{build: NewLeadAlertTask, want: true},
	}

	var errs []error
	for _, e := range effects {
		if !e.want {
			continue
		}
		task, err := e.build(job)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		_, err = c.client.EnqueueContext(ctx, task,
			asynq.Queue(c.queue),
			asynq.MaxRetry(5),
			asynq.Timeout(30*time.Second),
		)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EnqueueCallSummarize queues one post-call summarization run. Summaries are
// nice to have, so the retry budget is smaller than for confirmations.
func (c *Client) EnqueueCallSummarize(ctx context.Context, job summarize.Job) error {
	if c == nil || c.client == nil {
		return nil
	}

	task, err := NewCallSummarizeTask(job)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(c.queue),
		asynq.MaxRetry(2),
		asynq.Timeout(60*time.Second),
	)
	return err
}

func redisClientOpt(redisURL string) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		tlsConfig = opt.TLSConfig.Clone()
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}
