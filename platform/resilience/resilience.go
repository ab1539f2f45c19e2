// Package resilience wraps outbound dependency calls with a bounded timeout,
// limited retry with exponential backoff, and a circuit breaker.
// This is part of the platform layer and contains no business logic.
package resilience

import (
	"context"
	"errors"
	"time"

	"clinicvoice_backend/platform/apperr"
	"clinicvoice_backend/platform/logger"

	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker/v2"
)

// Options tunes a Policy. Zero values fall back to the defaults below.
type Options struct {
	// AttemptTimeout bounds a single attempt, not the whole call.
	AttemptTimeout time.Duration
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts uint64
	// BaseBackoff is the first retry delay; subsequent delays double, with jitter.
	BaseBackoff time.Duration
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold uint32
	// Cooldown is how long the circuit stays open before admitting a probe.
	Cooldown time.Duration
}

const (
	defaultAttemptTimeout   = 10 * time.Second
	defaultMaxAttempts      = 3
	defaultBaseBackoff      = 500 * time.Millisecond
	defaultFailureThreshold = 5
	defaultCooldown         = 30 * time.Second
)

// Policy is a named resilience wrapper for one outbound dependency.
// Each dependency (SMS, calendar, alerts, email) gets its own Policy so a
// failing calendar never opens the SMS circuit.
type Policy struct {
	name    string
	opts    Options
	breaker *gobreaker.CircuitBreaker[struct{}]
	log     *logger.Logger
}

// NewPolicy creates a resilience policy for the named dependency.
func NewPolicy(name string, opts Options, log *logger.Logger) *Policy {
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = defaultAttemptTimeout
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = defaultBaseBackoff
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = defaultFailureThreshold
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = defaultCooldown
	}

	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // one trial call in half-open
		Timeout:     opts.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit state change",
				"dependency", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &Policy{name: name, opts: opts, breaker: breaker, log: log}
}

// Do executes fn under the policy: circuit breaker outermost, then bounded
// retries, each attempt under its own timeout. An open circuit returns a
// DependencyDegraded error without touching the network.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, p.doWithRetry(ctx, fn)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return apperr.Wrap(apperr.KindDependencyDegraded, p.name+" circuit open", err).
				WithCode("DEPENDENCY_DEGRADED")
		}
		return err
	}
	return nil
}

func (p *Policy) doWithRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.NewExponential(p.opts.BaseBackoff)
	backoff = retry.WithJitterPercent(20, backoff)
	backoff = retry.WithMaxRetries(p.opts.MaxAttempts-1, backoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, p.opts.AttemptTimeout)
		defer cancel()

		if err := fn(attemptCtx); err != nil {
			// Context cancellation is the caller's decision, not a
			// dependency failure worth retrying.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.Debug("attempt failed", "dependency", p.name, "error", err.Error())
			return retry.RetryableError(err)
		}
		return nil
	})
}

// State reports the current breaker state for health reporting.
func (p *Policy) State() string {
	return p.breaker.State().String()
}
