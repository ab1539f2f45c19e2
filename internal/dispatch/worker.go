package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"clinicvoice_backend/internal/booking"
	"clinicvoice_backend/internal/calendar"
	"clinicvoice_backend/internal/notify"
	"clinicvoice_backend/internal/summarize"
	"clinicvoice_backend/internal/vault"
	"clinicvoice_backend/platform/config"
	"clinicvoice_backend/platform/logger"
	"clinicvoice_backend/platform/resilience"

	"github.com/hibiken/asynq"
)

// Worker consumes side-effect tasks. Each outbound dependency runs behind
// its own resilience policy so one degraded tenant integration cannot stall
// the rest of the queue.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux

	vault  vault.Vault
	engine *booking.ReservationEngine
	sms    *notify.SMSClient
	email  *notify.EmailSender
	alerts *notify.AlertClient
	cal    *calendar.Client

	summarizer summarize.Summarizer
	summaries  summarize.SummaryStore

	smsPolicy      *resilience.Policy
	emailPolicy    *resilience.Policy
	calendarPolicy *resilience.Policy
	alertPolicy    *resilience.Policy

	log *logger.Logger
}

// NewWorker wires the side-effect consumers.
func NewWorker(
	cfg config.QueueConfig,
	v vault.Vault,
	engine *booking.ReservationEngine,
	sms *notify.SMSClient,
	email *notify.EmailSender,
	alerts *notify.AlertClient,
	cal *calendar.Client,
	log *logger.Logger,
) (*Worker, error) {
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

	concurrency := cfg.GetQueueConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	policyOpts := resilience.Options{
		AttemptTimeout:   10 * time.Second,
		MaxAttempts:      3,
		BaseBackoff:      500 * time.Millisecond,
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
	calendarOpts := policyOpts
	calendarOpts.AttemptTimeout = 15 * time.Second

	mux := asynq.NewServeMux()
	w := &Worker{
		server:         server,
		mux:            mux,
		vault:          v,
		engine:         engine,
		sms:            sms,
		email:          email,
		alerts:         alerts,
		cal:            cal,
		smsPolicy:      resilience.NewPolicy("sms", policyOpts, log),
		emailPolicy:    resilience.NewPolicy("email", policyOpts, log),
		calendarPolicy: resilience.NewPolicy("calendar", calendarOpts, log),
		alertPolicy:    resilience.NewPolicy("lead_alert", policyOpts, log),
		log:            log,
	}

	mux.HandleFunc(TaskSMSConfirmation, w.handleSMSConfirmation)
	mux.HandleFunc(TaskEmailConfirmation, w.handleEmailConfirmation)
	mux.HandleFunc(TaskCalendarSync, w.handleCalendarSync)
	mux.HandleFunc(TaskLeadAlert, w.handleLeadAlert)
	mux.HandleFunc(TaskCallSummarize, w.handleCallSummarize)

	return w, nil
}

// SetSummaryPipeline wires the post-call summarizer. summarizer may be nil;
// the heuristic fallback then does all the work.
func (w *Worker) SetSummaryPipeline(summarizer summarize.Summarizer, store summarize.SummaryStore) {
	w.summarizer = summarizer
	w.summaries = store
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("dispatch worker stopped", "error", err)
	}
}

func (w *Worker) handleSMSConfirmation(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseSideEffectPayload(task)
	if err != nil {
		return err
	}
	if payload.ContactPhone == "" {
		return nil
	}

	bundle, err := w.vault.GetCredentials(ctx, payload.OrganizationID, vault.ProviderSMS)
	if err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			w.log.Info("sms skipped, no credentials", "org_id", payload.OrganizationID.String())
			return nil
		}
		return err
	}

	body := notify.ConfirmationSMS(notify.ConfirmationData{
		ContactName: payload.ContactName,
		ServiceType: payload.ServiceType,
		ScheduledAt: payload.ScheduledAt,
		Duration:    time.Duration(payload.DurationMinutes) * time.Minute,
	})

	return w.smsPolicy.Do(ctx, func(ctx context.Context) error {
		return w.sms.Send(ctx, notify.SMSCredentials{
			AccountSID: bundle.AccountSID,
			AuthToken:  bundle.AuthToken,
			FromNumber: bundle.FromNumber,
		}, payload.ContactPhone, body)
	})
}

func (w *Worker) handleEmailConfirmation(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseSideEffectPayload(task)
	if err != nil {
		return err
	}
	if payload.ContactEmail == "" {
		return nil
	}

	return w.emailPolicy.Do(ctx, func(ctx context.Context) error {
		return w.email.SendBookingConfirmation(ctx, payload.ContactEmail, notify.ConfirmationData{
			ContactName: payload.ContactName,
			ServiceType: payload.ServiceType,
			ScheduledAt: payload.ScheduledAt,
			Duration:    time.Duration(payload.DurationMinutes) * time.Minute,
		})
	})
}

// handleCalendarSync creates the remote event, then records its id on the
// appointment. If the record step fails the remote event is deleted, so a
// retry cannot leave two events for one booking.
func (w *Worker) handleCalendarSync(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseSideEffectPayload(task)
	if err != nil {
		return err
	}

	bundle, err := w.vault.GetCredentials(ctx, payload.OrganizationID, vault.ProviderCalendar)
	if err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			w.log.Info("calendar sync skipped, no credentials", "org_id", payload.OrganizationID.String())
			return nil
		}
		return err
	}

	creds := calendar.Credentials{
		BaseURL:    bundle.BaseURL,
		APIToken:   bundle.APIToken,
		CalendarID: bundle.CalendarID,
	}

	var eventID string
	err = w.calendarPolicy.Do(ctx, func(ctx context.Context) error {
		var createErr error
		eventID, createErr = w.cal.CreateEvent(ctx, creds, calendar.Event{
			Title:       fmt.Sprintf("%s — %s", payload.ServiceType, payload.ContactName),
			Description: fmt.Sprintf("Booked by phone. Contact: %s", payload.ContactPhone),
			StartsAt:    payload.ScheduledAt,
			EndsAt:      payload.ScheduledAt.Add(time.Duration(payload.DurationMinutes) * time.Minute),
		})
		return createErr
	})
	if err != nil {
		return err
	}

	if err := w.engine.SetCalendarEventID(ctx, payload.AppointmentID, payload.OrganizationID, eventID); err != nil {
		w.log.Error("record calendar event id failed, compensating",
			"appointment_id", payload.AppointmentID.String(),
			"event_id", eventID,
			"error", err.Error(),
		)
		if delErr := w.cal.DeleteEvent(ctx, creds, eventID); delErr != nil {
			w.log.Error("calendar compensation failed, orphaned remote event",
				"event_id", eventID,
				"error", delErr.Error(),
			)
		}
		return err
	}
	return nil
}

// handleCallSummarize produces the post-call outcome summary. A failed model
// call falls back to the heuristic; only the final store write is retryable.
func (w *Worker) handleCallSummarize(ctx context.Context, task *asynq.Task) error {
	job, err := ParseCallSummarizePayload(task)
	if err != nil {
		return err
	}
	if w.summaries == nil {
		w.log.Warn("call summarize skipped, pipeline not configured", "call_event_id", job.CallEventID.String())
		return nil
	}
	if job.Transcript == "" && job.ProviderSummary == "" {
		return nil
	}

	summary, err := summarize.Produce(ctx, w.summarizer, job.Transcript, job.ProviderSummary)
	if err != nil {
		w.log.Error("summarize call failed",
			"call_event_id", job.CallEventID.String(),
			"error", err.Error(),
		)
		return nil
	}

	return w.summaries.SetCallEventSummary(ctx, job.CallEventID, job.OrganizationID, summary)
}

func (w *Worker) handleLeadAlert(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseSideEffectPayload(task)
	if err != nil {
		return err
	}

	bundle, err := w.vault.GetCredentials(ctx, payload.OrganizationID, vault.ProviderAlerts)
	if err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			return nil
		}
		return err
	}
	if bundle.AlertURL == "" {
		return nil
	}

	return w.alertPolicy.Do(ctx, func(ctx context.Context) error {
		return w.alerts.Send(ctx, bundle.AlertURL, notify.LeadAlert{
			AppointmentID: payload.AppointmentID,
			ContactName:   payload.ContactName,
			ContactPhone:  payload.ContactPhone,
			ServiceType:   payload.ServiceType,
			ScheduledAt:   payload.ScheduledAt,
		})
	})
}
