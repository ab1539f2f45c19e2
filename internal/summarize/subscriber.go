package summarize

import (
	"context"

	"clinicvoice_backend/internal/webhook"
	"clinicvoice_backend/platform/events"
	"clinicvoice_backend/platform/logger"

	"github.com/google/uuid"
)

// SummaryStore persists the generated summary onto the call event.
type SummaryStore interface {
	SetCallEventSummary(ctx context.Context, eventID, orgID uuid.UUID, summary string) error
}

// Job is everything a summarization run needs, independent of where it runs.
type Job struct {
	OrganizationID  uuid.UUID `json:"organizationId"`
	CallEventID     uuid.UUID `json:"callEventId"`
	ExternalCallID  string    `json:"externalCallId"`
	Transcript      string    `json:"transcript"`
	ProviderSummary string    `json:"providerSummary,omitempty"`
}

// Enqueuer hands a summarization job to the background queue.
type Enqueuer interface {
	EnqueueCallSummarize(ctx context.Context, job Job) error
}

// Subscriber listens for ended calls and gets an outcome summary written
// back. With an enqueuer configured the work is queued for the background
// worker; without one, or when enqueueing fails, it runs in process.
// Summarization is best effort: failures are logged, never retried into the
// webhook path.
type Subscriber struct {
	summarizer Summarizer
	store      SummaryStore
	enqueuer   Enqueuer
	log        *logger.Logger
}

// NewSubscriber creates the subscriber. summarizer may be nil; the
// heuristic fallback then does all the work.
func NewSubscriber(summarizer Summarizer, store SummaryStore, log *logger.Logger) *Subscriber {
	return &Subscriber{
		summarizer: summarizer,
		store:      store,
		log:        log,
	}
}

// SetEnqueuer routes summarization through the background queue.
func (s *Subscriber) SetEnqueuer(e Enqueuer) { s.enqueuer = e }

// Register subscribes to call-ended events on the bus.
func (s *Subscriber) Register(bus events.Bus) {
	bus.Subscribe(webhook.CallEnded{}.EventName(), events.HandlerFunc(s.handleCallEnded))
}

func (s *Subscriber) handleCallEnded(ctx context.Context, event events.Event) error {
	ended, ok := event.(webhook.CallEnded)
	if !ok {
		return nil
	}
	if ended.Transcript == "" && ended.ProviderSummary == "" {
		return nil
	}

	job := Job{
		OrganizationID:  ended.OrganizationID,
		CallEventID:     ended.CallEventID,
		ExternalCallID:  ended.ExternalCallID,
		Transcript:      ended.Transcript,
		ProviderSummary: ended.ProviderSummary,
	}

	if s.enqueuer != nil {
		err := s.enqueuer.EnqueueCallSummarize(ctx, job)
		if err == nil {
			return nil
		}
		s.log.DispatchFailure("enqueue_call_summarize", ended.OrganizationID.String(), err)
	}

	summary, err := Produce(ctx, s.summarizer, job.Transcript, job.ProviderSummary)
	if err != nil {
		s.log.Error("summarize call failed",
			"call_event_id", ended.CallEventID.String(),
			"error", err.Error(),
		)
		return nil
	}

	if err := s.store.SetCallEventSummary(ctx, ended.CallEventID, ended.OrganizationID, summary); err != nil {
		s.log.DatabaseError("store call summary", err)
	}
	return nil
}
