package summarize

import (
	"context"
	"fmt"
	"testing"

	"clinicvoice_backend/internal/webhook"
	"clinicvoice_backend/platform/events"
	"clinicvoice_backend/platform/logger"

	"github.com/google/uuid"
)

type fakeStore struct {
	eventID uuid.UUID
	orgID   uuid.UUID
	summary string
	calls   int
}

func (f *fakeStore) SetCallEventSummary(_ context.Context, eventID, orgID uuid.UUID, summary string) error {
	f.eventID = eventID
	f.orgID = orgID
	f.summary = summary
	f.calls++
	return nil
}

type failingSummarizer struct{}

func (failingSummarizer) Summarize(context.Context, string, string) (string, error) {
	return "", fmt.Errorf("model unavailable")
}

type cannedSummarizer struct{ out string }

func (c cannedSummarizer) Summarize(context.Context, string, string) (string, error) {
	return c.out, nil
}

func TestHeuristicPrefersProviderSummary(t *testing.T) {
	got, err := HeuristicSummarizer{}.Summarize(context.Background(), "AI: Hello.\nUser: Hi.", "Caller booked a cleaning.")
	if err != nil {
		t.Fatal(err)
	}
	if got != "Caller booked a cleaning." {
		t.Errorf("summary = %q", got)
	}
}

func TestHeuristicTrimsTranscript(t *testing.T) {
	transcript := "AI: Thanks for calling.\n\nUser: I'd like to book a cleaning.\nAI: Sure, when works?\nUser: Tuesday."
	got, err := HeuristicSummarizer{}.Summarize(context.Background(), transcript, "")
	if err != nil {
		t.Fatal(err)
	}
	want := "AI: Thanks for calling. User: I'd like to book a cleaning. AI: Sure, when works?"
	if got != want {
		t.Errorf("summary = %q, want %q", got, want)
	}
}

func TestHeuristicEmptyInput(t *testing.T) {
	if _, err := (HeuristicSummarizer{}).Summarize(context.Background(), "", ""); err == nil {
		t.Error("empty input must error")
	}
}

func TestSubscriberStoresSummary(t *testing.T) {
	store := &fakeStore{}
	sub := NewSubscriber(cannedSummarizer{out: "Caller booked a checkup for Tuesday."}, store, logger.New("test"))

	ended := webhook.CallEnded{
		BaseEvent:      events.NewBaseEvent(),
		OrganizationID: uuid.New(),
		CallEventID:    uuid.New(),
		Transcript:     "AI: Hello. User: Book me in.",
	}
	if err := sub.handleCallEnded(context.Background(), ended); err != nil {
		t.Fatal(err)
	}

	if store.calls != 1 {
		t.Fatal("summary not stored")
	}
	if store.eventID != ended.CallEventID || store.orgID != ended.OrganizationID {
		t.Error("summary stored against wrong event")
	}
	if store.summary != "Caller booked a checkup for Tuesday." {
		t.Errorf("summary = %q", store.summary)
	}
}

func TestSubscriberFallsBackOnModelFailure(t *testing.T) {
	store := &fakeStore{}
	sub := NewSubscriber(failingSummarizer{}, store, logger.New("test"))

	ended := webhook.CallEnded{
		BaseEvent:       events.NewBaseEvent(),
		OrganizationID:  uuid.New(),
		CallEventID:     uuid.New(),
		Transcript:      "AI: Hello.",
		ProviderSummary: "Caller asked about opening hours.",
	}
	if err := sub.handleCallEnded(context.Background(), ended); err != nil {
		t.Fatal(err)
	}

	if store.summary != "Caller asked about opening hours." {
		t.Errorf("fallback summary = %q", store.summary)
	}
}

type fakeEnqueuer struct {
	jobs []Job
	fail bool
}

func (f *fakeEnqueuer) EnqueueCallSummarize(_ context.Context, job Job) error {
	if f.fail {
		return fmt.Errorf("queue unavailable")
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func TestSubscriberEnqueuesWhenQueueConfigured(t *testing.T) {
	store := &fakeStore{}
	queue := &fakeEnqueuer{}
	sub := NewSubscriber(nil, store, logger.New("test"))
	sub.SetEnqueuer(queue)

	ended := webhook.CallEnded{
		BaseEvent:      events.NewBaseEvent(),
		OrganizationID: uuid.New(),
		CallEventID:    uuid.New(),
		Transcript:     "AI: Hello. User: Book me in.",
	}
	if err := sub.handleCallEnded(context.Background(), ended); err != nil {
		t.Fatal(err)
	}

	if len(queue.jobs) != 1 {
		t.Fatal("job not enqueued")
	}
	if queue.jobs[0].CallEventID != ended.CallEventID || queue.jobs[0].Transcript != ended.Transcript {
		t.Errorf("enqueued job = %+v", queue.jobs[0])
	}
	if store.calls != 0 {
		t.Error("queued call must not be summarized in process")
	}
}

func TestSubscriberRunsInProcessWhenEnqueueFails(t *testing.T) {
	store := &fakeStore{}
	sub := NewSubscriber(nil, store, logger.New("test"))
	sub.SetEnqueuer(&fakeEnqueuer{fail: true})

	ended := webhook.CallEnded{
		BaseEvent:       events.NewBaseEvent(),
		OrganizationID:  uuid.New(),
		CallEventID:     uuid.New(),
		ProviderSummary: "Caller rescheduled.",
	}
	if err := sub.handleCallEnded(context.Background(), ended); err != nil {
		t.Fatal(err)
	}

	if store.calls != 1 || store.summary != "Caller rescheduled." {
		t.Errorf("in-process fallback did not store summary: calls=%d summary=%q", store.calls, store.summary)
	}
}

func TestSubscriberSkipsEmptyCalls(t *testing.T) {
	store := &fakeStore{}
	sub := NewSubscriber(nil, store, logger.New("test"))

	ended := webhook.CallEnded{BaseEvent: events.NewBaseEvent(), CallEventID: uuid.New()}
	if err := sub.handleCallEnded(context.Background(), ended); err != nil {
		t.Fatal(err)
	}
	if store.calls != 0 {
		t.Error("empty call must not be summarized")
	}
}
