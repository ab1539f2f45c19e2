package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"clinicvoice_backend/internal/booking"
	"clinicvoice_backend/internal/orgresolver"
	"clinicvoice_backend/internal/vault"
	"clinicvoice_backend/platform/apperr"
	"clinicvoice_backend/platform/events"
	"clinicvoice_backend/platform/logger"

	"github.com/google/uuid"
)

const testSecret = "whsec_gateway_test"

type loggedDelivery struct {
	eventType string
	raw       []byte
}

type logUpdate struct {
	status string
	orgID  *uuid.UUID
	detail interface{}
}

type fakeLogStore struct {
	mu         sync.Mutex
	deliveries []loggedDelivery
	updates    map[uuid.UUID][]logUpdate
	callEvents []*CallEvent
	failLog    bool
}

func newFakeLogStore() *fakeLogStore {
	return &fakeLogStore{updates: make(map[uuid.UUID][]logUpdate)}
}

func (f *fakeLogStore) LogDelivery(_ context.Context, eventType, _, _ string, raw []byte) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLog {
		return uuid.UUID{}, fmt.Errorf("insert webhook log: connection refused")
	}
	f.deliveries = append(f.deliveries, loggedDelivery{eventType: eventType, raw: raw})
	return uuid.New(), nil
}

func (f *fakeLogStore) UpdateLog(_ context.Context, logID uuid.UUID, status string, detail interface{}, orgID *uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates[logID] = append(f.updates[logID], logUpdate{status: status, orgID: orgID, detail: detail})
	return nil
}

func (f *fakeLogStore) InsertCallEvent(_ context.Context, ev *CallEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ev.ID == (uuid.UUID{}) {
		ev.ID = uuid.New()
	}
	f.callEvents = append(f.callEvents, ev)
	return nil
}

func (f *fakeLogStore) lastStatus() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, updates := range f.updates {
		if len(updates) > 0 {
			return updates[len(updates)-1].status
		}
	}
	return ""
}

type fakeResolver struct {
	orgID uuid.UUID
	fail  bool
}

func (f *fakeResolver) Resolve(_ context.Context, hints orgresolver.Hints) (*orgresolver.Resolution, []orgresolver.Attempt, error) {
	attempts := []orgresolver.Attempt{
		{Step: orgresolver.StepAgentRegistry, Input: hints.AssistantID},
		{Step: orgresolver.StepCallMetadata, Input: hints.MetadataOrgID},
		{Step: orgresolver.StepPayloadField, Input: hints.PayloadOrgID},
	}
	if f.fail {
		return nil, attempts, apperr.UnresolvedTenant("no organization matched the delivery")
	}
	return &orgresolver.Resolution{OrgID: f.orgID, Step: orgresolver.StepAgentRegistry}, attempts[:1], nil
}

type fakeVault struct {
	secret string
}

func (f *fakeVault) GetCredentials(_ context.Context, _ uuid.UUID, provider vault.Provider) (*vault.Bundle, error) {
	if provider != vault.ProviderVoice || f.secret == "" {
		return nil, vault.ErrNotFound
	}
	return &vault.Bundle{WebhookSecret: f.secret}, nil
}

// fakeLedger mimics run-once semantics: the first caller's result is cached
// and replayed to later callers with duplicate=true.
type fakeLedger struct {
	mu     sync.Mutex
	cached map[string]json.RawMessage
	calls  int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{cached: make(map[string]json.RawMessage)}
}

func (f *fakeLedger) Do(ctx context.Context, key string, fn func(ctx context.Context) (interface{}, error)) (json.RawMessage, bool, error) {
	f.mu.Lock()
	if cached, ok := f.cached[key]; ok {
		f.mu.Unlock()
		return cached, true, nil
	}
	f.mu.Unlock()

	f.calls++
	result, err := fn(ctx)
	if err != nil {
		return nil, false, err
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return nil, false, err
	}
	f.mu.Lock()
	f.cached[key] = encoded
	f.mu.Unlock()
	return encoded, false, nil
}

type fakeBooker struct {
	mu       sync.Mutex
	requests []booking.BookingRequest
	result   booking.BookingResult
}

func (f *fakeBooker) Book(_ context.Context, _ uuid.UUID, req booking.BookingRequest) (booking.BookingResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.result, nil
}

type gatewayFixture struct {
	service *Service
	store   *fakeLogStore
	ledger  *fakeLedger
	booker  *fakeBooker
	bus     *events.InMemoryBus
	orgID   uuid.UUID
}

func newGateway(t *testing.T) *gatewayFixture {
	t.Helper()
	log := logger.New("test")
	f := &gatewayFixture{
		store:  newFakeLogStore(),
		ledger: newFakeLedger(),
		booker: &fakeBooker{result: booking.BookingResult{Success: true, Speech: "You're booked."}},
		bus:    events.NewInMemoryBus(log),
		orgID:  uuid.New(),
	}
	f.service = NewService(
		f.store,
		&fakeResolver{orgID: f.orgID},
		&fakeVault{secret: testSecret},
		f.ledger,
		f.booker,
		f.bus,
		log,
	)
	return f
}

func signedDelivery(t *testing.T, payload string) ([]byte, string) {
	t.Helper()
	raw := []byte(payload)
	return raw, ComputeSignature(testSecret, raw)
}

func TestHandleDeliveryPersistsLifecycleEvent(t *testing.T) {
	f := newGateway(t)
	raw, sig := signedDelivery(t, `{"id":"evt_1","type":"call.started","call":{"id":"call_1","assistantId":"asst_1","direction":"inbound"}}`)

	ack := f.service.HandleDelivery(context.Background(), raw, sig, "")

	if !ack.Received {
		t.Fatal("delivery not acknowledged")
	}
	if len(f.store.callEvents) != 1 {
		t.Fatalf("call events = %d, want 1", len(f.store.callEvents))
	}
	ev := f.store.callEvents[0]
	if ev.EventType != "call.started" || ev.ExternalCallID != "call_1" || ev.OrganizationID != f.orgID {
		t.Errorf("unexpected call event: %+v", ev)
	}
	if got := f.store.lastStatus(); got != LogProcessed {
		t.Errorf("log status = %q, want %q", got, LogProcessed)
	}
}

func TestHandleDeliveryLogsBeforeVerification(t *testing.T) {
	f := newGateway(t)
	raw := []byte(`{"id":"evt_2","type":"call.started","call":{"id":"call_2","assistantId":"asst_1"}}`)

	ack := f.service.HandleDelivery(context.Background(), raw, "sha256=deadbeef", "")

	if !ack.Received {
		t.Fatal("rejected delivery must still be acknowledged")
	}
	if len(f.store.deliveries) != 1 {
		t.Fatal("delivery was not logged before signature rejection")
	}
	if got := f.store.lastStatus(); got != LogSignatureRejected {
		t.Errorf("log status = %q, want %q", got, LogSignatureRejected)
	}
	if len(f.store.callEvents) != 0 {
		t.Error("rejected delivery must not be processed")
	}
}

func TestHandleDeliveryUnresolvedTenant(t *testing.T) {
	f := newGateway(t)
	log := logger.New("test")
	f.service = NewService(f.store, &fakeResolver{fail: true}, &fakeVault{secret: testSecret}, f.ledger, f.booker, f.bus, log)

	raw, sig := signedDelivery(t, `{"id":"evt_3","type":"call.started","call":{"id":"call_3"}}`)
	ack := f.service.HandleDelivery(context.Background(), raw, sig, "")

	if !ack.Received {
		t.Fatal("unresolved delivery must still be acknowledged")
	}
	if got := f.store.lastStatus(); got != LogUnresolved {
		t.Errorf("log status = %q, want %q", got, LogUnresolved)
	}
	// The diagnostic detail records every attempted resolution step.
	for _, updates := range f.store.updates {
		detail, ok := updates[len(updates)-1].detail.(map[string]interface{})
		if !ok {
			t.Fatal("unresolved detail missing")
		}
		attempts, ok := detail["attempts"].([]orgresolver.Attempt)
		if !ok || len(attempts) != 3 {
			t.Errorf("attempts recorded = %v, want all 3 chain steps", detail["attempts"])
		}
	}
}

func TestHandleDeliveryDuplicateReplaysOutcome(t *testing.T) {
	f := newGateway(t)
	payload := `{"id":"evt_dup","type":"tool-calls","call":{"id":"call_4","assistantId":"asst_1","customer":{"number":"+15551234567","name":"Jane Doe"}},"toolCallList":[{"id":"tc_1","function":{"name":"book_appointment","arguments":{"serviceType":"cleaning","appointmentDate":"2026-09-01","appointmentTime":"10:00"}}}]}`
	raw, sig := signedDelivery(t, payload)

	first := f.service.HandleDelivery(context.Background(), raw, sig, "")
	second := f.service.HandleDelivery(context.Background(), raw, sig, "")

	if f.ledger.calls != 1 {
		t.Fatalf("side effects ran %d times, want 1", f.ledger.calls)
	}
	if len(f.booker.requests) != 1 {
		t.Fatalf("booking ran %d times, want 1", len(f.booker.requests))
	}
	if len(first.Results) != 1 || len(second.Results) != 1 {
		t.Fatal("both acknowledgements must carry tool results")
	}
	if first.Results[0].Result != second.Results[0].Result {
		t.Error("duplicate delivery must replay the identical outcome")
	}
}

func TestHandleDeliveryToolCallBooksAppointment(t *testing.T) {
	f := newGateway(t)
	payload := `{"id":"evt_tc","type":"tool-calls","call":{"id":"call_5","assistantId":"asst_1","customer":{"number":"+15551234567","name":"Jane Doe"}},"toolCallList":[{"id":"tc_9","function":{"name":"book_appointment","arguments":{"serviceType":"checkup","appointmentDate":"January 20th","appointmentTime":"3pm"}}}]}`
	raw, sig := signedDelivery(t, payload)

	ack := f.service.HandleDelivery(context.Background(), raw, sig, "")

	if len(f.booker.requests) != 1 {
		t.Fatal("booking service not invoked")
	}
	req := f.booker.requests[0]
	if req.ContactPhone != "+15551234567" {
		t.Errorf("caller number not backfilled into booking request: %q", req.ContactPhone)
	}
	if req.ContactName != "Jane Doe" {
		t.Errorf("caller name not backfilled: %q", req.ContactName)
	}
	if len(ack.Results) != 1 || ack.Results[0].ToolCallID != "tc_9" {
		t.Fatalf("tool result missing or mismatched: %+v", ack.Results)
	}
	if ack.Results[0].Result != "You're booked." {
		t.Errorf("tool result = %q, want booking speech", ack.Results[0].Result)
	}
}

func TestHandleDeliveryUnknownToolStillAnswers(t *testing.T) {
	f := newGateway(t)
	payload := `{"id":"evt_ut","type":"tool-calls","call":{"id":"call_6","assistantId":"asst_1"},"toolCallList":[{"id":"tc_x","function":{"name":"cancel_subscription","arguments":{}}}]}`
	raw, sig := signedDelivery(t, payload)

	ack := f.service.HandleDelivery(context.Background(), raw, sig, "")

	if len(f.booker.requests) != 0 {
		t.Error("unknown tool must not reach the booking service")
	}
	if len(ack.Results) != 1 || ack.Results[0].Result == "" {
		t.Fatal("unknown tool must still get a speakable answer")
	}
}

func TestHandleDeliveryEndOfCallPublishesEvent(t *testing.T) {
	f := newGateway(t)
	var (
		mu       sync.Mutex
		received *CallEnded
	)
	f.bus.Subscribe(CallEnded{}.EventName(), events.HandlerFunc(func(_ context.Context, ev events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		ce := ev.(CallEnded)
		received = &ce
		return nil
	}))

	payload := `{"id":"evt_eoc","type":"end-of-call-report","call":{"id":"call_7","assistantId":"asst_1"},"artifact":{"transcript":"AI: Hello. User: Hi."},"analysis":{"summary":"Caller booked a cleaning."}}`
	raw, sig := signedDelivery(t, payload)

	f.service.HandleDelivery(context.Background(), raw, sig, "")
	f.bus.Wait()

	mu.Lock()
	defer mu.Unlock()
	if received == nil {
		t.Fatal("call ended event not published")
	}
	if received.OrganizationID != f.orgID || received.ExternalCallID != "call_7" {
		t.Errorf("unexpected event: %+v", received)
	}
	if received.Transcript != "AI: Hello. User: Hi." {
		t.Errorf("transcript not carried: %q", received.Transcript)
	}
	if len(f.store.callEvents) != 1 || f.store.callEvents[0].Summary != "Caller booked a cleaning." {
		t.Error("end-of-call report must be persisted with the provider summary")
	}
}

func TestHandleDeliveryUnparseableBodyStillLogged(t *testing.T) {
	f := newGateway(t)

	ack := f.service.HandleDelivery(context.Background(), []byte("not json at all"), "", "")

	if !ack.Received {
		t.Fatal("unparseable delivery must still be acknowledged")
	}
	if len(f.store.deliveries) != 1 || f.store.deliveries[0].eventType != "unparseable" {
		t.Errorf("unparseable delivery not logged: %+v", f.store.deliveries)
	}
}

func TestHandleDeliveryNestedMessageEnvelope(t *testing.T) {
	f := newGateway(t)
	payload := `{"message":{"id":"evt_nested","type":"status-update","call":{"id":"call_8","assistantId":"asst_1"}}}`
	raw, sig := signedDelivery(t, payload)

	f.service.HandleDelivery(context.Background(), raw, sig, "")

	if len(f.store.callEvents) != 1 {
		t.Fatal("nested envelope not routed")
	}
	if f.store.callEvents[0].ExternalCallID != "call_8" {
		t.Errorf("call id = %q, want call_8", f.store.callEvents[0].ExternalCallID)
	}
}

func TestHandleDeliveryMissingSecretRejects(t *testing.T) {
	f := newGateway(t)
	log := logger.New("test")
	f.service = NewService(f.store, &fakeResolver{orgID: f.orgID}, &fakeVault{}, f.ledger, f.booker, f.bus, log)

	raw, sig := signedDelivery(t, `{"id":"evt_ns","type":"call.started","call":{"id":"call_9","assistantId":"asst_1"}}`)
	ack := f.service.HandleDelivery(context.Background(), raw, sig, "")

	if !ack.Received {
		t.Fatal("delivery must still be acknowledged")
	}
	if got := f.store.lastStatus(); got != LogSignatureRejected {
		t.Errorf("log status = %q, want %q", got, LogSignatureRejected)
	}
}

func TestParseEventTypeAliases(t *testing.T) {
	tests := []struct {
		raw  string
		want EventType
		ok   bool
	}{
		{"tool-calls", EventToolCalls, true},
		{"tool.calls", EventToolCalls, true},
		{"TOOL-CALLS", EventToolCalls, true},
		{" end-of-call-report ", EventEndOfCallReport, true},
		{"made-up", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseEventType(tt.raw)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("ParseEventType(%q) = %q, %v", tt.raw, got, ok)
		}
	}
}

func TestHandleDeliveryDedupPrefersHeaderDeliveryID(t *testing.T) {
	f := newGateway(t)
	// Same delivery retried with different envelope ids but one header id:
	// the header must win, so the retry is a duplicate.
	first, sig1 := signedDelivery(t, `{"id":"evt_a","type":"transcript","call":{"id":"call_h","assistantId":"asst_1"}}`)
	second, sig2 := signedDelivery(t, `{"id":"evt_b","type":"transcript","call":{"id":"call_h","assistantId":"asst_1"}}`)

	f.service.HandleDelivery(context.Background(), first, sig1, "dlv_42")
	f.service.HandleDelivery(context.Background(), second, sig2, "dlv_42")

	if f.ledger.calls != 1 {
		t.Fatalf("processing ran %d times, want 1", f.ledger.calls)
	}
	if len(f.store.callEvents) != 1 {
		t.Errorf("call events = %d, want 1", len(f.store.callEvents))
	}
}

func TestHandleDeliverySpeechUpdatePersists(t *testing.T) {
	f := newGateway(t)
	raw, sig := signedDelivery(t, `{"id":"evt_su","type":"speech-update","call":{"id":"call_su","assistantId":"asst_1"}}`)

	f.service.HandleDelivery(context.Background(), raw, sig, "")

	if len(f.store.callEvents) != 1 || f.store.callEvents[0].EventType != "speech-update" {
		t.Fatalf("speech-update not persisted: %+v", f.store.callEvents)
	}
}

func TestDedupKeyFallsBackToCallAndType(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"type":"transcript","call":{"id":"call_k"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if got := env.DedupKey(); !strings.Contains(got, "call_k") || !strings.Contains(got, "transcript") {
		t.Errorf("fallback dedup key = %q", got)
	}
}
