package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"clinicvoice_backend/internal/booking"
	"clinicvoice_backend/internal/idempotency"
	"clinicvoice_backend/internal/orgresolver"
	"clinicvoice_backend/internal/vault"
	"clinicvoice_backend/platform/events"
	"clinicvoice_backend/platform/logger"

	"github.com/google/uuid"
)

// ToolBookAppointment is the function name the voice agent invokes to book.
const ToolBookAppointment = "book_appointment"

// Ack is the gateway's response. The provider's delivery contract expects a
// fast 2xx regardless of downstream outcome; Results is populated only for
// tool-call deliveries so the agent can speak the outcome.
type Ack struct {
	Received bool         `json:"received"`
	Results  []ToolResult `json:"results,omitempty"`
}

// ToolResult answers one tool call.
type ToolResult struct {
	ToolCallID string `json:"toolCallId"`
	Result     string `json:"result"`
}

// Outcome is what the idempotency ledger caches per delivery, so a retried
// delivery replays the identical acknowledgement.
type Outcome struct {
	Status  string       `json:"status"`
	Results []ToolResult `json:"results,omitempty"`
}

// LogStore persists delivery logs and call events.
type LogStore interface {
	LogDelivery(ctx context.Context, eventType, externalCallID, orgHint string, raw []byte) (uuid.UUID, error)
	UpdateLog(ctx context.Context, logID uuid.UUID, status string, detail interface{}, orgID *uuid.UUID) error
	InsertCallEvent(ctx context.Context, ev *CallEvent) error
}

// OrgResolver maps delivery hints to a tenant.
type OrgResolver interface {
	Resolve(ctx context.Context, hints orgresolver.Hints) (*orgresolver.Resolution, []orgresolver.Attempt, error)
}

// Deduper is the idempotency ledger surface the gateway needs.
type Deduper interface {
	Do(ctx context.Context, key string, fn func(ctx context.Context) (interface{}, error)) (json.RawMessage, bool, error)
}

// Booker runs booking tool calls.
type Booker interface {
	Book(ctx context.Context, orgID uuid.UUID, req booking.BookingRequest) (booking.BookingResult, error)
}

// CallEnded is published after an end-of-call report is persisted, so
// best-effort summarization runs without blocking the acknowledgement.
type CallEnded struct {
	events.BaseEvent
	OrganizationID  uuid.UUID
	CallEventID     uuid.UUID
	ExternalCallID  string
	Transcript      string
	ProviderSummary string
}

// EventName implements events.Event.
func (CallEnded) EventName() string { return "webhook.call_ended" }

// Service drives one delivery through the gateway state machine:
// Received -> Logged -> Verified -> Deduplicated -> Resolved -> Routed -> Acknowledged.
type Service struct {
	repo     LogStore
	resolver OrgResolver
	vault    vault.Vault
	ledger   Deduper
	booker   Booker
	bus      events.Bus
	log      *logger.Logger
}

// NewService creates the gateway service.
func NewService(repo LogStore, resolver OrgResolver, v vault.Vault, ledger Deduper, booker Booker, bus events.Bus, log *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		resolver: resolver,
		vault:    v,
		ledger:   ledger,
		booker:   booker,
		bus:      bus,
		log:      log,
	}
}

// HandleDelivery processes one raw delivery. It always returns an Ack:
// failures after logging are recorded for audit, acknowledged to the sender,
// and not processed, which keeps retry storms away.
func (s *Service) HandleDelivery(ctx context.Context, raw []byte, signatureHeader, deliveryID string) Ack {
	env, err := ParseEnvelope(raw)
	if err != nil {
		// Unparseable bodies are still logged for diagnosis.
		if _, logErr := s.repo.LogDelivery(ctx, "unparseable", "", "", raw); logErr != nil {
			s.log.DatabaseError("log unparseable delivery", logErr)
		}
		return Ack{Received: true}
	}

	logID, err := s.repo.LogDelivery(ctx, env.RawType(), env.CallID(), env.AssistantID(), raw)
	if err != nil {
		// Without the audit row we still honor the delivery contract.
		s.log.DatabaseError("log delivery", err)
		return Ack{Received: true}
	}

	resolution, attempts, err := s.resolver.Resolve(ctx, orgresolver.Hints{
		AssistantID:   env.AssistantID(),
		MetadataOrgID: env.MetadataOrgID(),
		PayloadOrgID:  env.OrganizationID,
	})
	if err != nil {
		s.updateLog(ctx, logID, LogUnresolved, map[string]interface{}{
			"attempts": attempts,
			"error":    err.Error(),
		}, nil)
		s.log.WebhookEvent(env.RawType(), env.CallID(), LogUnresolved)
		return Ack{Received: true}
	}
	orgID := resolution.OrgID

	if !s.verify(ctx, orgID, raw, signatureHeader) {
		s.updateLog(ctx, logID, LogSignatureRejected, map[string]interface{}{
			"resolvedVia": resolution.Step,
		}, &orgID)
		s.log.SignatureRejected(env.RawType(), env.CallID(), "hmac mismatch")
		return Ack{Received: true}
	}

	dedupKey := strings.TrimSpace(deliveryID)
	if dedupKey == "" {
		dedupKey = env.DedupKey()
	}
	cached, duplicate, err := s.ledger.Do(ctx, dedupKey, func(ctx context.Context) (interface{}, error) {
		return s.route(ctx, orgID, env, raw)
	})
	if err != nil {
		if errors.Is(err, idempotency.ErrInFlight) {
			s.updateLog(ctx, logID, LogDuplicate, map[string]string{"note": "in-flight duplicate"}, &orgID)
			return Ack{Received: true}
		}
		s.updateLog(ctx, logID, LogFailed, map[string]string{"error": err.Error()}, &orgID)
		s.log.WebhookEvent(env.RawType(), env.CallID(), LogFailed)
		return Ack{Received: true}
	}

	var outcome Outcome
	if unmarshalErr := json.Unmarshal(cached, &outcome); unmarshalErr != nil {
		s.log.Error("decode cached outcome", "error", unmarshalErr.Error())
		return Ack{Received: true}
	}

	status := LogProcessed
	if duplicate {
		status = LogDuplicate
	}
	s.updateLog(ctx, logID, status, map[string]interface{}{"outcome": outcome.Status}, &orgID)
	s.log.WebhookEvent(env.RawType(), env.CallID(), status)

	return Ack{Received: true, Results: outcome.Results}
}

// verify checks the delivery HMAC against the tenant's webhook secret.
// A tenant with no secret on file is treated as verification failure.
func (s *Service) verify(ctx context.Context, orgID uuid.UUID, raw []byte, signatureHeader string) bool {
	bundle, err := s.vault.GetCredentials(ctx, orgID, vault.ProviderVoice)
	if err != nil {
		if !errors.Is(err, vault.ErrNotFound) {
			s.log.Error("vault lookup failed", "org_id", orgID.String(), "error", err.Error())
		}
		return false
	}
	return VerifySignature(bundle.WebhookSecret, raw, signatureHeader)
}

// route dispatches one verified, first-seen delivery. The switch over the
// closed event set is exhaustive: an unrecognized tag is persisted as a
// generic lifecycle event rather than dropped.
func (s *Service) route(ctx context.Context, orgID uuid.UUID, env *Envelope, raw []byte) (Outcome, error) {
	eventType, known := ParseEventType(env.RawType())
	if !known {
		if err := s.persistCallEvent(ctx, orgID, env, raw, env.RawType()); err != nil {
			return Outcome{}, err
		}
		return Outcome{Status: "persisted_unknown_type"}, nil
	}

	switch eventType {
	case EventToolCalls:
		results := s.runToolCalls(ctx, orgID, env)
		return Outcome{Status: "tool_calls_executed", Results: results}, nil

	case EventCallStarted, EventStatusUpdate, EventTranscript, EventHang, EventSpeechUpdate:
		if err := s.persistCallEvent(ctx, orgID, env, raw, string(eventType)); err != nil {
			return Outcome{}, err
		}
		return Outcome{Status: "persisted"}, nil

	case EventCallEnded, EventEndOfCallReport:
		ev, err := s.persistAndReturnCallEvent(ctx, orgID, env, raw, string(eventType))
		if err != nil {
			return Outcome{}, err
		}
		s.publishCallEnded(ctx, orgID, ev, env)
		return Outcome{Status: "persisted"}, nil
	}

	// Unreachable: every member of the closed set is handled above.
	return Outcome{Status: "persisted"}, s.persistCallEvent(ctx, orgID, env, raw, string(eventType))
}

func (s *Service) persistCallEvent(ctx context.Context, orgID uuid.UUID, env *Envelope, raw []byte, eventType string) error {
	_, err := s.persistAndReturnCallEvent(ctx, orgID, env, raw, eventType)
	return err
}

func (s *Service) persistAndReturnCallEvent(ctx context.Context, orgID uuid.UUID, env *Envelope, raw []byte, eventType string) (*CallEvent, error) {
	ev := &CallEvent{
		OrganizationID: orgID,
		ExternalCallID: env.CallID(),
		Direction:      direction(env),
		EventType:      eventType,
		Summary:        providerSummary(env),
		Payload:        json.RawMessage(raw),
	}
	if err := s.repo.InsertCallEvent(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

func (s *Service) publishCallEnded(ctx context.Context, orgID uuid.UUID, ev *CallEvent, env *Envelope) {
	transcript := ""
	if env.Artifact != nil {
		transcript = env.Artifact.Transcript
	}
	s.bus.Publish(ctx, CallEnded{
		BaseEvent:       events.NewBaseEvent(),
		OrganizationID:  orgID,
		CallEventID:     ev.ID,
		ExternalCallID:  env.CallID(),
		Transcript:      transcript,
		ProviderSummary: providerSummary(env),
	})
}

// bookToolArgs is the argument shape of the book_appointment tool.
type bookToolArgs struct {
	ContactName     string `json:"contactName"`
	ContactEmail    string `json:"contactEmail"`
	ContactPhone    string `json:"contactPhone"`
	ServiceType     string `json:"serviceType"`
	AppointmentDate string `json:"appointmentDate"`
	AppointmentTime string `json:"appointmentTime"`
	DurationMinutes int    `json:"durationMinutes"`
}

func (s *Service) runToolCalls(ctx context.Context, orgID uuid.UUID, env *Envelope) []ToolResult {
	results := make([]ToolResult, 0, len(env.ToolCalls))
	for _, tc := range env.ToolCalls {
		results = append(results, ToolResult{
			ToolCallID: tc.ID,
			Result:     s.runToolCall(ctx, orgID, env, tc),
		})
	}
	return results
}

func (s *Service) runToolCall(ctx context.Context, orgID uuid.UUID, env *Envelope, tc ToolCall) string {
	if !strings.EqualFold(tc.Function.Name, ToolBookAppointment) {
		return "I can only help with booking appointments on this line."
	}

	var args bookToolArgs
	if err := json.Unmarshal(tc.Function.Arguments, &args); err != nil {
		return "I couldn't make out those booking details. Could you repeat them?"
	}

	// The caller's number from the call object backstops a missing
	// contactPhone argument; the agent does not always re-ask for it.
	if args.ContactPhone == "" && env.Call != nil {
		args.ContactPhone = env.Call.Customer.Number
	}
	if args.ContactName == "" && env.Call != nil {
		args.ContactName = env.Call.Customer.Name
	}

	result, _ := s.booker.Book(ctx, orgID, booking.BookingRequest{
		ContactName:     args.ContactName,
		ContactEmail:    args.ContactEmail,
		ContactPhone:    args.ContactPhone,
		ServiceType:     args.ServiceType,
		AppointmentDate: args.AppointmentDate,
		AppointmentTime: args.AppointmentTime,
		DurationMinutes: args.DurationMinutes,
	})

	// The agent relays result text verbatim; speech is always present.
	return result.Speech
}

func (s *Service) updateLog(ctx context.Context, logID uuid.UUID, status string, detail interface{}, orgID *uuid.UUID) {
	if err := s.repo.UpdateLog(ctx, logID, status, detail, orgID); err != nil {
		s.log.DatabaseError("update webhook log", err)
	}
}

func direction(env *Envelope) string {
	if env.Call == nil || env.Call.Direction == "" {
		return "inbound"
	}
	return env.Call.Direction
}

func providerSummary(env *Envelope) string {
	if env.Analysis != nil && env.Analysis.Summary != "" {
		return env.Analysis.Summary
	}
	return ""
}
