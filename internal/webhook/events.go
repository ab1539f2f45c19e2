// Package webhook is the HTTP boundary for voice-provider deliveries:
// log, verify, deduplicate, resolve the tenant, route, acknowledge.
package webhook

import (
	"encoding/json"
	"strings"
)

// EventType is the closed set of provider events this gateway understands.
// Routing switches over this set exhaustively; adding a member means
// deciding its handler at compile time, not at string-match time.
type EventType string

const (
	EventCallStarted     EventType = "call.started"
	EventCallEnded       EventType = "call.ended"
	EventStatusUpdate    EventType = "status-update"
	EventTranscript      EventType = "transcript"
	EventEndOfCallReport EventType = "end-of-call-report"
	EventToolCalls       EventType = "tool-calls"
	EventHang            EventType = "hang"
	EventSpeechUpdate    EventType = "speech-update"
)

// knownEventTypes also accepts the dotted aliases some provider versions emit.
var knownEventTypes = map[string]EventType{
	"call.started":       EventCallStarted,
	"call.ended":         EventCallEnded,
	"status-update":      EventStatusUpdate,
	"transcript":         EventTranscript,
	"end-of-call-report": EventEndOfCallReport,
	"tool-calls":         EventToolCalls,
	"tool.calls":         EventToolCalls,
	"hang":               EventHang,
	"speech-update":      EventSpeechUpdate,
}

// ParseEventType maps the wire tag to a member of the closed set.
func ParseEventType(raw string) (EventType, bool) {
	et, ok := knownEventTypes[strings.ToLower(strings.TrimSpace(raw))]
	return et, ok
}

// Customer is the caller as reported by the provider.
type Customer struct {
	Number string `json:"number"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

// Call is the provider's call object.
type Call struct {
	ID          string                 `json:"id"`
	AssistantID string                 `json:"assistantId"`
	Direction   string                 `json:"direction"`
	Customer    Customer               `json:"customer"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// Artifact carries call recordings and transcripts.
type Artifact struct {
	Transcript string `json:"transcript"`
}

// Analysis carries the provider's post-call analysis.
type Analysis struct {
	Summary        string          `json:"summary"`
	StructuredData json.RawMessage `json:"structuredData"`
}

// ToolCall is one function invocation requested by the voice agent.
type ToolCall struct {
	ID       string `json:"id"`
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

// Envelope is the provider's delivery payload. Older provider versions put
// the fields at the top level; newer ones nest them under "message".
type Envelope struct {
	ID             string     `json:"id"`
	Type           string     `json:"type"`
	EventTypeAlias string     `json:"eventType"`
	OrganizationID string     `json:"organizationId"`
	Call           *Call      `json:"call"`
	Artifact       *Artifact  `json:"artifact"`
	Analysis       *Analysis  `json:"analysis"`
	ToolCalls      []ToolCall `json:"toolCallList"`

	Message *Envelope `json:"message"`
}

// Flatten returns the envelope with a nested message merged up.
func (e *Envelope) Flatten() *Envelope {
	if e.Message == nil {
		return e
	}
	inner := e.Message.Flatten()
	if inner.ID == "" {
		inner.ID = e.ID
	}
	return inner
}

// RawType returns whichever wire tag was present.
func (e *Envelope) RawType() string {
	if e.Type != "" {
		return e.Type
	}
	return e.EventTypeAlias
}

// CallID returns the external call id, if any.
func (e *Envelope) CallID() string {
	if e.Call == nil {
		return ""
	}
	return e.Call.ID
}

// AssistantID returns the reporting assistant id, if any.
func (e *Envelope) AssistantID() string {
	if e.Call == nil {
		return ""
	}
	return e.Call.AssistantID
}

// MetadataOrgID returns the organization id stamped onto call metadata at
// call-creation time, if any.
func (e *Envelope) MetadataOrgID() string {
	if e.Call == nil || e.Call.Metadata == nil {
		return ""
	}
	for _, key := range []string{"organizationId", "org_id", "orgId"} {
		if v, ok := e.Call.Metadata[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// DedupKey identifies this delivery for the idempotency ledger: the
// provider's delivery id when present, otherwise call id + event tag.
func (e *Envelope) DedupKey() string {
	if e.ID != "" {
		return e.ID
	}
	return e.CallID() + "|" + e.RawType()
}

// ParseEnvelope decodes and flattens a raw delivery body.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	return env.Flatten(), nil
}
