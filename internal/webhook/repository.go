package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Delivery log statuses, one per terminal gateway state.
const (
	LogReceived          = "received"
	LogProcessed         = "processed"
	LogDuplicate         = "duplicate"
	LogSignatureRejected = "signature_rejected"
	LogUnresolved        = "unresolved"
	LogFailed            = "failed"
)

// CallEvent is a normalized record of one provider-reported occurrence.
// Rows are insert-only.
type CallEvent struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	ExternalCallID string
	Direction      string
	EventType      string
	Summary        string
	Payload        json.RawMessage
	ReceivedAt     time.Time
}

// Repository persists webhook logs and call events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a webhook repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const insertLogQuery = `
	INSERT INTO webhook_logs (id, event_type, external_call_id, org_hint, status, payload, received_at)
	VALUES ($1, $2, $3, $4, $5, $6, now())
	RETURNING id`

// LogDelivery records the complete raw payload and a minimal summary before
// any verification, so misdirected deliveries stay diagnosable.
func (r *Repository) LogDelivery(ctx context.Context, eventType, externalCallID, orgHint string, raw []byte) (uuid.UUID, error) {
	if !json.Valid(raw) {
		// Store unparseable bodies as a JSON string so the column accepts them.
		encoded, err := json.Marshal(string(raw))
		if err != nil {
			return uuid.UUID{}, fmt.Errorf("encode raw payload: %w", err)
		}
		raw = encoded
	}

	var id uuid.UUID
	err := r.pool.QueryRow(ctx, insertLogQuery, uuid.New(), eventType, externalCallID, orgHint, LogReceived, raw).Scan(&id)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("log webhook delivery: %w", err)
	}
	return id, nil
}

const updateLogQuery = `
	UPDATE webhook_logs
	SET status = $2, detail = $3, org_id = COALESCE($4, org_id)
	WHERE id = $1`

// UpdateLog records the delivery's terminal state. detail carries structured
// diagnostics (resolution attempts, rejection reasons) as JSON.
func (r *Repository) UpdateLog(ctx context.Context, logID uuid.UUID, status string, detail interface{}, orgID *uuid.UUID) error {
	var detailJSON []byte
	if detail != nil {
		var err error
		detailJSON, err = json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("encode log detail: %w", err)
		}
	}

	if _, err := r.pool.Exec(ctx, updateLogQuery, logID, status, detailJSON, orgID); err != nil {
		return fmt.Errorf("update webhook log: %w", err)
	}
	return nil
}

const insertCallEventQuery = `
	INSERT INTO call_events (id, org_id, external_call_id, direction, event_type, summary, payload, received_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	RETURNING id, received_at`

// InsertCallEvent persists one accepted lifecycle event.
func (r *Repository) InsertCallEvent(ctx context.Context, ev *CallEvent) error {
	if ev.ID == (uuid.UUID{}) {
		ev.ID = uuid.New()
	}
	err := r.pool.QueryRow(ctx, insertCallEventQuery,
		ev.ID, ev.OrganizationID, ev.ExternalCallID, ev.Direction,
		ev.EventType, ev.Summary, ev.Payload,
	).Scan(&ev.ID, &ev.ReceivedAt)
	if err != nil {
		return fmt.Errorf("insert call event: %w", err)
	}
	return nil
}

const setCallEventSummaryQuery = `
	UPDATE call_events SET summary = $3
	WHERE id = $1 AND org_id = $2`

// SetCallEventSummary attaches the post-call outcome summary to an event.
func (r *Repository) SetCallEventSummary(ctx context.Context, eventID, orgID uuid.UUID, summary string) error {
	if _, err := r.pool.Exec(ctx, setCallEventSummaryQuery, eventID, orgID, summary); err != nil {
		return fmt.Errorf("set call event summary: %w", err)
	}
	return nil
}
