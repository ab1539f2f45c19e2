package booking

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"clinicvoice_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Appointment statuses. Cancellation is a status change, never a row delete,
// so booking history stays auditable.
const (
	StatusHeld      = "held"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

// CodeSlotUnavailable is the machine-readable conflict code returned when a
// slot already holds an active appointment.
const CodeSlotUnavailable = "SLOT_UNAVAILABLE"

// Appointment is a reserved slot for one organization.
type Appointment struct {
	ID              uuid.UUID  `db:"id"`
	OrganizationID  uuid.UUID  `db:"org_id"`
	ContactID       uuid.UUID  `db:"contact_id"`
	ScheduledAt     time.Time  `db:"scheduled_at"`
	DurationMinutes int        `db:"duration_minutes"`
	ServiceType     string     `db:"service_type"`
	Status          string     `db:"status"`
	CalendarEventID *string    `db:"calendar_event_id"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

// ReservationEngine is the only writer of appointment rows. It enforces
// one active booking per (org_id, scheduled_at).
type ReservationEngine struct {
	pool *pgxpool.Pool
}

// NewReservationEngine creates a reservation engine.
func NewReservationEngine(pool *pgxpool.Pool) *ReservationEngine {
	return &ReservationEngine{pool: pool}
}

// slotLockKey derives the advisory lock key for one (org, instant) slot.
// The key must be deterministic so every contender for the same slot maps to
// the same lock, while different slots and different tenants hash apart and
// proceed in parallel.
func slotLockKey(orgID uuid.UUID, scheduledAt time.Time) int64 {
	h := fnv.New64a()
	h.Write([]byte(orgID.String()))
	h.Write([]byte("|"))
	h.Write([]byte(scheduledAt.UTC().Format(time.RFC3339)))
	return int64(h.Sum64())
}

const activeSlotQuery = `
	SELECT id FROM appointments
	WHERE org_id = $1 AND scheduled_at = $2 AND status <> 'cancelled'
	LIMIT 1`

const insertAppointmentQuery = `
	INSERT INTO appointments (
		id, org_id, contact_id, scheduled_at, duration_minutes,
		service_type, status, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())`

// Reserve books the slot inside a single transaction. A transaction-scoped
// advisory lock keyed on (org, instant) serializes contenders for the same
// slot: the first committer wins, every later one observes the committed row
// and receives a SLOT_UNAVAILABLE conflict. The lock releases automatically
// at transaction end on every exit path.
func (e *ReservationEngine) Reserve(ctx context.Context, orgID, contactID uuid.UUID, scheduledAt time.Time, durationMinutes int, serviceType string) (*Appointment, error) {
	scheduledAt = scheduledAt.UTC()

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "begin reservation", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", slotLockKey(orgID, scheduledAt)); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "acquire slot lock", err)
	}

	var existing uuid.UUID
	err = tx.QueryRow(ctx, activeSlotQuery, orgID, scheduledAt).Scan(&existing)
	switch {
	case err == nil:
		return nil, apperr.Conflict("slot is already booked").WithCode(CodeSlotUnavailable)
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, apperr.Wrap(apperr.KindInternal, "check slot availability", err)
	}

	appt := &Appointment{
		ID:              uuid.New(),
		OrganizationID:  orgID,
		ContactID:       contactID,
		ScheduledAt:     scheduledAt,
		DurationMinutes: durationMinutes,
		ServiceType:     serviceType,
		Status:          StatusConfirmed,
	}

	if _, err := tx.Exec(ctx, insertAppointmentQuery,
		appt.ID, appt.OrganizationID, appt.ContactID, appt.ScheduledAt,
		appt.DurationMinutes, appt.ServiceType, appt.Status,
	); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "insert appointment", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "commit reservation", err)
	}

	return appt, nil
}

const transitionStatusQuery = `
	UPDATE appointments SET status = $3, updated_at = now()
	WHERE id = $1 AND org_id = $2 AND status = ANY($4)`

// Confirm transitions a held appointment to confirmed.
func (e *ReservationEngine) Confirm(ctx context.Context, apptID, orgID uuid.UUID) error {
	return e.transition(ctx, apptID, orgID, StatusConfirmed, []string{StatusHeld})
}

// Cancel transitions an active appointment to cancelled. The row survives
// for audit history.
func (e *ReservationEngine) Cancel(ctx context.Context, apptID, orgID uuid.UUID) error {
	return e.transition(ctx, apptID, orgID, StatusCancelled, []string{StatusHeld, StatusConfirmed})
}

func (e *ReservationEngine) transition(ctx context.Context, apptID, orgID uuid.UUID, to string, from []string) error {
	tag, err := e.pool.Exec(ctx, transitionStatusQuery, apptID, orgID, to, from)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "transition appointment", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("appointment not found or not in a transitionable state")
	}
	return nil
}

const setCalendarEventQuery = `
	UPDATE appointments SET calendar_event_id = $3, updated_at = now()
	WHERE id = $1 AND org_id = $2`

// SetCalendarEventID stores the external calendar reference after the remote
// event has been created. A failure here triggers compensation upstream: the
// remote event must never outlive its local record.
func (e *ReservationEngine) SetCalendarEventID(ctx context.Context, apptID, orgID uuid.UUID, eventID string) error {
	tag, err := e.pool.Exec(ctx, setCalendarEventQuery, apptID, orgID, eventID)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "set calendar event id", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("appointment not found")
	}
	return nil
}

const getAppointmentQuery = `
	SELECT id, org_id, contact_id, scheduled_at, duration_minutes,
		service_type, status, calendar_event_id, created_at, updated_at
	FROM appointments
	WHERE id = $1 AND org_id = $2`

// GetByID fetches one appointment, tenant-scoped.
func (e *ReservationEngine) GetByID(ctx context.Context, apptID, orgID uuid.UUID) (*Appointment, error) {
	var a Appointment
	err := e.pool.QueryRow(ctx, getAppointmentQuery, apptID, orgID).Scan(
		&a.ID, &a.OrganizationID, &a.ContactID, &a.ScheduledAt, &a.DurationMinutes,
		&a.ServiceType, &a.Status, &a.CalendarEventID, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("appointment not found")
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return &a, nil
}
