package booking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"clinicvoice_backend/platform/apperr"
	"clinicvoice_backend/platform/logger"

	"github.com/google/uuid"
)

const defaultDurationMinutes = 30

// BookingRequest is the normalized-input contract of the orchestrator.
// At least one of ContactPhone/ContactEmail must be present.
type BookingRequest struct {
	ContactName     string
	ContactEmail    string
	ContactPhone    string
	ServiceType     string
	AppointmentDate string
	AppointmentTime string
	DurationMinutes int
}

// BookingResult is what the voice agent receives. Speech is always set,
// success or failure, so the caller never hears a raw error code.
type BookingResult struct {
	Success       bool       `json:"success"`
	AppointmentID *uuid.UUID `json:"appointmentId,omitempty"`
	ErrorCode     string     `json:"errorCode,omitempty"`
	Speech        string     `json:"speech"`
}

// ContactStore resolves the caller to a contact row.
type ContactStore interface {
	UpsertByPhone(ctx context.Context, orgID uuid.UUID, phoneE164, email, name string) (*Contact, error)
	FindOrCreateByEmail(ctx context.Context, orgID uuid.UUID, email, name string) (*Contact, error)
}

// SlotReserver is the authoritative slot writer.
type SlotReserver interface {
	Reserve(ctx context.Context, orgID, contactID uuid.UUID, scheduledAt time.Time, durationMinutes int, serviceType string) (*Appointment, error)
}

// SideEffectJob carries everything the dispatcher needs to send the
// confirmation SMS/email, sync the calendar, and raise the lead alert.
type SideEffectJob struct {
	OrganizationID  uuid.UUID `json:"organizationId"`
	AppointmentID   uuid.UUID `json:"appointmentId"`
	ContactID       uuid.UUID `json:"contactId"`
	ContactName     string    `json:"contactName"`
	ContactPhone    string    `json:"contactPhone,omitempty"`
	ContactEmail    string    `json:"contactEmail,omitempty"`
	ServiceType     string    `json:"serviceType"`
	ScheduledAt     time.Time `json:"scheduledAt"`
	DurationMinutes int       `json:"durationMinutes"`
}

// Dispatcher enqueues side-effect jobs for background delivery. The booking
// response never waits on it.
type Dispatcher interface {
	EnqueueBookingSideEffects(ctx context.Context, job SideEffectJob) error
}

// Service is the booking orchestrator: normalize input, resolve the contact,
// reserve the slot, respond, then hand side effects to the dispatcher.
type Service struct {
	contacts   ContactStore
	reserver   SlotReserver
	dispatcher Dispatcher
	log        *logger.Logger
	now        func() time.Time
}

// NewService creates the orchestrator.
func NewService(contacts ContactStore, reserver SlotReserver, dispatcher Dispatcher, log *logger.Logger) *Service {
	return &Service{
		contacts:   contacts,
		reserver:   reserver,
		dispatcher: dispatcher,
		log:        log,
		now:        time.Now,
	}
}

// Book runs the full booking flow for one tool invocation. The returned
// result always carries a speakable outcome; the error mirrors the failure
// for gateway-side caching decisions and is nil on success.
func (s *Service) Book(ctx context.Context, orgID uuid.UUID, req BookingRequest) (BookingResult, error) {
	normalized, err := s.normalize(req)
	if err != nil {
		s.log.WithContext(ctx).BookingOutcome(orgID.String(), false, apperr.GetCode(err))
		return failureResult(err), err
	}

	contact, err := s.resolveContact(ctx, orgID, normalized)
	if err != nil {
		s.log.WithContext(ctx).DatabaseError("resolve contact", err)
		err = apperr.Wrap(apperr.KindInternal, "could not save caller details", err)
		return failureResult(err), err
	}

	appt, err := s.reserver.Reserve(ctx, orgID, contact.ID, normalized.scheduledAt, normalized.duration, normalized.serviceType)
	if err != nil {
		s.log.WithContext(ctx).BookingOutcome(orgID.String(), false, apperr.GetCode(err))
		return failureResult(err), err
	}

	s.log.WithContext(ctx).BookingOutcome(orgID.String(), true, "")

	// Side effects are fire-and-forget from the caller's point of view:
	// a full queue or dead broker degrades confirmations, never bookings.
	job := SideEffectJob{
		OrganizationID:  orgID,
		AppointmentID:   appt.ID,
		ContactID:       contact.ID,
		ContactName:     normalized.name,
		ContactPhone:    normalized.phone,
		ContactEmail:    normalized.email,
		ServiceType:     normalized.serviceType,
		ScheduledAt:     appt.ScheduledAt,
		DurationMinutes: appt.DurationMinutes,
	}
	if err := s.dispatcher.EnqueueBookingSideEffects(context.WithoutCancel(ctx), job); err != nil {
		s.log.WithContext(ctx).DispatchFailure("enqueue_side_effects", orgID.String(), err)
	}

	return BookingResult{
		Success:       true,
		AppointmentID: &appt.ID,
		Speech:        successSpeech(normalized.serviceType, appt.ScheduledAt),
	}, nil
}

type normalizedBooking struct {
	name        string
	phone       string
	email       string
	serviceType string
	scheduledAt time.Time
	duration    int
}

func (s *Service) normalize(req BookingRequest) (normalizedBooking, error) {
	n := normalizedBooking{
		name:        NormalizeName(req.ContactName),
		email:       NormalizeEmail(req.ContactEmail),
		serviceType: strings.TrimSpace(req.ServiceType),
		duration:    req.DurationMinutes,
	}
	if n.duration <= 0 {
		n.duration = defaultDurationMinutes
	}

	if strings.TrimSpace(req.ContactPhone) != "" {
		phoneE164, err := NormalizePhone(req.ContactPhone)
		if err != nil {
			return n, apperr.Validation("phone number could not be understood")
		}
		n.phone = phoneE164
	}

	if n.phone == "" && n.email == "" {
		return n, apperr.Validation("a phone number or email address is required")
	}

	if n.serviceType == "" {
		return n, apperr.Validation("service type is required")
	}

	slot, err := ResolveSlot(req.AppointmentDate, req.AppointmentTime, s.now())
	if err != nil {
		return n, apperr.Validation("appointment date or time could not be understood")
	}
	n.scheduledAt = slot

	return n, nil
}

func (s *Service) resolveContact(ctx context.Context, orgID uuid.UUID, n normalizedBooking) (*Contact, error) {
	if n.phone != "" {
		return s.contacts.UpsertByPhone(ctx, orgID, n.phone, n.email, n.name)
	}
	return s.contacts.FindOrCreateByEmail(ctx, orgID, n.email, n.name)
}

func successSpeech(serviceType string, at time.Time) string {
	return fmt.Sprintf(
		"You're all set! I've booked your %s appointment for %s at %s.",
		serviceType,
		at.Format("Monday, January 2"),
		at.Format("3:04 PM"),
	)
}

// failureResult maps a typed error to a speakable outcome. The voice agent
// must always receive something it can say out loud.
func failureResult(err error) BookingResult {
	code := apperr.GetCode(err)
	res := BookingResult{Success: false, ErrorCode: code}

	switch {
	case apperr.Is(err, apperr.KindValidation):
		if msg := err.Error(); strings.Contains(msg, "phone number or email") {
			res.Speech = "I'll need a phone number or an email address to book that. Could you share one?"
		} else if strings.Contains(msg, "date or time") {
			res.Speech = "I didn't quite catch that date and time. Could you say it again?"
		} else if strings.Contains(msg, "phone number") {
			res.Speech = "That phone number didn't come through clearly. Could you repeat it?"
		} else {
			res.Speech = "I'm missing a detail I need. Could you tell me what service you'd like to book?"
		}
	case apperr.Is(err, apperr.KindConflict):
		res.Speech = "I'm sorry, that time was just taken. Would a different time work for you?"
	default:
		if res.ErrorCode == "" {
			res.ErrorCode = "BOOKING_FAILED"
		}
		res.Speech = "I'm sorry, something went wrong on my end while booking. Let me try again in a moment."
	}

	return res
}
