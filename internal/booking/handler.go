package booking

import (
	"net/http"

	"clinicvoice_backend/platform/httpkit"
	"clinicvoice_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handler exposes the tool-invocation endpoint the voice agent calls
// directly. The same flow is also reachable through the webhook gateway's
// tool-calls route.
type Handler struct {
	service *Service
	val     *validator.Validator
}

// NewHandler creates a booking handler.
func NewHandler(service *Service, val *validator.Validator) *Handler {
	return &Handler{service: service, val: val}
}

// BookAppointmentRequest is the tool-invocation request body.
type BookAppointmentRequest struct {
	OrganizationID  string `json:"organizationId" validate:"required,uuid"`
	ContactName     string `json:"contactName" validate:"max=200"`
	ContactEmail    string `json:"contactEmail" validate:"omitempty,email"`
	ContactPhone    string `json:"contactPhone" validate:"max=40"`
	ServiceType     string `json:"serviceType" validate:"required,max=100"`
	AppointmentDate string `json:"appointmentDate" validate:"required,max=40"`
	AppointmentTime string `json:"appointmentTime" validate:"required,max=40"`
	DurationMinutes int    `json:"durationMinutes" validate:"omitempty,min=5,max=480"`
}

// HandleBookAppointment processes a booking tool call.
// POST /api/v1/tools/book-appointment
//
// The response is always 200 with a speakable outcome; the voice agent
// relays speech to the caller and branches on success/errorCode.
func (h *Handler) HandleBookAppointment(c *gin.Context) {
	var req BookAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.val.Struct(req); err != nil {
		c.JSON(http.StatusOK, BookingResult{
			Success:   false,
			ErrorCode: "VALIDATION_ERROR",
			Speech:    "I'm missing some of the details I need to book that. Could you go over them once more?",
		})
		return
	}

	orgID, err := uuid.Parse(req.OrganizationID)
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid organization id")
		return
	}

	result, _ := h.service.Book(c.Request.Context(), orgID, BookingRequest{
		ContactName:     req.ContactName,
		ContactEmail:    req.ContactEmail,
		ContactPhone:    req.ContactPhone,
		ServiceType:     req.ServiceType,
		AppointmentDate: req.AppointmentDate,
		AppointmentTime: req.AppointmentTime,
		DurationMinutes: req.DurationMinutes,
	})

	c.JSON(http.StatusOK, result)
}
