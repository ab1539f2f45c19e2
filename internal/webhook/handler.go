package webhook

import (
	"io"
	"net/http"

	"clinicvoice_backend/platform/logger"

	"github.com/gin-gonic/gin"
)

// maxBodyBytes caps delivery payloads; end-of-call reports with full
// transcripts are the largest legitimate bodies.
const maxBodyBytes = 1 << 20

// Handler is the HTTP surface of the webhook gateway.
type Handler struct {
	service *Service
	log     *logger.Logger
}

// NewHandler creates a webhook handler.
func NewHandler(service *Service, log *logger.Logger) *Handler {
	return &Handler{service: service, log: log}
}

// HandleVoiceWebhook receives one provider delivery.
// POST /api/v1/webhook/voice
//
// The body is read raw because signature verification covers the exact
// bytes on the wire. The response is 200 {"received":true} for every
// delivery that could be read at all; rejections are recorded internally.
func (h *Handler) HandleVoiceWebhook(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		h.log.Error("read webhook body", "error", err.Error())
		c.JSON(http.StatusOK, Ack{Received: true})
		return
	}

	ack := h.service.HandleDelivery(c.Request.Context(), raw, c.GetHeader(SignatureHeader), c.GetHeader(DeliveryIDHeader))
	c.JSON(http.StatusOK, ack)
}
