package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"clinicvoice_backend/platform/logger"

	"github.com/google/uuid"
)

// LeadAlert notifies the clinic's staff channel that a caller just booked.
type LeadAlert struct {
	AppointmentID uuid.UUID `json:"appointmentId"`
	ContactName   string    `json:"contactName"`
	ContactPhone  string    `json:"contactPhone,omitempty"`
	ServiceType   string    `json:"serviceType"`
	ScheduledAt   time.Time `json:"scheduledAt"`
	Source        string    `json:"source"`
}

// AlertClient posts lead alerts to the tenant's configured webhook.
type AlertClient struct {
	http *http.Client
	log  *logger.Logger
}

// NewAlertClient creates an alert client.
func NewAlertClient(log *logger.Logger) *AlertClient {
	return &AlertClient{
		http: &http.Client{Timeout: 10 * time.Second},
		log:  log,
	}
}

// Send posts the alert. A tenant without an alert URL is skipped silently.
func (c *AlertClient) Send(ctx context.Context, alertURL string, alert LeadAlert) error {
	if c == nil || alertURL == "" {
		return nil
	}
	if alert.Source == "" {
		alert.Source = "voice_agent"
	}

	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal lead alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, alertURL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("lead alert request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("lead alert endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	c.log.Info("lead alert sent", "appointment_id", alert.AppointmentID.String())
	return nil
}
