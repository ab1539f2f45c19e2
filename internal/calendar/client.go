// Package calendar syncs confirmed appointments to the tenant's external
// calendar over its REST API.
package calendar

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
)

// Credentials are a tenant's calendar API credentials, read from the vault.
type Credentials struct {
	BaseURL    string
	APIToken   string
	CalendarID string
}

// Event is the remote calendar event to create.
type Event struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	StartsAt    time.Time `json:"startsAt"`
	EndsAt      time.Time `json:"endsAt"`
}

type createEventResponse struct {
	ID string `json:"id"`
}

// Client talks to a tenant's calendar API.
type Client struct {
	http *http.Client
	log  *logger.Logger
}

// NewClient creates a calendar client.
func NewClient(log *logger.Logger) *Client {
	return &Client{
		http: &http.Client{Timeout: 15 * time.Second},
		log:  log,
	}
}

// CreateEvent creates the event and returns its remote id.
func (c *Client) CreateEvent(ctx context.Context, creds Credentials, ev Event) (string, error) {
	if creds.BaseURL == "" || creds.CalendarID == "" {
		return "", fmt.Errorf("calendar credentials incomplete")
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("marshal calendar event: %w", err)
	}

	url := fmt.Sprintf("%s/calendars/%s/events", strings.TrimRight(creds.BaseURL, "/"), creds.CalendarID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	c.setHeaders(req, creds)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("calendar request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("calendar api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var created createEventResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode calendar response: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("calendar api returned no event id")
	}
	return created.ID, nil
}

// DeleteEvent removes a previously created event. Used to compensate when
// the local appointment row could not record the remote id.
func (c *Client) DeleteEvent(ctx context.Context, creds Credentials, eventID string) error {
	if creds.BaseURL == "" || creds.CalendarID == "" || eventID == "" {
		return nil
	}

	url := fmt.Sprintf("%s/calendars/%s/events/%s", strings.TrimRight(creds.BaseURL, "/"), creds.CalendarID, eventID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req, creds)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calendar delete failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest && resp.StatusCode != http.StatusNotFound {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("calendar api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request, creds Credentials) {
	req.Header.Set("Content-Type", "application/json")
	if creds.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+creds.APIToken)
	}
}
