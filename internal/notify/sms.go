// Package notify delivers booking confirmations and lead alerts over the
// tenant's own channels: SMS gateway, SMTP, and a plain webhook.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"clinicvoice_backend/platform/logger"
	"clinicvoice_backend/platform/phone"
)

const defaultSMSBaseURL = "https://api.twilio.com"

// SMSCredentials are a tenant's SMS gateway credentials, read from the
// vault at send time.
type SMSCredentials struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// SMSClient sends SMS through a Twilio-compatible messages API.
type SMSClient struct {
	baseURL string
	http    *http.Client
	log     *logger.Logger
}

// NewSMSClient creates an SMS client. baseURL overrides the gateway host,
// empty means the public API.
func NewSMSClient(baseURL string, log *logger.Logger) *SMSClient {
	if baseURL == "" {
		baseURL = defaultSMSBaseURL
	}
	return &SMSClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

// Send delivers one SMS under the tenant's credentials.
func (c *SMSClient) Send(ctx context.Context, creds SMSCredentials, toNumber, body string) error {
	if c == nil {
		return nil
	}
	if creds.AccountSID == "" || creds.AuthToken == "" || creds.FromNumber == "" {
		return fmt.Errorf("sms credentials incomplete")
	}

	to := phone.NormalizeE164(toNumber)

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", creds.FromNumber)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL, url.PathEscape(creds.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(creds.AccountSID, creds.AuthToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sms request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("sms gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	c.log.Info("sms sent", "to", to)
	return nil
}
