package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"time"

	"clinicvoice_backend/platform/config"

	gomail "github.com/wneessen/go-mail"
)

//go:embed templates/*.html
var templateFS embed.FS

type confirmationEmailData struct {
	Title         string
	Heading       string
	ContactName   string
	ServiceType   string
	ScheduledDate string
	DurationLabel string
}

// EmailSender sends booking confirmations over the deployment's SMTP relay.
type EmailSender struct {
	host      string
	port      int
	username  string
	password  string
	fromName  string
	fromEmail string
	enabled   bool
}

// NewEmailSender creates a sender from the deployment email settings.
func NewEmailSender(cfg config.EmailConfig) *EmailSender {
	return &EmailSender{
		host:      cfg.GetSMTPHost(),
		port:      cfg.GetSMTPPort(),
		username:  cfg.GetSMTPUsername(),
		password:  cfg.GetSMTPPassword(),
		fromName:  cfg.GetEmailFromName(),
		fromEmail: cfg.GetEmailFromAddress(),
		enabled:   cfg.IsEmailEnabled(),
	}
}

// SendBookingConfirmation emails the appointment details to the contact.
// A disabled sender is a no-op, not an error, so the task chain completes.
func (s *EmailSender) SendBookingConfirmation(ctx context.Context, toEmail string, d ConfirmationData) error {
	if s == nil || !s.enabled {
		return nil
	}

	content, err := renderTemplate("booking_confirmation.html", confirmationEmailData{
		Title:         "Appointment confirmed",
		Heading:       "Appointment confirmed",
		ContactName:   firstNonEmpty(d.ContactName, "there"),
		ServiceType:   d.ServiceType,
		ScheduledDate: d.ScheduledAt.Format("Monday, January 2, 2006 at 3:04 PM"),
		DurationLabel: durationLabel(d.Duration),
	})
	if err != nil {
		return err
	}

	msg := gomail.NewMsg()
	if err := msg.FromFormat(s.fromName, s.fromEmail); err != nil {
		return fmt.Errorf("smtp from: %w", err)
	}
	if err := msg.To(toEmail); err != nil {
		return fmt.Errorf("smtp to: %w", err)
	}
	msg.Subject("Your appointment is confirmed")
	msg.SetBodyString(gomail.TypeTextHTML, content)

	client, err := gomail.NewClient(s.host,
		gomail.WithPort(s.port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(s.username),
		gomail.WithPassword(s.password),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15*time.Second),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func renderTemplate(name string, data interface{}) (string, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/"+name)
	if err != nil {
		return "", fmt.Errorf("parse email template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render email template %s: %w", name, err)
	}
	return buf.String(), nil
}

func durationLabel(d time.Duration) string {
	minutes := int(d.Minutes())
	if minutes <= 0 {
		minutes = 30
	}
	return fmt.Sprintf("%d minutes", minutes)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
