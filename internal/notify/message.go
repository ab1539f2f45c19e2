package notify

import (
	"fmt"
	"time"
)

// ConfirmationData is everything the confirmation messages mention.
type ConfirmationData struct {
	ContactName string
	ServiceType string
	ScheduledAt time.Time
	Duration    time.Duration
}

// ConfirmationSMS renders the confirmation SMS body.
func ConfirmationSMS(d ConfirmationData) string {
	name := d.ContactName
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf(
		"Hi %s, your %s appointment is confirmed for %s. Reply to this number if you need to reschedule.",
		name, d.ServiceType, d.ScheduledAt.Format("Monday, January 2 at 3:04 PM"),
	)
}
