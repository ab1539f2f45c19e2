package booking

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"clinicvoice_backend/platform/phone"
)

// Input normalization for voice-agent supplied booking fields. The voice
// agent transcribes spoken values, so everything here must be tolerant of
// formatting noise and must be idempotent: normalizing an already
// normalized value returns it unchanged.

// NormalizePhone rewrites a phone number to E.164.
func NormalizePhone(input string) (string, error) {
	return phone.ParseE164(input)
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(input string) string {
	return strings.ToLower(strings.TrimSpace(input))
}

// NormalizeName rewrites a display name to title case, collapsing interior
// whitespace.
func NormalizeName(input string) string {
	fields := strings.Fields(input)
	for i, f := range fields {
		fields[i] = titleWord(f)
	}
	return strings.Join(fields, " ")
}

func titleWord(w string) string {
	// Hyphenated names keep each part capitalized (Smith-Jones).
	if strings.Contains(w, "-") {
		parts := strings.Split(w, "-")
		for i, p := range parts {
			parts[i] = titleWord(p)
		}
		return strings.Join(parts, "-")
	}
	runes := []rune(strings.ToLower(w))
	if len(runes) == 0 {
		return w
	}
	runes[0] = []rune(strings.ToUpper(string(runes[0])))[0]
	return string(runes)
}

var ordinalSuffix = regexp.MustCompile(`(\d+)(st|nd|rd|th)\b`)

// Layouts accepted for spoken dates. Yearless layouts resolve forward.
var (
	datedLayouts = []string{
		"2006-01-02",
		"January 2, 2006",
		"January 2 2006",
		"Jan 2, 2006",
		"01/02/2006",
		"1/2/2006",
	}
	yearlessLayouts = []string{
		"January 2",
		"Jan 2",
		"01/02",
		"1/2",
	}
	timeLayouts = []string{
		"15:04",
		"15:04:05",
		"3:04 PM",
		"3:04PM",
		"3 PM",
		"3PM",
	}
)

// ResolveDate parses a spoken appointment date. A date without an explicit
// year resolves to the next future occurrence of that calendar date relative
// to now: "January 20th" spoken in December must land in the coming January,
// never in the past.
func ResolveDate(input string, now time.Time) (time.Time, error) {
	cleaned := ordinalSuffix.ReplaceAllString(strings.TrimSpace(input), "$1")

	for _, layout := range datedLayouts {
		if d, err := time.ParseInLocation(layout, cleaned, time.UTC); err == nil {
			return d, nil
		}
	}

	for _, layout := range yearlessLayouts {
		d, err := time.ParseInLocation(layout, cleaned, time.UTC)
		if err != nil {
			continue
		}
		candidate := time.Date(now.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		if candidate.Before(today) {
			candidate = candidate.AddDate(1, 0, 0)
		}
		return candidate, nil
	}

	return time.Time{}, fmt.Errorf("unrecognized date: %q", input)
}

// ResolveTime parses a spoken appointment time into hour and minute.
func ResolveTime(input string) (hour, minute int, err error) {
	cleaned := strings.ToUpper(strings.TrimSpace(input))
	for _, layout := range timeLayouts {
		if t, perr := time.Parse(layout, cleaned); perr == nil {
			return t.Hour(), t.Minute(), nil
		}
	}
	return 0, 0, fmt.Errorf("unrecognized time: %q", input)
}

// ResolveSlot combines a spoken date and time into the UTC instant the
// appointment occupies.
func ResolveSlot(dateInput, timeInput string, now time.Time) (time.Time, error) {
	day, err := ResolveDate(dateInput, now)
	if err != nil {
		return time.Time{}, err
	}
	hour, minute, err := ResolveTime(timeInput)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, time.UTC), nil
}
