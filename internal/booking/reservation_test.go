package booking

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSlotLockKeyDeterministic(t *testing.T) {
	orgID := uuid.MustParse("6f1b0c1e-9d3a-4c7b-8a52-0f6f3f8f1a2b")
	at := time.Date(2026, 2, 1, 15, 0, 0, 0, time.UTC)

	if slotLockKey(orgID, at) != slotLockKey(orgID, at) {
		t.Error("identical (org, slot) must map to the identical lock key")
	}
}

func TestSlotLockKeySeparatesSlots(t *testing.T) {
	orgA := uuid.New()
	orgB := uuid.New()
	at := time.Date(2026, 2, 1, 15, 0, 0, 0, time.UTC)

	if slotLockKey(orgA, at) == slotLockKey(orgB, at) {
		t.Error("different orgs should not contend on the same lock")
	}
	if slotLockKey(orgA, at) == slotLockKey(orgA, at.Add(30*time.Minute)) {
		t.Error("different instants should not contend on the same lock")
	}
}

func TestSlotLockKeyNormalizesTimezone(t *testing.T) {
	orgID := uuid.New()
	utc := time.Date(2026, 2, 1, 15, 0, 0, 0, time.UTC)
	est := utc.In(time.FixedZone("EST", -5*60*60))

	if slotLockKey(orgID, utc) != slotLockKey(orgID, est) {
		t.Error("the same instant in different zones must map to the same lock")
	}
}

// Every appointment query must carry the tenant predicate; cross-tenant
// reads have to be structurally impossible.
func TestAppointmentQueriesAreTenantScoped(t *testing.T) {
	queries := map[string]string{
		"activeSlotQuery":        activeSlotQuery,
		"transitionStatusQuery":  transitionStatusQuery,
		"setCalendarEventQuery":  setCalendarEventQuery,
		"getAppointmentQuery":    getAppointmentQuery,
	}

	for name, q := range queries {
		if !strings.Contains(strings.ToLower(q), "org_id = $") {
			t.Errorf("%s is missing an org_id predicate:\n%s", name, q)
		}
	}
}

func TestActiveSlotQueryIgnoresCancelled(t *testing.T) {
	if !strings.Contains(activeSlotQuery, "status <> 'cancelled'") {
		t.Error("availability check must ignore cancelled appointments")
	}
}

func TestContactQueriesAreTenantScoped(t *testing.T) {
	for name, q := range map[string]string{
		"findByEmailQuery":  findByEmailQuery,
		"touchContactQuery": touchContactQuery,
	} {
		if !strings.Contains(strings.ToLower(q), "org_id = $") {
			t.Errorf("%s is missing an org_id predicate:\n%s", name, q)
		}
	}
	if !strings.Contains(upsertByPhoneQuery, "ON CONFLICT (org_id, phone)") {
		t.Error("phone upsert must key on (org_id, phone)")
	}
}
