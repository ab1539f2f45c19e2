// Package orgresolver maps an inbound call or event to exactly one tenant
// organization using an ordered fallback chain.
package orgresolver

import (
	"context"
	"fmt"
	"strings"

	"clinicvoice_backend/platform/apperr"
	"clinicvoice_backend/platform/logger"

	"github.com/google/uuid"
)

// Step names one link of the fallback chain.
type Step string

const (
	// StepAgentRegistry looks up the reporting assistant in the
	// agent-to-organization registry.
	StepAgentRegistry Step = "agent_registry"
	// StepCallMetadata reads the org id this service stamped onto the
	// call metadata at call-creation time.
	StepCallMetadata Step = "call_metadata"
	// StepPayloadField reads an org id supplied directly by the provider
	// on the event envelope.
	StepPayloadField Step = "payload_field"
)

// Hints carries the raw identifying material extracted from one delivery.
type Hints struct {
	AssistantID   string
	MetadataOrgID string
	PayloadOrgID  string
}

// Attempt records what one chain step saw, for diagnostics.
type Attempt struct {
	Step  Step   `json:"step"`
	Input string `json:"input"`
	Found bool   `json:"found"`
	Note  string `json:"note,omitempty"`
}

// Resolution is a successful mapping.
type Resolution struct {
	OrgID    uuid.UUID
	Step     Step
	Attempts []Attempt
}

// AgentRegistry looks up the organization registered for an assistant.
type AgentRegistry interface {
	OrgForAssistant(ctx context.Context, assistantID string) (uuid.UUID, bool, error)
}

// Resolver walks the fallback chain. A pre-registered agent mapping is not
// always available (assistants created ad hoc for testing or onboarding), so
// resolution must degrade step by step instead of failing at the first miss,
// and an exhausted chain must leave a diagnostic trail rather than vanish.
type Resolver struct {
	registry AgentRegistry
	log      *logger.Logger
}

// New creates a resolver.
func New(registry AgentRegistry, log *logger.Logger) *Resolver {
	return &Resolver{registry: registry, log: log}
}

// Resolve maps hints to an organization. On exhaustion it returns an
// UnresolvedTenant error; the attempts list is always populated so callers
// can persist a diagnostic record naming what was tried.
func (r *Resolver) Resolve(ctx context.Context, hints Hints) (*Resolution, []Attempt, error) {
	var attempts []Attempt

	// Step 1: agent registry
	if assistantID := strings.TrimSpace(hints.AssistantID); assistantID != "" {
		orgID, found, err := r.registry.OrgForAssistant(ctx, assistantID)
		if err != nil {
			return nil, attempts, fmt.Errorf("agent registry lookup: %w", err)
		}
		attempts = append(attempts, Attempt{Step: StepAgentRegistry, Input: assistantID, Found: found})
		if found {
			return &Resolution{OrgID: orgID, Step: StepAgentRegistry, Attempts: attempts}, attempts, nil
		}
	} else {
		attempts = append(attempts, Attempt{Step: StepAgentRegistry, Input: "", Found: false, Note: "no assistant id on event"})
	}

	// Step 2: call metadata stamped at call creation
	if res, attempt := r.tryParseOrgID(StepCallMetadata, hints.MetadataOrgID); res != nil {
		attempts = append(attempts, attempt)
		res.Attempts = attempts
		return res, attempts, nil
	} else {
		attempts = append(attempts, attempt)
	}

	// Step 3: top-level payload field from the provider
	if res, attempt := r.tryParseOrgID(StepPayloadField, hints.PayloadOrgID); res != nil {
		attempts = append(attempts, attempt)
		res.Attempts = attempts
		return res, attempts, nil
	} else {
		attempts = append(attempts, attempt)
	}

	r.log.Warn("organization resolution exhausted",
		"assistant_id", hints.AssistantID,
		"metadata_org_id", hints.MetadataOrgID,
		"payload_org_id", hints.PayloadOrgID,
	)

	return nil, attempts, apperr.UnresolvedTenant("no organization could be resolved for event")
}

func (r *Resolver) tryParseOrgID(step Step, raw string) (*Resolution, Attempt) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, Attempt{Step: step, Input: "", Found: false, Note: "no value present"}
	}

	orgID, err := uuid.Parse(value)
	if err != nil {
		return nil, Attempt{Step: step, Input: value, Found: false, Note: "not a valid organization id"}
	}

	return &Resolution{OrgID: orgID, Step: step}, Attempt{Step: step, Input: value, Found: true}
}
