package orgresolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements AgentRegistry against the organization_agents table.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an agent registry repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const orgForAssistantQuery = `
	SELECT organization_id
	FROM organization_agents
	WHERE assistant_id = $1`

// OrgForAssistant returns the organization registered for an assistant id.
func (r *Repository) OrgForAssistant(ctx context.Context, assistantID string) (uuid.UUID, bool, error) {
	var orgID uuid.UUID
	err := r.pool.QueryRow(ctx, orgForAssistantQuery, assistantID).Scan(&orgID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.UUID{}, false, nil
		}
		return uuid.UUID{}, false, fmt.Errorf("lookup assistant %s: %w", assistantID, err)
	}
	return orgID, true, nil
}

const registerAgentQuery = `
	INSERT INTO organization_agents (assistant_id, organization_id, created_at)
	VALUES ($1, $2, now())
	ON CONFLICT (assistant_id)
	DO UPDATE SET organization_id = EXCLUDED.organization_id`

// RegisterAgent maps an assistant id to an organization. Used during tenant
// onboarding.
func (r *Repository) RegisterAgent(ctx context.Context, assistantID string, orgID uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, registerAgentQuery, assistantID, orgID); err != nil {
		return fmt.Errorf("register assistant %s: %w", assistantID, err)
	}
	return nil
}
