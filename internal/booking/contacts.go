package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Contact represents a caller. Contacts are created on the first booking
// attempt and updated on every later contact through the same phone; they
// are never hard-deleted.
type Contact struct {
	ID             uuid.UUID  `db:"id"`
	OrganizationID uuid.UUID  `db:"org_id"`
	Phone          *string    `db:"phone"`
	Email          *string    `db:"email"`
	Name           string     `db:"name"`
	LastContactAt  time.Time  `db:"last_contact_at"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

// ContactRepository provides tenant-scoped contact persistence.
type ContactRepository struct {
	pool *pgxpool.Pool
}

// NewContactRepository creates a contact repository.
func NewContactRepository(pool *pgxpool.Pool) *ContactRepository {
	return &ContactRepository{pool: pool}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

const upsertByPhoneQuery = `
	INSERT INTO contacts (id, org_id, phone, email, name, last_contact_at, created_at, updated_at)
	VALUES ($1, $2, $3, NULLIF($4, ''), $5, now(), now(), now())
	ON CONFLICT (org_id, phone) WHERE phone IS NOT NULL
	DO UPDATE SET
		name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE contacts.name END,
		email = COALESCE(NULLIF(EXCLUDED.email, ''), contacts.email),
		last_contact_at = now(),
		updated_at = now()
	RETURNING id, org_id, phone, email, name, last_contact_at, created_at, updated_at`

// UpsertByPhone atomically creates or refreshes the contact keyed on
// (org_id, phone). This is the primary, race-safe path: two concurrent
// requests for the same phone both land on the same row.
func (r *ContactRepository) UpsertByPhone(ctx context.Context, orgID uuid.UUID, phoneE164, email, name string) (*Contact, error) {
	var c Contact
	err := r.pool.QueryRow(ctx, upsertByPhoneQuery, uuid.New(), orgID, phoneE164, email, name).Scan(
		&c.ID, &c.OrganizationID, &c.Phone, &c.Email, &c.Name, &c.LastContactAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert contact by phone: %w", err)
	}
	return &c, nil
}

const findByEmailQuery = `
	SELECT id, org_id, phone, email, name, last_contact_at, created_at, updated_at
	FROM contacts
	WHERE org_id = $1 AND email = $2`

const insertByEmailQuery = `
	INSERT INTO contacts (id, org_id, phone, email, name, last_contact_at, created_at, updated_at)
	VALUES ($1, $2, NULL, $3, $4, now(), now(), now())
	RETURNING id, org_id, phone, email, name, last_contact_at, created_at, updated_at`

const touchContactQuery = `
	UPDATE contacts SET last_contact_at = now(), updated_at = now()
	WHERE id = $1 AND org_id = $2`

// FindOrCreateByEmail is the fallback path for calls that carry no phone
// number. Select first; insert on miss; when the insert loses a race to a
// concurrent request (unique violation), re-select the winning row instead
// of surfacing an error.
func (r *ContactRepository) FindOrCreateByEmail(ctx context.Context, orgID uuid.UUID, email, name string) (*Contact, error) {
	if c, err := r.findByEmail(ctx, orgID, email); err != nil {
		return nil, err
	} else if c != nil {
		if _, err := r.pool.Exec(ctx, touchContactQuery, c.ID, orgID); err != nil {
			return nil, fmt.Errorf("touch contact: %w", err)
		}
		return c, nil
	}

	var c Contact
	err := r.pool.QueryRow(ctx, insertByEmailQuery, uuid.New(), orgID, email, name).Scan(
		&c.ID, &c.OrganizationID, &c.Phone, &c.Email, &c.Name, &c.LastContactAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == nil {
		return &c, nil
	}
	if !isUniqueViolation(err) {
		return nil, fmt.Errorf("insert contact by email: %w", err)
	}

	// A concurrent request won the insert race; recover its row.
	winner, err := r.findByEmail(ctx, orgID, email)
	if err != nil {
		return nil, err
	}
	if winner == nil {
		return nil, fmt.Errorf("contact vanished after unique violation for %s", email)
	}
	return winner, nil
}

func (r *ContactRepository) findByEmail(ctx context.Context, orgID uuid.UUID, email string) (*Contact, error) {
	var c Contact
	err := r.pool.QueryRow(ctx, findByEmailQuery, orgID, email).Scan(
		&c.ID, &c.OrganizationID, &c.Phone, &c.Email, &c.Name, &c.LastContactAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find contact by email: %w", err)
	}
	return &c, nil
}
