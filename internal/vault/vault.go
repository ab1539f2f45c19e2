// Package vault resolves decrypted per-tenant provider credentials.
// Secrets are consulted per call and cached only briefly in process;
// they are never persisted outside the encrypted store.
package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"clinicvoice_backend/platform/config"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Provider identifies which external integration a credential bundle serves.
type Provider string

const (
	// ProviderVoice holds the voice provider webhook HMAC secret.
	ProviderVoice Provider = "voice"
	// ProviderSMS holds SMS gateway credentials.
	ProviderSMS Provider = "sms"
	// ProviderCalendar holds calendar API credentials.
	ProviderCalendar Provider = "calendar"
	// ProviderAlerts holds the lead-alert webhook target.
	ProviderAlerts Provider = "alerts"
)

// ErrNotFound is returned when no credentials exist for (org, provider).
var ErrNotFound = errors.New("credentials not found")

// Bundle is a decrypted credential set for one (org, provider) pair.
type Bundle struct {
	// WebhookSecret signs inbound voice-provider deliveries (ProviderVoice).
	WebhookSecret string `json:"webhookSecret,omitempty"`
	// AccountSID / AuthToken / FromNumber configure the SMS gateway (ProviderSMS).
	AccountSID string `json:"accountSid,omitempty"`
	AuthToken  string `json:"authToken,omitempty"`
	FromNumber string `json:"fromNumber,omitempty"`
	// BaseURL / APIToken / CalendarID configure the calendar API (ProviderCalendar).
	BaseURL    string `json:"baseUrl,omitempty"`
	APIToken   string `json:"apiToken,omitempty"`
	CalendarID string `json:"calendarId,omitempty"`
	// AlertURL is the lead-alert webhook target (ProviderAlerts).
	AlertURL string `json:"alertUrl,omitempty"`
}

// Vault returns decrypted per-tenant provider credentials.
type Vault interface {
	GetCredentials(ctx context.Context, orgID uuid.UUID, provider Provider) (*Bundle, error)
}

type cacheEntry struct {
	bundle    *Bundle
	expiresAt time.Time
}

// Store is the Postgres-backed Vault. Rows hold AES-256-GCM sealed bundles;
// decrypted bundles live in a short-TTL in-process cache and nowhere else.
type Store struct {
	pool      *pgxpool.Pool
	masterKey []byte
	cacheTTL  time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewStore creates a vault store.
func NewStore(pool *pgxpool.Pool, cfg config.VaultConfig) *Store {
	return &Store{
		pool:      pool,
		masterKey: cfg.GetVaultMasterKey(),
		cacheTTL:  cfg.GetVaultCacheTTL(),
		cache:     make(map[string]cacheEntry),
	}
}

const getCredentialsQuery = `
	SELECT secret_ciphertext
	FROM organization_credentials
	WHERE org_id = $1 AND provider = $2`

// GetCredentials returns the decrypted bundle for (org, provider).
func (s *Store) GetCredentials(ctx context.Context, orgID uuid.UUID, provider Provider) (*Bundle, error) {
	cacheKey := orgID.String() + "|" + string(provider)

	s.mu.RLock()
	entry, ok := s.cache[cacheKey]
	s.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.bundle, nil
	}

	var ciphertext string
	err := s.pool.QueryRow(ctx, getCredentialsQuery, orgID, string(provider)).Scan(&ciphertext)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	plaintext, err := Open(ciphertext, s.masterKey)
	if err != nil {
		return nil, fmt.Errorf("unseal credentials: %w", err)
	}

	var bundle Bundle
	if err := json.Unmarshal(plaintext, &bundle); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}

	s.mu.Lock()
	s.cache[cacheKey] = cacheEntry{bundle: &bundle, expiresAt: time.Now().Add(s.cacheTTL)}
	s.mu.Unlock()

	return &bundle, nil
}

const upsertCredentialsQuery = `
	INSERT INTO organization_credentials (org_id, provider, secret_ciphertext, created_at, updated_at)
	VALUES ($1, $2, $3, now(), now())
	ON CONFLICT (org_id, provider)
	DO UPDATE SET secret_ciphertext = EXCLUDED.secret_ciphertext, updated_at = now()`

// PutCredentials seals and stores a bundle for (org, provider). Used by
// provisioning tooling; the request path only ever reads.
func (s *Store) PutCredentials(ctx context.Context, orgID uuid.UUID, provider Provider, bundle *Bundle) error {
	plaintext, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}

	ciphertext, err := Seal(plaintext, s.masterKey)
	if err != nil {
		return fmt.Errorf("seal credentials: %w", err)
	}

	if _, err := s.pool.Exec(ctx, upsertCredentialsQuery, orgID, string(provider), ciphertext); err != nil {
		return fmt.Errorf("store credentials: %w", err)
	}

	s.mu.Lock()
	delete(s.cache, orgID.String()+"|"+string(provider))
	s.mu.Unlock()

	return nil
}
