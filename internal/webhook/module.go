package webhook

import (
	"clinicvoice_backend/internal/booking"
	apphttp "clinicvoice_backend/internal/http"
	"clinicvoice_backend/internal/idempotency"
	"clinicvoice_backend/internal/orgresolver"
	"clinicvoice_backend/internal/vault"
	"clinicvoice_backend/platform/events"
	"clinicvoice_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the webhook gateway module.
type Module struct {
	handler *Handler
	repo    *Repository
}

// NewModule wires the gateway: repository, tenant resolver, and the
// delivery state machine.
func NewModule(
	pool *pgxpool.Pool,
	v vault.Vault,
	ledger *idempotency.Ledger,
	booker *booking.Service,
	bus events.Bus,
	log *logger.Logger,
) *Module {
	repo := NewRepository(pool)
	resolver := orgresolver.New(orgresolver.NewRepository(pool), log)
	svc := NewService(repo, resolver, v, ledger, booker, bus, log)

	return &Module{
		handler: NewHandler(svc, log),
		repo:    repo,
	}
}

// Repository exposes call-event persistence for the summarize subscriber.
func (m *Module) Repository() *Repository {
	return m.repo
}

// Name returns the module name for logging.
func (m *Module) Name() string {
	return "webhook"
}

// RegisterRoutes mounts the provider-facing delivery endpoint behind the
// webhook rate limiter.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	hooks := ctx.V1.Group("/webhook")
	hooks.POST("/voice", ctx.WebhookRateLimit, m.handler.HandleVoiceWebhook)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
