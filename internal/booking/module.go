package booking

import (
	apphttp "clinicvoice_backend/internal/http"
	"clinicvoice_backend/platform/logger"
	"clinicvoice_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the booking domain module.
type Module struct {
	handler *Handler
	service *Service
	engine  *ReservationEngine
}

// NewModule wires the booking orchestrator and its reservation engine.
func NewModule(pool *pgxpool.Pool, dispatcher Dispatcher, val *validator.Validator, log *logger.Logger) *Module {
	engine := NewReservationEngine(pool)
	contacts := NewContactRepository(pool)
	svc := NewService(contacts, engine, dispatcher, log)

	return &Module{
		handler: NewHandler(svc, val),
		service: svc,
		engine:  engine,
	}
}

// Service exposes the orchestrator for the webhook gateway's tool route.
func (m *Module) Service() *Service {
	return m.service
}

// Engine exposes the reservation engine for the dispatch worker.
func (m *Module) Engine() *ReservationEngine {
	return m.engine
}

// Name returns the module name for logging.
func (m *Module) Name() string {
	return "booking"
}

// RegisterRoutes mounts the tool-invocation endpoint.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	tools := ctx.V1.Group("/tools")
	tools.POST("/book-appointment", m.handler.HandleBookAppointment)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
