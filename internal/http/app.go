// Package http provides HTTP server infrastructure including module registration.
package http

import (
	"context"

	"clinicvoice_backend/platform/config"
	"clinicvoice_backend/platform/logger"
)

// RouterConfig combines the config interfaces the router needs.
type RouterConfig interface {
	config.HTTPConfig
	config.RateLimitConfig
}

// HealthChecker exposes minimal functionality for readiness checks.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// App holds the fully initialized application dependencies.
// This is populated by main.go (the composition root) and passed to the router.
type App struct {
	Config RouterConfig
	Logger *logger.Logger
	Health HealthChecker
	// Modules contains all HTTP-facing domain modules.
	Modules []Module
}
