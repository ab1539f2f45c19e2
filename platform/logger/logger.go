// Package logger provides structured logging infrastructure for the application.
// This is part of the platform layer and contains no business logic.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Context key types for storing values in context
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"
	// OrgIDKey is the context key for the tenant organization ID
	OrgIDKey contextKey = "org_id"
	// CallIDKey is the context key for the external call ID
	CallIDKey contextKey = "call_id"
)

// Logger wraps slog.Logger for structured logging
type Logger struct {
	*slog.Logger
}

// New creates a new logger based on environment
func New(env string) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if strings.EqualFold(env, "development") {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithContext returns a logger with context values extracted.
// Supports request_id, org_id, and call_id from context.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}

	newLogger := l

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		newLogger = &Logger{Logger: newLogger.With(slog.String("request_id", requestID))}
	}

	if orgID, ok := ctx.Value(OrgIDKey).(string); ok && orgID != "" {
		newLogger = &Logger{Logger: newLogger.With(slog.String("org_id", orgID))}
	}

	if callID, ok := ctx.Value(CallIDKey).(string); ok && callID != "" {
		newLogger = &Logger{Logger: newLogger.With(slog.String("call_id", callID))}
	}

	return newLogger
}

// WithOrgID returns a logger with the tenant organization ID attached.
func (l *Logger) WithOrgID(orgID string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("org_id", orgID)),
	}
}

// HTTPRequest logs an HTTP request
func (l *Logger) HTTPRequest(method, path string, status int, latencyMs float64, clientIP string) {
	l.Info("http_request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("latency_ms", latencyMs),
		slog.String("client_ip", clientIP),
	)
}

// WebhookEvent logs the outcome of one inbound webhook delivery.
func (l *Logger) WebhookEvent(eventType, callID, outcome string) {
	l.Info("webhook_event",
		slog.String("event_type", eventType),
		slog.String("call_id", callID),
		slog.String("outcome", outcome),
	)
}

// SignatureRejected logs a webhook signature verification failure.
// The delivery is acknowledged but never processed.
func (l *Logger) SignatureRejected(eventType, callID, reason string) {
	l.Warn("webhook_signature_rejected",
		slog.String("event_type", eventType),
		slog.String("call_id", callID),
		slog.String("reason", reason),
	)
}

// BookingOutcome logs the result of a booking attempt.
func (l *Logger) BookingOutcome(orgID string, success bool, code string) {
	if success {
		l.Info("booking_outcome",
			slog.String("org_id", orgID),
			slog.Bool("success", true),
		)
		return
	}
	l.Warn("booking_outcome",
		slog.String("org_id", orgID),
		slog.Bool("success", false),
		slog.String("code", code),
	)
}

// DatabaseError logs database errors
func (l *Logger) DatabaseError(operation string, err error) {
	l.Error("database_error",
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}

// DispatchFailure logs a side-effect delivery failure. These never affect
// the committed booking.
func (l *Logger) DispatchFailure(task, orgID string, err error) {
	l.Error("dispatch_failure",
		slog.String("task", task),
		slog.String("org_id", orgID),
		slog.String("error", err.Error()),
	)
}

// RateLimitExceeded logs rate limit events
func (l *Logger) RateLimitExceeded(clientIP, path string) {
	l.Warn("rate_limit_exceeded",
		slog.String("client_ip", clientIP),
		slog.String("path", path),
	)
}
