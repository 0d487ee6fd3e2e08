// Package alerting provides notification capabilities for the
// execution pipeline.
package alerting

import (
	"context"
	"fmt"
	"log/slog"
)

// Severity represents the alert severity level.
type Severity int

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = iota
	// SeverityWarning is for warning messages.
	SeverityWarning
	// SeverityHigh is for high priority alerts.
	SeverityHigh
	// SeverityCritical is for critical alerts requiring immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Emoji returns an emoji for the severity level.
func (s Severity) Emoji() string {
	switch s {
	case SeverityInfo:
		return "ℹ️"
	case SeverityWarning:
		return "⚠️"
	case SeverityHigh:
		return "🔴"
	case SeverityCritical:
		return "🚨"
	default:
		return "❓"
	}
}

// logLevel maps a severity to the slog level console channels use.
// High and Warning both land on Warn; slog has no level between
// Warn and Error.
func (s Severity) logLevel() slog.Level {
	switch s {
	case SeverityCritical:
		return slog.LevelError
	case SeverityHigh, SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// Alerter defines the interface for sending alerts.
type Alerter interface {
	// Alert sends an alert with the given severity and message.
	Alert(ctx context.Context, severity Severity, message string, fields ...any) error
	// Name returns the name of the alerter.
	Name() string
}

// FormatFields converts variadic key-value fields to a bulleted string.
func FormatFields(fields ...any) string {
	if len(fields) == 0 {
		return ""
	}

	result := ""
	for i := 0; i < len(fields)-1; i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		value := fields[i+1]
		if result != "" {
			result += "\n"
		}
		result += fmt.Sprintf("• %s: %v", key, value)
	}
	return result
}

// AlertEvent represents a pre-defined alert event type.
type AlertEvent string

const (
	// EventCircuitBreakerTripped is sent when the risk gate's circuit
	// breaker activates and admission halts.
	EventCircuitBreakerTripped AlertEvent = "circuit_breaker_tripped"
	// EventCircuitBreakerReset is sent when the circuit breaker clears.
	EventCircuitBreakerReset AlertEvent = "circuit_breaker_reset"
	// EventVenueExhausted is sent when an order fails on every venue.
	EventVenueExhausted AlertEvent = "venue_exhausted"
	// EventVenueTrustFloor is sent when a venue's trust score reaches zero.
	EventVenueTrustFloor AlertEvent = "venue_trust_floor"
	// EventRiskRejected is sent when the admission gate rejects an order.
	EventRiskRejected AlertEvent = "risk_rejected"
	// EventLimitRejected is sent when the position ledger rejects an order.
	EventLimitRejected AlertEvent = "limit_rejected"
	// EventOrderFilled is sent when an order completes fully.
	EventOrderFilled AlertEvent = "order_filled"
	// EventOrderPartial is sent when an order completes with unfilled size.
	EventOrderPartial AlertEvent = "order_partial"
	// EventJournalError is sent when the audit trail cannot be written.
	EventJournalError AlertEvent = "journal_error"
	// EventSessionSummary is sent with the end-of-session report.
	EventSessionSummary AlertEvent = "session_summary"
	// EventPipelineStarted is sent when the pipeline starts.
	EventPipelineStarted AlertEvent = "pipeline_started"
	// EventPipelineStopped is sent when the pipeline stops.
	EventPipelineStopped AlertEvent = "pipeline_stopped"
)

// EventSeverity returns the default severity for an event.
func EventSeverity(event AlertEvent) Severity {
	switch event {
	case EventCircuitBreakerTripped:
		return SeverityCritical
	case EventVenueExhausted, EventCircuitBreakerReset, EventJournalError:
		return SeverityHigh
	case EventVenueTrustFloor, EventRiskRejected, EventLimitRejected, EventOrderPartial:
		return SeverityWarning
	case EventOrderFilled, EventSessionSummary, EventPipelineStarted, EventPipelineStopped:
		return SeverityInfo
	default:
		return SeverityInfo
	}
}
