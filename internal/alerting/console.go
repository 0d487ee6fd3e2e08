package alerting

import (
	"context"
	"log/slog"
)

// ConsoleAlerter logs alerts through slog. The default channel for
// development and replay runs.
type ConsoleAlerter struct {
	logger *slog.Logger
}

// NewConsoleAlerter creates a new console alerter.
func NewConsoleAlerter(logger *slog.Logger) *ConsoleAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleAlerter{logger: logger}
}

// Name returns the name of the alerter.
func (c *ConsoleAlerter) Name() string {
	return "console"
}

// Alert logs the alert at the level matching its severity, with the
// severity itself as the first attribute.
func (c *ConsoleAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	attrs := append([]any{"severity", severity.String()}, fields...)
	c.logger.Log(ctx, severity.logLevel(), "[ALERT] "+message, attrs...)
	return nil
}

var _ Alerter = (*ConsoleAlerter)(nil)
