package alerting

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// MultiAlerter fans one alert out to every configured channel.
type MultiAlerter struct {
	mu       sync.RWMutex
	alerters []Alerter
	logger   *slog.Logger
}

// NewMultiAlerter creates a new multi-channel alerter.
func NewMultiAlerter(logger *slog.Logger, alerters ...Alerter) *MultiAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiAlerter{
		alerters: alerters,
		logger:   logger,
	}
}

// Name returns the name of the alerter.
func (m *MultiAlerter) Name() string {
	return "multi"
}

// AddAlerter adds a channel to the fan-out set.
func (m *MultiAlerter) AddAlerter(alerter Alerter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerters = append(m.alerters, alerter)
}

// Alert sends the alert to all channels concurrently. A failed channel
// does not block the others; failures are joined into one error.
func (m *MultiAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	channels := m.snapshot()
	if len(channels) == 0 {
		return nil
	}

	// Each goroutine writes its own slot; Join skips the nils.
	errs := make([]error, len(channels))
	var wg sync.WaitGroup
	for i, ch := range channels {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ch.Alert(ctx, severity, message, fields...); err != nil {
				m.logger.Error("alert channel failed",
					"channel", ch.Name(),
					"severity", severity.String(),
					"err", err,
				)
				errs[i] = err
			}
		}()
	}
	wg.Wait()

	return errors.Join(errs...)
}

// AlertEvent sends an alert for a predefined event type at its
// default severity.
func (m *MultiAlerter) AlertEvent(ctx context.Context, event AlertEvent, message string, fields ...any) error {
	return m.Alert(ctx, EventSeverity(event), message, fields...)
}

// snapshot copies the channel list so sends run outside the lock.
func (m *MultiAlerter) snapshot() []Alerter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Alerter, len(m.alerters))
	copy(out, m.alerters)
	return out
}

var _ Alerter = (*MultiAlerter)(nil)
