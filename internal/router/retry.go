package router

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fluxtrade/execpipe/internal/venue"
)

const (
	maxRetryHistory   = 100
	retryHistoryDrain = 50
)

// RetryConfig bounds the retry engine.
type RetryConfig struct {
	// MaxRetries is the retry budget after the initial attempt,
	// unless the order overrides it.
	MaxRetries int
	// BaseDelay is doubled per attempt up to MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetryConfig returns the standard retry bounds.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// RetryContext describes one failed attempt handed to the engine.
type RetryContext struct {
	Symbol          string
	Venue           string
	Reason          venue.FailureReason
	Attempt         int
	MaxRetries      int
	AvailableVenues []string
}

// RetryEngine decides whether a failed execution may be retried and
// applies exponential backoff between attempts. The backoff wait
// holds no lock.
type RetryEngine struct {
	cfg    RetryConfig
	logger *slog.Logger

	mu      sync.Mutex
	history []RetryContext
}

// NewRetryEngine creates a retry engine.
func NewRetryEngine(cfg RetryConfig, logger *slog.Logger) *RetryEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	return &RetryEngine{cfg: cfg, logger: logger}
}

// Delay returns the backoff preceding the given retry attempt:
// BaseDelay doubled per attempt, capped at MaxDelay.
func (e *RetryEngine) Delay(attempt int) time.Duration {
	d := e.cfg.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= e.cfg.MaxDelay {
			return e.cfg.MaxDelay
		}
	}
	if d > e.cfg.MaxDelay {
		return e.cfg.MaxDelay
	}
	return d
}

// Wait records the retry context and sleeps the backoff for this
// attempt. It returns false with a nil error when the retry budget is
// exhausted, and false with the context's error when cancelled during
// the wait.
func (e *RetryEngine) Wait(ctx context.Context, rc RetryContext) (bool, error) {
	if rc.Attempt >= rc.MaxRetries {
		e.logger.Warn("retry budget exhausted",
			"symbol", rc.Symbol,
			"venue", rc.Venue,
			"attempts", rc.Attempt+1,
		)
		return false, nil
	}

	delay := e.Delay(rc.Attempt)
	e.logger.Debug("scheduling retry",
		"symbol", rc.Symbol,
		"venue", rc.Venue,
		"attempt", rc.Attempt+1,
		"reason", rc.Reason,
		"delay", delay,
	)

	e.mu.Lock()
	e.history = append(e.history, rc)
	if len(e.history) > maxRetryHistory {
		e.history = append(e.history[:0], e.history[retryHistoryDrain:]...)
	}
	e.mu.Unlock()

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-timer.C:
	}
	return true, nil
}

// NextVenue returns the venue after current in the ranked list,
// wrapping at the end. A venue not present in the list maps to the
// first entry.
func (e *RetryEngine) NextVenue(current string, available []string) string {
	if len(available) == 0 {
		return current
	}
	for i, v := range available {
		if v == current {
			return available[(i+1)%len(available)]
		}
	}
	return available[0]
}

// History returns a copy of recently recorded retry contexts, oldest
// first.
func (e *RetryEngine) History() []RetryContext {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]RetryContext, len(e.history))
	copy(out, e.history)
	return out
}
