// Package router implements trust-weighted venue selection with
// retry rotation and exponential backoff.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fluxtrade/execpipe/internal/types"
	"github.com/fluxtrade/execpipe/internal/venue"
)

// Trust adjustments. Trust falls faster than it rises, and a success
// reached only through retries earns half credit.
const (
	trustRewardFill  = 0.01
	trustRewardRetry = 0.005
	trustPenalty     = 0.02
)

// Config holds router tuning.
type Config struct {
	Retry RetryConfig
	// AttemptCacheSize bounds the diagnostic attempt buffer; on
	// overflow the oldest records are dropped down to
	// AttemptCacheTrim.
	AttemptCacheSize int
	AttemptCacheTrim int
}

// DefaultConfig returns standard router tuning.
func DefaultConfig() Config {
	return Config{
		Retry:            DefaultRetryConfig(),
		AttemptCacheSize: 1000,
		AttemptCacheTrim: 900,
	}
}

// AttemptRecord is one venue attempt kept for diagnostic replay.
type AttemptRecord struct {
	OrderID   string
	Symbol    string
	Venue     string
	Attempt   int
	Success   bool
	Reason    venue.FailureReason
	Latency   time.Duration
	Timestamp time.Time
}

// Router walks an order's candidate venues in trust order, rotating
// to the next venue after each failed attempt until an execution
// lands or the retry budget runs out.
type Router struct {
	cfg     Config
	trust   *TrustBook
	retry   *RetryEngine
	latency *LatencyTracker
	logger  *slog.Logger

	venuesMu sync.RWMutex
	venues   map[string]venue.Venue

	attemptsMu sync.Mutex
	attempts   []AttemptRecord
}

// New creates a router around an injected trust book. A nil trust
// book gets a fresh empty one.
func New(cfg Config, trust *TrustBook, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if trust == nil {
		trust = NewTrustBook(nil)
	}
	if cfg.AttemptCacheSize <= 0 {
		cfg.AttemptCacheSize = 1000
	}
	if cfg.AttemptCacheTrim <= 0 || cfg.AttemptCacheTrim > cfg.AttemptCacheSize {
		cfg.AttemptCacheTrim = cfg.AttemptCacheSize * 9 / 10
	}

	return &Router{
		cfg:     cfg,
		trust:   trust,
		retry:   NewRetryEngine(cfg.Retry, logger),
		latency: NewLatencyTracker(),
		logger:  logger,
		venues:  make(map[string]venue.Venue),
	}
}

// RegisterVenue adds an execution destination. Re-registering a name
// replaces the adapter.
func (r *Router) RegisterVenue(v venue.Venue) {
	r.venuesMu.Lock()
	defer r.venuesMu.Unlock()
	r.venues[v.Name()] = v
}

// Venue returns the adapter registered under name.
func (r *Router) Venue(name string) (venue.Venue, bool) {
	r.venuesMu.RLock()
	defer r.venuesMu.RUnlock()
	v, ok := r.venues[name]
	return v, ok
}

// VenueNames returns the registered venue names, sorted.
func (r *Router) VenueNames() []string {
	r.venuesMu.RLock()
	defer r.venuesMu.RUnlock()
	names := make([]string, 0, len(r.venues))
	for name := range r.venues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Trust returns the injected trust book.
func (r *Router) Trust() *TrustBook {
	return r.trust
}

// VenueLatency returns recorded latency statistics for a venue.
func (r *Router) VenueLatency(name string) (LatencyStats, bool) {
	return r.latency.Stats(name)
}

// RecentAttempts returns a copy of the bounded attempt cache, oldest
// first.
func (r *Router) RecentAttempts() []AttemptRecord {
	r.attemptsMu.Lock()
	defer r.attemptsMu.Unlock()
	out := make([]AttemptRecord, len(r.attempts))
	copy(out, r.attempts)
	return out
}

// ExecuteOrder routes an order across its candidate venues in
// descending trust order. Each failed attempt decays the failing
// venue's trust and, after backoff, rotates to the next venue in the
// ranking. Exhausting the retry budget fails the order naming every
// venue attempted.
func (r *Router) ExecuteOrder(ctx context.Context, order *types.Order) (*types.ExecutionResult, error) {
	if order == nil {
		return nil, fmt.Errorf("%w: nil order", types.ErrInvalidOrder)
	}
	start := time.Now()

	ranked := r.trust.Rank(r.registered(order.Venues))
	if len(ranked) == 0 {
		r.logger.Error("no available venues",
			"order_id", order.ID,
			"symbol", order.Symbol,
		)
		return nil, fmt.Errorf("%w: %s", types.ErrNoVenues, order.Symbol)
	}

	maxRetries := order.MaxRetries
	if maxRetries <= 0 {
		maxRetries = r.cfg.Retry.MaxRetries
	}

	r.logger.Debug("routing order",
		"order_id", order.ID,
		"symbol", order.Symbol,
		"venues", len(ranked),
		"max_retries", maxRetries,
	)

	var attempted []string
	seen := make(map[string]bool, len(ranked))
	current := ranked[0]

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("routing order %s: %w", order.ID, err)
		}

		if !seen[current] {
			seen[current] = true
			attempted = append(attempted, current)
		}

		res, err := r.attempt(ctx, order, current, attempt)
		if err == nil && res != nil && res.Success {
			reward := trustRewardFill
			if attempt > 0 {
				reward = trustRewardRetry
			}
			score := r.trust.Reward(current, reward)
			return r.buildResult(order, res, current, score, attempt+1, start), nil
		}
		if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return nil, fmt.Errorf("routing order %s: %w", order.ID, err)
		}

		reason := failureReason(res, err)
		r.trust.Penalize(current, trustPenalty)
		if err != nil {
			r.logger.Warn("venue error",
				"order_id", order.ID,
				"venue", current,
				"error", err,
			)
		} else {
			r.logger.Debug("venue rejected order",
				"order_id", order.ID,
				"venue", current,
				"reason", reason,
			)
		}

		ok, werr := r.retry.Wait(ctx, RetryContext{
			Symbol:          order.Symbol,
			Venue:           current,
			Reason:          reason,
			Attempt:         attempt,
			MaxRetries:      maxRetries,
			AvailableVenues: ranked,
		})
		if werr != nil {
			return nil, fmt.Errorf("routing order %s: %w", order.ID, werr)
		}
		if !ok {
			break
		}
		current = r.retry.NextVenue(current, ranked)
	}

	r.logger.Error("execution failed on all venues",
		"order_id", order.ID,
		"symbol", order.Symbol,
		"attempted", attempted,
	)
	return nil, fmt.Errorf("%w: attempted [%s]",
		types.ErrExecutionFailedAllVenues, strings.Join(attempted, ", "))
}

// attempt runs one venue call, recording its latency and an attempt
// record regardless of outcome.
func (r *Router) attempt(ctx context.Context, order *types.Order, name string, n int) (*venue.Result, error) {
	vn, ok := r.Venue(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrVenueUnavailable, name)
	}

	start := time.Now()
	res, err := vn.Execute(ctx, order)
	elapsed := time.Since(start)
	r.latency.Record(name, elapsed)

	r.recordAttempt(AttemptRecord{
		OrderID:   order.ID,
		Symbol:    order.Symbol,
		Venue:     name,
		Attempt:   n,
		Success:   err == nil && res != nil && res.Success,
		Reason:    failureReason(res, err),
		Latency:   elapsed,
		Timestamp: time.Now(),
	})
	return res, err
}

func (r *Router) recordAttempt(rec AttemptRecord) {
	r.attemptsMu.Lock()
	defer r.attemptsMu.Unlock()
	r.attempts = append(r.attempts, rec)
	if len(r.attempts) > r.cfg.AttemptCacheSize {
		drop := len(r.attempts) - r.cfg.AttemptCacheTrim
		r.attempts = append(r.attempts[:0], r.attempts[drop:]...)
	}
}

func (r *Router) buildResult(order *types.Order, res *venue.Result, venueName string, score float64, attempts int, start time.Time) *types.ExecutionResult {
	status := types.ExecStatusCompleted
	if res.FilledQty.LessThan(order.Quantity) {
		status = types.ExecStatusPartial
	}
	elapsed := time.Since(start)

	r.logger.Info("order executed",
		"order_id", order.ID,
		"symbol", order.Symbol,
		"venue", venueName,
		"qty", res.FilledQty,
		"avg_price", res.AvgPrice,
		"attempts", attempts,
		"trust", score,
	)

	return &types.ExecutionResult{
		ID:         uuid.NewString(),
		OrderID:    order.ID,
		Venue:      venueName,
		FilledQty:  res.FilledQty,
		AvgPrice:   res.AvgPrice,
		Fees:       res.Fees,
		Status:     status,
		Latency:    types.LatencyBreakdown{Routing: elapsed, Total: elapsed},
		TrustScore: score,
		Attempts:   attempts,
		Timestamp:  time.Now(),
	}
}

// registered filters candidates down to venues with an adapter,
// preserving order.
func (r *Router) registered(candidates []string) []string {
	r.venuesMu.RLock()
	defer r.venuesMu.RUnlock()
	out := make([]string, 0, len(candidates))
	for _, name := range candidates {
		if _, ok := r.venues[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

func failureReason(res *venue.Result, err error) venue.FailureReason {
	if err == nil && res != nil && res.Success {
		return venue.ReasonNone
	}
	if res != nil && !res.Success && res.Reason != venue.ReasonNone {
		return res.Reason
	}
	return venue.ReasonUnknown
}
