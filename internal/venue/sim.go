package venue

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/fluxtrade/execpipe/internal/types"
)

// SimConfig holds simulated venue configuration.
type SimConfig struct {
	Name string
	// FillDelay simulates venue round-trip time before an outcome is
	// reported.
	FillDelay time.Duration
	// SlippageBps is the price impact applied against the order, in
	// basis points of the reference price.
	SlippageBps float64
	// FeeRate is charged on filled notional (0.0002 = 2 bps).
	FeeRate decimal.Decimal
	// FailureRate injects random venue-reported failures, probability
	// in [0,1].
	FailureRate float64
	// MaxOrdersPerSecond bounds order submission. Zero disables the
	// limiter.
	MaxOrdersPerSecond int
	// Seed fixes the failure-injection sequence. Zero seeds from the
	// clock.
	Seed int64
}

// DefaultSimConfig returns a simulated venue with modest friction.
func DefaultSimConfig(name string) SimConfig {
	return SimConfig{
		Name:               name,
		FillDelay:          5 * time.Millisecond,
		SlippageBps:        1.0,
		FeeRate:            decimal.NewFromFloat(0.0002),
		FailureRate:        0,
		MaxOrdersPerSecond: 200,
	}
}

// Sim is an in-process venue. It fills at the order's reference price
// (or the last mark) shifted against the order by the configured
// slippage, and can inject failures for routing tests.
type Sim struct {
	cfg     SimConfig
	logger  *slog.Logger
	limiter *rate.Limiter

	marksMu sync.RWMutex
	marks   map[string]decimal.Decimal

	rngMu sync.Mutex
	rng   *rand.Rand

	failMu   sync.Mutex
	failNext []FailureReason

	fills atomic.Int64
}

// NewSim creates a simulated venue.
func NewSim(cfg SimConfig, logger *slog.Logger) *Sim {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SlippageBps < 0 {
		cfg.SlippageBps = 0
	}
	if cfg.FailureRate < 0 {
		cfg.FailureRate = 0
	}
	if cfg.FailureRate > 1 {
		cfg.FailureRate = 1
	}
	if cfg.FeeRate.IsNegative() {
		cfg.FeeRate = decimal.Zero
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UTC().UnixNano()
	}

	var limiter *rate.Limiter
	if cfg.MaxOrdersPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.MaxOrdersPerSecond), cfg.MaxOrdersPerSecond)
	}

	return &Sim{
		cfg:     cfg,
		logger:  logger,
		limiter: limiter,
		marks:   make(map[string]decimal.Decimal),
		rng:     rand.New(rand.NewSource(seed)),
	}
}

// Name returns the venue identifier.
func (s *Sim) Name() string {
	return s.cfg.Name
}

// SetMark records the last traded price for a symbol, used to price
// orders that carry no reference price.
func (s *Sim) SetMark(symbol string, price decimal.Decimal) {
	s.marksMu.Lock()
	defer s.marksMu.Unlock()
	s.marks[symbol] = price
}

// Mark returns the recorded mark for a symbol.
func (s *Sim) Mark(symbol string) (decimal.Decimal, bool) {
	s.marksMu.RLock()
	defer s.marksMu.RUnlock()
	p, ok := s.marks[symbol]
	return p, ok
}

// FailNext queues n venue-reported failures with the given reason,
// consumed before any random failure roll.
func (s *Sim) FailNext(reason FailureReason, n int) {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	for i := 0; i < n; i++ {
		s.failNext = append(s.failNext, reason)
	}
}

// Fills returns the number of successful executions.
func (s *Sim) Fills() int64 {
	return s.fills.Load()
}

// Execute prices and fills the order, or reports a rejection.
func (s *Sim) Execute(ctx context.Context, order *types.Order) (*Result, error) {
	if s.limiter != nil && !s.limiter.Allow() {
		return nil, fmt.Errorf("%w: %s", ErrRateLimited, s.cfg.Name)
	}

	if s.cfg.FillDelay > 0 {
		timer := time.NewTimer(s.cfg.FillDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if reason := s.popInjected(); reason != ReasonNone {
		s.logger.Debug("injected failure",
			"venue", s.cfg.Name,
			"order_id", order.ID,
			"reason", reason,
		)
		return &Result{Venue: s.cfg.Name, Success: false, Reason: reason}, nil
	}

	if s.cfg.FailureRate > 0 && s.randFloat() < s.cfg.FailureRate {
		reason := s.randReason()
		s.logger.Debug("random failure",
			"venue", s.cfg.Name,
			"order_id", order.ID,
			"reason", reason,
		)
		return &Result{Venue: s.cfg.Name, Success: false, Reason: reason}, nil
	}

	ref := order.Price
	if ref.IsZero() {
		mark, ok := s.Mark(order.Symbol)
		if !ok {
			s.logger.Warn("no reference price",
				"venue", s.cfg.Name,
				"symbol", order.Symbol,
				"order_id", order.ID,
			)
			return &Result{Venue: s.cfg.Name, Success: false, Reason: ReasonUnknown}, nil
		}
		ref = mark
	}

	slipRatio := decimal.NewFromFloat(s.cfg.SlippageBps / 10000.0)
	if order.MaxSlippage.IsPositive() && slipRatio.GreaterThan(order.MaxSlippage) {
		return &Result{Venue: s.cfg.Name, Success: false, Reason: ReasonSlippageTooHigh}, nil
	}

	factor := decimal.NewFromInt(1)
	if order.Side == types.SideBuy {
		factor = factor.Add(slipRatio)
	} else {
		factor = factor.Sub(slipRatio)
	}
	price := ref.Mul(factor)
	fees := price.Mul(order.Quantity).Mul(s.cfg.FeeRate)

	s.fills.Add(1)
	s.logger.Debug("order filled",
		"venue", s.cfg.Name,
		"order_id", order.ID,
		"symbol", order.Symbol,
		"side", order.Side,
		"qty", order.Quantity,
		"price", price,
		"fees", fees,
	)

	return &Result{
		Venue:     s.cfg.Name,
		Success:   true,
		FilledQty: order.Quantity,
		AvgPrice:  price,
		Fees:      fees,
	}, nil
}

func (s *Sim) popInjected() FailureReason {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	if len(s.failNext) == 0 {
		return ReasonNone
	}
	reason := s.failNext[0]
	s.failNext = s.failNext[1:]
	return reason
}

func (s *Sim) randFloat() float64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64()
}

func (s *Sim) randReason() FailureReason {
	reasons := []FailureReason{ReasonRevert, ReasonOutOfResources, ReasonSlippageTooHigh}
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return reasons[s.rng.Intn(len(reasons))]
}

// Ensure Sim implements Venue.
var _ Venue = (*Sim)(nil)
