package sched

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fluxtrade/execpipe/internal/types"
)

// Config holds scheduler-level settings. Per-strategy slicing
// parameters bind when the scheduler is built; selection-level fields
// can be swapped at runtime through UpdateConfig.
type Config struct {
	DefaultAlgorithm Algorithm
	// TWAPMinQuantity and VWAPMinQuantity are the size thresholds for
	// the size-based selection step.
	TWAPMinQuantity decimal.Decimal
	VWAPMinQuantity decimal.Decimal
	// MaxExecutionTime bounds one order's whole schedule; dispatchers
	// should run the plan under a deadline of this length.
	MaxExecutionTime time.Duration
	// SymbolOverrides pins symbols to an algorithm ahead of the size
	// thresholds.
	SymbolOverrides map[string]Algorithm

	// Seed fixes slice randomization; 0 seeds from the clock.
	Seed int64

	Pricing PricingConfig
	TWAP    TWAPConfig
	VWAP    VWAPConfig
	Iceberg IcebergConfig
	Cost    CostConfig
}

// DefaultConfig returns the standard scheduler configuration.
func DefaultConfig() Config {
	return Config{
		DefaultAlgorithm: AlgoTWAP,
		TWAPMinQuantity:  decimal.NewFromInt(1000),
		VWAPMinQuantity:  decimal.NewFromInt(5000),
		MaxExecutionTime: 5 * time.Minute,
		Pricing:          DefaultPricingConfig(),
		TWAP:             DefaultTWAPConfig(),
		VWAP:             DefaultVWAPConfig(),
		Iceberg:          DefaultIcebergConfig(),
		Cost:             DefaultCostConfig(),
	}
}

// Plan is one order's execution schedule: the selected algorithm and
// its time-ordered slices.
type Plan struct {
	OrderID   string
	Algorithm Algorithm
	Slices    []types.OrderSlice
	// ExpectedImpact is the estimator's slippage estimate as a
	// fraction of mid, zero when the book gave no basis.
	ExpectedImpact float64
	// MinExecutionPct is the filled fraction under which the
	// execution counts as partial.
	MinExecutionPct float64
	// MaxDuration is the dispatch deadline for the whole plan.
	MaxDuration time.Duration
	CreatedAt   time.Time
}

// Scheduler selects an execution algorithm per order and expands
// orders into slice schedules through a closed set of strategies.
// New algorithms plug in through Register.
type Scheduler struct {
	mu         sync.RWMutex
	cfg        Config
	strategies map[Algorithm]Strategy

	estimator *Estimator
	logger    *slog.Logger
}

// New creates a scheduler with the four built-in strategies wired to
// the given market view. view may be nil; slices then go out unpriced
// and uncapped.
func New(cfg Config, view MarketView, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		cfg:       cfg,
		estimator: NewEstimator(cfg.Cost, view),
		logger:    logger,
	}
	s.strategies = map[Algorithm]Strategy{
		AlgoTWAP:    NewTWAP(cfg.TWAP, cfg.Pricing, view, cfg.Seed),
		AlgoVWAP:    NewVWAP(cfg.VWAP, cfg.Pricing, view),
		AlgoIceberg: NewIceberg(cfg.Iceberg, cfg.Pricing, view),
		AlgoDMA:     NewDMA(cfg.Pricing, view),
	}
	return s
}

// Register adds or replaces the strategy dispatched for its
// algorithm.
func (s *Scheduler) Register(strat Strategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strategies[strat.Algorithm()] = strat
}

// Select picks the algorithm for an order. Precedence, first match
// wins: explicit "executionMode" parameter, symbol override, size
// thresholds (VWAP before TWAP), configured default. An unparseable
// executionMode falls through rather than erroring.
func (s *Scheduler) Select(order *types.Order) Algorithm {
	if mode := order.Param("executionMode"); mode != "" {
		if algo, ok := ParseAlgorithm(mode); ok {
			return algo
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if algo, ok := s.cfg.SymbolOverrides[order.Symbol]; ok {
		return algo
	}
	if order.Quantity.GreaterThanOrEqual(s.cfg.VWAPMinQuantity) {
		return AlgoVWAP
	}
	if order.Quantity.GreaterThanOrEqual(s.cfg.TWAPMinQuantity) {
		return AlgoTWAP
	}
	return s.cfg.DefaultAlgorithm
}

// Plan validates the order, selects an algorithm and expands the
// slice schedule.
func (s *Scheduler) Plan(order *types.Order) (*Plan, error) {
	if err := validateOrder(order); err != nil {
		return nil, err
	}

	algo := s.Select(order)
	s.mu.RLock()
	strat, ok := s.strategies[algo]
	maxDur := s.cfg.MaxExecutionTime
	minPct := s.minExecutionPct(algo)
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrNoStrategy, algo)
	}

	impact, informed := s.estimator.ExpectedImpact(order)
	hint := 0
	if informed {
		hint = s.estimator.SliceCount(impact)
	}

	slices, err := strat.Slices(order, hint)
	if err != nil {
		return nil, err
	}
	if len(slices) == 0 {
		return nil, fmt.Errorf("%w: order %s", types.ErrEmptySchedule, order.ID)
	}

	s.logger.Debug("scheduled order",
		"order_id", order.ID,
		"algorithm", algo.String(),
		"slices", len(slices),
		"expected_impact", impact)

	return &Plan{
		OrderID:         order.ID,
		Algorithm:       algo,
		Slices:          slices,
		ExpectedImpact:  impact,
		MinExecutionPct: minPct,
		MaxDuration:     maxDur,
		CreatedAt:       time.Now(),
	}, nil
}

// ObserveMark feeds a mark price into the impact estimator.
func (s *Scheduler) ObserveMark(symbol string, price decimal.Decimal) {
	s.estimator.Observe(symbol, price)
}

// UpdateConfig swaps the selection-level settings: default algorithm,
// size thresholds, symbol overrides, execution deadline. Slicing
// parameters stay as built.
func (s *Scheduler) UpdateConfig(cfg Config) {
	s.mu.Lock()
	s.cfg.DefaultAlgorithm = cfg.DefaultAlgorithm
	s.cfg.TWAPMinQuantity = cfg.TWAPMinQuantity
	s.cfg.VWAPMinQuantity = cfg.VWAPMinQuantity
	s.cfg.MaxExecutionTime = cfg.MaxExecutionTime
	s.cfg.SymbolOverrides = cfg.SymbolOverrides
	s.mu.Unlock()
	s.logger.Info("scheduler config updated")
}

func (s *Scheduler) minExecutionPct(algo Algorithm) float64 {
	switch algo {
	case AlgoTWAP:
		return s.cfg.TWAP.MinExecutionPct
	case AlgoVWAP:
		return s.cfg.VWAP.MinExecutionPct
	default:
		return 1
	}
}

func validateOrder(order *types.Order) error {
	if order == nil {
		return types.ErrInvalidOrder
	}
	if order.ID == "" {
		return fmt.Errorf("%w: missing id", types.ErrInvalidOrder)
	}
	if order.Symbol == "" {
		return fmt.Errorf("%w: missing symbol", types.ErrInvalidOrder)
	}
	if order.Side != types.SideBuy && order.Side != types.SideSell {
		return fmt.Errorf("%w: side %s", types.ErrInvalidOrder, order.Side)
	}
	if !order.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity %s", types.ErrInvalidSize, order.Quantity)
	}
	return nil
}
