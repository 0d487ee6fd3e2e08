package replay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fluxtrade/execpipe/internal/pipeline"
	"github.com/fluxtrade/execpipe/internal/risk"
	"github.com/fluxtrade/execpipe/internal/types"
)

// Config controls one replay run.
type Config struct {
	// Orders is how many orders the flow emits.
	Orders int
	// StepDelay paces the flow so a live view stays watchable. Zero
	// runs flat out.
	StepDelay time.Duration
	Flow      FlowConfig
}

// DefaultConfig returns a short mixed-flow replay.
func DefaultConfig() Config {
	return Config{
		Orders: 50,
		Flow:   DefaultFlowConfig(),
	}
}

// ProgressUpdate is a snapshot sent after each order.
type ProgressUpdate struct {
	Order       int
	TotalOrders int
	Symbol      string
	Side        types.Side
	Quantity    decimal.Decimal
	Status      string
	FillRatePct float64
	Equity      float64
	Trust       map[string]float64
}

// ProgressCallback receives progress updates during a replay.
type ProgressCallback func(ProgressUpdate)

// Runner feeds a flow through the pipeline and collects stats.
type Runner struct {
	cfg      Config
	pipe     *pipeline.Pipeline
	flow     *Flow
	stats    *Stats
	drawdown *risk.DrawdownTracker
	logger   *slog.Logger

	onProgress ProgressCallback
}

// NewRunner creates a runner over an assembled pipeline.
func NewRunner(cfg Config, pipe *pipeline.Pipeline, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Orders <= 0 {
		cfg.Orders = DefaultConfig().Orders
	}
	equity := decimal.NewFromFloat(pipe.Gate().Metrics().CurrentEquity)
	return &Runner{
		cfg:      cfg,
		pipe:     pipe,
		flow:     NewFlow(cfg.Flow),
		stats:    NewStats(),
		drawdown: risk.NewDrawdownTracker(equity),
		logger:   logger,
	}
}

// SetProgressCallback registers a callback invoked after every order.
func (r *Runner) SetProgressCallback(cb ProgressCallback) {
	r.onProgress = cb
}

// Run drives the flow to completion and returns the collected stats.
// Cancelling the context stops the replay mid-flow.
func (r *Runner) Run(ctx context.Context) (*Stats, error) {
	r.logger.Info("replay starting", "orders", r.cfg.Orders, "seed", r.cfg.Flow.Seed)
	start := time.Now()

	for i := 0; i < r.cfg.Orders; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		step := r.flow.Next()
		ApplyStep(r.pipe, step, r.logger)
		order := step.Order

		arrivalMid, ok := r.pipe.Books().MidPrice(order.Symbol)
		if !ok {
			arrivalMid = markFor(step, order.Symbol)
		}

		status, err := r.executeOne(ctx, order, arrivalMid)
		if err != nil {
			return nil, err
		}
		r.observeEquity()
		r.progress(i+1, order, status)

		if r.cfg.StepDelay > 0 {
			timer := time.NewTimer(r.cfg.StepDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}

	r.foldAttempts()
	r.logger.Info("replay finished",
		"orders", r.stats.Orders,
		"fill_rate_pct", r.stats.FillRatePct(),
		"elapsed", time.Since(start))
	return r.stats, nil
}

// Stats returns the accumulator; useful for a partial read while the
// replay is still running under a progress callback.
func (r *Runner) Stats() *Stats { return r.stats }

// ApplyStep feeds one step's marks and book ticks into the pipeline.
// Rejected ticks are skipped; the flow keeps its own books consistent
// so rejections here mean a bug worth surfacing.
func ApplyStep(pipe *pipeline.Pipeline, step Step, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, m := range step.Marks {
		if err := pipe.MarkPrice(m.Symbol, decimal.NewFromFloat(m.Price)); err != nil {
			logger.Warn("mark rejected", "symbol", m.Symbol, "err", err)
		}
	}
	for _, t := range step.Ticks {
		if _, err := pipe.ProcessBookUpdate(t.Symbol, t.Price, t.Size, t.Side, t.UpdateID); err != nil {
			logger.Warn("book update rejected", "symbol", t.Symbol, "price", t.Price, "err", err)
		}
	}
}

// executeOne runs one order and folds the outcome into the stats. The
// returned error is non-nil only when the replay itself should stop.
func (r *Runner) executeOne(ctx context.Context, order *types.Order, arrivalMid float64) (string, error) {
	res, err := r.pipe.ExecuteOrder(ctx, order)
	switch {
	case err == nil:
		r.stats.RecordResult(res, order.Side, arrivalMid)
		return res.Status.String(), nil
	case errors.Is(err, types.ErrRiskRejected):
		r.stats.RecordRejected("risk")
		return types.ExecStatusRejected.String(), nil
	case errors.Is(err, types.ErrPositionLimit), errors.Is(err, types.ErrExposureLimit):
		r.stats.RecordRejected("limit")
		return types.ExecStatusRejected.String(), nil
	case ctx.Err() != nil:
		// The replay was cancelled, not the order.
		return "", ctx.Err()
	default:
		r.stats.RecordFailed()
		r.logger.Warn("order failed", "order_id", order.ID, "symbol", order.Symbol, "err", err)
		return types.ExecStatusFailed.String(), nil
	}
}

// observeEquity folds the post-order equity into the drawdown track.
// The tracker keeps the deepest fall itself; the stats copy stays
// fresh for partial reads mid-replay.
func (r *Runner) observeEquity() {
	r.drawdown.Observe(decimal.NewFromFloat(r.pipe.Gate().Metrics().CurrentEquity))
	r.stats.MaxDrawdown = r.drawdown.MaxDrawdown()
}

// foldAttempts counts failed venue attempts out of the router's
// bounded cache. Successful attempts are already on the results.
func (r *Runner) foldAttempts() {
	for _, rec := range r.pipe.Router().RecentAttempts() {
		if !rec.Success {
			r.stats.FailedAttempts++
		}
	}
}

func (r *Runner) progress(done int, order *types.Order, status string) {
	if r.onProgress == nil {
		return
	}
	r.onProgress(ProgressUpdate{
		Order:       done,
		TotalOrders: r.cfg.Orders,
		Symbol:      order.Symbol,
		Side:        order.Side,
		Quantity:    order.Quantity,
		Status:      status,
		FillRatePct: r.stats.FillRatePct(),
		Equity:      r.pipe.Gate().Metrics().CurrentEquity,
		Trust:       r.pipe.Router().Trust().Snapshot(),
	})
}

func markFor(step Step, symbol string) float64 {
	for _, m := range step.Marks {
		if m.Symbol == symbol {
			return m.Price
		}
	}
	return 0
}
