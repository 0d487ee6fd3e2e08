// Package pipeline wires the execution stages into one order path:
// risk admission, position limits, algorithm scheduling, venue
// routing, and the post-fill ledger and risk-counter updates.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fluxtrade/execpipe/internal/alerting"
	"github.com/fluxtrade/execpipe/internal/book"
	"github.com/fluxtrade/execpipe/internal/journal"
	"github.com/fluxtrade/execpipe/internal/ledger"
	"github.com/fluxtrade/execpipe/internal/metrics"
	"github.com/fluxtrade/execpipe/internal/risk"
	"github.com/fluxtrade/execpipe/internal/router"
	"github.com/fluxtrade/execpipe/internal/sched"
	"github.com/fluxtrade/execpipe/internal/types"
)

// Config holds pipeline-level settings.
type Config struct {
	// AgentID owns every position the pipeline opens.
	AgentID string
	// OrderTimeout bounds one ExecuteOrder call end to end. Zero
	// leaves only the plan's own dispatch deadline.
	OrderTimeout time.Duration
	// AlertEvents enables alerting per event. Nil enables every
	// event; an empty non-nil map disables all of them.
	AlertEvents map[alerting.AlertEvent]bool
}

// DefaultConfig returns standard pipeline settings.
func DefaultConfig() Config {
	return Config{
		AgentID:      "agent-1",
		OrderTimeout: 30 * time.Second,
	}
}

// marker is implemented by venue adapters that accept reference
// marks, such as the simulated venue.
type marker interface {
	SetMark(symbol string, price decimal.Decimal)
}

// Pipeline runs orders through admission, scheduling and routing,
// and applies resulting fills to the ledger and the risk counters.
// One Pipeline serves one agent.
type Pipeline struct {
	cfg      Config
	gate     *risk.Gate
	ledger   *ledger.Ledger
	books    *book.Manager
	sched    *sched.Scheduler
	router   *router.Router
	alerter  alerting.Alerter
	recorder *metrics.Recorder
	logger   *slog.Logger

	journalMu sync.RWMutex
	journal   journal.Journal

	summaryMu sync.Mutex
	summary   alerting.ExecutionSummary
}

// New creates a pipeline over already-constructed components. The
// alerter may be nil; alerts are then skipped. logger may be nil.
func New(
	cfg Config,
	gate *risk.Gate,
	led *ledger.Ledger,
	books *book.Manager,
	scheduler *sched.Scheduler,
	rt *router.Router,
	alerter alerting.Alerter,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AgentID == "" {
		cfg.AgentID = "agent-1"
	}

	return &Pipeline{
		cfg:      cfg,
		gate:     gate,
		ledger:   led,
		books:    books,
		sched:    scheduler,
		router:   rt,
		alerter:  alerter,
		recorder: metrics.NewRecorder(),
		logger:   logger,
		summary:  alerting.NewExecutionSummary(time.Now(), time.Time{}),
	}
}

// AttachJournal sets the audit journal. The journal is an attached
// consumer: the pipeline writes to it and never reads it back on the
// order path. A nil journal detaches.
func (p *Pipeline) AttachJournal(j journal.Journal) {
	p.journalMu.Lock()
	p.journal = j
	p.journalMu.Unlock()
}

func (p *Pipeline) attachedJournal() journal.Journal {
	p.journalMu.RLock()
	defer p.journalMu.RUnlock()
	return p.journal
}

// ExecuteOrder runs one order through the full pipeline. A result
// comes back whenever at least one slice filled, with the stop cause
// in ErrorMessage if the schedule ended early; an error return means
// nothing was executed and no position changed.
func (p *Pipeline) ExecuteOrder(ctx context.Context, order *types.Order) (*types.ExecutionResult, error) {
	if order == nil {
		return nil, fmt.Errorf("%w: nil order", types.ErrInvalidOrder)
	}
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}
	if p.cfg.OrderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.OrderTimeout)
		defer cancel()
	}

	start := time.Now()
	p.recorder.RecordHeartbeat()
	p.summaryMu.Lock()
	p.summary.OrdersSubmitted++
	p.summaryMu.Unlock()

	// Stage 1: risk admission.
	riskRes := p.gate.CheckOrder(order.Symbol, order.Notional().InexactFloat64(), orderLeverage(order))
	p.recorder.RecordRiskLatency(riskRes.Latency)
	if !riskRes.Passed {
		p.recorder.RecordRiskRejection()
		p.rejectOrder(ctx, order, riskRes.Reason, alerting.EventRiskRejected, riskRes.Latency, start)
		return nil, fmt.Errorf("%w: %s", types.ErrRiskRejected, riskRes.Reason)
	}

	// Stage 2: position and exposure limits.
	if err := p.checkLimits(order); err != nil {
		p.rejectOrder(ctx, order, err.Error(), alerting.EventLimitRejected, riskRes.Latency, start)
		return nil, err
	}

	// Stage 3: algorithm selection and slicing.
	schedTimer := metrics.NewTimer()
	plan, err := p.sched.Plan(order)
	if err != nil {
		p.rejectOrder(ctx, order, err.Error(), alerting.EventLimitRejected, riskRes.Latency, start)
		return nil, fmt.Errorf("planning order %s: %w", order.ID, err)
	}
	schedElapsed := schedTimer.Elapsed()
	p.recorder.RecordStageLatency("scheduling", schedElapsed)
	p.recorder.RecordPlan(order.Symbol, plan.Algorithm.String(), len(plan.Slices))

	// Stage 4: slice dispatch.
	agg, dispatchErr := p.dispatch(ctx, order, plan)
	p.recorder.RecordStageLatency("routing", agg.routing)

	result := p.buildResult(order, plan, agg, riskRes.Latency, schedElapsed, start)
	p.finishOrder(ctx, order, result)
	p.pushRiskState()

	if result.FilledQty.IsZero() {
		if dispatchErr == nil {
			dispatchErr = fmt.Errorf("%w: order %s", types.ErrExecutionFailedAllVenues, order.ID)
		}
		return nil, fmt.Errorf("order %s: %w", order.ID, dispatchErr)
	}
	return result, nil
}

// checkLimits asks the ledger whether the order would breach position
// or exposure limits. The first order on a symbol can arrive before
// any mark; the cache is then seeded from its reference price.
func (p *Pipeline) checkLimits(order *types.Order) error {
	exceeded, err := p.ledger.CheckLimits(p.cfg.AgentID, order.Symbol, order.Side, order.Quantity)
	if errors.Is(err, types.ErrInvalidPrice) && order.Price.IsPositive() {
		if merr := p.ledger.MarkPrice(order.Symbol, order.Price); merr == nil {
			exceeded, err = p.ledger.CheckLimits(p.cfg.AgentID, order.Symbol, order.Side, order.Quantity)
		}
	}
	if err != nil {
		return fmt.Errorf("checking limits for order %s: %w", order.ID, err)
	}
	if exceeded {
		return fmt.Errorf("%w: %s %s qty %s", types.ErrPositionLimit,
			order.Symbol, order.Side, order.Quantity)
	}
	return nil
}

// aggregate accumulates slice outcomes for one order.
type aggregate struct {
	filled   decimal.Decimal
	cost     decimal.Decimal // sum of qty×price across fills
	fees     decimal.Decimal
	realized decimal.Decimal
	attempts int
	venue    string // venue of the last fill
	trust    float64
	routing  time.Duration
	abort    string // why the schedule stopped early, "" when it ran out
}

// dispatch walks the plan's slices in time-offset order, routing each
// one and applying its fill. It stops at the plan deadline, on
// context cancellation, or when a slice exhausts every venue; the
// remaining slices are not attempted.
func (p *Pipeline) dispatch(ctx context.Context, order *types.Order, plan *sched.Plan) (aggregate, error) {
	if plan.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, plan.MaxDuration)
		defer cancel()
	}

	agg := aggregate{
		filled:   decimal.Zero,
		cost:     decimal.Zero,
		fees:     decimal.Zero,
		realized: decimal.Zero,
	}
	scheduleStart := time.Now()
	var lastErr error

	for i := range plan.Slices {
		sl := &plan.Slices[i]
		if err := p.waitForSlice(ctx, scheduleStart, sl.TimeOffset); err != nil {
			agg.abort = fmt.Sprintf("schedule stopped before slice %d/%d: %v", i+1, len(plan.Slices), err)
			lastErr = err
			break
		}

		routeStart := time.Now()
		res, err := p.routeSlice(ctx, order, sl)
		agg.routing += time.Since(routeStart)

		if err != nil {
			lastErr = err
			agg.abort = fmt.Sprintf("slice %d/%d failed: %v", i+1, len(plan.Slices), err)
			if errors.Is(err, types.ErrExecutionFailedAllVenues) || errors.Is(err, types.ErrNoVenues) {
				p.recorder.RecordError("venue_exhausted")
				p.alertEvent(ctx, alerting.EventVenueExhausted, "Order slice failed on all venues",
					"order_id", order.ID,
					"symbol", order.Symbol,
					"slice", sl.ID,
					"error", err.Error(),
				)
			}
			break
		}

		agg.attempts += res.Attempts
		agg.venue = res.Venue
		agg.trust = res.TrustScore
		if res.FilledQty.IsPositive() {
			agg.filled = agg.filled.Add(res.FilledQty)
			agg.cost = agg.cost.Add(res.FilledQty.Mul(res.AvgPrice))
			agg.fees = agg.fees.Add(res.Fees)
			agg.realized = agg.realized.Add(p.applyFill(ctx, order, plan.Algorithm.String(), res))
		}
	}

	return agg, lastErr
}

// waitForSlice sleeps until the slice's offset from schedule start,
// honoring context cancellation. Offsets already in the past return
// immediately.
func (p *Pipeline) waitForSlice(ctx context.Context, scheduleStart time.Time, offset time.Duration) error {
	delay := offset - time.Since(scheduleStart)
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// routeSlice sends one slice through the router as a child order
// carrying the parent's venue set and retry budget, then journals any
// trust movement the attempt caused.
func (p *Pipeline) routeSlice(ctx context.Context, parent *types.Order, sl *types.OrderSlice) (*types.ExecutionResult, error) {
	price := sl.LimitPrice
	if price.IsZero() {
		price = parent.Price
	}
	child := &types.Order{
		ID:          sl.ID,
		Symbol:      sl.Symbol,
		Side:        sl.Side,
		Quantity:    sl.Size,
		Price:       price,
		Venues:      parent.Venues,
		CreatedAt:   time.Now(),
		MaxSlippage: parent.MaxSlippage,
		MaxRetries:  parent.MaxRetries,
	}

	before := p.router.Trust().Snapshot()
	res, err := p.router.ExecuteOrder(ctx, child)
	p.recordTrustMoves(ctx, before, res)
	p.recordRetries(child.ID)
	return res, err
}

// recordRetries counts the slice's failed venue attempts from the
// router's attempt cache, labeled by failing venue and reason.
func (p *Pipeline) recordRetries(sliceID string) {
	for _, a := range p.router.RecentAttempts() {
		if a.OrderID != sliceID || a.Success {
			continue
		}
		p.recorder.RecordRetry(a.Venue, strings.ToLower(a.Reason.String()))
	}
}

// recordTrustMoves diffs the trust book around one routed slice and
// journals the net movement per venue. Movements within one slice
// collapse into a single event; that granularity is what trust
// recovery needs.
func (p *Pipeline) recordTrustMoves(ctx context.Context, before map[string]float64, res *types.ExecutionResult) {
	after := p.router.Trust().Snapshot()
	j := p.attachedJournal()

	for name, score := range after {
		prev, ok := before[name]
		if !ok {
			prev = router.DefaultTrust
		}
		delta := score - prev
		if delta == 0 {
			continue
		}

		p.recorder.RecordVenueTrust(name, score)
		if score == 0 && prev > 0 {
			p.alertEvent(ctx, alerting.EventVenueTrustFloor, "Venue trust at floor",
				"venue", name,
			)
		}

		if j == nil {
			continue
		}
		reason := "failure"
		if delta > 0 {
			reason = "fill"
			if res != nil && res.Attempts > 1 {
				reason = "retry_success"
			}
		}
		if err := j.RecordTrustEvent(ctx, journal.TrustEvent{
			Venue:  name,
			Score:  score,
			Delta:  delta,
			Reason: reason,
		}); err != nil {
			p.journalFailure(ctx, err)
		}
	}
}

// applyFill folds one slice fill into the ledger and the risk
// counters and returns the realized PnL delta.
func (p *Pipeline) applyFill(ctx context.Context, parent *types.Order, strategyID string, res *types.ExecutionResult) decimal.Decimal {
	fill := types.Fill{
		Symbol:     parent.Symbol,
		Side:       parent.Side,
		Size:       res.FilledQty,
		Price:      res.AvgPrice,
		Timestamp:  res.Timestamp,
		OrderID:    parent.ID,
		FillID:     res.ID,
		IsFill:     true,
		Venue:      res.Venue,
		StrategyID: strategyID,
	}

	realized, err := p.ledger.UpdatePosition(p.cfg.AgentID, fill)
	if err != nil {
		p.logger.Error("ledger rejected fill",
			"order_id", parent.ID,
			"fill_id", res.ID,
			"err", err,
		)
		p.recorder.RecordError("ledger_update")
		realized = decimal.Zero
	}

	notional := res.FilledQty.Mul(res.AvgPrice).InexactFloat64()
	if parent.Side == types.SideSell {
		notional = -notional
	}
	p.gate.UpdatePosition(parent.Symbol, notional)
	if !realized.IsZero() {
		p.gate.UpdatePnL(realized.InexactFloat64())
	}

	p.recorder.RecordFill(parent.Symbol, parent.Side.String())
	p.recorder.RecordExecution(res.Venue, strings.ToLower(res.Status.String()))
	p.recorder.RecordVenueLatency(res.Venue, res.Latency.Routing)

	p.summaryMu.Lock()
	p.summary.VenueFills[res.Venue]++
	p.summaryMu.Unlock()

	if j := p.attachedJournal(); j != nil {
		if err := j.RecordFill(ctx, fill); err != nil {
			p.journalFailure(ctx, err)
		}
	}
	return realized
}

// buildResult assembles the order-level result from the slice
// aggregate. The execution counts as completed when the filled
// fraction reaches the plan's minimum, partial below it, failed at
// zero.
func (p *Pipeline) buildResult(order *types.Order, plan *sched.Plan, agg aggregate, riskLatency, schedElapsed time.Duration, start time.Time) *types.ExecutionResult {
	status := types.ExecStatusFailed
	avg := decimal.Zero
	if agg.filled.IsPositive() {
		avg = agg.cost.Div(agg.filled)
		frac, _ := agg.filled.Div(order.Quantity).Float64()
		if frac >= plan.MinExecutionPct {
			status = types.ExecStatusCompleted
		} else {
			status = types.ExecStatusPartial
		}
	}

	return &types.ExecutionResult{
		ID:          uuid.NewString(),
		OrderID:     order.ID,
		Venue:       agg.venue,
		FilledQty:   agg.filled,
		AvgPrice:    avg,
		Fees:        agg.fees,
		RealizedPnL: agg.realized,
		Status:      status,
		Latency: types.LatencyBreakdown{
			RiskGate:   riskLatency,
			Scheduling: schedElapsed,
			Routing:    agg.routing,
			Total:      time.Since(start),
		},
		TrustScore:   agg.trust,
		Attempts:     agg.attempts,
		ErrorMessage: agg.abort,
		Timestamp:    time.Now(),
	}
}

// finishOrder records the terminal outcome: metrics, summary
// counters, the journal record, and the completion alert.
func (p *Pipeline) finishOrder(ctx context.Context, order *types.Order, res *types.ExecutionResult) {
	statusLabel := strings.ToLower(res.Status.String())
	p.recorder.RecordOrder(order.Symbol, order.Side.String(), statusLabel)
	p.recorder.RecordStageLatency("total", res.Latency.Total)

	p.summaryMu.Lock()
	switch res.Status {
	case types.ExecStatusCompleted:
		p.summary.OrdersFilled++
	case types.ExecStatusPartial:
		p.summary.OrdersPartial++
	default:
		p.summary.OrdersFailed++
	}
	p.summary.TotalFilledQty = p.summary.TotalFilledQty.Add(res.FilledQty)
	p.summary.TotalFees = p.summary.TotalFees.Add(res.Fees)
	p.summary.RealizedPnL = p.summary.RealizedPnL.Add(res.RealizedPnL)
	p.summary.TotalAttempts += res.Attempts
	p.summaryMu.Unlock()

	p.journalExecution(ctx, order, res)

	switch res.Status {
	case types.ExecStatusCompleted:
		p.alertEvent(ctx, alerting.EventOrderFilled, "Order filled",
			"order_id", order.ID,
			"symbol", order.Symbol,
			"side", order.Side.String(),
			"qty", res.FilledQty.String(),
			"avg_price", res.AvgPrice.String(),
			"venue", res.Venue,
		)
	case types.ExecStatusPartial:
		p.alertEvent(ctx, alerting.EventOrderPartial, "Order partially filled",
			"order_id", order.ID,
			"symbol", order.Symbol,
			"filled", res.FilledQty.String(),
			"wanted", order.Quantity.String(),
			"reason", res.ErrorMessage,
		)
	}

	p.logger.Info("order finished",
		"order_id", order.ID,
		"symbol", order.Symbol,
		"status", statusLabel,
		"filled", res.FilledQty.String(),
		"attempts", res.Attempts,
		"total_ms", res.Latency.Total.Milliseconds(),
	)
}

// rejectOrder records a pre-routing refusal: nothing was scheduled,
// nothing reached a venue.
func (p *Pipeline) rejectOrder(ctx context.Context, order *types.Order, reason string, event alerting.AlertEvent, riskLatency time.Duration, start time.Time) {
	p.recorder.RecordOrder(order.Symbol, order.Side.String(), "rejected")
	p.summaryMu.Lock()
	p.summary.OrdersRejected++
	p.summaryMu.Unlock()

	res := &types.ExecutionResult{
		ID:           uuid.NewString(),
		OrderID:      order.ID,
		FilledQty:    decimal.Zero,
		AvgPrice:     decimal.Zero,
		Fees:         decimal.Zero,
		RealizedPnL:  decimal.Zero,
		Status:       types.ExecStatusRejected,
		Latency:      types.LatencyBreakdown{RiskGate: riskLatency, Total: time.Since(start)},
		ErrorMessage: reason,
		Timestamp:    time.Now(),
	}
	p.journalExecution(ctx, order, res)

	p.alertEvent(ctx, event, "Order rejected",
		"order_id", order.ID,
		"symbol", order.Symbol,
		"side", order.Side.String(),
		"qty", order.Quantity.String(),
		"reason", reason,
	)

	p.logger.Warn("order rejected",
		"order_id", order.ID,
		"symbol", order.Symbol,
		"reason", reason,
	)
}

func (p *Pipeline) journalExecution(ctx context.Context, order *types.Order, res *types.ExecutionResult) {
	j := p.attachedJournal()
	if j == nil {
		return
	}
	if err := j.RecordExecution(ctx, journal.FromResult(p.cfg.AgentID, order, res)); err != nil {
		p.journalFailure(ctx, err)
	}
}

func (p *Pipeline) journalFailure(ctx context.Context, err error) {
	p.logger.Error("journal write failed", "err", err)
	p.recorder.RecordError("journal")
	p.alertEvent(ctx, alerting.EventJournalError, "Journal write failed",
		"error", err.Error(),
	)
}

// alertEvent sends an event alert at its default severity, honoring
// the enabled-event set. Alert failures are logged, never propagated.
func (p *Pipeline) alertEvent(ctx context.Context, event alerting.AlertEvent, message string, fields ...any) {
	if p.alerter == nil {
		return
	}
	if p.cfg.AlertEvents != nil && !p.cfg.AlertEvents[event] {
		return
	}
	if err := p.alerter.Alert(ctx, alerting.EventSeverity(event), message, fields...); err != nil {
		p.logger.Warn("failed to send alert", "event", string(event), "err", err)
	}
}

// pushRiskState refreshes the risk-state gauges from the gate.
func (p *Pipeline) pushRiskState() {
	m := p.gate.Metrics()
	p.recorder.RecordRiskState(m.CurrentEquity, m.PeakEquity, m.DailyPnL, m.DrawdownPct, m.TotalExposure, m.PositionCount)
	p.recorder.RecordCircuitBreaker(m.CircuitBreakerActive)
}

// MarkPrice distributes a reference mark to the ledger, the
// scheduler's volatility estimator, and every venue adapter that
// accepts marks.
func (p *Pipeline) MarkPrice(symbol string, price decimal.Decimal) error {
	if err := p.ledger.MarkPrice(symbol, price); err != nil {
		return err
	}
	p.sched.ObserveMark(symbol, price)
	for _, name := range p.router.VenueNames() {
		if v, ok := p.router.Venue(name); ok {
			if m, ok := v.(marker); ok {
				m.SetMark(symbol, price)
			}
		}
	}
	return nil
}

// ProcessBookUpdate applies one tick to the symbol's book and
// refreshes the depth gauges.
func (p *Pipeline) ProcessBookUpdate(symbol string, price, size float64, side types.Side, updateID uint64) (book.UpdateKind, error) {
	kind, err := p.books.ProcessUpdate(symbol, price, size, side, updateID)
	if err != nil {
		return kind, err
	}
	if snap, serr := p.books.Snapshot(symbol, bookDepthGaugeLevels); serr == nil {
		p.recorder.RecordBookDepth(symbol, len(snap.Bids), len(snap.Asks))
	}
	return kind, nil
}

// bookDepthGaugeLevels caps the per-side level count reported to the
// depth gauges.
const bookDepthGaugeLevels = 20

// TripBreaker activates the risk gate's circuit breaker; every order
// is refused until ResetBreaker.
func (p *Pipeline) TripBreaker(ctx context.Context, reason string) {
	p.gate.ActivateCircuitBreaker()
	p.recorder.RecordCircuitBreaker(true)
	p.logger.Error("circuit breaker tripped", "reason", reason)
	p.alertEvent(ctx, alerting.EventCircuitBreakerTripped, "Circuit breaker tripped",
		"reason", reason,
	)
}

// ResetBreaker clears the circuit breaker.
func (p *Pipeline) ResetBreaker(ctx context.Context) {
	p.gate.DeactivateCircuitBreaker()
	p.recorder.RecordCircuitBreaker(false)
	p.logger.Info("circuit breaker reset")
	p.alertEvent(ctx, alerting.EventCircuitBreakerReset, "Circuit breaker reset")
}

// Summary returns a copy of the running session summary with End
// stamped at now.
func (p *Pipeline) Summary() alerting.ExecutionSummary {
	p.summaryMu.Lock()
	defer p.summaryMu.Unlock()

	out := p.summary
	out.End = time.Now()
	out.VenueFills = make(map[string]int, len(p.summary.VenueFills))
	for venue, n := range p.summary.VenueFills {
		out.VenueFills[venue] = n
	}
	return out
}

// Books returns the order book manager.
func (p *Pipeline) Books() *book.Manager { return p.books }

// Ledger returns the position ledger.
func (p *Pipeline) Ledger() *ledger.Ledger { return p.ledger }

// Gate returns the risk gate.
func (p *Pipeline) Gate() *risk.Gate { return p.gate }

// Router returns the smart router.
func (p *Pipeline) Router() *router.Router { return p.router }

// Scheduler returns the execution scheduler.
func (p *Pipeline) Scheduler() *sched.Scheduler { return p.sched }

// orderLeverage reads the order's leverage override, defaulting to
// 1.0 for absent or unparseable values.
func orderLeverage(order *types.Order) float64 {
	if raw := order.Param("leverage"); raw != "" {
		if lev, err := strconv.ParseFloat(raw, 64); err == nil && lev > 0 {
			return lev
		}
	}
	return 1.0
}
