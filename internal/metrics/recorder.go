package metrics

import (
	"time"
)

// Recorder provides methods for recording pipeline metrics.
type Recorder struct{}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordOrder records an order reaching a terminal status.
func (r *Recorder) RecordOrder(symbol, side, status string) {
	OrdersTotal.WithLabelValues(symbol, side, status).Inc()
}

// RecordRiskRejection records an order refused by the risk gate.
func (r *Recorder) RecordRiskRejection() {
	RiskRejectionsTotal.Inc()
}

// RecordRiskLatency records one admission check's latency.
func (r *Recorder) RecordRiskLatency(d time.Duration) {
	RiskCheckLatency.Observe(d.Seconds())
}

// RecordPlan records a produced slice schedule.
func (r *Recorder) RecordPlan(symbol, algorithm string, slices int) {
	SlicesTotal.WithLabelValues(symbol, algorithm).Add(float64(slices))
}

// RecordExecution records a routed execution outcome.
func (r *Recorder) RecordExecution(venue, status string) {
	ExecutionsTotal.WithLabelValues(venue, status).Inc()
}

// RecordRetry records one retry attempt.
func (r *Recorder) RecordRetry(venue, reason string) {
	RetriesTotal.WithLabelValues(venue, reason).Inc()
}

// RecordFill records a fill applied to the ledger.
func (r *Recorder) RecordFill(symbol, side string) {
	FillsTotal.WithLabelValues(symbol, side).Inc()
}

// RecordVenueTrust publishes a venue's current trust score.
func (r *Recorder) RecordVenueTrust(venue string, score float64) {
	VenueTrust.WithLabelValues(venue).Set(score)
}

// RecordVenueLatency records one venue round trip.
func (r *Recorder) RecordVenueLatency(venue string, d time.Duration) {
	VenueLatency.WithLabelValues(venue).Observe(d.Seconds())
}

// RecordStageLatency records time spent in one pipeline stage.
func (r *Recorder) RecordStageLatency(stage string, d time.Duration) {
	StageLatency.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordRiskState publishes the risk gate's account counters.
func (r *Recorder) RecordRiskState(equity, peak, dailyPnL, drawdownPct, exposure float64, positions int) {
	EquityCurrent.Set(equity)
	EquityPeak.Set(peak)
	DailyPnL.Set(dailyPnL)
	DrawdownPct.Set(drawdownPct)
	ExposureTotal.Set(exposure)
	PositionCount.Set(float64(positions))
}

// RecordCircuitBreaker publishes the breaker state.
func (r *Recorder) RecordCircuitBreaker(active bool) {
	if active {
		CircuitBreakerActive.Set(1)
	} else {
		CircuitBreakerActive.Set(0)
	}
}

// RecordBookDepth publishes per-side level counts for a symbol.
func (r *Recorder) RecordBookDepth(symbol string, bidLevels, askLevels int) {
	BookDepth.WithLabelValues(symbol, "bid").Set(float64(bidLevels))
	BookDepth.WithLabelValues(symbol, "ask").Set(float64(askLevels))
}

// RecordError records an internal error.
func (r *Recorder) RecordError(errorType string) {
	ErrorsTotal.WithLabelValues(errorType).Inc()
}

// RecordHeartbeat records a pipeline heartbeat.
func (r *Recorder) RecordHeartbeat() {
	HeartbeatTimestamp.Set(float64(time.Now().Unix()))
}

// Timer is a helper for measuring latency.
type Timer struct {
	start time.Time
}

// NewTimer creates a started timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the elapsed duration.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}
