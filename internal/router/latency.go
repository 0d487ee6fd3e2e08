package router

import (
	"sort"
	"sync"
	"time"
)

const (
	// maxLatencySamples bounds per-venue history; the oldest sample
	// is evicted past the cap.
	maxLatencySamples = 1000
	// recentWindow is how many of the newest samples feed the recent
	// average.
	recentWindow = 50
)

// LatencyStats summarizes recorded round-trip times for one venue.
type LatencyStats struct {
	Avg       time.Duration
	P50       time.Duration
	P90       time.Duration
	P95       time.Duration
	P99       time.Duration
	Min       time.Duration
	Max       time.Duration
	RecentAvg time.Duration
	Samples   int
}

// LatencyTracker keeps bounded per-venue latency history. Entries are
// synchronized independently, like the trust book.
type LatencyTracker struct {
	mu      sync.RWMutex
	byVenue map[string]*latencyHistory
}

type latencyHistory struct {
	mu sync.Mutex
	// samples in insertion order, oldest first
	samples []time.Duration
}

// NewLatencyTracker creates an empty tracker.
func NewLatencyTracker() *LatencyTracker {
	return &LatencyTracker{byVenue: make(map[string]*latencyHistory)}
}

func (t *LatencyTracker) entry(venue string) *latencyHistory {
	t.mu.RLock()
	h, ok := t.byVenue[venue]
	t.mu.RUnlock()
	if ok {
		return h
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok = t.byVenue[venue]; ok {
		return h
	}
	h = &latencyHistory{samples: make([]time.Duration, 0, maxLatencySamples)}
	t.byVenue[venue] = h
	return h
}

// Record appends one measurement, evicting the oldest past the cap.
func (t *LatencyTracker) Record(venue string, d time.Duration) {
	h := t.entry(venue)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples = append(h.samples, d)
	if len(h.samples) > maxLatencySamples {
		copy(h.samples, h.samples[1:])
		h.samples = h.samples[:maxLatencySamples]
	}
}

// Stats computes summary statistics for a venue. ok is false when no
// samples exist.
func (t *LatencyTracker) Stats(venue string) (LatencyStats, bool) {
	t.mu.RLock()
	h, ok := t.byVenue[venue]
	t.mu.RUnlock()
	if !ok {
		return LatencyStats{}, false
	}

	h.mu.Lock()
	n := len(h.samples)
	if n == 0 {
		h.mu.Unlock()
		return LatencyStats{}, false
	}

	// Recent average over the newest samples, taken before sorting.
	window := recentWindow
	if n < window {
		window = n
	}
	var recentSum int64
	for _, d := range h.samples[n-window:] {
		recentSum += int64(d)
	}

	sorted := make([]time.Duration, n)
	copy(sorted, h.samples)
	h.mu.Unlock()

	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum int64
	for _, d := range sorted {
		sum += int64(d)
	}

	return LatencyStats{
		Avg:       time.Duration(sum / int64(n)),
		P50:       sorted[pctIndex(n, 0.50)],
		P90:       sorted[pctIndex(n, 0.90)],
		P95:       sorted[pctIndex(n, 0.95)],
		P99:       sorted[pctIndex(n, 0.99)],
		Min:       sorted[0],
		Max:       sorted[n-1],
		RecentAvg: time.Duration(recentSum / int64(window)),
		Samples:   n,
	}, true
}

func pctIndex(n int, p float64) int {
	idx := int(float64(n) * p)
	if idx >= n {
		idx = n - 1
	}
	return idx
}

// Avg returns the mean latency for a venue.
func (t *LatencyTracker) Avg(venue string) (time.Duration, bool) {
	stats, ok := t.Stats(venue)
	return stats.Avg, ok
}

// RecentAvg returns the mean over the newest samples.
func (t *LatencyTracker) RecentAvg(venue string) (time.Duration, bool) {
	stats, ok := t.Stats(venue)
	return stats.RecentAvg, ok
}

// P99 returns the 99th percentile latency for a venue.
func (t *LatencyTracker) P99(venue string) (time.Duration, bool) {
	stats, ok := t.Stats(venue)
	return stats.P99, ok
}

// Reset clears one venue's history.
func (t *LatencyTracker) Reset(venue string) {
	t.mu.RLock()
	h, ok := t.byVenue[venue]
	t.mu.RUnlock()
	if !ok {
		return
	}
	h.mu.Lock()
	h.samples = h.samples[:0]
	h.mu.Unlock()
}

// ResetAll clears every venue's history.
func (t *LatencyTracker) ResetAll() {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, h := range t.byVenue {
		h.mu.Lock()
		h.samples = h.samples[:0]
		h.mu.Unlock()
	}
}

// Venues lists every venue that has recorded history, including
// venues reset since.
func (t *LatencyTracker) Venues() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.byVenue))
	for venue := range t.byVenue {
		out = append(out, venue)
	}
	sort.Strings(out)
	return out
}
