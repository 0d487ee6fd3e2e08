package router

import (
	"sort"
	"sync"
)

// DefaultTrust is the score assigned to venues with no history.
const DefaultTrust = 0.5

// TrustBook holds per-venue trust scores in [0,1]. It is owned by
// whoever constructs it and injected into the router. Scores are
// synchronized per entry, so updates for one venue never block
// updates for another; the book-level lock guards only map shape.
type TrustBook struct {
	mu      sync.RWMutex
	entries map[string]*trustEntry
}

type trustEntry struct {
	mu    sync.Mutex
	score float64
}

// NewTrustBook creates a trust book, optionally seeded with known
// scores. Seeds are clamped to [0,1].
func NewTrustBook(initial map[string]float64) *TrustBook {
	b := &TrustBook{entries: make(map[string]*trustEntry, len(initial))}
	for venue, score := range initial {
		b.entries[venue] = &trustEntry{score: clampTrust(score)}
	}
	return b
}

func clampTrust(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

func (b *TrustBook) entry(venue string) *trustEntry {
	b.mu.RLock()
	e, ok := b.entries[venue]
	b.mu.RUnlock()
	if ok {
		return e
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok = b.entries[venue]; ok {
		return e
	}
	e = &trustEntry{score: DefaultTrust}
	b.entries[venue] = e
	return e
}

// Score returns the venue's current trust, DefaultTrust when unseen.
// Reading never creates an entry.
func (b *TrustBook) Score(venue string) float64 {
	b.mu.RLock()
	e, ok := b.entries[venue]
	b.mu.RUnlock()
	if !ok {
		return DefaultTrust
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.score
}

// Reward raises the venue's trust by delta, capped at 1.0, and
// returns the new score.
func (b *TrustBook) Reward(venue string, delta float64) float64 {
	e := b.entry(venue)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.score = clampTrust(e.score + delta)
	return e.score
}

// Penalize lowers the venue's trust by delta, floored at 0.0, and
// returns the new score.
func (b *TrustBook) Penalize(venue string, delta float64) float64 {
	e := b.entry(venue)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.score = clampTrust(e.score - delta)
	return e.score
}

// Rank returns the venues ordered by descending trust. Equal scores
// keep the caller's order.
func (b *TrustBook) Rank(venues []string) []string {
	type scored struct {
		venue string
		score float64
	}
	ranked := make([]scored, 0, len(venues))
	for _, v := range venues {
		ranked = append(ranked, scored{venue: v, score: b.Score(v)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.venue
	}
	return out
}

// Snapshot returns a copy of every known venue's score.
func (b *TrustBook) Snapshot() map[string]float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]float64, len(b.entries))
	for venue, e := range b.entries {
		e.mu.Lock()
		out[venue] = e.score
		e.mu.Unlock()
	}
	return out
}
