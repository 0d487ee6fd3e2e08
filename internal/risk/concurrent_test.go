package risk

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// TestGate_Concurrent_UpdatePnL hammers the PnL fold from 100
// goroutines. Peak equity must never fall below current equity.
func TestGate_Concurrent_UpdatePnL(t *testing.T) {
	g := NewGate(permissiveLimits(), 100000)

	var wg sync.WaitGroup
	numGoroutines := 100
	updatesPerGoroutine := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < updatesPerGoroutine; j++ {
				// Alternate gains and losses of equal size.
				if (id+j)%2 == 0 {
					g.UpdatePnL(10)
				} else {
					g.UpdatePnL(-10)
				}
			}
		}(i)
	}

	wg.Wait()

	m := g.Metrics()
	if m.PeakEquity < m.CurrentEquity {
		t.Errorf("peak %v fell below current %v", m.PeakEquity, m.CurrentEquity)
	}
	// Gains and losses cancel exactly in fixed point.
	if m.CurrentEquity != 100000 {
		t.Errorf("CurrentEquity = %v, want 100000", m.CurrentEquity)
	}
}

// TestGate_Concurrent_PositionCreation races entry creation for a
// mix of shared and distinct symbols.
func TestGate_Concurrent_PositionCreation(t *testing.T) {
	g := NewGate(permissiveLimits(), 100000)

	var wg sync.WaitGroup
	numGoroutines := 50

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			symbol := fmt.Sprintf("SYM-%d", id%5)
			for j := 0; j < 100; j++ {
				g.UpdatePosition(symbol, 1.5)
			}
		}(i)
	}

	wg.Wait()

	m := g.Metrics()
	if m.PositionCount != 5 {
		t.Errorf("PositionCount = %d, want 5", m.PositionCount)
	}
	// 50 goroutines x 100 updates x 1.5 USD, exact in fixed point.
	if m.TotalExposure != 7500 {
		t.Errorf("TotalExposure = %v, want 7500", m.TotalExposure)
	}
}

// TestGate_Concurrent_CheckDuringUpdates runs admission checks while
// writers mutate every counter the checks read.
func TestGate_Concurrent_CheckDuringUpdates(t *testing.T) {
	g := NewGate(permissiveLimits(), 100000)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup

	// PnL writer.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-ctx.Done():
				return
			default:
				if i%2 == 0 {
					g.UpdatePnL(5)
				} else {
					g.UpdatePnL(-5)
				}
			}
		}
	}()

	// Position writer.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-ctx.Done():
				return
			default:
				g.UpdatePosition(fmt.Sprintf("SYM-%d", i%3), 10)
			}
		}
	}()

	// Breaker toggler.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			default:
				g.ActivateCircuitBreaker()
				g.DeactivateCircuitBreaker()
			}
		}
	}()

	// Checkers: results vary with writer timing, but every rejection
	// must carry a reason and every pass must not.
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				default:
					res := g.CheckOrder("SYM-0", 50, 1)
					if res.Passed && res.Reason != "" {
						t.Error("passing result carries a reason")
						return
					}
					if !res.Passed && res.Reason == "" {
						t.Error("rejection carries no reason")
						return
					}
				}
			}
		}()
	}

	wg.Wait()

	m := g.Metrics()
	if m.PeakEquity < m.CurrentEquity {
		t.Errorf("peak %v fell below current %v after concurrent load", m.PeakEquity, m.CurrentEquity)
	}
}
