// Package indicator provides rolling statistics over mark price
// series for the execution cost model.
package indicator

import (
	"github.com/shopspring/decimal"
)

// SMA is a rolling mean over a fixed sample window. The zero value is
// not usable; construct with NewSMA. Not safe for concurrent use.
type SMA struct {
	window []decimal.Decimal
	head   int
	count  int
	sum    decimal.Decimal
}

// NewSMA creates a rolling mean over period samples. Periods under
// one are raised to one.
func NewSMA(period int) *SMA {
	if period < 1 {
		period = 1
	}
	return &SMA{window: make([]decimal.Decimal, period)}
}

// Update folds in one sample, evicting the oldest once the window is
// full, and returns the current mean.
func (s *SMA) Update(value decimal.Decimal) decimal.Decimal {
	if s.count == len(s.window) {
		s.sum = s.sum.Sub(s.window[s.head])
	} else {
		s.count++
	}
	s.window[s.head] = value
	s.sum = s.sum.Add(value)
	s.head = (s.head + 1) % len(s.window)
	return s.Current()
}

// Current returns the mean of the windowed samples, zero until the
// window has filled.
func (s *SMA) Current() decimal.Decimal {
	if s.count < len(s.window) {
		return decimal.Zero
	}
	return s.sum.Div(decimal.NewFromInt(int64(s.count)))
}

// Ready reports whether the window has filled.
func (s *SMA) Ready() bool {
	return s.count == len(s.window)
}

// Reset discards every sample.
func (s *SMA) Reset() {
	s.head = 0
	s.count = 0
	s.sum = decimal.Zero
}
