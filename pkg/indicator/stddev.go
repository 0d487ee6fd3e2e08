package indicator

import (
	"github.com/shopspring/decimal"
)

// StdDev is a rolling population standard deviation over a fixed
// sample window, with the mean tracked by an embedded SMA. The zero
// value is not usable; construct with NewStdDev. Not safe for
// concurrent use.
type StdDev struct {
	window []decimal.Decimal
	head   int
	count  int
	sma    *SMA
}

// NewStdDev creates a rolling standard deviation over period samples.
// Periods under one are raised to one.
func NewStdDev(period int) *StdDev {
	if period < 1 {
		period = 1
	}
	return &StdDev{
		window: make([]decimal.Decimal, period),
		sma:    NewSMA(period),
	}
}

// Update folds in one sample, evicting the oldest once the window is
// full, and returns the current deviation.
func (s *StdDev) Update(value decimal.Decimal) decimal.Decimal {
	if s.count < len(s.window) {
		s.count++
	}
	s.window[s.head] = value
	s.head = (s.head + 1) % len(s.window)
	s.sma.Update(value)
	return s.Current()
}

// Current returns the deviation of the windowed samples, zero until
// the window has filled.
func (s *StdDev) Current() decimal.Decimal {
	if s.count < len(s.window) {
		return decimal.Zero
	}
	mean := s.sma.Current()
	var sumSquares decimal.Decimal
	for _, v := range s.window {
		diff := v.Sub(mean)
		sumSquares = sumSquares.Add(diff.Mul(diff))
	}
	variance := sumSquares.Div(decimal.NewFromInt(int64(s.count)))
	return sqrt(variance)
}

// Mean returns the rolling mean over the same window, zero until the
// window has filled.
func (s *StdDev) Mean() decimal.Decimal {
	return s.sma.Current()
}

// Ready reports whether the window has filled.
func (s *StdDev) Ready() bool {
	return s.count == len(s.window)
}

// Reset discards every sample.
func (s *StdDev) Reset() {
	s.head = 0
	s.count = 0
	s.sma.Reset()
}

var (
	decimalTwo  = decimal.NewFromInt(2)
	sqrtEpsilon = decimal.New(1, -8)
)

// sqrt computes a decimal square root by Newton's method, rounded to
// eight places. Non-positive inputs return zero.
func sqrt(d decimal.Decimal) decimal.Decimal {
	if !d.IsPositive() {
		return decimal.Zero
	}

	guess := d.Div(decimalTwo)
	if guess.IsZero() {
		guess = decimal.NewFromInt(1)
	}

	for i := 0; i < 100; i++ {
		next := guess.Add(d.Div(guess)).Div(decimalTwo)
		if next.Sub(guess).Abs().LessThan(sqrtEpsilon) {
			return next.Round(8)
		}
		guess = next
	}

	return guess.Round(8)
}
