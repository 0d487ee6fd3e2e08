package indicator

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestSMA_ZeroUntilWindowFills(t *testing.T) {
	sma := NewSMA(3)

	if got := sma.Update(decimal.NewFromInt(10)); !got.IsZero() {
		t.Errorf("Update(10) = %s, want 0 before the window fills", got)
	}
	if sma.Ready() {
		t.Error("Ready() = true with one of three samples")
	}

	sma.Update(decimal.NewFromInt(20))
	got := sma.Update(decimal.NewFromInt(30))

	if !sma.Ready() {
		t.Error("Ready() = false with a full window")
	}
	if want := decimal.NewFromInt(20); !got.Equal(want) {
		t.Errorf("Update(30) = %s, want %s", got, want)
	}
}

func TestSMA_EvictsOldest(t *testing.T) {
	sma := NewSMA(3)
	for _, v := range []int64{10, 20, 30} {
		sma.Update(decimal.NewFromInt(v))
	}

	// 10 rolls out; the window is now 20, 30, 40.
	got := sma.Update(decimal.NewFromInt(40))
	if want := decimal.NewFromInt(30); !got.Equal(want) {
		t.Errorf("mean after eviction = %s, want %s", got, want)
	}
}

func TestSMA_PeriodFloor(t *testing.T) {
	sma := NewSMA(0)

	got := sma.Update(decimal.NewFromInt(7))
	if want := decimal.NewFromInt(7); !got.Equal(want) {
		t.Errorf("period-1 mean = %s, want %s", got, want)
	}
}

func TestSMA_Reset(t *testing.T) {
	sma := NewSMA(2)
	sma.Update(decimal.NewFromInt(10))
	sma.Update(decimal.NewFromInt(20))

	sma.Reset()

	if sma.Ready() {
		t.Error("Ready() = true after Reset")
	}
	if got := sma.Current(); !got.IsZero() {
		t.Errorf("Current() = %s after Reset, want 0", got)
	}

	sma.Update(decimal.NewFromInt(4))
	got := sma.Update(decimal.NewFromInt(6))
	if want := decimal.NewFromInt(5); !got.Equal(want) {
		t.Errorf("mean after refill = %s, want %s", got, want)
	}
}
