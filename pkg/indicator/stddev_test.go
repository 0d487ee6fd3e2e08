package indicator

import (
	"testing"

	"github.com/shopspring/decimal"
)

// approxEqual compares decimals within a small absolute tolerance;
// sqrt rounds to eight places so exact equality is too strict.
func approxEqual(t *testing.T, got decimal.Decimal, want string) {
	t.Helper()
	diff := got.Sub(decimal.RequireFromString(want)).Abs()
	if diff.GreaterThan(decimal.RequireFromString("0.0005")) {
		t.Errorf("got %s, want ~%s", got, want)
	}
}

func TestStdDev_ZeroUntilWindowFills(t *testing.T) {
	sd := NewStdDev(3)

	if got := sd.Update(decimal.NewFromInt(1)); !got.IsZero() {
		t.Errorf("Update(1) = %s, want 0 before the window fills", got)
	}
	if sd.Ready() {
		t.Error("Ready() = true with one of three samples")
	}
	if got := sd.Mean(); !got.IsZero() {
		t.Errorf("Mean() = %s before the window fills, want 0", got)
	}
}

func TestStdDev_ConstantSeries(t *testing.T) {
	sd := NewStdDev(3)
	var got decimal.Decimal
	for i := 0; i < 3; i++ {
		got = sd.Update(decimal.NewFromInt(5))
	}

	if !got.IsZero() {
		t.Errorf("deviation of a constant series = %s, want 0", got)
	}
	if want := decimal.NewFromInt(5); !sd.Mean().Equal(want) {
		t.Errorf("Mean() = %s, want %s", sd.Mean(), want)
	}
}

func TestStdDev_KnownSeries(t *testing.T) {
	sd := NewStdDev(3)
	for _, v := range []int64{1, 2, 3} {
		sd.Update(decimal.NewFromInt(v))
	}

	// Population deviation of 1,2,3: sqrt(2/3).
	approxEqual(t, sd.Current(), "0.81649658")
	if want := decimal.NewFromInt(2); !sd.Mean().Equal(want) {
		t.Errorf("Mean() = %s, want %s", sd.Mean(), want)
	}
}

func TestStdDev_EvictsOldest(t *testing.T) {
	sd := NewStdDev(3)
	for _, v := range []int64{1, 2, 3} {
		sd.Update(decimal.NewFromInt(v))
	}

	// 1 rolls out; 2,3,4 has the same spread but a new mean.
	got := sd.Update(decimal.NewFromInt(4))
	approxEqual(t, got, "0.81649658")
	if want := decimal.NewFromInt(3); !sd.Mean().Equal(want) {
		t.Errorf("Mean() after eviction = %s, want %s", sd.Mean(), want)
	}
}

func TestStdDev_SingleSampleWindow(t *testing.T) {
	sd := NewStdDev(1)

	if got := sd.Update(decimal.NewFromInt(9)); !got.IsZero() {
		t.Errorf("deviation of one sample = %s, want 0", got)
	}
	if !sd.Ready() {
		t.Error("Ready() = false with a full single-sample window")
	}
}

func TestStdDev_Reset(t *testing.T) {
	sd := NewStdDev(2)
	sd.Update(decimal.NewFromInt(1))
	sd.Update(decimal.NewFromInt(9))

	sd.Reset()

	if sd.Ready() {
		t.Error("Ready() = true after Reset")
	}
	if got := sd.Current(); !got.IsZero() {
		t.Errorf("Current() = %s after Reset, want 0", got)
	}

	sd.Update(decimal.NewFromInt(3))
	got := sd.Update(decimal.NewFromInt(5))
	// Population deviation of 3,5 is 1.
	if want := decimal.NewFromInt(1); !got.Equal(want) {
		t.Errorf("deviation after refill = %s, want %s", got, want)
	}
}
