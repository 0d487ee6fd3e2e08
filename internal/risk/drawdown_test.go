package risk

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
)

func eq(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestDrawdownTracker_StartsAtInitialEquity(t *testing.T) {
	tr := NewDrawdownTracker(eq("1000000"))

	if !tr.Equity().Equal(eq("1000000")) {
		t.Errorf("Equity() = %s, want 1000000", tr.Equity())
	}
	if !tr.Peak().Equal(eq("1000000")) {
		t.Errorf("Peak() = %s, want 1000000", tr.Peak())
	}
	if !tr.Drawdown().IsZero() {
		t.Errorf("Drawdown() = %s, want 0", tr.Drawdown())
	}
	if !tr.MaxDrawdown().IsZero() {
		t.Errorf("MaxDrawdown() = %s, want 0", tr.MaxDrawdown())
	}
}

// Scenarios use amounts whose drawdown fractions divide exactly, so
// results compare with Equal rather than a tolerance.
func TestDrawdownTracker_Observe_Scenarios(t *testing.T) {
	tests := []struct {
		name         string
		samples      []string
		wantEquity   string
		wantPeak     string
		wantDrawdown string
		wantMax      string
	}{
		{
			name:         "first gain sets a new peak",
			samples:      []string{"1040000"},
			wantEquity:   "1040000",
			wantPeak:     "1040000",
			wantDrawdown: "0",
			wantMax:      "0",
		},
		{
			name:         "drop after peak opens a drawdown",
			samples:      []string{"1250000", "1000000"},
			wantEquity:   "1000000",
			wantPeak:     "1250000",
			wantDrawdown: "0.2",
			wantMax:      "0.2",
		},
		{
			name:         "partial recovery narrows the live drawdown only",
			samples:      []string{"1200000", "1080000", "1140000"},
			wantEquity:   "1140000",
			wantPeak:     "1200000",
			wantDrawdown: "0.05",
			wantMax:      "0.1",
		},
		{
			name:         "recovery through the old peak keeps the worst on record",
			samples:      []string{"1200000", "1080000", "1320000"},
			wantEquity:   "1320000",
			wantPeak:     "1320000",
			wantDrawdown: "0",
			wantMax:      "0.1",
		},
		{
			name:         "flat series holds zero throughout",
			samples:      []string{"1000000", "1000000"},
			wantEquity:   "1000000",
			wantPeak:     "1000000",
			wantDrawdown: "0",
			wantMax:      "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewDrawdownTracker(eq("1000000"))
			for _, s := range tt.samples {
				tr.Observe(eq(s))
			}

			if !tr.Equity().Equal(eq(tt.wantEquity)) {
				t.Errorf("Equity() = %s, want %s", tr.Equity(), tt.wantEquity)
			}
			if !tr.Peak().Equal(eq(tt.wantPeak)) {
				t.Errorf("Peak() = %s, want %s", tr.Peak(), tt.wantPeak)
			}
			if !tr.Drawdown().Equal(eq(tt.wantDrawdown)) {
				t.Errorf("Drawdown() = %s, want %s", tr.Drawdown(), tt.wantDrawdown)
			}
			if !tr.MaxDrawdown().Equal(eq(tt.wantMax)) {
				t.Errorf("MaxDrawdown() = %s, want %s", tr.MaxDrawdown(), tt.wantMax)
			}
		})
	}
}

func TestDrawdownTracker_Observe_ReportsOnlyNewPeaks(t *testing.T) {
	tr := NewDrawdownTracker(eq("500000"))

	if tr.Observe(eq("499000")) {
		t.Error("sample below peak reported a new peak")
	}
	if tr.Observe(eq("500000")) {
		t.Error("sample equal to peak reported a new peak")
	}
	if !tr.Observe(eq("500001")) {
		t.Error("sample above peak did not report a new peak")
	}
	if tr.Observe(eq("500001")) {
		t.Error("repeated peak value reported a new peak")
	}
}

func TestDrawdownTracker_Snapshot_Consistent(t *testing.T) {
	tr := NewDrawdownTracker(eq("1000000"))
	tr.Observe(eq("1250000"))
	tr.Observe(eq("1000000"))

	snap := tr.Snapshot()
	if !snap.Equity.Equal(eq("1000000")) {
		t.Errorf("snapshot equity = %s, want 1000000", snap.Equity)
	}
	if !snap.Peak.Equal(eq("1250000")) {
		t.Errorf("snapshot peak = %s, want 1250000", snap.Peak)
	}
	if !snap.Drawdown.Equal(eq("0.2")) {
		t.Errorf("snapshot drawdown = %s, want 0.2", snap.Drawdown)
	}
	if !snap.MaxDrawdown.Equal(eq("0.2")) {
		t.Errorf("snapshot max drawdown = %s, want 0.2", snap.MaxDrawdown)
	}
}

func TestDrawdownTracker_Rebase_ClearsAllMarks(t *testing.T) {
	tr := NewDrawdownTracker(eq("1000000"))
	tr.Observe(eq("1100000"))
	tr.Observe(eq("950000"))

	tr.Rebase(eq("750000"))

	if !tr.Equity().Equal(eq("750000")) {
		t.Errorf("Equity() after Rebase = %s, want 750000", tr.Equity())
	}
	if !tr.Peak().Equal(eq("750000")) {
		t.Errorf("Peak() after Rebase = %s, want 750000", tr.Peak())
	}
	if !tr.Drawdown().IsZero() {
		t.Errorf("Drawdown() after Rebase = %s, want 0", tr.Drawdown())
	}
	if !tr.MaxDrawdown().IsZero() {
		t.Errorf("MaxDrawdown() after Rebase = %s, want 0", tr.MaxDrawdown())
	}
}

func TestDrawdownTracker_ZeroPeak_NoDivide(t *testing.T) {
	tr := NewDrawdownTracker(decimal.Zero)
	tr.Observe(decimal.Zero)
	if !tr.Drawdown().IsZero() {
		t.Errorf("Drawdown() with zero peak = %s, want 0", tr.Drawdown())
	}
}

func TestDrawdownTracker_Concurrent(t *testing.T) {
	tr := NewDrawdownTracker(eq("1000000"))

	const goroutines = 8
	const samples = 500
	base := int64(1000000)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < samples; j++ {
				tr.Observe(decimal.NewFromInt(base + int64(id*samples+j)))
				_ = tr.Drawdown()
				_ = tr.MaxDrawdown()
				_ = tr.Snapshot()
			}
		}(g)
	}
	wg.Wait()

	// Every submitted value is distinct, so the peak must equal the
	// largest one regardless of interleaving.
	wantPeak := decimal.NewFromInt(base + goroutines*samples - 1)
	if !tr.Peak().Equal(wantPeak) {
		t.Errorf("Peak() = %s, want %s", tr.Peak(), wantPeak)
	}
	if tr.Equity().GreaterThan(tr.Peak()) {
		t.Errorf("Equity %s above Peak %s", tr.Equity(), tr.Peak())
	}
	if tr.MaxDrawdown().IsNegative() || tr.MaxDrawdown().GreaterThanOrEqual(decimal.NewFromInt(1)) {
		t.Errorf("MaxDrawdown %s outside [0, 1)", tr.MaxDrawdown())
	}
}
