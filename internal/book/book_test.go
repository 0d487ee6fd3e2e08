package book

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/fluxtrade/execpipe/internal/types"
)

// TestBook_ProcessUpdate_Lifecycle tests new, refresh, delete.
func TestBook_ProcessUpdate_Lifecycle(t *testing.T) {
	b := New("BTC-USD")

	kind, err := b.ProcessUpdate(10000.0, 1.5, types.SideBuy, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != KindNew {
		t.Errorf("first update kind = %s, want NEW", kind)
	}

	kind, err = b.ProcessUpdate(10000.0, 2.0, types.SideBuy, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != KindUpdate {
		t.Errorf("refresh kind = %s, want UPDATE", kind)
	}

	kind, err = b.ProcessUpdate(10000.0, 0, types.SideBuy, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != KindDelete {
		t.Errorf("delete kind = %s, want DELETE", kind)
	}

	if b.LastUpdateID() != 3 {
		t.Errorf("last update id = %d, want 3", b.LastUpdateID())
	}
	if b.LastUpdateTime().IsZero() {
		t.Error("last update time not stamped")
	}
}

// TestBook_ProcessUpdate_RejectsCrossed tests that a new level crossing
// the opposite side is refused without mutating the book.
func TestBook_ProcessUpdate_RejectsCrossed(t *testing.T) {
	b := New("BTC-USD")
	b.ProcessUpdate(10000.0, 1.0, types.SideBuy, 1)
	b.ProcessUpdate(10100.0, 1.0, types.SideSell, 2)

	kind, err := b.ProcessUpdate(10100.0, 2.0, types.SideBuy, 3)
	if !errors.Is(err, types.ErrCrossedUpdate) {
		t.Fatalf("crossing bid error = %v, want ErrCrossedUpdate", err)
	}
	if kind != KindRejected {
		t.Errorf("crossing bid kind = %s, want REJECTED", kind)
	}

	kind, err = b.ProcessUpdate(9999.0, 2.0, types.SideSell, 4)
	if !errors.Is(err, types.ErrCrossedUpdate) {
		t.Fatalf("crossing ask error = %v, want ErrCrossedUpdate", err)
	}
	if kind != KindRejected {
		t.Errorf("crossing ask kind = %s, want REJECTED", kind)
	}

	// The rejected updates must not have moved the top of book or the
	// update sequence.
	if bid, _ := b.BestBid(); bid != 10000.0 {
		t.Errorf("best bid = %v, want 10000", bid)
	}
	if ask, _ := b.BestAsk(); ask != 10100.0 {
		t.Errorf("best ask = %v, want 10100", ask)
	}
	if b.LastUpdateID() != 2 {
		t.Errorf("last update id = %d, want 2", b.LastUpdateID())
	}
}

// TestBook_BestBidAsk_Invariant tests best bid < best ask after
// in-order updates on both sides.
func TestBook_BestBidAsk_Invariant(t *testing.T) {
	b := New("BTC-USD")

	if _, ok := b.BestBid(); ok {
		t.Error("empty book should have no best bid")
	}
	if _, ok := b.BestAsk(); ok {
		t.Error("empty book should have no best ask")
	}

	b.ProcessUpdate(10000.0, 1.0, types.SideBuy, 1)
	b.ProcessUpdate(9900.0, 2.0, types.SideBuy, 2)
	b.ProcessUpdate(10100.0, 1.5, types.SideSell, 3)
	b.ProcessUpdate(10200.0, 2.5, types.SideSell, 4)

	bid, ok := b.BestBid()
	if !ok || bid != 10000.0 {
		t.Errorf("best bid = %v %v, want 10000", bid, ok)
	}
	ask, ok := b.BestAsk()
	if !ok || ask != 10100.0 {
		t.Errorf("best ask = %v %v, want 10100", ask, ok)
	}
	if bid >= ask {
		t.Errorf("best bid %v not below best ask %v", bid, ask)
	}

	mid, ok := b.MidPrice()
	if !ok || mid != 10050.0 {
		t.Errorf("mid = %v %v, want 10050", mid, ok)
	}
	spread, ok := b.Spread()
	if !ok || spread != 100.0 {
		t.Errorf("spread = %v %v, want 100", spread, ok)
	}
}

// TestBook_Depth_Ordering tests highest-bid-first / lowest-ask-first
// ordering and depth limiting.
func TestBook_Depth_Ordering(t *testing.T) {
	b := New("BTC-USD")

	b.ProcessUpdate(10000.0, 1.0, types.SideBuy, 1)
	b.ProcessUpdate(9900.0, 2.0, types.SideBuy, 2)
	b.ProcessUpdate(9800.0, 3.0, types.SideBuy, 3)
	b.ProcessUpdate(10100.0, 1.5, types.SideSell, 4)
	b.ProcessUpdate(10200.0, 2.5, types.SideSell, 5)
	b.ProcessUpdate(10300.0, 3.5, types.SideSell, 6)

	snap := b.Depth(10)
	if len(snap.Bids) != 3 || len(snap.Asks) != 3 {
		t.Fatalf("depth sizes = %d/%d, want 3/3", len(snap.Bids), len(snap.Asks))
	}

	wantBids := []float64{10000.0, 9900.0, 9800.0}
	for i, want := range wantBids {
		if snap.Bids[i].Price != want {
			t.Errorf("bid[%d] = %v, want %v", i, snap.Bids[i].Price, want)
		}
	}
	wantAsks := []float64{10100.0, 10200.0, 10300.0}
	for i, want := range wantAsks {
		if snap.Asks[i].Price != want {
			t.Errorf("ask[%d] = %v, want %v", i, snap.Asks[i].Price, want)
		}
	}

	limited := b.Depth(2)
	if len(limited.Bids) != 2 || len(limited.Asks) != 2 {
		t.Errorf("limited depth = %d/%d, want 2/2", len(limited.Bids), len(limited.Asks))
	}
}

// TestBook_Depth_CacheInvalidation tests that a cached snapshot is
// refreshed after a mutation.
func TestBook_Depth_CacheInvalidation(t *testing.T) {
	b := New("BTC-USD")
	b.ProcessUpdate(10000.0, 1.0, types.SideBuy, 1)

	first := b.Depth(5)
	if len(first.Bids) != 1 {
		t.Fatalf("bids = %d, want 1", len(first.Bids))
	}

	// Served from cache; mutating the returned copy must not leak back.
	first.Bids[0].Size = 99.0
	again := b.Depth(5)
	if again.Bids[0].Size != 1.0 {
		t.Errorf("cached snapshot leaked caller mutation: size = %v", again.Bids[0].Size)
	}

	b.ProcessUpdate(9900.0, 2.0, types.SideBuy, 2)
	snap := b.Depth(5)
	if len(snap.Bids) != 2 {
		t.Errorf("post-mutation depth = %d, want 2", len(snap.Bids))
	}
}

// TestBook_ProcessUpdate_Idempotent tests that re-applying an
// unchanged update leaves depth unchanged.
func TestBook_ProcessUpdate_Idempotent(t *testing.T) {
	b := New("BTC-USD")
	b.ProcessUpdate(10000.0, 1.0, types.SideBuy, 1)
	b.ProcessUpdate(10100.0, 2.0, types.SideSell, 2)

	before := b.Depth(10)

	kind, err := b.ProcessUpdate(10000.0, 1.0, types.SideBuy, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != KindUpdate {
		t.Errorf("re-apply kind = %s, want UPDATE", kind)
	}

	after := b.Depth(10)
	if len(after.Bids) != len(before.Bids) || len(after.Asks) != len(before.Asks) {
		t.Fatalf("depth changed on idempotent re-apply")
	}
	for i := range before.Bids {
		if after.Bids[i].Price != before.Bids[i].Price || after.Bids[i].Size != before.Bids[i].Size {
			t.Errorf("bid[%d] changed: %+v -> %+v", i, before.Bids[i], after.Bids[i])
		}
	}
}

// TestBook_Imbalance tests sign and bounds of the imbalance ratio.
func TestBook_Imbalance(t *testing.T) {
	b := New("BTC-USD")

	if got := b.Imbalance(10); got != 0 {
		t.Errorf("empty book imbalance = %v, want 0", got)
	}

	b.ProcessUpdate(10000.0, 5.0, types.SideBuy, 1)
	b.ProcessUpdate(9900.0, 4.0, types.SideBuy, 2)
	b.ProcessUpdate(10100.0, 1.0, types.SideSell, 3)
	b.ProcessUpdate(10200.0, 2.0, types.SideSell, 4)

	imb := b.Imbalance(10)
	if imb <= 0 {
		t.Errorf("bid-heavy imbalance = %v, want > 0", imb)
	}
	// (9 - 3) / (9 + 3) = 0.5
	if math.Abs(imb-0.5) > 1e-12 {
		t.Errorf("imbalance = %v, want 0.5", imb)
	}

	b.Clear()
	b.ProcessUpdate(10000.0, 1.0, types.SideBuy, 5)
	b.ProcessUpdate(9900.0, 2.0, types.SideBuy, 6)
	b.ProcessUpdate(10100.0, 5.0, types.SideSell, 7)
	b.ProcessUpdate(10200.0, 4.0, types.SideSell, 8)

	if imb := b.Imbalance(10); imb >= 0 {
		t.Errorf("ask-heavy imbalance = %v, want < 0", imb)
	}
}

// TestBook_VWAPForSize_Exact tests the walk-the-book average price.
func TestBook_VWAPForSize_Exact(t *testing.T) {
	b := New("BTC-USD")
	b.ProcessUpdate(10100.0, 1.0, types.SideSell, 1)
	b.ProcessUpdate(10200.0, 2.0, types.SideSell, 2)
	b.ProcessUpdate(10300.0, 3.0, types.SideSell, 3)

	// Buying 2.0 walks asks: (10100*1 + 10200*1) / 2 = 10150.
	vwap, err := b.VWAPForSize(2.0, types.SideBuy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vwap != 10150.0 {
		t.Errorf("buy vwap = %v, want 10150", vwap)
	}

	b.ProcessUpdate(10000.0, 1.0, types.SideBuy, 4)
	b.ProcessUpdate(9900.0, 2.0, types.SideBuy, 5)
	b.ProcessUpdate(9800.0, 3.0, types.SideBuy, 6)

	// Selling 2.0 walks bids: (10000*1 + 9900*1) / 2 = 9950.
	vwap, err = b.VWAPForSize(2.0, types.SideSell)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vwap != 9950.0 {
		t.Errorf("sell vwap = %v, want 9950", vwap)
	}
}

// TestBook_VWAPForSize_InsufficientLiquidity tests that a partial fill
// is an error, not a partial average.
func TestBook_VWAPForSize_InsufficientLiquidity(t *testing.T) {
	b := New("BTC-USD")

	if _, err := b.VWAPForSize(1.0, types.SideBuy); !errors.Is(err, types.ErrInsufficientLiquidity) {
		t.Errorf("empty book error = %v, want ErrInsufficientLiquidity", err)
	}

	b.ProcessUpdate(10100.0, 1.0, types.SideSell, 1)
	if _, err := b.VWAPForSize(5.0, types.SideBuy); !errors.Is(err, types.ErrInsufficientLiquidity) {
		t.Errorf("thin book error = %v, want ErrInsufficientLiquidity", err)
	}

	if _, err := b.VWAPForSize(0, types.SideBuy); !errors.Is(err, types.ErrInvalidSize) {
		t.Errorf("zero size error = %v, want ErrInvalidSize", err)
	}
}

// TestBook_LiquidityWithin tests the band calculation around mid.
func TestBook_LiquidityWithin(t *testing.T) {
	b := New("BTC-USD")

	bidLiq, askLiq := b.LiquidityWithin(0.01)
	if bidLiq != 0 || askLiq != 0 {
		t.Errorf("empty book liquidity = %v/%v, want 0/0", bidLiq, askLiq)
	}

	// Mid = 10050. A 1% band covers (9949.5, 10150.5).
	b.ProcessUpdate(10000.0, 1.0, types.SideBuy, 1)
	b.ProcessUpdate(9950.0, 2.0, types.SideBuy, 2)
	b.ProcessUpdate(9800.0, 4.0, types.SideBuy, 3) // outside band
	b.ProcessUpdate(10100.0, 1.5, types.SideSell, 4)
	b.ProcessUpdate(10400.0, 8.0, types.SideSell, 5) // outside band

	bidLiq, askLiq = b.LiquidityWithin(0.01)
	if bidLiq != 3.0 {
		t.Errorf("bid liquidity = %v, want 3.0", bidLiq)
	}
	if askLiq != 1.5 {
		t.Errorf("ask liquidity = %v, want 1.5", askLiq)
	}
}

// TestBook_ConcurrentReadersAndWriter exercises parallel queries
// against a mutating book.
func TestBook_ConcurrentReadersAndWriter(t *testing.T) {
	b := New("BTC-USD")
	b.ProcessUpdate(10000.0, 1.0, types.SideBuy, 1)
	b.ProcessUpdate(10100.0, 1.0, types.SideSell, 2)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		id := uint64(3)
		for {
			select {
			case <-stop:
				return
			default:
			}
			price := 9000.0 + float64(id%500)
			b.ProcessUpdate(price, 1.0, types.SideBuy, id)
			id++
		}
	}()

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				snap := b.Depth(10)
				for k := 1; k < len(snap.Bids); k++ {
					if snap.Bids[k].Price > snap.Bids[k-1].Price {
						t.Error("bid depth out of order")
						return
					}
				}
				b.Imbalance(5)
				if bid, ok := b.BestBid(); ok {
					if ask, ok2 := b.BestAsk(); ok2 && bid >= ask {
						t.Errorf("crossed top of book: %v >= %v", bid, ask)
						return
					}
				}
			}
		}()
	}

	// Let readers finish, then stop the writer.
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	// Close stop once the readers have had a chance to run.
	for i := 0; i < 8; i++ {
		b.VWAPForSize(0.5, types.SideSell)
	}
	close(stop)
	<-done
}
