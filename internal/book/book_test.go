package book_test

import (
	"testing"

	"github.com/kallio-labs/seqbook/internal/book"
	"github.com/kallio-labs/seqbook/internal/wire"
)

func add(vol int32, price uint32) wire.Message {
	return wire.Message{Kind: wire.KindAddLimit, AddLimit: wire.AddLimit{Volume: vol, Price: price}}
}

func withdraw(vol int32, price uint32) wire.Message {
	return wire.Message{Kind: wire.KindWithdrawLimit, WithdrawLimit: wire.WithdrawLimit{Volume: vol, Price: price}}
}

func market(vol int32) wire.Message {
	return wire.Message{Kind: wire.KindMarket, Market: wire.Market{Volume: vol}}
}

func TestRestingLimitOrdersBuildStats(t *testing.T) {
	ob := book.New(100, 50)

	ob.ProcessOrder(add(10, 105)) // bid
	ob.ProcessOrder(add(20, 110)) // bid, better price
	ob.ProcessOrder(add(-15, 130)) // offer
	ob.ProcessOrder(add(-5, 125)) // offer, better price

	bid, offer := ob.BestBidAsk()
	if bid == nil || *bid != 110 {
		t.Fatalf("bestBid = %v, want 110", bid)
	}
	if offer == nil || *offer != 125 {
		t.Fatalf("bestOffer = %v, want 125", offer)
	}
	if v := ob.VolumeAtPrice(105); v != 10 {
		t.Fatalf("vol@105 = %d, want 10", v)
	}
	if v := ob.VolumeAtPrice(130); v != -15 {
		t.Fatalf("vol@130 = %d, want -15", v)
	}
}

func TestCrossingLimitOrderFillsAndRests(t *testing.T) {
	ob := book.New(100, 50)
	ob.ProcessOrder(add(-20, 120)) // resting offer, 20 @ 120

	res := ob.ProcessOrder(add(30, 120)) // buy crosses, fills 20, rests 10
	if res.FilledVolume != 20 {
		t.Fatalf("filled = %d, want 20", res.FilledVolume)
	}
	if res.ExecPrice != 120 {
		t.Fatalf("execPrice = %d, want 120", res.ExecPrice)
	}
	if res.Revenue != -20*120 {
		t.Fatalf("revenue = %d, want %d", res.Revenue, -20*120)
	}

	if v := ob.VolumeAtPrice(120); v != 10 {
		t.Fatalf("resting residual vol@120 = %d, want 10 (bid side now)", v)
	}
	bid, offer := ob.BestBidAsk()
	if bid == nil || *bid != 120 {
		t.Fatalf("bestBid = %v, want 120", bid)
	}
	if offer != nil {
		t.Fatalf("bestOffer = %v, want nil (fully consumed)", offer)
	}
}

func TestWithdrawRemovesLiquidityAndRecomputesStat(t *testing.T) {
	ob := book.New(100, 50)
	ob.ProcessOrder(add(10, 105))
	ob.ProcessOrder(add(20, 110))

	ob.ProcessOrder(withdraw(20, 110))

	bid, _ := ob.BestBidAsk()
	if bid == nil || *bid != 105 {
		t.Fatalf("bestBid after withdraw = %v, want 105", bid)
	}
	if v := ob.VolumeAtPrice(110); v != 0 {
		t.Fatalf("vol@110 = %d, want 0", v)
	}
}

func TestWithdrawLastBidClearsBothStats(t *testing.T) {
	ob := book.New(100, 50)
	ob.ProcessOrder(add(10, 105))
	ob.ProcessOrder(withdraw(10, 105))

	bid, _ := ob.BestBidAsk()
	if bid != nil {
		t.Fatalf("bestBid = %v, want nil", bid)
	}
}

func TestMarketOrderCrossesMultipleLevels(t *testing.T) {
	ob := book.New(100, 50)
	ob.ProcessOrder(add(-10, 120))
	ob.ProcessOrder(add(-10, 121))

	res := ob.ProcessOrder(market(15)) // buy market order
	if res.FilledVolume != 15 {
		t.Fatalf("filled = %d, want 15", res.FilledVolume)
	}
	if res.ExecPrice != 121 {
		t.Fatalf("execPrice = %d, want 121 (last level touched)", res.ExecPrice)
	}
	if v := ob.VolumeAtPrice(121); v != -5 {
		t.Fatalf("vol@121 = %d, want -5", v)
	}
	if v := ob.VolumeAtPrice(120); v != 0 {
		t.Fatalf("vol@120 = %d, want 0", v)
	}
}

func TestOutOfRangePriceFlagged(t *testing.T) {
	ob := book.New(100, 10) // covers [100,110)
	res := ob.ProcessOrder(add(5, 500))
	if res.Flags&book.OutOfRangeFlag == 0 {
		t.Fatalf("expected out-of-range flag set")
	}
	if v := ob.VolumeAtPrice(500); v != 0 {
		t.Fatalf("vol@500 should be unreachable/zero, got %d", v)
	}
}

func TestShiftBookPreservesLiquidityInRange(t *testing.T) {
	ob := book.New(100, 50)
	ob.ProcessOrder(add(10, 120))
	ob.ProcessOrder(add(-10, 140))

	if ok := ob.ShiftBook(10); !ok {
		t.Fatalf("expected shift to succeed")
	}
	if ob.BasePrice() != 110 {
		t.Fatalf("basePrice = %d, want 110", ob.BasePrice())
	}
	if v := ob.VolumeAtPrice(120); v != 10 {
		t.Fatalf("vol@120 after shift = %d, want 10", v)
	}
	if v := ob.VolumeAtPrice(140); v != -10 {
		t.Fatalf("vol@140 after shift = %d, want -10", v)
	}
}

func TestShiftBookRejectsWhenItWouldDropLiquidity(t *testing.T) {
	ob := book.New(100, 50)
	ob.ProcessOrder(add(10, 101)) // very close to base

	if ok := ob.ShiftBook(5); ok {
		t.Fatalf("expected shift to be rejected, would drop liquidity at 101")
	}
	if ob.BasePrice() != 100 {
		t.Fatalf("basePrice changed despite rejected shift: %d", ob.BasePrice())
	}
}

func TestZeroVolumeOrdersAreNoOps(t *testing.T) {
	ob := book.New(100, 50)
	res := ob.ProcessOrder(add(0, 105))
	if res.FilledVolume != 0 || res.Flags != 0 {
		t.Fatalf("zero-volume add should be a pure no-op, got %+v", res)
	}
	bid, offer := ob.BestBidAsk()
	if bid != nil || offer != nil {
		t.Fatalf("book should remain empty after zero-volume order")
	}
}
