package book

import (
	"sync/atomic"

	"github.com/kallio-labs/seqbook/internal/wire"
)

// OutOfRangeFlag is set in ExecResult.Flags when an order's price fell
// outside the book's current window; the order is then treated as
// zero-volume rather than rejected outright.
const OutOfRangeFlag uint8 = 1 << 0

// ExecResult is the uniform response every OrderBook write operation
// produces: the last price at which a fill occurred (0 if none), the
// signed volume transferred, signed revenue (negative for a buy, positive
// for a sell), and a flag byte.
type ExecResult struct {
	ExecPrice    uint32
	FilledVolume int64
	Revenue      int64
	Flags        uint8
}

func (a ExecResult) add(b ExecResult) ExecResult {
	out := ExecResult{
		FilledVolume: a.FilledVolume + b.FilledVolume,
		Revenue:      a.Revenue + b.Revenue,
		Flags:        a.Flags | b.Flags,
	}
	out.ExecPrice = a.ExecPrice
	if b.ExecPrice != 0 {
		out.ExecPrice = b.ExecPrice
	}
	return out
}

// OrderBook is a contiguous, price-indexed array of Bucket, with a movable
// base price and four tracked extremes. Exactly one goroutine may call the
// write operations (ProcessOrder, ShiftBook); any number of goroutines may
// call the read operations (BestBidAsk, VolumeAtPrice) concurrently with
// the writer, synchronized through version rather than a lock.
type OrderBook struct {
	basePrice uint32
	buckets   []Bucket

	bestBid      *uint32
	lowestBid    *uint32
	bestOffer    *uint32
	highestOffer *uint32

	// version and writeLock are each padded out to a 64-byte cacheline.
	version   atomic.Int64
	_         [64 - 8]byte
	writeLock atomic.Bool
	_         [64 - 1]byte
}

// New constructs an OrderBook covering the price window
// [basePrice, basePrice+length).
func New(basePrice uint32, length int) *OrderBook {
	return &OrderBook{
		basePrice: basePrice,
		buckets:   make([]Bucket, length),
	}
}

// BasePrice returns the price corresponding to index 0 of the window. Only
// meaningful to call when no writer is concurrently shifting the book;
// intended for diagnostics, not the hot read path.
func (ob *OrderBook) BasePrice() uint32 {
	return ob.basePrice
}

// Length returns the number of buckets in the book's window.
func (ob *OrderBook) Length() int {
	return len(ob.buckets)
}

func (ob *OrderBook) inRange(price uint32) bool {
	return price >= ob.basePrice && price < ob.basePrice+uint32(len(ob.buckets))
}

func (ob *OrderBook) index(price uint32) int {
	return int(price - ob.basePrice)
}

// acquire spins until it wins the single-writer lock.
func (ob *OrderBook) acquire() {
	for !ob.writeLock.CompareAndSwap(false, true) {
	}
}

func (ob *OrderBook) release() {
	ob.writeLock.Store(false)
}

// ProcessOrder applies msg to the book and returns the execution result.
// It implements the dummy-dispatch pattern described for this book: msg is
// routed into the one handler matching its kind, with the other two
// handlers invoked on a zero-volume dummy of their kind so all three always
// run and their (mostly zero) results are summed. This keeps the dispatch
// branch-free in the sense that all three handler bodies execute on every
// call; only their effect differs.
func (ob *OrderBook) ProcessOrder(msg wire.Message) ExecResult {
	addMsg := wire.AddLimit{}
	withdrawMsg := wire.WithdrawLimit{}
	marketMsg := wire.Market{}

	switch msg.Kind {
	case wire.KindAddLimit:
		addMsg = msg.AddLimit
	case wire.KindWithdrawLimit:
		withdrawMsg = msg.WithdrawLimit
	case wire.KindMarket:
		marketMsg = msg.Market
	}

	ob.acquire()
	ob.version.Add(1)

	r1 := ob.handleNewLimitOrder(addMsg)
	r2 := ob.handleWithdrawLimitOrder(withdrawMsg)
	r3 := ob.handleMarketOrder(marketMsg)

	ob.version.Add(1)
	ob.release()

	return r1.add(r2).add(r3)
}

// handleNewLimitOrder implements AddLimit. A zero-volume input (the dummy
// case) is a no-op: the function returns before the range check, without
// mutating state or setting a flag.
func (ob *OrderBook) handleNewLimitOrder(m wire.AddLimit) ExecResult {
	if m.Volume == 0 {
		return ExecResult{}
	}

	price := m.Price
	volume := int64(m.Volume)
	var flags uint8
	if !ob.inRange(price) {
		flags = OutOfRangeFlag
		price = ob.basePrice
		volume = 0
	}

	if volume == 0 {
		return ExecResult{Flags: flags}
	}

	// A crossing limit order walks the contra side from its best out to that
	// side's outermost extreme (highestOffer for a buy, lowestBid for a
	// sell); only a residual left once the walk ends rests at price.
	var result ExecResult
	if volume > 0 && ob.bestOffer != nil && price >= *ob.bestOffer {
		result = ob.runThroughBook(volume, *ob.bestOffer, *ob.highestOffer, *ob.highestOffer)
	} else if volume < 0 && ob.bestBid != nil && price <= *ob.bestBid {
		result = ob.runThroughBook(volume, *ob.bestBid, *ob.lowestBid, *ob.lowestBid)
	}
	result.Flags |= flags

	residual := volume - result.FilledVolume
	if residual != 0 {
		ob.buckets[ob.index(price)].AddLiquidity(residual)
		ob.extendStatsForResidual(price, residual)
	}

	return result
}

// extendStatsForResidual updates the four named extremes after resting
// liquidity of the given signed volume is added at price.
func (ob *OrderBook) extendStatsForResidual(price uint32, residual int64) {
	if residual > 0 {
		if ob.bestBid == nil || price > *ob.bestBid {
			ob.bestBid = u32ptr(price)
		}
		if ob.lowestBid == nil || price < *ob.lowestBid {
			ob.lowestBid = u32ptr(price)
		}
	} else {
		if ob.bestOffer == nil || price < *ob.bestOffer {
			ob.bestOffer = u32ptr(price)
		}
		if ob.highestOffer == nil || price > *ob.highestOffer {
			ob.highestOffer = u32ptr(price)
		}
	}
}

// handleWithdrawLimitOrder implements WithdrawLimit. A zero-volume input is
// a no-op.
func (ob *OrderBook) handleWithdrawLimitOrder(m wire.WithdrawLimit) ExecResult {
	if m.Volume == 0 {
		return ExecResult{}
	}

	price := m.Price
	if !ob.inRange(price) {
		return ExecResult{Flags: OutOfRangeFlag}
	}

	withdrawn := ob.buckets[ob.index(price)].ConsumeLiquidity(int64(m.Volume))

	if ob.buckets[ob.index(price)].Volume() == 0 {
		ob.recomputeStatAt(price)
	}

	return ExecResult{FilledVolume: withdrawn}
}

// recomputeStatAt recomputes whichever of the four named extremes equals
// price, scanning from price toward the opposite endpoint of that side. If
// no liquid bucket remains in range, the stat becomes absent. Each stat is
// guarded by a presence check before any rescan is attempted, mirroring a
// short-circuiting and_then over each optional stat.
func (ob *OrderBook) recomputeStatAt(price uint32) {
	if ob.bestBid != nil && *ob.bestBid == price {
		if found, ok := ob.findLiquidBucket(price, ob.safeVal(ob.lowestBid, price), -1); ok {
			ob.bestBid = u32ptr(found)
		} else {
			ob.bestBid = nil
			ob.lowestBid = nil
		}
	}
	if ob.lowestBid != nil && *ob.lowestBid == price {
		if found, ok := ob.findLiquidBucket(price, ob.safeVal(ob.bestBid, price), 1); ok {
			ob.lowestBid = u32ptr(found)
		} else {
			ob.lowestBid = nil
			ob.bestBid = nil
		}
	}
	if ob.bestOffer != nil && *ob.bestOffer == price {
		if found, ok := ob.findLiquidBucket(price, ob.safeVal(ob.highestOffer, price), 1); ok {
			ob.bestOffer = u32ptr(found)
		} else {
			ob.bestOffer = nil
			ob.highestOffer = nil
		}
	}
	if ob.highestOffer != nil && *ob.highestOffer == price {
		if found, ok := ob.findLiquidBucket(price, ob.safeVal(ob.bestOffer, price), -1); ok {
			ob.highestOffer = u32ptr(found)
		} else {
			ob.highestOffer = nil
			ob.bestOffer = nil
		}
	}
}

func (ob *OrderBook) safeVal(p *uint32, fallback uint32) uint32 {
	if p == nil {
		return fallback
	}
	return *p
}

// findLiquidBucket scans inclusive from start toward end in steps of dir
// (+1 or -1), returning the first price with non-zero volume.
func (ob *OrderBook) findLiquidBucket(start, end uint32, dir int32) (uint32, bool) {
	price := int64(start)
	stop := int64(end)
	for {
		if price < int64(ob.basePrice) || price >= int64(ob.basePrice)+int64(len(ob.buckets)) {
			return 0, false
		}
		if ob.buckets[ob.index(uint32(price))].Volume() != 0 {
			return uint32(price), true
		}
		if price == stop {
			return 0, false
		}
		price += int64(dir)
	}
}

// handleMarketOrder implements Market: it crosses unconditionally from the
// current best on the contra side out to that side's outermost extreme. A
// zero-volume input is a no-op (runThroughBook is itself a no-op on
// zero volume, and there is no resting liquidity to add for a market
// order).
func (ob *OrderBook) handleMarketOrder(m wire.Market) ExecResult {
	if m.Volume == 0 {
		return ExecResult{}
	}

	volume := int64(m.Volume)
	var walkEnd uint32
	var start uint32
	if volume > 0 {
		if ob.bestOffer == nil {
			return ExecResult{}
		}
		start = *ob.bestOffer
		walkEnd = *ob.highestOffer
	} else {
		if ob.bestBid == nil {
			return ExecResult{}
		}
		start = *ob.bestBid
		walkEnd = *ob.lowestBid
	}

	// A market order's walk bound and scan bound coincide: it has no limit
	// price of its own, so it is free to consume the entire contra side.
	return ob.runThroughBook(volume, start, walkEnd, walkEnd)
}

// runThroughBook walks buckets from start toward walkEnd, draining
// contra-side liquidity into volume (signed, same convention as a message's
// Volume field) until either volume is exhausted or the walk reaches
// walkEnd. Afterward it recomputes the affected named extreme by scanning
// from start out to scanEnd, the side's outermost extreme at the time of
// the call. Both callers pass that extreme as walkEnd and scanEnd alike.
func (ob *OrderBook) runThroughBook(volume int64, start, walkEnd, scanEnd uint32) ExecResult {
	var dir int32 = 1
	if volume < 0 {
		dir = -1
	}

	open := volume
	var revenue int64
	var lastExecPrice uint32
	price := int64(start)
	end := int64(walkEnd)

	for open != 0 {
		if price < int64(ob.basePrice) || price >= int64(ob.basePrice)+int64(len(ob.buckets)) {
			break
		}
		b := &ob.buckets[ob.index(uint32(price))]
		filled := b.ConsumeLiquidity(open)
		if filled != 0 {
			revenue += -filled * price
			open -= filled
			lastExecPrice = uint32(price)
		}
		if price == end {
			break
		}
		price += int64(dir)
	}

	ob.updateStatsAfterWalk(volume > 0, start, scanEnd)

	return ExecResult{
		ExecPrice:    lastExecPrice,
		FilledVolume: volume - open,
		Revenue:      revenue,
	}
}

// updateStatsAfterWalk recomputes the contra-side extreme consumed by a
// matching walk that ran from start toward endPrice.
func (ob *OrderBook) updateStatsAfterWalk(buyerCrossed bool, start, endPrice uint32) {
	if buyerCrossed {
		// consumed offers
		if found, ok := ob.findLiquidBucket(start, endPrice, 1); ok {
			ob.bestOffer = u32ptr(found)
		} else {
			ob.bestOffer = nil
			ob.highestOffer = nil
		}
	} else {
		if found, ok := ob.findLiquidBucket(start, endPrice, -1); ok {
			ob.bestBid = u32ptr(found)
		} else {
			ob.bestBid = nil
			ob.lowestBid = nil
		}
	}
}

// BestBidAsk returns the current best bid and best offer, each nil if that
// side is empty. It uses the seqlock reader protocol: retry while the
// book's version is odd (a write is in progress) or changes mid-read.
func (ob *OrderBook) BestBidAsk() (bestBid, bestOffer *uint32) {
	for {
		v0 := ob.version.Load()
		if v0&1 != 0 {
			continue
		}
		var bid, offer *uint32
		if ob.bestBid != nil {
			b := *ob.bestBid
			bid = &b
		}
		if ob.bestOffer != nil {
			o := *ob.bestOffer
			offer = &o
		}
		v1 := ob.version.Load()
		if v0 != v1 {
			continue
		}
		return bid, offer
	}
}

// VolumeAtPrice returns the current signed volume resting at price, or 0 if
// price is outside the book's window. Uses the same reader protocol as
// BestBidAsk.
func (ob *OrderBook) VolumeAtPrice(price uint32) int64 {
	for {
		v0 := ob.version.Load()
		if v0&1 != 0 {
			continue
		}
		var vol int64
		if ob.inRange(price) {
			vol = ob.buckets[ob.index(price)].Volume()
		}
		v1 := ob.version.Load()
		if v0 != v1 {
			continue
		}
		return vol
	}
}

// ShiftBook moves the book's window by delta (positive shifts the base
// price up, negative down), provided doing so would not discard any
// resting liquidity. Returns false (no change) if the shift is unsafe.
func (ob *OrderBook) ShiftBook(delta int32) bool {
	if delta == 0 {
		return true
	}

	newBase := int64(ob.basePrice) + int64(delta)
	if newBase < 0 {
		return false
	}

	ob.acquire()
	ob.version.Add(1)
	ok := ob.shiftLocked(delta, uint32(newBase))
	ob.version.Add(1)
	ob.release()
	return ok
}

func (ob *OrderBook) shiftLocked(delta int32, newBase uint32) bool {
	empty := ob.bestBid == nil && ob.bestOffer == nil

	if delta > 0 {
		// The lowest occupied price is lowestBid, or bestOffer in a book
		// holding only offers.
		lowest := ob.lowestBid
		if lowest == nil {
			lowest = ob.bestOffer
		}
		if !empty && lowest != nil && *lowest-ob.basePrice < uint32(delta) {
			return false
		}
	} else {
		shiftDown := uint32(-delta)
		// The highest occupied price is highestOffer, or bestBid in a book
		// holding only bids.
		highest := ob.highestOffer
		if highest == nil {
			highest = ob.bestBid
		}
		if !empty && highest != nil {
			room := (ob.basePrice + uint32(len(ob.buckets))) - *highest - 1
			if room < shiftDown {
				return false
			}
		}
	}

	if !empty {
		n := len(ob.buckets)
		shifted := make([]Bucket, n)
		if delta > 0 {
			for i := 0; i < n; i++ {
				src := i + int(delta)
				if src < n {
					shifted[i] = ob.buckets[src]
				}
			}
		} else {
			shiftDown := int(-delta)
			for i := 0; i < n; i++ {
				src := i - shiftDown
				if src >= 0 {
					shifted[i] = ob.buckets[src]
				}
			}
		}
		ob.buckets = shifted
	}

	ob.basePrice = newBase
	return true
}

func u32ptr(v uint32) *uint32 {
	p := new(uint32)
	*p = v
	return p
}
