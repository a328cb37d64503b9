// Package book implements the price-bucketed order book: a fixed-size
// array of signed-volume buckets indexed by price, with a movable base and
// four tracked extremes (best/lowest bid, best/highest offer).
//
// Negative volume denotes offers (sell-side supply); positive volume
// denotes bids (buy-side demand). A single bucket never holds both signs at
// once -- incoming contra-side liquidity is matched away before any
// residual is stored.
package book

// Bucket holds the aggregate signed volume resting at one price.
type Bucket struct {
	volume int64
}

// Volume returns the bucket's current signed aggregate.
func (b *Bucket) Volume() int64 {
	return b.volume
}

// AddLiquidity adds v (signed) to the bucket unconditionally. Callers are
// responsible for only adding same-sign liquidity to a bucket, since the
// bucket itself performs no sign reconciliation.
func (b *Bucket) AddLiquidity(v int64) {
	b.volume += v
}

// ConsumeLiquidity attempts to drain request (signed) from the bucket and
// returns the signed amount actually transferred, in the direction of
// request.
//
// Two distinct callers rely on this: the matching walk passes a request
// with the sign opposite the bucket's resting liquidity (an incoming buy
// draining resting offers, or vice versa); an explicit withdraw order
// passes a request with the same sign as the resting liquidity it is
// removing. Both cases reduce to the same arithmetic: the bucket yields up
// to |request| of its own volume, in request's sign, and never transfers
// more than it holds.
func (b *Bucket) ConsumeLiquidity(request int64) int64 {
	if request == 0 || b.volume == 0 {
		return 0
	}

	available := abs64(b.volume)
	need := abs64(request)
	transferred := need
	if available < need {
		transferred = available
	}

	// The bucket always moves toward zero by |transferred|, regardless of
	// which sign request carries -- withdrawal (same sign as the bucket)
	// and matching (opposite sign) both drain the bucket, never grow it.
	if b.volume > 0 {
		b.volume -= transferred
	} else {
		b.volume += transferred
	}

	signed := transferred
	if request < 0 {
		signed = -signed
	}
	return signed
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
