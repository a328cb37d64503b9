package seqring

import "fmt"

const cachelineSize = 64

// Ring is a bounded SPSC ring of N slots, N a power of two. Exactly one
// goroutine may call Enqueue; exactly one (possibly different) goroutine
// may create and drive a Reader.
type Ring[T any] struct {
	slots []Slot[T]
	mask  uint64

	// enqueueIndex is private to the producer; it never wraps logically, only
	// its masked low bits select a slot. It is padded onto its own cacheline
	// below so producer writes never contend with the reader's cursor.
	enqueueIndex uint64
	_            [cachelineSize - 8]byte
}

// New constructs a Ring with size slots. size must be a power of two.
func New[T any](size int) *Ring[T] {
	if size <= 0 || size&(size-1) != 0 {
		panic(fmt.Sprintf("seqring: size %d is not a power of two", size))
	}
	return &Ring[T]{
		slots: make([]Slot[T], size),
		mask:  uint64(size - 1),
	}
}

// Len reports the ring's capacity.
func (r *Ring[T]) Len() int {
	return len(r.slots)
}

// Enqueue publishes value into the next slot, unconditionally. Called only
// by the ring's single producer.
func (r *Ring[T]) Enqueue(value T) {
	idx := r.enqueueIndex & r.mask
	r.slots[idx].Publish(value)
	r.enqueueIndex++
}

// Reader is a single-consumer cursor over a Ring. It is not safe to share a
// Reader across goroutines, and a Ring should have at most one live Reader
// at a time.
type Reader[T any] struct {
	ring *Ring[T]

	readIndex   uint64
	prevVersion int64
	_           [cachelineSize - 16]byte
}

// NewReader creates a fresh Reader positioned at the start of ring.
func NewReader[T any](ring *Ring[T]) *Reader[T] {
	// prevVersion starts at 1, not 0: a virgin slot's version is also 0, and
	// Slot.Read treats v0 < prevVersion as unwritten. Seeding at 0 would make
	// that comparison false for an unwritten slot and let a zero-value entry
	// through as if it had been published.
	return &Reader[T]{ring: ring, prevVersion: 1}
}

// ReadNextEntry returns the next unconsumed value, or ok=false if the
// producer has not published past this reader's cursor yet. The caller is
// expected to poll again later on a false result.
func (r *Reader[T]) ReadNextEntry() (value T, ok bool) {
	idx := r.readIndex & r.ring.mask
	slot := &r.ring.slots[idx]

	value, observed, ok := slot.Read(r.prevVersion)
	if !ok {
		return value, false
	}

	r.readIndex++
	length := uint64(len(r.ring.slots))
	if r.readIndex&(length-1) == 0 {
		// The slot just consumed was the last in the array: the next lap's
		// write to index 0 will only bump the version by 2 from here, so
		// comparing against observed+0 would accept a write that is really
		// the entry already consumed. Bumping by 2 forces the next read at
		// index 0 to require a strictly newer version.
		r.prevVersion += 2
	} else {
		r.prevVersion = observed
	}
	return value, true
}
