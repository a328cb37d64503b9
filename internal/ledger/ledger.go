// Package ledger keeps a flat, append-only trade tape and a running
// realized P&L for the book, expressed in decimal currency rather than
// the book's integer price-tick units.
//
// This is deliberately a simplification of multi-day clearing and netting:
// there is one instrument, one desk, and no settlement lag to model. Every
// fill is booked the instant it happens and the tape is the full audit
// trail -- there is no netting step, since there is nothing to net across.
package ledger

import (
	"sync"

	"github.com/shopspring/decimal"
)

// TickSize converts integer book prices into a decimal currency amount.
// A tick of 1 is worth 1/TickSize of a unit of currency.
const TickSize = 100

// Entry is one executed trade.
type Entry struct {
	SequenceNum uint64
	Price       decimal.Decimal
	Volume      int64
	Notional    decimal.Decimal // Price * |Volume|, never negative
}

// Ledger accumulates trade entries and a running realized P&L.
type Ledger struct {
	mu      sync.Mutex
	entries []Entry
	pnl     decimal.Decimal
}

// New creates an empty Ledger.
func New() *Ledger {
	return &Ledger{}
}

func priceToDecimal(tickPrice uint32) decimal.Decimal {
	return decimal.New(int64(tickPrice), 0).Div(decimal.New(TickSize, 0))
}

// RecordFill books one execution: execPrice and filledVolume come directly
// from book.ExecResult, and revenue is the signed cash flow the book
// computed (negative for an aggressor paying out, positive for receiving).
func (l *Ledger) RecordFill(sequenceNum uint64, execPrice uint32, filledVolume int64, revenue int64) {
	if filledVolume == 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	absVolume := filledVolume
	if absVolume < 0 {
		absVolume = -absVolume
	}
	notional := priceToDecimal(execPrice).Mul(decimal.New(absVolume, 0))
	entry := Entry{
		SequenceNum: sequenceNum,
		Price:       priceToDecimal(execPrice),
		Volume:      filledVolume,
		Notional:    notional,
	}
	l.entries = append(l.entries, entry)
	l.pnl = l.pnl.Add(decimal.New(revenue, 0).Div(decimal.New(TickSize, 0)))
}

// PnL returns the running realized profit and loss.
func (l *Ledger) PnL() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pnl
}

// Entries returns a copy of the full trade tape.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of recorded fills.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
