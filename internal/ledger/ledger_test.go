package ledger_test

import (
	"testing"

	"github.com/kallio-labs/seqbook/internal/ledger"
)

func TestRecordFillAccumulatesPnL(t *testing.T) {
	l := ledger.New()
	l.RecordFill(1, 12000, 10, -120000) // aggressor buys 10 @ 120.00, pays out
	l.RecordFill(2, 12100, 10, 121000)  // aggressor sells 10 @ 121.00, receives

	if l.Len() != 2 {
		t.Fatalf("Len = %d, want 2", l.Len())
	}

	pnl := l.PnL()
	want := "10"
	if pnl.String() != want {
		t.Fatalf("PnL = %s, want %s", pnl.String(), want)
	}
}

func TestRecordFillIgnoresZeroVolume(t *testing.T) {
	l := ledger.New()
	l.RecordFill(1, 12000, 0, 0)
	if l.Len() != 0 {
		t.Fatalf("Len = %d, want 0 for zero-volume fill", l.Len())
	}
}

func TestEntriesReturnsCopy(t *testing.T) {
	l := ledger.New()
	l.RecordFill(1, 10000, 5, -50000)

	entries := l.Entries()
	entries[0].Volume = 999

	fresh := l.Entries()
	if fresh[0].Volume != 5 {
		t.Fatalf("Entries() returned a mutable view, internal state corrupted")
	}
}
