package events_test

import (
	"testing"

	"github.com/kallio-labs/seqbook/internal/events"
	"github.com/kallio-labs/seqbook/internal/wire"
)

func TestAppendReplayRoundTrip(t *testing.T) {
	dir := t.TempDir()
	log, err := events.Open(events.Config{Dir: dir})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer log.Close()

	msg := &events.MessageEvent{Msg: wire.Message{Kind: wire.KindAddLimit, AddLimit: wire.AddLimit{Volume: 10, Price: 105}}}
	exec := &events.ExecutionEvent{ExecPrice: 105, FilledVolume: 10, Revenue: -1050}

	if _, err := log.Append(msg); err != nil {
		t.Fatalf("Append(msg): %v", err)
	}
	if _, err := log.Append(exec); err != nil {
		t.Fatalf("Append(exec): %v", err)
	}

	var seen []interface{}
	err = log.Replay(func(seqNum uint64, event interface{}) error {
		seen = append(seen, event)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("replayed %d events, want 2", len(seen))
	}
	got, ok := seen[0].(*events.MessageEvent)
	if !ok || got.Msg.AddLimit.Price != 105 {
		t.Fatalf("first event = %+v, want MessageEvent price 105", seen[0])
	}
}

func TestGetLastSequenceAdvances(t *testing.T) {
	dir := t.TempDir()
	log, err := events.Open(events.Config{Dir: dir})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer log.Close()

	if log.GetLastSequence() != 0 {
		t.Fatalf("expected initial sequence 0")
	}
	seq, err := log.Append(&events.MessageEvent{Msg: wire.Message{Kind: wire.KindMarket, Market: wire.Market{Volume: 5}}})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if seq != 1 {
		t.Fatalf("sequence = %d, want 1", seq)
	}
	if log.GetLastSequence() != 1 {
		t.Fatalf("GetLastSequence = %d, want 1", log.GetLastSequence())
	}
}

func TestRecoverRestoresSequenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	log, err := events.Open(events.Config{Dir: dir})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := log.Append(&events.MessageEvent{Msg: wire.Message{Kind: wire.KindMarket, Market: wire.Market{Volume: int32(i)}}}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := events.Open(events.Config{Dir: dir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if reopened.GetLastSequence() != 3 {
		t.Fatalf("recovered sequence = %d, want 3", reopened.GetLastSequence())
	}
}

func TestRotationMovesSegmentToIndex(t *testing.T) {
	dir := t.TempDir()
	log, err := events.Open(events.Config{Dir: dir, RotateAfter: 1})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer log.Close()

	for i := 0; i < 5; i++ {
		if _, err := log.Append(&events.MessageEvent{Msg: wire.Message{Kind: wire.KindMarket, Market: wire.Market{Volume: int32(i)}}}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	var count int
	err = log.Replay(func(uint64, interface{}) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("Replay after rotation: %v", err)
	}
	if count != 5 {
		t.Fatalf("replayed %d events after rotation, want 5", count)
	}
}
