// Package tests provides end-to-end integration coverage across the
// ingestion pipeline: byte source -> decoder -> sequenced ring -> order
// book -> persisted event log and market data fan-out.
package tests

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kallio-labs/seqbook/internal/book"
	"github.com/kallio-labs/seqbook/internal/bytesource"
	"github.com/kallio-labs/seqbook/internal/decoder"
	"github.com/kallio-labs/seqbook/internal/events"
	"github.com/kallio-labs/seqbook/internal/ledger"
	"github.com/kallio-labs/seqbook/internal/marketdata"
	"github.com/kallio-labs/seqbook/internal/pipeline"
	"github.com/kallio-labs/seqbook/internal/wire"
)

type tapeSink struct {
	mu       sync.Mutex
	ledger   *ledger.Ledger
	pub      *marketdata.Publisher
	messages int
}

func (s *tapeSink) OnMessage(msg wire.Message) {
	s.mu.Lock()
	s.messages++
	s.mu.Unlock()
}

func (s *tapeSink) OnExecution(msg wire.Message, result book.ExecResult) {
	if result.FilledVolume != 0 {
		s.ledger.RecordFill(0, result.ExecPrice, result.FilledVolume, result.Revenue)
		s.pub.PublishTrade(marketdata.Trade{Price: result.ExecPrice, Volume: result.FilledVolume})
	}
}

// TestEndToEndDecodeMatchPersistAndDistribute feeds a small batch of
// orders through the full pipeline and checks that the book, the ledger,
// and the persisted event log all agree on what happened.
func TestEndToEndDecodeMatchPersistAndDistribute(t *testing.T) {
	mock := bytesource.NewMock([]bytesource.MockOrder{
		{Kind: wire.KindAddLimit, Volume: -20, Price: 10050}, // resting offer
		{Kind: wire.KindAddLimit, Volume: 30, Price: 10050},  // crosses, fills 20, rests 10
		{Kind: wire.KindWithdrawLimit, Volume: 10, Price: 10050},
	})
	dec := decoder.New(mock)
	ob := book.New(9000, 5000)

	dir := t.TempDir()
	log, err := events.Open(events.Config{Dir: dir})
	if err != nil {
		t.Fatalf("events.Open: %v", err)
	}
	defer log.Close()

	ldg := ledger.New()
	pub := marketdata.NewPublisher(16)
	trades := pub.SubscribeTrades()
	sink := &tapeSink{ledger: ldg, pub: pub}

	p := pipeline.New(dec, ob, log, nil, pipeline.Config{RingSize: 64}, sink)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_ = p.Run(ctx)

	select {
	case trade := <-trades:
		if trade.Price != 10050 || trade.Volume != 20 {
			t.Fatalf("trade = %+v, want {Price:10050 Volume:20}", trade)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timed out waiting for trade publication")
	}

	if v := ob.VolumeAtPrice(10050); v != 0 {
		t.Fatalf("vol@10050 = %d, want 0 (residual withdrawn)", v)
	}
	if ldg.Len() != 1 {
		t.Fatalf("ledger entries = %d, want 1", ldg.Len())
	}

	var replayed int
	err = log.Replay(func(seqNum uint64, event interface{}) error {
		replayed++
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	// 3 messages + 3 execution results = 6 persisted records.
	if replayed != 6 {
		t.Fatalf("replayed %d events, want 6", replayed)
	}
}

// TestDecoderResyncDoesNotStallPipeline proves a batch of garbage bytes
// ahead of a valid frame is skipped rather than wedging the pipeline.
func TestDecoderResyncDoesNotStallPipeline(t *testing.T) {
	mock := bytesource.NewMock(nil)
	mock.AppendCorrupt([]byte{0x00, 0x00, 0x00, 0x00, 0xDE, 0xAD, 0xBE, 0xEF})
	mock.AppendOrder(bytesource.MockOrder{Kind: wire.KindMarket, Volume: 5})

	dec := decoder.New(mock)
	ob := book.New(0, 100)
	p := pipeline.New(dec, ob, nil, nil, pipeline.Config{RingSize: 16})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_ = p.Run(ctx)

	if p.DecodeErrors() == 0 {
		t.Fatalf("expected at least one recoverable decode error from the corrupt prefix")
	}
}
