package decoder_test

import (
	"testing"

	"github.com/kallio-labs/seqbook/internal/bytesource"
	"github.com/kallio-labs/seqbook/internal/decoder"
	"github.com/kallio-labs/seqbook/internal/wire"
)

func TestDecodeAllThreeKinds(t *testing.T) {
	src := bytesource.NewMock([]bytesource.MockOrder{
		{Kind: wire.KindAddLimit, Volume: 100, Price: 5000},
		{Kind: wire.KindWithdrawLimit, Volume: -50, Price: 5010},
		{Kind: wire.KindMarket, Volume: -75},
	})
	d := decoder.New(src)

	msg, ok, err := d.Next()
	if err != nil || !ok {
		t.Fatalf("msg1: ok=%v err=%v", ok, err)
	}
	if msg.Kind != wire.KindAddLimit || msg.AddLimit.Volume != 100 || msg.AddLimit.Price != 5000 {
		t.Fatalf("msg1 decoded wrong: %+v", msg)
	}

	msg, ok, err = d.Next()
	if err != nil || !ok {
		t.Fatalf("msg2: ok=%v err=%v", ok, err)
	}
	if msg.Kind != wire.KindWithdrawLimit || msg.WithdrawLimit.Volume != -50 || msg.WithdrawLimit.Price != 5010 {
		t.Fatalf("msg2 decoded wrong: %+v", msg)
	}

	msg, ok, err = d.Next()
	if err != nil || !ok {
		t.Fatalf("msg3: ok=%v err=%v", ok, err)
	}
	if msg.Kind != wire.KindMarket || msg.Market.Volume != -75 {
		t.Fatalf("msg3 decoded wrong: %+v", msg)
	}
}

func TestDecodeResyncsAfterGarbage(t *testing.T) {
	src := bytesource.NewMock(nil)
	src.AppendCorrupt([]byte{0x01, 0x02, 0x03, 0x04, 0x05})
	src.AppendOrder(bytesource.MockOrder{Kind: wire.KindMarket, Volume: 42})

	d := decoder.New(src)
	msg, ok, err := d.Next()
	if err != nil || !ok {
		t.Fatalf("resync decode: ok=%v err=%v", ok, err)
	}
	if msg.Kind != wire.KindMarket || msg.Market.Volume != 42 {
		t.Fatalf("resync decoded wrong: %+v", msg)
	}
}

func TestDecodeDropsBadChecksum(t *testing.T) {
	src := bytesource.NewMock(nil)
	src.AppendCorruptChecksum(bytesource.MockOrder{Kind: wire.KindMarket, Volume: 7})

	d := decoder.New(src)
	_, ok, err := d.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected frame with bad checksum to be dropped")
	}
}

func TestDecodeOversizedMessageDrained(t *testing.T) {
	// A length prefix larger than MaxMsgLength must be drained and dropped,
	// then the next well-formed message decodes normally.
	src := bytesource.NewMock(nil)
	oversizedHeader := make([]byte, wire.HeaderLength)
	oversizedHeader[0] = 0xFF
	oversizedHeader[1] = 0xFF
	oversizedHeader[2] = 0
	oversizedHeader[3] = 0
	oversizedHeader[wire.DelimiterOffset] = byte(wire.DelimiterValue & 0xFF)
	oversizedHeader[wire.DelimiterOffset+1] = byte(wire.DelimiterValue >> 8)
	src.AppendCorrupt(oversizedHeader)
	src.AppendCorrupt(make([]byte, 0xFFFF-wire.HeaderLength))
	src.AppendOrder(bytesource.MockOrder{Kind: wire.KindMarket, Volume: 9})

	d := decoder.New(src)
	_, ok, err := d.Next()
	if err != nil {
		t.Fatalf("unexpected error draining oversized message: %v", err)
	}
	if ok {
		t.Fatalf("oversized message should not decode to a value")
	}

	msg, ok, err := d.Next()
	if err != nil || !ok {
		t.Fatalf("next message after drain: ok=%v err=%v", ok, err)
	}
	if msg.Kind != wire.KindMarket || msg.Market.Volume != 9 {
		t.Fatalf("decoded wrong after drain: %+v", msg)
	}
}
