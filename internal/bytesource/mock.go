package bytesource

import (
	"encoding/binary"
	"io"

	"github.com/kallio-labs/seqbook/internal/wire"
)

// MockOrder is one entry in a Mock's scripted message sequence: a message
// kind plus the fields relevant to it (Price is ignored for Market).
type MockOrder struct {
	Kind   wire.Kind
	Volume int32
	Price  uint32
}

// Mock is an in-memory Source built from a fixed sequence of messages, each
// correctly framed and checksummed. It exists purely for unit tests that
// need a deterministic byte-level stream without a real socket, mirroring
// the construct-from-message-list mock socket pattern used in this
// project's reference material.
type Mock struct {
	data []byte
	pos  int
}

// NewMock builds a Mock whose byte stream is the concatenation of orders,
// each correctly framed per its kind.
func NewMock(orders []MockOrder) *Mock {
	m := &Mock{}
	for _, o := range orders {
		m.data = append(m.data, encode(o)...)
	}
	return m
}

// AppendCorrupt appends raw bytes verbatim, e.g. to simulate noise before a
// delimiter or a message with a deliberately wrong checksum.
func (m *Mock) AppendCorrupt(raw []byte) {
	m.data = append(m.data, raw...)
}

// AppendOrder appends one more correctly-framed message to the stream.
func (m *Mock) AppendOrder(o MockOrder) {
	m.data = append(m.data, encode(o)...)
}

// AppendCorruptChecksum appends o framed exactly like AppendOrder, but with
// its trailing ASCII checksum digits mangled so the decoder's validation
// fails and the frame is dropped.
func (m *Mock) AppendCorruptChecksum(o MockOrder) {
	buf := encode(o)
	last := buf[len(buf)-1]
	buf[len(buf)-1] = '0' + (last-'0'+1)%10
	m.data = append(m.data, buf...)
}

// Recv implements Source, returning io.EOF once the scripted stream is
// exhausted and dest cannot be fully satisfied.
func (m *Mock) Recv(dest []byte) (int, error) {
	if m.pos+len(dest) > len(m.data) {
		return 0, io.EOF
	}
	copy(dest, m.data[m.pos:m.pos+len(dest)])
	m.pos += len(dest)
	return len(dest), nil
}

func encode(o MockOrder) []byte {
	length := o.Kind.MsgLength()
	buf := make([]byte, length)
	binary.LittleEndian.PutUint32(buf[wire.LengthOffset:], uint32(length))
	binary.LittleEndian.PutUint16(buf[wire.DelimiterOffset:], wire.DelimiterValue)

	switch o.Kind {
	case wire.KindAddLimit:
		binary.LittleEndian.PutUint32(buf[wire.AddLimitVolumeOff:], uint32(o.Volume))
		binary.LittleEndian.PutUint32(buf[wire.AddLimitPriceOff:], o.Price)
	case wire.KindWithdrawLimit:
		binary.LittleEndian.PutUint32(buf[wire.WithdrawLimitVolumeOff:], uint32(o.Volume))
		binary.LittleEndian.PutUint32(buf[wire.WithdrawLimitPriceOff:], o.Price)
		buf[wire.WithdrawLimitFillerOff] = wire.WithdrawLimitFiller
	case wire.KindMarket:
		binary.LittleEndian.PutUint32(buf[wire.MarketVolumeOff:], uint32(o.Volume))
	}

	var sum byte
	for _, b := range buf[:length-wire.ChecksumLength] {
		sum += b
	}
	s := int(sum)
	buf[length-3] = byte('0' + s/100)
	buf[length-2] = byte('0' + (s/10)%10)
	buf[length-1] = byte('0' + s%10)
	return buf
}
