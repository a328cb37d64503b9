// Package decoder implements the framed binary decoder that turns a raw
// byte stream from a bytesource.Source into wire.Message values.
//
// The algorithm is deliberately tolerant of transport hiccups: a lost or
// corrupted delimiter triggers resynchronization rather than a fatal error,
// a bad checksum silently drops the message, and an oversized message has
// its body drained and discarded. Only a failure of the underlying byte
// source is treated as fatal; see Decoder.Next.
package decoder

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/kallio-labs/seqbook/internal/wire"
)

// ErrShortMsg is returned when a message kind declares a MsgLength that
// would leave no room for the shared header and the trailing checksum.
var ErrShortMsg = errors.New("decoder: message kind shorter than header+checksum")

// Source is the minimal contract a byte source must satisfy: block until
// len(dest) bytes have been written into dest, or fail.
type Source interface {
	Recv(dest []byte) (int, error)
}

// Decoder reads one wire.Message at a time from a Source, resynchronizing
// on framing errors and validating the trailing checksum.
type Decoder struct {
	src Source
	buf []byte
}

// New constructs a Decoder reading from src. It is a programming error (and
// panics) to register message kinds whose MsgLength is too small to hold
// header+checksum, or two kinds sharing one MsgLength; the three kinds
// defined in package wire are always valid, so this only guards against
// future variant changes.
func New(src Source) *Decoder {
	seen := make(map[int]bool)
	for _, l := range []int{wire.AddLimitMsgLength, wire.WithdrawLimitMsgLength, wire.MarketMsgLength} {
		if l <= wire.HeaderLength+wire.ChecksumLength {
			panic(ErrShortMsg)
		}
		if seen[l] {
			panic("decoder: two message kinds share one MsgLength")
		}
		seen[l] = true
	}
	return &Decoder{
		src: src,
		buf: make([]byte, wire.MaxMsgLength),
	}
}

// Next reads and decodes the next message from the source. It returns
// (msg, true, nil) on a well-formed message, (zero, false, nil) when a
// frame was dropped for a recoverable reason (bad checksum, oversized body,
// a length matching no kind, or a length shorter than the bytes already
// read) and the caller should simply call Next again, and a non-nil error
// only when the underlying Source failed.
func (d *Decoder) Next() (wire.Message, bool, error) {
	present, err := d.readHeader()
	if err != nil {
		return wire.Message{}, false, err
	}

	length := int(binary.LittleEndian.Uint32(d.buf[wire.LengthOffset:]))
	if length < present {
		return wire.Message{}, false, nil
	}

	oversized := length > len(d.buf)
	readLen := length
	if oversized {
		readLen = len(d.buf)
	}

	if _, err := d.src.Recv(d.buf[present:readLen]); err != nil {
		return wire.Message{}, false, err
	}

	if oversized {
		if err := d.discard(length - len(d.buf)); err != nil {
			return wire.Message{}, false, err
		}
		return wire.Message{}, false, nil
	}

	kind := wire.KindForLength(length)
	if kind == wire.KindNone {
		return wire.Message{}, false, nil
	}

	if !validChecksum(d.buf[:length]) {
		return wire.Message{}, false, nil
	}

	return construct(kind, d.buf[:length]), true, nil
}

// readHeader fills d.buf[0:HeaderLength] with a valid header, resyncing on
// the delimiter as needed, and returns the number of header bytes already
// resident at d.buf[0:] (normally HeaderLength).
func (d *Decoder) readHeader() (int, error) {
	if _, err := d.src.Recv(d.buf[:wire.HeaderLength]); err != nil {
		return 0, err
	}
	if binary.LittleEndian.Uint16(d.buf[wire.DelimiterOffset:]) == wire.DelimiterValue {
		return wire.HeaderLength, nil
	}
	return d.resync()
}

// resync searches for the delimiter in a window of MinMsgLength bytes read
// from the source, checking every position at which a full header fits.
// When none matches, it keeps the last HeaderLength-1 bytes and refills the
// window from the source. Once a header is found at position p, the window
// bytes from p onward are copied to d.buf[0:] and their count is returned.
func (d *Decoder) resync() (int, error) {
	window := make([]byte, wire.MinMsgLength)
	copy(window, d.buf[:wire.HeaderLength])
	filled := wire.HeaderLength

	for {
		for filled < len(window) {
			n, err := d.src.Recv(window[filled : filled+1])
			if err != nil {
				return 0, err
			}
			filled += n
		}

		for p := 0; p+wire.HeaderLength <= filled; p++ {
			if binary.LittleEndian.Uint16(window[p+wire.DelimiterOffset:]) == wire.DelimiterValue {
				remaining := filled - p
				copy(d.buf, window[p:filled])
				return remaining, nil
			}
		}

		copy(window, window[filled-wire.HeaderLength+1:filled])
		filled = wire.HeaderLength - 1
		n, err := d.src.Recv(window[filled : filled+1])
		if err != nil {
			return 0, err
		}
		filled += n
	}
}

// discard reads and drops n bytes in bounded chunks reusing the working
// buffer, so an oversized message never grows allocation.
func (d *Decoder) discard(n int) error {
	for n > 0 {
		chunk := n
		if chunk > len(d.buf) {
			chunk = len(d.buf)
		}
		if _, err := d.src.Recv(d.buf[:chunk]); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// validChecksum verifies the trailing three ASCII-decimal digits of msg
// encode the byte sum (mod 256) of everything preceding them.
func validChecksum(msg []byte) bool {
	n := len(msg)
	body := msg[:n-wire.ChecksumLength]
	var sum byte
	for _, b := range body {
		sum += b
	}
	digits := msg[n-wire.ChecksumLength:]
	for _, d := range digits {
		if d < '0' || d > '9' {
			return false
		}
	}
	want := int(digits[0]-'0')*100 + int(digits[1]-'0')*10 + int(digits[2]-'0')
	return want == int(sum)
}

// construct builds the tagged Message for kind from the raw frame bytes.
// msg is guaranteed to have passed checksum validation and have exactly
// kind.MsgLength() bytes.
func construct(kind wire.Kind, msg []byte) wire.Message {
	switch kind {
	case wire.KindAddLimit:
		return wire.Message{
			Kind: kind,
			AddLimit: wire.AddLimit{
				Volume: int32(binary.LittleEndian.Uint32(msg[wire.AddLimitVolumeOff:])),
				Price:  binary.LittleEndian.Uint32(msg[wire.AddLimitPriceOff:]),
			},
		}
	case wire.KindWithdrawLimit:
		return wire.Message{
			Kind: kind,
			WithdrawLimit: wire.WithdrawLimit{
				Volume: int32(binary.LittleEndian.Uint32(msg[wire.WithdrawLimitVolumeOff:])),
				Price:  binary.LittleEndian.Uint32(msg[wire.WithdrawLimitPriceOff:]),
			},
		}
	case wire.KindMarket:
		return wire.Message{
			Kind: kind,
			Market: wire.Market{
				Volume: int32(binary.LittleEndian.Uint32(msg[wire.MarketVolumeOff:])),
			},
		}
	default:
		return wire.Message{}
	}
}

// ErrEOF is a convenience alias so callers can check for clean stream end
// without importing io directly.
var ErrEOF = io.EOF
