// Package pipeline wires together the byte source, decoder, sequenced ring
// buffer, and order book into a single producer/consumer pair.
//
// Design:
//   - One goroutine (the producer) does nothing but receive bytes, decode
//     frames, and publish them into a seqring.Ring. It never touches the
//     book.
//   - One goroutine (the consumer) does nothing but drain the ring and
//     apply each message to the book. It never touches the network.
//
// Splitting the two keeps the consumer's hot loop free of I/O latency, and
// keeps the producer free of matching-engine latency: a slow consumer only
// ever loses the oldest unread slots, it never blocks the producer.
package pipeline

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/kallio-labs/seqbook/internal/book"
	"github.com/kallio-labs/seqbook/internal/decoder"
	"github.com/kallio-labs/seqbook/internal/events"
	"github.com/kallio-labs/seqbook/internal/seqring"
	"github.com/kallio-labs/seqbook/internal/wire"
)

// Sink receives every message and execution result the pipeline produces.
// Implementations must not block for long; the consumer goroutine calls
// these synchronously on its hot path.
type Sink interface {
	OnMessage(msg wire.Message)
	OnExecution(msg wire.Message, result book.ExecResult)
}

// Pipeline owns the ring buffer connecting decode to match, and the two
// goroutines that drive it.
type Pipeline struct {
	dec    *decoder.Decoder
	ring   *seqring.Ring[wire.Message]
	book   *book.OrderBook
	log    *events.EventLog
	sinks  []Sink
	logger *logrus.Logger

	decodeErrors  int64
	droppedFrames int64
}

// Config controls pipeline construction.
type Config struct {
	RingSize int // must be a power of two
}

// New builds a Pipeline over dec, applying decoded messages to ob. log may
// be nil to disable persistence. sinks are notified of every message, in
// order: OnMessage before the message is applied to the book, OnExecution
// with its result after the book has been updated.
func New(dec *decoder.Decoder, ob *book.OrderBook, log *events.EventLog, logger *logrus.Logger, cfg Config, sinks ...Sink) *Pipeline {
	if cfg.RingSize == 0 {
		cfg.RingSize = 4096
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Pipeline{
		dec:    dec,
		ring:   seqring.New[wire.Message](cfg.RingSize),
		book:   ob,
		log:    log,
		sinks:  sinks,
		logger: logger,
	}
}

// Run starts the producer and consumer goroutines and blocks until ctx is
// cancelled. If the byte source fails first, the producer stops but the
// consumer keeps polling the ring until ctx is cancelled; Run then returns
// the source's error instead of ctx.Err().
func (p *Pipeline) Run(ctx context.Context) error {
	reader := seqring.NewReader(p.ring)

	producerErr := make(chan error, 1)
	go p.produce(ctx, producerErr)

	consumerDone := make(chan struct{})
	go p.consume(ctx, reader, consumerDone)

	select {
	case err := <-producerErr:
		<-consumerDone
		return err
	case <-ctx.Done():
		<-consumerDone
		return ctx.Err()
	}
}

func (p *Pipeline) produce(ctx context.Context, errCh chan<- error) {
	defer close(errCh)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, ok, err := p.dec.Next()
		if err != nil {
			p.logger.WithError(err).Warn("pipeline: byte source exhausted")
			errCh <- err
			return
		}
		if !ok {
			p.decodeErrors++
			p.logger.Debug("pipeline: recoverable decode error, continuing")
			continue
		}
		p.ring.Enqueue(msg)
	}
}

func (p *Pipeline) consume(ctx context.Context, reader *seqring.Reader[wire.Message], done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, ok := reader.ReadNextEntry()
		if !ok {
			continue
		}
		p.handle(msg)
	}
}

func (p *Pipeline) handle(msg wire.Message) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithField("panic", fmt.Sprint(r)).Error("pipeline: recovered panic while processing message")
		}
	}()

	if p.log != nil {
		if _, err := p.log.Append(&events.MessageEvent{Msg: msg}); err != nil {
			p.logger.WithError(err).Error("pipeline: failed to persist message event")
		}
	}
	for _, s := range p.sinks {
		s.OnMessage(msg)
	}

	result := p.book.ProcessOrder(msg)

	if result.Flags&book.OutOfRangeFlag != 0 {
		p.droppedFrames++
		p.logger.WithFields(logrus.Fields{
			"kind": msg.Kind.String(),
		}).Warn("pipeline: order priced outside book range")
	}

	if p.log != nil {
		exec := &events.ExecutionEvent{
			ExecPrice:    result.ExecPrice,
			FilledVolume: result.FilledVolume,
			Revenue:      result.Revenue,
			Flags:        result.Flags,
		}
		if _, err := p.log.Append(exec); err != nil {
			p.logger.WithError(err).Error("pipeline: failed to persist execution event")
		}
	}
	for _, s := range p.sinks {
		s.OnExecution(msg, result)
	}
}

// DecodeErrors returns the number of recoverable decode errors observed so
// far (bad delimiter, bad checksum, oversized frame).
func (p *Pipeline) DecodeErrors() int64 { return p.decodeErrors }

// OutOfRangeFrames returns the number of messages the book rejected as
// priced outside its tracked range.
func (p *Pipeline) OutOfRangeFrames() int64 { return p.droppedFrames }

// Book exposes the underlying order book for read-only queries (best
// bid/ask, volume at price).
func (p *Pipeline) Book() *book.OrderBook { return p.book }
