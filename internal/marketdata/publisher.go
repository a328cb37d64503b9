// Package marketdata distributes top-of-book and trade updates to
// subscribers, in-process and over the network.
//
// This pipeline tracks a single instrument, so there is no symbol-keyed
// fan-out: every subscriber gets every update. Publishing is non-blocking --
// a slow subscriber drops updates rather than stalling the book.
package marketdata

import "sync"

// Quote is a top-of-book snapshot.
type Quote struct {
	BestBid   uint32
	HasBid    bool
	BestOffer uint32
	HasOffer  bool
	Timestamp int64
}

// Trade reports one execution against the book.
type Trade struct {
	Price     uint32
	Volume    int64
	Timestamp int64
}

// Publisher fans out Quote and Trade updates to any number of subscribers.
type Publisher struct {
	mu         sync.RWMutex
	quoteSubs  []chan Quote
	tradeSubs  []chan Trade
	bufferSize int
}

// NewPublisher creates a Publisher whose subscriber channels are buffered
// to bufferSize (defaulting to 64 if non-positive).
func NewPublisher(bufferSize int) *Publisher {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Publisher{bufferSize: bufferSize}
}

// SubscribeQuotes returns a channel that receives every published Quote.
func (p *Publisher) SubscribeQuotes() <-chan Quote {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan Quote, p.bufferSize)
	p.quoteSubs = append(p.quoteSubs, ch)
	return ch
}

// SubscribeTrades returns a channel that receives every published Trade.
func (p *Publisher) SubscribeTrades() <-chan Trade {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan Trade, p.bufferSize)
	p.tradeSubs = append(p.tradeSubs, ch)
	return ch
}

// PublishQuote sends a Quote update to every subscriber, dropping it for
// any subscriber whose channel is full.
func (p *Publisher) PublishQuote(q Quote) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ch := range p.quoteSubs {
		select {
		case ch <- q:
		default:
		}
	}
}

// PublishTrade sends a Trade report to every subscriber, dropping it for
// any subscriber whose channel is full.
func (p *Publisher) PublishTrade(t Trade) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ch := range p.tradeSubs {
		select {
		case ch <- t:
		default:
		}
	}
}

// Close closes every subscriber channel. Callers must stop publishing
// before calling Close.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.quoteSubs {
		close(ch)
	}
	for _, ch := range p.tradeSubs {
		close(ch)
	}
	p.quoteSubs = nil
	p.tradeSubs = nil
}
