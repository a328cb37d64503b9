// Package surveillance watches the health of the decode/match pipeline
// over rolling windows and alerts when recoverable-error or out-of-range
// rates climb too high.
//
// Unlike a pre-trade risk checker, nothing here rejects a message: by the
// time an order reaches this package it has already been applied to the
// book. Surveillance only observes and alerts -- it exists to catch a
// misbehaving feed (garbage frames, a book drifting out of its tracked
// price range) before it becomes an incident.
package surveillance

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Config controls alert thresholds.
type Config struct {
	Window            time.Duration // rolling window over which rates are computed
	MaxDecodeErrorRate float64      // recoverable decode errors per message, e.g. 0.01
	MaxOutOfRangeRate  float64      // out-of-range book flags per message, e.g. 0.01
	MinSampleSize      int          // don't alert until at least this many messages observed
}

// DefaultConfig returns reasonable defaults for a single-instrument feed.
func DefaultConfig() Config {
	return Config{
		Window:             time.Minute,
		MaxDecodeErrorRate: 0.01,
		MaxOutOfRangeRate:  0.01,
		MinSampleSize:      100,
	}
}

type sample struct {
	at          time.Time
	decodeError bool
	outOfRange  bool
}

// Monitor tracks recent samples and raises alerts through logger when a
// rate threshold is crossed.
type Monitor struct {
	config Config
	logger *logrus.Logger

	mu      sync.Mutex
	samples []sample
}

// NewMonitor creates a Monitor. logger may be nil, in which case
// logrus.StandardLogger is used.
func NewMonitor(config Config, logger *logrus.Logger) *Monitor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Monitor{config: config, logger: logger}
}

// ObserveMessage records the outcome of processing one decoded message.
func (m *Monitor) ObserveMessage(outOfRange bool) {
	m.observe(sample{at: nowFunc(), outOfRange: outOfRange})
}

// ObserveDecodeError records a recoverable decode failure (bad delimiter,
// bad checksum, oversized frame).
func (m *Monitor) ObserveDecodeError() {
	m.observe(sample{at: nowFunc(), decodeError: true})
}

func (m *Monitor) observe(s sample) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.samples = append(m.samples, s)
	m.evictLocked(s.at)
	m.checkLocked()
}

func (m *Monitor) evictLocked(now time.Time) {
	cutoff := now.Add(-m.config.Window)
	i := 0
	for i < len(m.samples) && m.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		m.samples = m.samples[i:]
	}
}

func (m *Monitor) checkLocked() {
	n := len(m.samples)
	if n < m.config.MinSampleSize {
		return
	}

	var decodeErrors, outOfRange int
	for _, s := range m.samples {
		if s.decodeError {
			decodeErrors++
		}
		if s.outOfRange {
			outOfRange++
		}
	}

	if rate := float64(decodeErrors) / float64(n); rate > m.config.MaxDecodeErrorRate {
		m.logger.WithFields(logrus.Fields{
			"rate":   rate,
			"max":    m.config.MaxDecodeErrorRate,
			"window": m.config.Window,
		}).Error("surveillance: decode error rate exceeds threshold")
	}
	if rate := float64(outOfRange) / float64(n); rate > m.config.MaxOutOfRangeRate {
		m.logger.WithFields(logrus.Fields{
			"rate":   rate,
			"max":    m.config.MaxOutOfRangeRate,
			"window": m.config.Window,
		}).Error("surveillance: out-of-range rate exceeds threshold")
	}
}

// Snapshot summarizes the current window.
type Snapshot struct {
	SampleSize      int
	DecodeErrorRate float64
	OutOfRangeRate  float64
}

// Snapshot returns the current window's rates without raising alerts.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.evictLocked(nowFunc())
	n := len(m.samples)
	if n == 0 {
		return Snapshot{}
	}

	var decodeErrors, outOfRange int
	for _, s := range m.samples {
		if s.decodeError {
			decodeErrors++
		}
		if s.outOfRange {
			outOfRange++
		}
	}
	return Snapshot{
		SampleSize:      n,
		DecodeErrorRate: float64(decodeErrors) / float64(n),
		OutOfRangeRate:  float64(outOfRange) / float64(n),
	}
}

var nowFunc = time.Now
