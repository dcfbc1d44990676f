// Package metrics provides observability primitives for the quantum-chat
// service.
//
// The package includes:
//   - a Collector with counters and histograms for key agreement and
//     messaging activity
//   - Prometheus-compatible metrics export
//   - pluggable tracing with an optional OpenTelemetry adapter
//   - structured logging with levels
//   - health check endpoints
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector aggregates metrics from handshakes and message relay.
type Collector struct {
	// Agreement metrics
	agreementRounds       atomic.Uint64
	agreementsSucceeded   atomic.Uint64
	agreementsFailed      atomic.Uint64
	interceptionsDetected atomic.Uint64
	agreementLatency      *Histogram
	observedErrorRate     *Histogram

	// Session metrics
	sessionsEstablished atomic.Uint64
	sessionsActive      atomic.Uint64
	sessionsRejected    atomic.Uint64
	sessionsTerminated  atomic.Uint64

	// Messaging metrics
	messagesEncrypted atomic.Uint64
	messagesDecrypted atomic.Uint64
	bytesEncrypted    atomic.Uint64
	bytesDecrypted    atomic.Uint64
	authFailures      atomic.Uint64

	createdAt time.Time
	labels    Labels
}

// Labels represents key-value pairs for metric labeling.
type Labels map[string]string

// Default bucket configurations for histograms.
var (
	// AgreementLatencyBuckets for key agreement duration (milliseconds).
	AgreementLatencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000}

	// ErrorRateBuckets for observed sample error rates. The cluster of
	// bounds around 0.11 brackets the detection threshold.
	ErrorRateBuckets = []float64{0.01, 0.02, 0.05, 0.08, 0.11, 0.15, 0.20, 0.25, 0.33, 0.50}
)

// NewCollector creates a new metrics collector.
func NewCollector(labels Labels) *Collector {
	if labels == nil {
		labels = make(Labels)
	}
	return &Collector{
		agreementLatency:  NewHistogram(AgreementLatencyBuckets),
		observedErrorRate: NewHistogram(ErrorRateBuckets),
		createdAt:         time.Now(),
		labels:            labels,
	}
}

// --- Agreement Metrics ---

// RecordAgreementRound increments the round counter.
func (c *Collector) RecordAgreementRound() {
	c.agreementRounds.Add(1)
}

// RecordAgreementSuccess records a round that produced a key.
func (c *Collector) RecordAgreementSuccess() {
	c.agreementsSucceeded.Add(1)
}

// RecordAgreementFailure records a round that aborted without a key.
func (c *Collector) RecordAgreementFailure() {
	c.agreementsFailed.Add(1)
}

// RecordInterception records a round aborted by the error-rate check,
// along with the rate that tripped it.
func (c *Collector) RecordInterception(errorRate float64) {
	c.interceptionsDetected.Add(1)
	c.observedErrorRate.Observe(errorRate)
}

// RecordErrorRate records the sample error rate of a completed round.
func (c *Collector) RecordErrorRate(errorRate float64) {
	c.observedErrorRate.Observe(errorRate)
}

// RecordAgreementLatency records a round's duration.
func (c *Collector) RecordAgreementLatency(d time.Duration) {
	c.agreementLatency.Observe(float64(d.Milliseconds()))
}

// --- Session Metrics ---

// SessionEstablished increments the established and active counters.
func (c *Collector) SessionEstablished() {
	c.sessionsEstablished.Add(1)
	c.sessionsActive.Add(1)
}

// SessionEnded decrements the active session counter.
func (c *Collector) SessionEnded() {
	for {
		current := c.sessionsActive.Load()
		if current == 0 {
			return
		}
		if c.sessionsActive.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// SessionRejected records a declined handshake request.
func (c *Collector) SessionRejected() {
	c.sessionsRejected.Add(1)
}

// SessionTerminated records a torn-down session.
func (c *Collector) SessionTerminated() {
	c.sessionsTerminated.Add(1)
}

// --- Messaging Metrics ---

// RecordMessageEncrypted adds to the encryption counters.
func (c *Collector) RecordMessageEncrypted(plaintextLen int) {
	c.messagesEncrypted.Add(1)
	c.bytesEncrypted.Add(uint64(plaintextLen))
}

// RecordMessageDecrypted adds to the decryption counters.
func (c *Collector) RecordMessageDecrypted(payloadLen int) {
	c.messagesDecrypted.Add(1)
	c.bytesDecrypted.Add(uint64(payloadLen))
}

// RecordAuthFailure increments the authentication failure counter.
func (c *Collector) RecordAuthFailure() {
	c.authFailures.Add(1)
}

// --- Snapshot ---

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	Timestamp time.Time
	Uptime    time.Duration

	AgreementRounds       uint64
	AgreementsSucceeded   uint64
	AgreementsFailed      uint64
	InterceptionsDetected uint64

	SessionsEstablished uint64
	SessionsActive      uint64
	SessionsRejected    uint64
	SessionsTerminated  uint64

	MessagesEncrypted uint64
	MessagesDecrypted uint64
	BytesEncrypted    uint64
	BytesDecrypted    uint64
	AuthFailures      uint64

	AgreementLatency  HistogramSummary
	ObservedErrorRate HistogramSummary

	Labels Labels
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		Timestamp:             time.Now(),
		Uptime:                time.Since(c.createdAt),
		AgreementRounds:       c.agreementRounds.Load(),
		AgreementsSucceeded:   c.agreementsSucceeded.Load(),
		AgreementsFailed:      c.agreementsFailed.Load(),
		InterceptionsDetected: c.interceptionsDetected.Load(),
		SessionsEstablished:   c.sessionsEstablished.Load(),
		SessionsActive:        c.sessionsActive.Load(),
		SessionsRejected:      c.sessionsRejected.Load(),
		SessionsTerminated:    c.sessionsTerminated.Load(),
		MessagesEncrypted:     c.messagesEncrypted.Load(),
		MessagesDecrypted:     c.messagesDecrypted.Load(),
		BytesEncrypted:        c.bytesEncrypted.Load(),
		BytesDecrypted:        c.bytesDecrypted.Load(),
		AuthFailures:          c.authFailures.Load(),
		AgreementLatency:      c.agreementLatency.Summary(),
		ObservedErrorRate:     c.observedErrorRate.Summary(),
		Labels:                c.labels,
	}
}

// Reset clears all metrics. Intended for tests.
func (c *Collector) Reset() {
	c.agreementRounds.Store(0)
	c.agreementsSucceeded.Store(0)
	c.agreementsFailed.Store(0)
	c.interceptionsDetected.Store(0)
	c.sessionsEstablished.Store(0)
	c.sessionsActive.Store(0)
	c.sessionsRejected.Store(0)
	c.sessionsTerminated.Store(0)
	c.messagesEncrypted.Store(0)
	c.messagesDecrypted.Store(0)
	c.bytesEncrypted.Store(0)
	c.bytesDecrypted.Store(0)
	c.authFailures.Store(0)
	c.agreementLatency.Reset()
	c.observedErrorRate.Reset()
	c.createdAt = time.Now()
}

// --- Global Collector ---

var (
	globalCollector     *Collector
	globalCollectorOnce sync.Once
)

// Global returns the global metrics collector, creating one with default
// settings on first use.
func Global() *Collector {
	globalCollectorOnce.Do(func() {
		globalCollector = NewCollector(Labels{"instance": "default"})
	})
	return globalCollector
}

// SetGlobal sets the global metrics collector. Call during initialization
// before any metrics are recorded.
func SetGlobal(c *Collector) {
	globalCollector = c
}
