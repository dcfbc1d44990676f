package metrics

import (
	"context"
	"time"
)

// HandshakeObserver records metrics, traces, and logs for handshake and
// messaging activity. It satisfies the coordinator's observer hooks.
type HandshakeObserver struct {
	collector *Collector
	tracer    Tracer
	logger    *Logger
}

// HandshakeObserverConfig configures a handshake observer. Nil fields fall
// back to the package globals.
type HandshakeObserverConfig struct {
	Collector *Collector
	Tracer    Tracer
	Logger    *Logger
}

// NewHandshakeObserver creates a handshake observer.
func NewHandshakeObserver(cfg HandshakeObserverConfig) *HandshakeObserver {
	if cfg.Collector == nil {
		cfg.Collector = Global()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = GetTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = NullLogger()
	}

	return &HandshakeObserver{
		collector: cfg.Collector,
		tracer:    cfg.Tracer,
		logger:    cfg.Logger.Named("observer"),
	}
}

// OnSessionRequested records a new handshake request.
func (o *HandshakeObserver) OnSessionRequested() {
	o.logger.Debug("handshake requested")
}

// OnAgreementStart returns a context and completion function wrapping one
// key agreement round with a span and latency recording.
func (o *HandshakeObserver) OnAgreementStart(ctx context.Context) (context.Context, func(error)) {
	o.collector.RecordAgreementRound()

	start := time.Now()
	ctx, endSpan := o.tracer.StartSpan(ctx, SpanHandshakeAccept, WithSpanKind(SpanKindServer))

	o.logger.Debug("agreement round started")

	return ctx, func(err error) {
		duration := time.Since(start)
		o.collector.RecordAgreementLatency(duration)

		if err != nil {
			o.collector.RecordAgreementFailure()
			o.logger.Debug("agreement round failed", Fields{
				"error":    err.Error(),
				"duration": duration.String(),
			})
		} else {
			o.collector.RecordAgreementSuccess()
			o.logger.Debug("agreement round completed", Fields{
				"duration": duration.String(),
			})
		}

		endSpan(err)
	}
}

// OnInterceptionDetected records a round aborted by the error-rate check.
func (o *HandshakeObserver) OnInterceptionDetected(errorRate float64) {
	o.collector.RecordInterception(errorRate)
	o.logger.Warn("interception detected", Fields{"error_rate": errorRate})
}

// OnSessionEstablished records a newly established session.
func (o *HandshakeObserver) OnSessionEstablished() {
	o.collector.SessionEstablished()
}

// OnSessionRejected records a declined handshake request.
func (o *HandshakeObserver) OnSessionRejected() {
	o.collector.SessionRejected()
}

// OnSessionFailed records a failed handshake.
func (o *HandshakeObserver) OnSessionFailed(reason string) {
	o.logger.Debug("session failed", Fields{"reason": reason})
}

// OnSessionTerminated records a torn-down session.
func (o *HandshakeObserver) OnSessionTerminated(reason string) {
	o.collector.SessionTerminated()
	o.collector.SessionEnded()
	o.logger.Debug("session terminated", Fields{"reason": reason})
}

// OnMessageEncrypted records an encrypted message.
func (o *HandshakeObserver) OnMessageEncrypted(plaintextLen int) {
	o.collector.RecordMessageEncrypted(plaintextLen)
}

// OnMessageDecrypted records a decrypted message.
func (o *HandshakeObserver) OnMessageDecrypted(payloadLen int) {
	o.collector.RecordMessageDecrypted(payloadLen)
}

// OnAuthFailure records a message authentication failure.
func (o *HandshakeObserver) OnAuthFailure() {
	o.collector.RecordAuthFailure()
	o.logger.Warn("message authentication failed")
}
