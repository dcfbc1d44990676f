package metrics

import (
	"context"
	"errors"
	"testing"
)

func newTestObserver() (*HandshakeObserver, *Collector, *RecordingTracer) {
	c := NewCollector(nil)
	tracer := NewRecordingTracer()
	o := NewHandshakeObserver(HandshakeObserverConfig{
		Collector: c,
		Tracer:    tracer,
	})
	return o, c, tracer
}

func TestObserverAgreementSuccess(t *testing.T) {
	o, c, tracer := newTestObserver()

	_, done := o.OnAgreementStart(context.Background())
	done(nil)

	snap := c.Snapshot()
	if snap.AgreementRounds != 1 {
		t.Errorf("expected 1 round, got %d", snap.AgreementRounds)
	}
	if snap.AgreementsSucceeded != 1 {
		t.Errorf("expected 1 success, got %d", snap.AgreementsSucceeded)
	}
	if snap.AgreementLatency.Count != 1 {
		t.Errorf("expected 1 latency sample, got %d", snap.AgreementLatency.Count)
	}

	spans := tracer.Spans()
	if len(spans) != 1 || spans[0].Name != SpanHandshakeAccept {
		t.Errorf("expected handshake span, got %v", spans)
	}
	if spans[0].Error != nil {
		t.Errorf("expected successful span, got %v", spans[0].Error)
	}
}

func TestObserverAgreementFailure(t *testing.T) {
	o, c, tracer := newTestObserver()

	roundErr := errors.New("insufficient material")
	_, done := o.OnAgreementStart(context.Background())
	done(roundErr)

	snap := c.Snapshot()
	if snap.AgreementsFailed != 1 {
		t.Errorf("expected 1 failure, got %d", snap.AgreementsFailed)
	}
	if snap.AgreementsSucceeded != 0 {
		t.Errorf("expected 0 successes, got %d", snap.AgreementsSucceeded)
	}

	spans := tracer.Spans()
	if len(spans) != 1 || !errors.Is(spans[0].Error, roundErr) {
		t.Errorf("expected failed span, got %v", spans)
	}
}

func TestObserverSessionLifecycle(t *testing.T) {
	o, c, _ := newTestObserver()

	o.OnSessionRequested()
	o.OnSessionEstablished()
	o.OnSessionTerminated("user_ended")

	snap := c.Snapshot()
	if snap.SessionsEstablished != 1 {
		t.Errorf("expected 1 established, got %d", snap.SessionsEstablished)
	}
	if snap.SessionsTerminated != 1 {
		t.Errorf("expected 1 terminated, got %d", snap.SessionsTerminated)
	}
	if snap.SessionsActive != 0 {
		t.Errorf("expected 0 active, got %d", snap.SessionsActive)
	}

	o.OnSessionRejected()
	if c.Snapshot().SessionsRejected != 1 {
		t.Error("rejection not recorded")
	}
}

func TestObserverInterception(t *testing.T) {
	o, c, _ := newTestObserver()

	o.OnInterceptionDetected(0.26)

	snap := c.Snapshot()
	if snap.InterceptionsDetected != 1 {
		t.Errorf("expected 1 interception, got %d", snap.InterceptionsDetected)
	}
	if snap.ObservedErrorRate.Max != 0.26 {
		t.Errorf("expected rate 0.26 recorded, got %f", snap.ObservedErrorRate.Max)
	}
}

func TestObserverMessaging(t *testing.T) {
	o, c, _ := newTestObserver()

	o.OnMessageEncrypted(100)
	o.OnMessageDecrypted(128)
	o.OnAuthFailure()

	snap := c.Snapshot()
	if snap.MessagesEncrypted != 1 || snap.BytesEncrypted != 100 {
		t.Errorf("encryption counters: %d messages, %d bytes", snap.MessagesEncrypted, snap.BytesEncrypted)
	}
	if snap.MessagesDecrypted != 1 || snap.BytesDecrypted != 128 {
		t.Errorf("decryption counters: %d messages, %d bytes", snap.MessagesDecrypted, snap.BytesDecrypted)
	}
	if snap.AuthFailures != 1 {
		t.Errorf("expected 1 auth failure, got %d", snap.AuthFailures)
	}
}
