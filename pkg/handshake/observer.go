package handshake

import "context"

// Observer provides hooks for session lifecycle, metrics, and tracing.
// Implementations should be lightweight; callbacks may run on hot paths.
type Observer interface {
	OnSessionRequested()
	OnAgreementStart(ctx context.Context) (context.Context, func(error))
	OnInterceptionDetected(errorRate float64)
	OnSessionEstablished()
	OnSessionRejected()
	OnSessionFailed(reason string)
	OnSessionTerminated(reason string)
	OnMessageEncrypted(plaintextLen int)
	OnMessageDecrypted(ciphertextLen int)
	OnAuthFailure()
}

// NopObserver is an Observer that does nothing.
type NopObserver struct{}

func (NopObserver) OnSessionRequested() {}
func (NopObserver) OnAgreementStart(ctx context.Context) (context.Context, func(error)) {
	return ctx, func(error) {}
}
func (NopObserver) OnInterceptionDetected(float64) {}
func (NopObserver) OnSessionEstablished()          {}
func (NopObserver) OnSessionRejected()             {}
func (NopObserver) OnSessionFailed(string)         {}
func (NopObserver) OnSessionTerminated(string)     {}
func (NopObserver) OnMessageEncrypted(int)         {}
func (NopObserver) OnMessageDecrypted(int)         {}
func (NopObserver) OnAuthFailure()                 {}
