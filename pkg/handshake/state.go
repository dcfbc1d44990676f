// Package handshake implements the coordinator that sequences a two-party
// key agreement: request, accept or reject, run the agreement engine, and
// publish the result. It owns one state record per session and the
// per-message encrypt/decrypt entry points used by the transport layer.
package handshake

// State is the lifecycle state of a chat session.
//
// Transitions:
//
//	REQUESTED -> REJECTED            (target declines; terminal)
//	REQUESTED -> RUNNING_AGREEMENT   (target accepts)
//	RUNNING_AGREEMENT -> ESTABLISHED (agreement succeeded)
//	RUNNING_AGREEMENT -> FAILED      (interception / insufficient material; terminal)
//	ESTABLISHED -> TERMINATED        (user ended or peer disconnected; terminal)
//
// Any non-terminal state may also move to TERMINATED when a participant
// disconnects.
type State int32

const (
	// StateRequested means the target has been notified and not yet responded.
	StateRequested State = iota

	// StateRunningAgreement means the key agreement round is in progress.
	StateRunningAgreement

	// StateEstablished means a session key is stored and messaging is live.
	StateEstablished

	// StateRejected means the target declined the request. Terminal.
	StateRejected

	// StateFailed means the agreement round failed. Terminal.
	StateFailed

	// StateTerminated means an established or pending session was torn down.
	// Terminal.
	StateTerminated
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateRequested:
		return "Requested"
	case StateRunningAgreement:
		return "RunningAgreement"
	case StateEstablished:
		return "Established"
	case StateRejected:
		return "Rejected"
	case StateFailed:
		return "Failed"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further transitions are possible from s.
func (s State) Terminal() bool {
	switch s {
	case StateRejected, StateFailed, StateTerminated:
		return true
	default:
		return false
	}
}

// Reason identifies why a session reached a terminal state.
type Reason string

const (
	// ReasonInterception: the agreement round detected an eavesdropper.
	ReasonInterception Reason = "interception"

	// ReasonInsufficientMaterial: the round produced too few usable bits.
	ReasonInsufficientMaterial Reason = "insufficient_material"

	// ReasonUserEnded: a participant ended the session explicitly.
	ReasonUserEnded Reason = "user_ended"

	// ReasonPeerDisconnected: a participant's connection dropped.
	ReasonPeerDisconnected Reason = "peer_disconnected"
)

// SecurityRelevant reports whether the reason must be surfaced to users as
// a security event rather than an ordinary connectivity error.
func (r Reason) SecurityRelevant() bool {
	return r == ReasonInterception
}
