// notifier.go defines the boundary to the external transport layer: the
// coordinator emits events addressed to individual participants and the
// transport delivers them however it likes.
package handshake

// EventType identifies a handshake notification.
type EventType string

const (
	// EventRequested is sent to the target when a handshake is initiated.
	EventRequested EventType = "qkd_request"

	// EventInitiated is sent to the initiator confirming the request is pending.
	EventInitiated EventType = "qkd_initiated"

	// EventRunning is sent to both participants when the agreement round starts.
	EventRunning EventType = "qkd_running"

	// EventEstablished is sent to both participants on success. Carries the
	// fingerprint, never the key.
	EventEstablished EventType = "qkd_established"

	// EventRejected is sent to the initiator when the target declines.
	EventRejected EventType = "qkd_rejected"

	// EventFailed is sent to both participants when the round fails.
	EventFailed EventType = "qkd_failed"

	// EventTerminated is sent to the surviving participant when a session
	// is torn down.
	EventTerminated EventType = "qkd_terminated"
)

// Event is a handshake notification payload for one participant.
type Event struct {
	Type      EventType
	SessionID string

	// Initiator and Target identify the session participants.
	Initiator string
	Target    string

	// Peer is the other participant from the recipient's perspective.
	Peer string

	// Fingerprint is set on EventEstablished only.
	Fingerprint string

	// Reason is set on EventFailed and EventTerminated.
	Reason Reason

	// Security marks events the UI must present as security alerts.
	Security bool
}

// Notifier delivers handshake events to connected participants.
// Implementations must not block; delivery to a disconnected participant
// is a no-op.
type Notifier interface {
	Notify(userID string, ev Event)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(userID string, ev Event)

// Notify calls f(userID, ev).
func (f NotifierFunc) Notify(userID string, ev Event) {
	f(userID, ev)
}
