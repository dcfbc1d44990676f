// Package protocol defines the JSON messages exchanged between chat clients
// and the server.
//
// The message flow for one pair of users:
//
//	Alice                    Server                    Bob
//	  |                         |                       |
//	  | ---- hello ----------->  |  <---- hello -------- |
//	  | ---- initiate_qkd ----> |                       |
//	  |                         | ---- qkd_request ---> |
//	  |                         | <--- accept_qkd ----- |
//	  | <--- qkd_running ------ | ---- qkd_running ---> |
//	  |        (key agreement runs on the server)       |
//	  | <--- qkd_established -- | -- qkd_established -> |
//	  | ---- chat_message ----> |                       |
//	  |                         | ---- chat_message --> |
//
// Every message is one JSON object per line. Encrypted payloads travel as
// base64 inside the JSON; the server relays them between session peers.
package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"

	"github.com/pzverkov/quantum-chat/internal/constants"
	qerrors "github.com/pzverkov/quantum-chat/internal/errors"
)

// Type identifies a message type.
type Type string

// Client-to-server message types.
const (
	// TypeHello registers the connecting user with the hub.
	TypeHello Type = "hello"
	// TypeInitiate asks the server to start a handshake with a target user.
	TypeInitiate Type = "initiate_qkd"
	// TypeAccept accepts a pending handshake request.
	TypeAccept Type = "accept_qkd"
	// TypeReject declines a pending handshake request.
	TypeReject Type = "reject_qkd"
	// TypeEndSession tears down an established session.
	TypeEndSession Type = "end_session"
	// TypeChat carries an encrypted message for the session peer.
	TypeChat Type = "chat_message"
)

// Server-to-client message types.
const (
	// TypeWelcome confirms registration and reports the assigned user.
	TypeWelcome Type = "welcome"
	// TypeUserList broadcasts the currently connected users.
	TypeUserList Type = "user_list"
	// TypeQKDRequest tells the target a handshake was requested.
	TypeQKDRequest Type = "qkd_request"
	// TypeQKDInitiated confirms the request to the initiator.
	TypeQKDInitiated Type = "qkd_initiated"
	// TypeQKDRunning tells both parties the key agreement is in progress.
	TypeQKDRunning Type = "qkd_running"
	// TypeQKDEstablished tells both parties the session is ready.
	TypeQKDEstablished Type = "qkd_established"
	// TypeQKDRejected tells the initiator the request was declined.
	TypeQKDRejected Type = "qkd_rejected"
	// TypeQKDFailed tells both parties the key agreement aborted.
	TypeQKDFailed Type = "qkd_failed"
	// TypeQKDTerminated tells the surviving party the session ended.
	TypeQKDTerminated Type = "qkd_terminated"
	// TypeError reports a request that could not be served.
	TypeError Type = "error"
)

// ContentKind distinguishes text messages from binary attachments.
type ContentKind string

const (
	ContentText   ContentKind = "text"
	ContentBinary ContentKind = "binary"
)

// Envelope is the wire representation of every message, client- and
// server-originated alike. Fields are populated per type; unused fields
// are omitted from the JSON.
type Envelope struct {
	Type Type `json:"type"`

	// Registration and presence.
	Username string   `json:"username,omitempty"`
	Users    []string `json:"users,omitempty"`

	// Handshake coordination.
	SessionID   string `json:"session_id,omitempty"`
	Initiator   string `json:"initiator,omitempty"`
	Target      string `json:"target,omitempty"`
	Peer        string `json:"peer,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Security    bool   `json:"security_alert,omitempty"`

	// Chat relay. Payload carries the message body, base64-encoded by the
	// JSON layer: plaintext in the client's submission, sealed ciphertext
	// in the relayed copy. Kind and Filename describe the content.
	Payload  []byte      `json:"payload,omitempty"`
	Kind     ContentKind `json:"kind,omitempty"`
	Filename string      `json:"filename,omitempty"`
	Sender   string      `json:"sender,omitempty"`

	// Timestamp is the server's relay time in RFC 3339, set on relayed
	// chat messages.
	Timestamp string `json:"timestamp,omitempty"`

	// Error reporting.
	Error string `json:"error,omitempty"`
}

// Validate checks that the envelope carries the fields its type requires.
// Only client-originated types are validated; the server constructs its
// own messages.
func (e *Envelope) Validate() error {
	switch e.Type {
	case TypeHello:
		if e.Username == "" {
			return fmt.Errorf("%w: hello requires username", qerrors.ErrInvalidMessage)
		}
	case TypeInitiate:
		if e.Target == "" {
			return fmt.Errorf("%w: initiate_qkd requires target", qerrors.ErrInvalidMessage)
		}
	case TypeAccept, TypeReject, TypeEndSession:
		if e.SessionID == "" {
			return fmt.Errorf("%w: %s requires session_id", qerrors.ErrInvalidMessage, e.Type)
		}
	case TypeChat:
		if e.SessionID == "" {
			return fmt.Errorf("%w: chat_message requires session_id", qerrors.ErrInvalidMessage)
		}
		if len(e.Payload) == 0 {
			return fmt.Errorf("%w: chat_message requires payload", qerrors.ErrInvalidMessage)
		}
		if e.Kind != "" && e.Kind != ContentText && e.Kind != ContentBinary {
			return fmt.Errorf("%w: unknown content kind %q", qerrors.ErrInvalidMessage, e.Kind)
		}
	case "":
		return fmt.Errorf("%w: missing type", qerrors.ErrInvalidMessage)
	default:
		return fmt.Errorf("%w: unknown type %q", qerrors.ErrInvalidMessage, e.Type)
	}
	return nil
}

// Encode marshals the envelope as a single JSON line.
func Encode(e *Envelope) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	if len(data) > constants.MaxEnvelopeSize {
		return nil, qerrors.ErrEnvelopeTooLarge
	}
	return append(data, '\n'), nil
}

// Decode parses one JSON line into an envelope.
func Decode(line []byte) (*Envelope, error) {
	if len(line) > constants.MaxEnvelopeSize {
		return nil, qerrors.ErrEnvelopeTooLarge
	}
	var e Envelope
	if err := json.Unmarshal(line, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", qerrors.ErrInvalidMessage, err)
	}
	return &e, nil
}

// ReadEnvelope reads and decodes the next line from the reader. Lines over
// the envelope size limit are rejected before parsing.
func ReadEnvelope(r *bufio.Reader) (*Envelope, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	return Decode(line[:len(line)-1])
}

// ErrorEnvelope builds a server error response.
func ErrorEnvelope(msg string) *Envelope {
	return &Envelope{Type: TypeError, Error: msg}
}
