// Package errors defines custom error types for the quantum-chat system.
// These errors provide detailed information for debugging while maintaining
// security by not leaking key material in error messages.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for key agreement operations
var (
	// ErrInterceptionDetected indicates the observed error rate exceeded the
	// detection threshold and all key material was discarded
	ErrInterceptionDetected = errors.New("qkd: interception detected")

	// ErrInsufficientMaterial indicates the sifted key or error sample was
	// too small to produce a usable key
	ErrInsufficientMaterial = errors.New("qkd: insufficient key material")

	// ErrInvalidSymbolCount indicates the requested symbol count is below
	// the statistical minimum
	ErrInvalidSymbolCount = errors.New("qkd: symbol count too small")

	// ErrInvalidSampleFraction indicates the error sample fraction is out of range
	ErrInvalidSampleFraction = errors.New("qkd: sample fraction out of range")

	// ErrInvalidThreshold indicates the detection threshold is out of range
	ErrInvalidThreshold = errors.New("qkd: detection threshold out of range")
)

// Sentinel errors for cipher operations
var (
	// ErrInvalidKeySize indicates that a key has an incorrect size
	ErrInvalidKeySize = errors.New("cipher: invalid key size")

	// ErrAuthenticationFailed indicates AEAD authentication/decryption failed
	ErrAuthenticationFailed = errors.New("cipher: authentication failed")

	// ErrPayloadTooShort indicates a payload is too short to be valid
	ErrPayloadTooShort = errors.New("cipher: payload too short")

	// ErrMessageTooLarge indicates a plaintext exceeds the maximum size
	ErrMessageTooLarge = errors.New("cipher: message too large")

	// ErrUnsupportedCipherSuite indicates an unsupported cipher suite
	ErrUnsupportedCipherSuite = errors.New("cipher: unsupported cipher suite")
)

// Sentinel errors for the session key store
var (
	// ErrKeyExists indicates a key is already stored for the session;
	// callers must destroy the existing key first
	ErrKeyExists = errors.New("keystore: key already exists for session")

	// ErrKeyNotFound indicates no key is stored for the session
	ErrKeyNotFound = errors.New("keystore: key not found")
)

// Sentinel errors for handshake coordination
var (
	// ErrSessionNotFound indicates an unknown session identifier
	ErrSessionNotFound = errors.New("handshake: session not found")

	// ErrInvalidState indicates an operation is not valid in the session's
	// current state
	ErrInvalidState = errors.New("handshake: invalid state transition")

	// ErrSessionBusy indicates a participant already has a live session
	ErrSessionBusy = errors.New("handshake: participant already in a session")

	// ErrNotParticipant indicates the caller is not a member of the session
	ErrNotParticipant = errors.New("handshake: caller is not a session participant")

	// ErrSessionNotEstablished indicates encrypt/decrypt was requested
	// before the session reached the established state
	ErrSessionNotEstablished = errors.New("handshake: session not established")
)

// Sentinel errors for transport operations
var (
	// ErrUserOffline indicates the target participant is not connected
	ErrUserOffline = errors.New("transport: user not connected")

	// ErrUserExists indicates the user identifier is already registered
	ErrUserExists = errors.New("transport: user already connected")

	// ErrEnvelopeTooLarge indicates an inbound envelope exceeds the size limit
	ErrEnvelopeTooLarge = errors.New("transport: envelope too large")

	// ErrInvalidMessage indicates a malformed or incomplete protocol message
	ErrInvalidMessage = errors.New("transport: invalid message")

	// ErrHubClosed indicates the hub has been shut down
	ErrHubClosed = errors.New("transport: hub closed")
)

// CryptoError wraps a cryptographic error with additional context
type CryptoError struct {
	Op  string // Operation that failed
	Err error  // Underlying error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}

// NewCryptoError creates a new CryptoError
func NewCryptoError(op string, err error) *CryptoError {
	return &CryptoError{Op: op, Err: err}
}

// SessionError wraps a handshake error with the session it concerns
type SessionError struct {
	SessionID string // Session the operation targeted
	Err       error  // Underlying error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s: %v", e.SessionID, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// NewSessionError creates a new SessionError
func NewSessionError(sessionID string, err error) *SessionError {
	return &SessionError{SessionID: sessionID, Err: err}
}

// Is reports whether any error in err's chain matches target.
// This is a convenience wrapper around errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
// This is a convenience wrapper around errors.As.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
