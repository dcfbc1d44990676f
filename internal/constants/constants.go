// Package constants defines protocol parameters for the quantum-chat
// key agreement and messaging system.
//
// The BB84 parameters follow the standard analysis of the protocol: an
// intercept-resend adversary disturbs 25% of sifted bits on average, so an
// observed error rate above 11% is treated as evidence of interception.
package constants

// Protocol identification
const (
	// ProtocolName is used for domain separation in key derivation
	ProtocolName = "quantum-chat-v1"
)

// BB84 simulation parameters
const (
	// DefaultSymbols is the default number of raw (bit, basis) symbols
	// prepared per agreement round. Sifting keeps roughly half and the
	// error sample consumes another fraction, so the 256-bit key target
	// is oversampled 4x.
	DefaultSymbols = 1024

	// MinSymbols is the smallest symbol count for which the error sample
	// is statistically meaningful.
	MinSymbols = 64

	// DefaultSampleFraction is the fraction of sifted positions publicly
	// disclosed for error-rate estimation. Disclosed bits are discarded
	// from the key material.
	DefaultSampleFraction = 0.10

	// QBERThreshold is the quantum bit error rate above which a round is
	// declared intercepted. 11% is the standard BB84 detection bound;
	// intercept-resend induces ~25% QBER.
	QBERThreshold = 0.11

	// MinKeyBits is the absolute minimum number of undisclosed sifted bits
	// required to derive a session key. The engine's default floor scales
	// with the symbol count and never drops below this. Below the floor a
	// round fails with insufficient material rather than interception.
	MinKeyBits = 16

	// MinKeyBitsDivisor sets the engine's default key-bit floor as
	// Symbols / MinKeyBitsDivisor. Sifting keeps roughly half the symbols
	// and the error sample removes another tenth, so the expected
	// undisclosed count is 0.45*Symbols; a floor of a quarter of Symbols
	// fails only degenerate rounds.
	MinKeyBitsDivisor = 4

	// DefaultInterceptRate is the per-symbol interception probability used
	// when the simulated eavesdropper is active. Full interception gives
	// the strongest detection signal.
	DefaultInterceptRate = 1.0

	// DefaultEavesdropProbability is the chance that the simulated
	// eavesdropper is active for any given accepted handshake.
	DefaultEavesdropProbability = 0.10
)

// Service defaults
const (
	// DefaultChatAddr is the default listen address for the chat protocol.
	DefaultChatAddr = ":9000"

	// DefaultHTTPAddr is the default listen address for the HTTP API.
	DefaultHTTPAddr = ":8080"
)

// Session key parameters
const (
	// SessionKeySize is the size of derived session keys in bytes (256 bits).
	SessionKeySize = 32

	// FingerprintSize is the number of bytes of the fingerprint hash kept
	// for display. Rendered as hex this gives a 16-character check value.
	FingerprintSize = 8

	// DomainSeparatorAmplify is used when compressing sifted bits into the
	// session key (privacy amplification).
	DomainSeparatorAmplify = "quantum-chat-v1-amplify"

	// DomainSeparatorFingerprint is used when deriving the display
	// fingerprint from the session key. Independent of the amplify domain
	// so the fingerprint reveals nothing about the key.
	DomainSeparatorFingerprint = "quantum-chat-v1-fingerprint"
)

// Symmetric encryption parameters
const (
	// AEADKeySize is the key size for both supported cipher suites in bytes.
	AEADKeySize = 32

	// AEADNonceSize is the nonce size for AES-256-GCM and
	// ChaCha20-Poly1305 in bytes (96 bits).
	AEADNonceSize = 12

	// AEADTagSize is the authentication tag size in bytes.
	AEADTagSize = 16

	// MinPayloadSize is the minimum length of a valid encrypted payload:
	// nonce, tag, and at least one byte of ciphertext.
	MinPayloadSize = AEADNonceSize + AEADTagSize + 1

	// MaxMessageSize bounds a single chat payload (text or binary
	// attachment) accepted for encryption.
	MaxMessageSize = 1 << 22 // 4 MiB
)

// Transport parameters
const (
	// MaxEnvelopeSize bounds a single JSON envelope read from a client.
	// Large enough for a base64-framed attachment at MaxMessageSize.
	MaxEnvelopeSize = 6 << 20

	// SendQueueDepth is the per-client buffered write queue depth.
	SendQueueDepth = 64
)

// KeyStoreShards is the number of lock shards in the session key store.
// Must be a power of two.
const KeyStoreShards = 16

// CipherSuite identifiers
type CipherSuite uint16

const (
	// CipherSuiteAES256GCM uses AES-256-GCM for message encryption
	CipherSuiteAES256GCM CipherSuite = 0x0001

	// CipherSuiteChaCha20Poly1305 uses ChaCha20-Poly1305 for message encryption
	CipherSuiteChaCha20Poly1305 CipherSuite = 0x0002
)

// String returns a human-readable name for the cipher suite
func (cs CipherSuite) String() string {
	switch cs {
	case CipherSuiteAES256GCM:
		return "AES-256-GCM"
	case CipherSuiteChaCha20Poly1305:
		return "ChaCha20-Poly1305"
	default:
		return "Unknown"
	}
}

// IsSupported returns true if the cipher suite is supported
func (cs CipherSuite) IsSupported() bool {
	return cs == CipherSuiteAES256GCM || cs == CipherSuiteChaCha20Poly1305
}
