// aead.go implements the authenticated cipher layer for chat payloads.
//
// Two AEAD suites are supported:
//   - AES-256-GCM: FIPS-approved, hardware-accelerated on modern CPUs
//   - ChaCha20-Poly1305: High performance without hardware support
//
// Chat messages are independent of one another: each Seal call draws a
// fresh random 96-bit nonce from the CSPRNG and
// prepends it to the ciphertext, so a payload is self-contained: given the
// session key, Open needs nothing beyond the payload itself. With random
// nonces the collision bound over a session life of q messages is
// q^2 / 2^97, negligible at chat volumes.
//
// CRITICAL: Tampering, truncation, or decryption under the wrong session key
// surfaces as ErrAuthenticationFailed, never as silently altered plaintext.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/pzverkov/quantum-chat/internal/constants"
	qerrors "github.com/pzverkov/quantum-chat/internal/errors"
)

// AEAD represents an authenticated encryption cipher bound to one session key.
// It is stateless beyond the key and safe for concurrent use.
type AEAD struct {
	cipher cipher.AEAD
	suite  constants.CipherSuite
}

// NewAEAD creates a new AEAD cipher with the specified suite and key.
//
// Parameters:
//   - suite: CipherSuiteAES256GCM or CipherSuiteChaCha20Poly1305
//   - key: 32-byte session key
//
// Returns:
//   - AEAD: The initialized cipher
//   - error: Non-nil if the key size is wrong or suite unsupported
func NewAEAD(suite constants.CipherSuite, key []byte) (*AEAD, error) {
	if len(key) != constants.AEADKeySize {
		return nil, qerrors.ErrInvalidKeySize
	}

	var aeadCipher cipher.AEAD

	switch suite {
	case constants.CipherSuiteAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, qerrors.NewCryptoError("NewAEAD", err)
		}
		aeadCipher, err = cipher.NewGCM(block)
		if err != nil {
			return nil, qerrors.NewCryptoError("NewAEAD", err)
		}

	case constants.CipherSuiteChaCha20Poly1305:
		var err error
		aeadCipher, err = chacha20poly1305.New(key)
		if err != nil {
			return nil, qerrors.NewCryptoError("NewAEAD", err)
		}

	default:
		return nil, qerrors.ErrUnsupportedCipherSuite
	}

	return &AEAD{
		cipher: aeadCipher,
		suite:  suite,
	}, nil
}

// Seal encrypts and authenticates plaintext, returning a self-contained payload.
//
// The operation:
//  1. Draw a fresh random 96-bit nonce from the CSPRNG
//  2. Encrypt: ciphertext = AEAD.Seal(nonce, plaintext, additionalData)
//  3. Return: nonce || ciphertext (includes auth tag)
//
// Parameters:
//   - plaintext: Data to encrypt (text or binary attachment bytes)
//   - additionalData: Additional data to authenticate (not encrypted);
//     quantum-chat binds the session identifier here
//
// Returns:
//   - payload: nonce || encrypted_data || auth_tag
//   - error: Non-nil if the plaintext exceeds MaxMessageSize or the CSPRNG fails
func (a *AEAD) Seal(plaintext, additionalData []byte) ([]byte, error) {
	if len(plaintext) > constants.MaxMessageSize {
		return nil, qerrors.ErrMessageTooLarge
	}

	payload := make([]byte, constants.AEADNonceSize, constants.AEADNonceSize+len(plaintext)+constants.AEADTagSize)
	if err := SecureRandom(payload[:constants.AEADNonceSize]); err != nil {
		return nil, err
	}

	return a.cipher.Seal(payload, payload[:constants.AEADNonceSize], plaintext, additionalData), nil
}

// Open decrypts and verifies a payload produced by Seal.
//
// Parameters:
//   - payload: nonce || encrypted_data || auth_tag
//   - additionalData: Must match the additionalData used during Seal
//
// Returns:
//   - plaintext: Decrypted data
//   - error: ErrPayloadTooShort if malformed, ErrAuthenticationFailed if the
//     tag does not verify (tampering or wrong key)
func (a *AEAD) Open(payload, additionalData []byte) ([]byte, error) {
	if len(payload) < constants.MinPayloadSize {
		return nil, qerrors.ErrPayloadTooShort
	}

	nonce := payload[:constants.AEADNonceSize]
	encrypted := payload[constants.AEADNonceSize:]

	plaintext, err := a.cipher.Open(nil, nonce, encrypted, additionalData)
	if err != nil {
		return nil, qerrors.ErrAuthenticationFailed
	}

	return plaintext, nil
}

// Suite returns the cipher suite identifier.
func (a *AEAD) Suite() constants.CipherSuite {
	return a.suite
}

// Overhead returns the number of bytes added to a plaintext by Seal.
// This is nonce size + authentication tag size.
func (a *AEAD) Overhead() int {
	return constants.AEADNonceSize + a.cipher.Overhead()
}
