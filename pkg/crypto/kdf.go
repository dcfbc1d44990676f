// kdf.go implements key derivation using SHAKE-256 (SHA-3 XOF).
//
// Two derivations matter for quantum-chat:
//
//  1. Privacy amplification: the undisclosed sifted bits from a BB84 round
//     are compressed through SHAKE-256 into a fixed 256-bit session key.
//     An eavesdropper with partial knowledge of the input bits learns
//     nothing useful about the output.
//
//  2. Fingerprint derivation: a short, non-secret check value computed from
//     the session key under an independent domain separator, safe to show
//     to both participants for visual verification.
//
// All inputs are length-prefixed (4-byte big-endian) so that distinct input
// sequences can never produce identical absorb streams.
package crypto

import (
	"encoding/binary"
	"encoding/hex"

	"golang.org/x/crypto/sha3"

	"github.com/pzverkov/quantum-chat/internal/constants"
	qerrors "github.com/pzverkov/quantum-chat/internal/errors"
)

// DeriveKey derives key material using SHAKE-256 with domain separation.
//
// The derivation follows the construction:
//
//	output = SHAKE-256(
//	    domain_separator_length || domain_separator ||
//	    input_length || input,
//	    output_length
//	)
//
// Parameters:
//   - domain: Domain separation string (prevents cross-protocol attacks)
//   - input: Secret input material to derive from
//   - outputLen: Desired output length in bytes
//
// Returns:
//   - derived: The derived key material
//   - error: Non-nil if parameters are invalid
func DeriveKey(domain string, input []byte, outputLen int) ([]byte, error) {
	if outputLen <= 0 || outputLen > 1<<20 { // Max 1MB
		return nil, qerrors.NewCryptoError("DeriveKey", qerrors.ErrInvalidKeySize)
	}

	h := sha3.NewShake256()
	lenBuf := make([]byte, 4)

	domainBytes := []byte(domain)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(domainBytes)))
	h.Write(lenBuf)
	h.Write(domainBytes)

	binary.BigEndian.PutUint32(lenBuf, uint32(len(input)))
	h.Write(lenBuf)
	h.Write(input)

	output := make([]byte, outputLen)
	_, _ = h.Read(output) // SHAKE256.Read never fails

	return output, nil
}

// AmplifyKey performs privacy amplification over the undisclosed sifted bits
// of an agreement round, producing the 256-bit session key.
//
// The bits are packed most-significant-first into bytes before hashing; the
// bit count is absorbed alongside so that trailing padding bits cannot
// collide with shorter inputs.
//
// Parameters:
//   - bits: Sifted key bits (values 0 or 1) with sample positions removed
//
// Returns:
//   - key: 32-byte session key
//   - error: Non-nil if no bits were provided
func AmplifyKey(bits []byte) ([]byte, error) {
	if len(bits) == 0 {
		return nil, qerrors.NewCryptoError("AmplifyKey", qerrors.ErrInsufficientMaterial)
	}

	packed := packBits(bits)
	defer Zeroize(packed)

	input := make([]byte, 4+len(packed))
	binary.BigEndian.PutUint32(input[:4], uint32(len(bits)))
	copy(input[4:], packed)
	defer Zeroize(input)

	return DeriveKey(constants.DomainSeparatorAmplify, input, constants.SessionKeySize)
}

// Fingerprint computes the short display fingerprint of a session key.
//
// The fingerprint is a truncated SHAKE-256 output under its own domain
// separator, rendered as lowercase hex. It is not secret: both participants
// compare it out of band to confirm they hold the same key.
func Fingerprint(key []byte) (string, error) {
	if len(key) != constants.SessionKeySize {
		return "", qerrors.NewCryptoError("Fingerprint", qerrors.ErrInvalidKeySize)
	}

	fp, err := DeriveKey(constants.DomainSeparatorFingerprint, key, constants.FingerprintSize)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(fp), nil
}

// packBits packs bit values (0 or 1) into bytes, most significant bit first.
// The final byte is zero-padded.
func packBits(bits []byte) []byte {
	packed := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b&1 == 1 {
			packed[i/8] |= 1 << uint(7-i%8)
		}
	}
	return packed
}
