// Package qkd implements a simulated BB84 key agreement: random bit/basis
// preparation, an intercept-resend channel, measurement, basis sifting,
// error-rate estimation for eavesdropper detection, and privacy
// amplification into a 256-bit session key.
//
// The simulation is classical. No photon-level behavior is modeled; the
// statistics of measurement in matching and mismatching bases are reproduced
// directly, which is sufficient for the detection properties of the protocol.
package qkd

import (
	"encoding/binary"
	"math/rand/v2"

	"github.com/pzverkov/quantum-chat/pkg/crypto"
)

// Basis is one of the two conjugate encoding schemes for a symbol.
// Measuring in the preparation basis yields the prepared bit; measuring in
// the other basis yields a uniformly random outcome.
type Basis byte

const (
	// Rectilinear is the computational (Z) basis.
	Rectilinear Basis = 0

	// Diagonal is the Hadamard (X) basis.
	Diagonal Basis = 1
)

// String returns a human-readable name for the basis.
func (b Basis) String() string {
	switch b {
	case Rectilinear:
		return "rectilinear"
	case Diagonal:
		return "diagonal"
	default:
		return "invalid"
	}
}

// Source supplies randomness for one agreement round.
//
// A Source is not safe for concurrent use; each round owns its own. The
// default source is seeded from the OS CSPRNG. Tests inject a fixed-seed
// source to obtain exact bit/basis sequences and deterministic outcomes.
type Source struct {
	rng *rand.Rand
}

// NewSource returns a Source seeded from the OS CSPRNG.
// ChaCha8 keeps the per-symbol draw cheap while remaining
// cryptographically strong.
func NewSource() *Source {
	var seed [32]byte
	if err := crypto.SecureRandom(seed[:]); err != nil {
		panic("qkd: failed to seed random source: " + err.Error())
	}
	return &Source{rng: rand.New(rand.NewChaCha8(seed))}
}

// NewSeededSource returns a deterministic Source for tests.
func NewSeededSource(seed uint64) *Source {
	var key [32]byte
	binary.LittleEndian.PutUint64(key[:8], seed)
	return &Source{rng: rand.New(rand.NewChaCha8(key))}
}

// Bit returns a uniformly random bit value (0 or 1).
func (s *Source) Bit() byte {
	return byte(s.rng.Uint64() & 1)
}

// Basis returns a uniformly random basis.
func (s *Source) Basis() Basis {
	return Basis(s.rng.Uint64() & 1)
}

// Float64 returns a uniform value in [0, 1).
func (s *Source) Float64() float64 {
	return s.rng.Float64()
}

// Perm returns a random permutation of [0, n).
// Used to select error-sample positions without replacement.
func (s *Source) Perm(n int) []int {
	return s.rng.Perm(n)
}

// RawMaterial is the sender's ordered sequence of independent (bit, basis)
// pairs for one round. Immutable once generated.
type RawMaterial struct {
	Bits  []byte
	Bases []Basis
}

// GenerateRawMaterial produces n uniformly random (bit, basis) pairs.
func GenerateRawMaterial(n int, src *Source) *RawMaterial {
	m := &RawMaterial{
		Bits:  make([]byte, n),
		Bases: make([]Basis, n),
	}
	for i := 0; i < n; i++ {
		m.Bits[i] = src.Bit()
		m.Bases[i] = src.Basis()
	}
	return m
}

// GenerateBases produces n uniformly random measurement bases for the receiver.
func GenerateBases(n int, src *Source) []Basis {
	bases := make([]Basis, n)
	for i := range bases {
		bases[i] = src.Basis()
	}
	return bases
}

// Len returns the number of symbols in the material.
func (m *RawMaterial) Len() int {
	return len(m.Bits)
}
