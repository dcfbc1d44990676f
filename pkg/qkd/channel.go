// channel.go simulates the quantum channel between the two parties,
// including the optional intercept-resend eavesdropper.
package qkd

// Transmission is the channel's output: for each position either the
// original (bit, basis) pair or an interception-modified pair. It exists
// only for the duration of one round.
type Transmission struct {
	Bits  []byte
	Bases []Basis

	// InterceptedSymbols counts positions the eavesdropper measured.
	InterceptedSymbols int
}

// Channel simulates transmission of prepared symbols, optionally through an
// intercept-resend eavesdropper.
type Channel struct {
	src *Source

	// interceptRate is the per-symbol probability that the eavesdropper
	// measures a given symbol when interception is active.
	interceptRate float64
}

// NewChannel creates a channel simulator drawing randomness from src.
// interceptRate is clamped to [0, 1].
func NewChannel(src *Source, interceptRate float64) *Channel {
	if interceptRate < 0 {
		interceptRate = 0
	}
	if interceptRate > 1 {
		interceptRate = 1
	}
	return &Channel{src: src, interceptRate: interceptRate}
}

// Transmit carries the raw material across the channel.
//
// With intercept=false the material passes through unchanged. With
// intercept=true, each symbol is independently measured by the adversary
// with probability interceptRate. The adversary knows neither bit nor basis,
// so it measures in a random basis of its own:
//
//   - Adversary basis == sender basis: the measurement yields the prepared
//     bit and the re-encoded symbol is indistinguishable from the original.
//   - Bases differ: the measurement collapses to a uniformly random outcome
//     and the symbol is re-encoded in the adversary's basis.
//
// This is the information-disturbance tradeoff that makes interception
// statistically visible downstream: on average half the intercepted symbols
// are re-encoded in the wrong basis, and half of those flip the receiver's
// sifted bit, for an expected 25% error rate over sifted positions.
func (c *Channel) Transmit(m *RawMaterial, intercept bool) *Transmission {
	n := m.Len()
	t := &Transmission{
		Bits:  make([]byte, n),
		Bases: make([]Basis, n),
	}
	copy(t.Bits, m.Bits)
	copy(t.Bases, m.Bases)

	if !intercept || c.interceptRate == 0 {
		return t
	}

	for i := 0; i < n; i++ {
		if c.interceptRate < 1 && c.src.Float64() >= c.interceptRate {
			continue
		}
		t.InterceptedSymbols++

		eveBasis := c.src.Basis()
		if eveBasis == m.Bases[i] {
			// Matching basis: measurement is deterministic, the symbol
			// is forwarded unperturbed.
			continue
		}

		// Mismatched basis: the outcome is uniform and the symbol is
		// re-encoded in the adversary's basis.
		t.Bits[i] = c.src.Bit()
		t.Bases[i] = eveBasis
	}

	return t
}

// Measure produces the receiver's outcomes for a transmission.
//
// For each position, the outcome equals the transmitted bit when the
// receiver's basis matches the transmission basis and is uniformly random
// otherwise.
func Measure(t *Transmission, bases []Basis, src *Source) []byte {
	outcomes := make([]byte, len(t.Bits))
	for i := range outcomes {
		if bases[i] == t.Bases[i] {
			outcomes[i] = t.Bits[i]
		} else {
			outcomes[i] = src.Bit()
		}
	}
	return outcomes
}
