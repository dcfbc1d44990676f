// engine.go runs one full key agreement round: prepare, transmit, measure,
// sift, sample, decide, amplify.
package qkd

import (
	"context"
	"fmt"

	"github.com/pzverkov/quantum-chat/internal/constants"
	qerrors "github.com/pzverkov/quantum-chat/internal/errors"
	"github.com/pzverkov/quantum-chat/pkg/crypto"
	"github.com/pzverkov/quantum-chat/pkg/metrics"
)

// Config holds the adjustable parameters of the agreement engine.
// The zero value of any field selects the default from internal/constants.
type Config struct {
	// Symbols is the number of raw symbols prepared per round.
	Symbols int

	// SampleFraction is the fraction of sifted positions disclosed for
	// error estimation, in (0, 1).
	SampleFraction float64

	// Threshold is the error rate above which interception is declared.
	Threshold float64

	// MinKeyBits is the minimum number of undisclosed sifted bits needed
	// to derive a key. Defaults to Symbols/4, floored at
	// constants.MinKeyBits, so every symbol count the engine accepts can
	// complete a clean round.
	MinKeyBits int

	// InterceptRate is the per-symbol interception probability applied
	// when a round runs with the eavesdropper enabled.
	InterceptRate float64

	// NewSource builds the randomness source for a round. Each Run call
	// obtains a fresh source, so concurrent rounds never share one.
	// Defaults to NewSource (CSPRNG-seeded); tests inject fixed seeds.
	NewSource func() *Source
}

func (c Config) withDefaults() Config {
	if c.Symbols == 0 {
		c.Symbols = constants.DefaultSymbols
	}
	if c.SampleFraction == 0 {
		c.SampleFraction = constants.DefaultSampleFraction
	}
	if c.Threshold == 0 {
		c.Threshold = constants.QBERThreshold
	}
	if c.MinKeyBits == 0 {
		c.MinKeyBits = c.Symbols / constants.MinKeyBitsDivisor
		if c.MinKeyBits < constants.MinKeyBits {
			c.MinKeyBits = constants.MinKeyBits
		}
	}
	if c.InterceptRate == 0 {
		c.InterceptRate = constants.DefaultInterceptRate
	}
	if c.NewSource == nil {
		c.NewSource = NewSource
	}
	return c
}

func (c Config) validate() error {
	if c.Symbols < constants.MinSymbols {
		return qerrors.ErrInvalidSymbolCount
	}
	if c.SampleFraction <= 0 || c.SampleFraction >= 1 {
		return qerrors.ErrInvalidSampleFraction
	}
	if c.Threshold <= 0 || c.Threshold >= 1 {
		return qerrors.ErrInvalidThreshold
	}
	return nil
}

// Result is the outcome of a successful agreement round.
type Result struct {
	// Key is the derived 256-bit session key.
	Key []byte

	// Fingerprint is the short non-secret check value for display.
	Fingerprint string

	// ErrorRate is the observed mismatch rate over the disclosed sample.
	ErrorRate float64

	// SiftedBits is the sifted key length before sample removal.
	SiftedBits int

	// SampledBits is the number of positions disclosed and discarded.
	SampledBits int

	// KeyBits is the number of bits fed into privacy amplification.
	KeyBits int
}

// DetectionError reports an error rate over the detection threshold.
// It unwraps to ErrInterceptionDetected.
type DetectionError struct {
	ErrorRate float64
	Threshold float64
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("qkd: interception detected: error rate %.3f exceeds threshold %.3f", e.ErrorRate, e.Threshold)
}

func (e *DetectionError) Unwrap() error {
	return qerrors.ErrInterceptionDetected
}

// Engine runs BB84 agreement rounds. An Engine is immutable after creation
// and safe for concurrent use; per-round state lives on the stack of Run.
type Engine struct {
	cfg Config
}

// NewEngine creates an agreement engine with the given configuration.
// Zero-valued fields take protocol defaults.
func NewEngine(cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// Config returns the effective engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Run executes one full agreement round.
//
// With intercept=false the round yields a Result carrying the derived key
// and fingerprint. With intercept=true the simulated eavesdropper perturbs
// the channel and the round is expected (though not guaranteed) to fail
// with a DetectionError.
//
// Errors:
//   - *DetectionError (wraps ErrInterceptionDetected): error rate over
//     threshold; all key material has been discarded
//   - ErrInsufficientMaterial: sifted-minus-sample too short to judge or
//     to derive a key
//   - ctx.Err(): the round was cancelled between phases
func (e *Engine) Run(ctx context.Context, intercept bool) (*Result, error) {
	ctx, end := metrics.StartSpan(ctx, metrics.SpanAgreementRound,
		metrics.WithAttributes(map[string]interface{}{
			"qkd.symbols":   e.cfg.Symbols,
			"qkd.intercept": intercept,
		}))

	res, err := e.run(ctx, intercept)
	end(err)
	return res, err
}

func (e *Engine) run(ctx context.Context, intercept bool) (*Result, error) {
	src := e.cfg.NewSource()
	n := e.cfg.Symbols

	// Prepare and transmit. The sender's material and the receiver's
	// measurement bases are independent uniform draws.
	material := GenerateRawMaterial(n, src)
	recvBases := GenerateBases(n, src)

	channel := NewChannel(src, e.cfg.InterceptRate)
	transmission := channel.Transmit(material, intercept)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Measure and sift. Bases are compared publicly; positions with basis
	// agreement survive, order preserved. Expected length n/2.
	outcomes := Measure(transmission, recvBases, src)

	var senderSifted, receiverSifted []byte
	for i := 0; i < n; i++ {
		if material.Bases[i] == recvBases[i] {
			senderSifted = append(senderSifted, material.Bits[i])
			receiverSifted = append(receiverSifted, outcomes[i])
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Disclose a random sample of sifted positions and estimate the error
	// rate. Disclosed bits are public and never enter the key.
	sampleSize := int(float64(len(senderSifted)) * e.cfg.SampleFraction)
	if sampleSize < 1 {
		sampleSize = 1
	}
	if sampleSize >= len(senderSifted) {
		return nil, qerrors.ErrInsufficientMaterial
	}

	perm := src.Perm(len(senderSifted))
	sampled := make(map[int]struct{}, sampleSize)
	mismatches := 0
	for _, idx := range perm[:sampleSize] {
		sampled[idx] = struct{}{}
		if senderSifted[idx] != receiverSifted[idx] {
			mismatches++
		}
	}
	errorRate := float64(mismatches) / float64(sampleSize)

	if errorRate > e.cfg.Threshold {
		crypto.ZeroizeMultiple(senderSifted, receiverSifted)
		return nil, &DetectionError{ErrorRate: errorRate, Threshold: e.cfg.Threshold}
	}

	// Remove the disclosed positions and amplify what remains.
	keyBits := make([]byte, 0, len(senderSifted)-sampleSize)
	for i, b := range senderSifted {
		if _, disclosed := sampled[i]; !disclosed {
			keyBits = append(keyBits, b)
		}
	}
	crypto.ZeroizeMultiple(senderSifted, receiverSifted)

	if len(keyBits) < e.cfg.MinKeyBits {
		crypto.Zeroize(keyBits)
		return nil, qerrors.ErrInsufficientMaterial
	}

	key, err := crypto.AmplifyKey(keyBits)
	crypto.Zeroize(keyBits)
	if err != nil {
		return nil, err
	}

	fingerprint, err := crypto.Fingerprint(key)
	if err != nil {
		crypto.Zeroize(key)
		return nil, err
	}

	return &Result{
		Key:         key,
		Fingerprint: fingerprint,
		ErrorRate:   errorRate,
		SiftedBits:  len(receiverSifted),
		SampledBits: sampleSize,
		KeyBits:     len(receiverSifted) - sampleSize,
	}, nil
}
