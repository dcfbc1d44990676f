// Package quantumchat provides a chat service secured by simulated quantum
// key distribution.
//
// Every pair of users derives a shared secret through a simulated BB84 key
// agreement round before any message flows between them. Messages are then
// sealed with an authenticated cipher under the per-pair key. A simulated
// intercept-resend eavesdropper disturbs roughly 25% of the sifted bits, so
// an observed sample error rate above 11% aborts the round before any key
// material is used.
//
// # Quick Start
//
// For a single key agreement round:
//
//	import "github.com/pzverkov/quantum-chat/pkg/qkd"
//
//	engine, _ := qkd.NewEngine(qkd.Config{})
//	res, err := engine.Run(ctx, false)
//	// res.Key is the 256-bit session key, res.Fingerprint the check value
//
// For the full handshake lifecycle:
//
//	import "github.com/pzverkov/quantum-chat/pkg/handshake"
//
//	coord := handshake.NewCoordinator(handshake.Config{Engine: engine, Store: store})
//	sessionID, _ := coord.Initiate("alice", "bob")
//	err := coord.Accept(ctx, sessionID, "bob")
//	payload, _ := coord.EncryptForSession(sessionID, []byte("hello"))
//
// # Package Structure
//
//   - pkg/qkd: BB84 simulation (preparation, channel, sifting, detection)
//   - pkg/crypto: KDF, privacy amplification, AEAD payload framing
//   - pkg/keystore: in-memory per-session key storage
//   - pkg/handshake: handshake state machine and session lifecycle
//   - pkg/protocol: JSON messages exchanged with chat clients
//   - pkg/transport: TCP chat hub and HTTP API
//   - pkg/metrics: logging, metrics, tracing, health checks
//   - internal/constants: protocol parameters
//   - internal/errors: sentinel errors and wrappers
//
// # Security Properties
//
// The simulation reproduces the information-theoretic argument of BB84
// inside one process:
//
//   - Interception detection: sampled error rate above the 11% threshold
//     aborts the round and discards all material
//   - Privacy amplification: surviving bits are compressed through
//     SHAKE-256 into a uniform 256-bit key
//   - Authenticated encryption: AES-256-GCM or ChaCha20-Poly1305, with the
//     session identifier bound as associated data
//   - Key hygiene: keys live only in process memory and are zeroized on
//     session teardown
//
// This is a simulation for studying the protocol; both endpoints of the
// "quantum channel" live in the same process, and no physical guarantees
// are claimed.
package quantumchat
