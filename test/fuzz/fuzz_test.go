// Package fuzz provides fuzz tests for functions that parse untrusted
// input: the wire envelope decoder and the AEAD payload opener.
//
// Run with:
//
//	go test -fuzz=FuzzDecodeEnvelope -fuzztime=30s ./test/fuzz/
//	go test -fuzz=FuzzAEADOpen -fuzztime=30s ./test/fuzz/
//	go test -fuzz=FuzzAmplifyKey -fuzztime=30s ./test/fuzz/
package fuzz

import (
	"bytes"
	"testing"

	"github.com/pzverkov/quantum-chat/internal/constants"
	"github.com/pzverkov/quantum-chat/pkg/crypto"
	"github.com/pzverkov/quantum-chat/pkg/protocol"
)

// FuzzDecodeEnvelope fuzzes the JSON envelope decoder. Every connected
// client feeds it arbitrary lines.
func FuzzDecodeEnvelope(f *testing.F) {
	valid, _ := protocol.Encode(&protocol.Envelope{Type: protocol.TypeHello, Username: "alice"})
	f.Add(valid)
	f.Add([]byte(`{"type":"chat_message","session_id":"s1","payload":"aGk="}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(``))
	f.Add([]byte(`{"type":`))
	f.Add([]byte(`[1,2,3]`))
	f.Add([]byte(`{"type":"hello","username":"` + string(make([]byte, 128)) + `"}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		env, err := protocol.Decode(data)
		if err != nil {
			return
		}

		// A decoded envelope must survive validation without panicking
		// and re-encode to a single line.
		_ = env.Validate()
		line, err := protocol.Encode(env)
		if err != nil {
			return
		}
		if bytes.ContainsRune(line[:len(line)-1], '\n') {
			t.Error("re-encoded envelope spans multiple lines")
		}
	})
}

// FuzzAEADOpen fuzzes payload opening with a fixed key. Arbitrary payloads
// must either fail cleanly or round-trip attacker-free.
func FuzzAEADOpen(f *testing.F) {
	key := bytes.Repeat([]byte{0x42}, constants.AEADKeySize)
	aead, err := crypto.NewAEAD(constants.CipherSuiteAES256GCM, key)
	if err != nil {
		f.Fatalf("NewAEAD failed: %v", err)
	}

	sealed, _ := aead.Seal([]byte("seed message"), []byte("session"))
	f.Add(sealed, []byte("session"))
	f.Add([]byte{}, []byte{})
	f.Add(make([]byte, constants.MinPayloadSize-1), []byte("session"))
	f.Add(make([]byte, 64), []byte("other"))

	f.Fuzz(func(t *testing.T, payload, aad []byte) {
		plaintext, err := aead.Open(payload, aad)
		if err != nil {
			return
		}

		// Anything that opens must re-seal and open to the same bytes.
		resealed, err := aead.Seal(plaintext, aad)
		if err != nil {
			t.Fatalf("Seal after Open failed: %v", err)
		}
		reopened, err := aead.Open(resealed, aad)
		if err != nil {
			t.Fatalf("Open after Seal failed: %v", err)
		}
		if !bytes.Equal(reopened, plaintext) {
			t.Error("round trip mismatch")
		}
	})
}

// FuzzAmplifyKey fuzzes privacy amplification over arbitrary bit slices.
func FuzzAmplifyKey(f *testing.F) {
	f.Add([]byte{})
	f.Add([]byte{0, 1, 0, 1})
	f.Add(bytes.Repeat([]byte{1}, 512))
	f.Add([]byte{2, 3, 255})

	f.Fuzz(func(t *testing.T, bits []byte) {
		key, err := crypto.AmplifyKey(bits)
		if err != nil {
			return
		}
		if len(key) != constants.SessionKeySize {
			t.Errorf("amplified key has %d bytes, want %d", len(key), constants.SessionKeySize)
		}

		// Deterministic for the same input.
		again, err := crypto.AmplifyKey(bits)
		if err != nil {
			t.Fatalf("second AmplifyKey failed: %v", err)
		}
		if !bytes.Equal(key, again) {
			t.Error("amplification not deterministic")
		}
	})
}
