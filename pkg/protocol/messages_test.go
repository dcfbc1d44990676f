package protocol_test

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/pzverkov/quantum-chat/internal/constants"
	qerrors "github.com/pzverkov/quantum-chat/internal/errors"
	"github.com/pzverkov/quantum-chat/pkg/protocol"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     protocol.Envelope
		wantErr bool
	}{
		{"Hello", protocol.Envelope{Type: protocol.TypeHello, Username: "alice"}, false},
		{"HelloWithoutUsername", protocol.Envelope{Type: protocol.TypeHello}, true},
		{"Initiate", protocol.Envelope{Type: protocol.TypeInitiate, Target: "bob"}, false},
		{"InitiateWithoutTarget", protocol.Envelope{Type: protocol.TypeInitiate}, true},
		{"Accept", protocol.Envelope{Type: protocol.TypeAccept, SessionID: "s1"}, false},
		{"AcceptWithoutSession", protocol.Envelope{Type: protocol.TypeAccept}, true},
		{"Reject", protocol.Envelope{Type: protocol.TypeReject, SessionID: "s1"}, false},
		{"EndSession", protocol.Envelope{Type: protocol.TypeEndSession, SessionID: "s1"}, false},
		{"Chat", protocol.Envelope{Type: protocol.TypeChat, SessionID: "s1", Payload: []byte("hi")}, false},
		{"ChatWithoutPayload", protocol.Envelope{Type: protocol.TypeChat, SessionID: "s1"}, true},
		{"ChatWithoutSession", protocol.Envelope{Type: protocol.TypeChat, Payload: []byte("hi")}, true},
		{"ChatBinary", protocol.Envelope{
			Type: protocol.TypeChat, SessionID: "s1",
			Payload: []byte{0xFF, 0xD8}, Kind: protocol.ContentBinary, Filename: "cat.jpg",
		}, false},
		{"ChatUnknownKind", protocol.Envelope{
			Type: protocol.TypeChat, SessionID: "s1",
			Payload: []byte("hi"), Kind: "video",
		}, true},
		{"MissingType", protocol.Envelope{}, true},
		{"UnknownType", protocol.Envelope{Type: "teleport"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.env.Validate()
			if tt.wantErr {
				if !qerrors.Is(err, qerrors.ErrInvalidMessage) {
					t.Errorf("want ErrInvalidMessage, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := &protocol.Envelope{
		Type:      protocol.TypeChat,
		SessionID: "s1",
		Payload:   []byte{0x00, 0x01, 0xFE, 0xFF},
		Kind:      protocol.ContentBinary,
		Filename:  "report.pdf",
		Sender:    "alice",
	}

	line, err := protocol.Encode(in)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if line[len(line)-1] != '\n' {
		t.Error("encoded envelope is not newline-terminated")
	}
	if bytes.ContainsRune(line[:len(line)-1], '\n') {
		t.Error("encoded envelope spans multiple lines")
	}

	out, err := protocol.Decode(line[:len(line)-1])
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if out.Type != in.Type || out.SessionID != in.SessionID ||
		out.Kind != in.Kind || out.Filename != in.Filename || out.Sender != in.Sender {
		t.Errorf("round trip mismatch: got %+v", out)
	}
	if !bytes.Equal(out.Payload, in.Payload) {
		t.Error("payload corrupted in round trip")
	}
}

func TestEmptyFieldsOmitted(t *testing.T) {
	line, err := protocol.Encode(&protocol.Envelope{Type: protocol.TypeWelcome, Username: "alice"})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	for _, field := range []string{"session_id", "payload", "security_alert", "error", "timestamp"} {
		if strings.Contains(string(line), field) {
			t.Errorf("unset field %q present in wire form: %s", field, line)
		}
	}
}

func TestEncodeRejectsOversized(t *testing.T) {
	env := &protocol.Envelope{
		Type:      protocol.TypeChat,
		SessionID: "s1",
		Payload:   make([]byte, constants.MaxEnvelopeSize),
	}
	if _, err := protocol.Encode(env); !qerrors.Is(err, qerrors.ErrEnvelopeTooLarge) {
		t.Errorf("want ErrEnvelopeTooLarge, got %v", err)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for _, line := range []string{"", "not json", `{"type":`, `[1,2,3]`} {
		if _, err := protocol.Decode([]byte(line)); !qerrors.Is(err, qerrors.ErrInvalidMessage) {
			t.Errorf("Decode(%q): want ErrInvalidMessage, got %v", line, err)
		}
	}
}

func TestDecodeRejectsOversized(t *testing.T) {
	line := make([]byte, constants.MaxEnvelopeSize+1)
	if _, err := protocol.Decode(line); !qerrors.Is(err, qerrors.ErrEnvelopeTooLarge) {
		t.Errorf("want ErrEnvelopeTooLarge, got %v", err)
	}
}

func TestReadEnvelope(t *testing.T) {
	var stream bytes.Buffer
	for _, env := range []*protocol.Envelope{
		{Type: protocol.TypeHello, Username: "alice"},
		{Type: protocol.TypeInitiate, Target: "bob"},
	} {
		line, err := protocol.Encode(env)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		stream.Write(line)
	}

	r := bufio.NewReader(&stream)

	first, err := protocol.ReadEnvelope(r)
	if err != nil {
		t.Fatalf("ReadEnvelope failed: %v", err)
	}
	if first.Type != protocol.TypeHello || first.Username != "alice" {
		t.Errorf("first envelope: got %+v", first)
	}

	second, err := protocol.ReadEnvelope(r)
	if err != nil {
		t.Fatalf("ReadEnvelope failed: %v", err)
	}
	if second.Type != protocol.TypeInitiate || second.Target != "bob" {
		t.Errorf("second envelope: got %+v", second)
	}

	if _, err := protocol.ReadEnvelope(r); err == nil {
		t.Error("expected error at end of stream")
	}
}

func TestErrorEnvelope(t *testing.T) {
	env := protocol.ErrorEnvelope("target offline")
	if env.Type != protocol.TypeError {
		t.Errorf("type: got %v", env.Type)
	}
	if env.Error != "target offline" {
		t.Errorf("error text: got %q", env.Error)
	}
}
