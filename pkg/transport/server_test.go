package transport_test

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"slices"
	"testing"
	"time"

	"github.com/pzverkov/quantum-chat/pkg/handshake"
	"github.com/pzverkov/quantum-chat/pkg/keystore"
	"github.com/pzverkov/quantum-chat/pkg/protocol"
	"github.com/pzverkov/quantum-chat/pkg/qkd"
	"github.com/pzverkov/quantum-chat/pkg/transport"
)

const clientTimeout = 5 * time.Second

// testServer is a full chat stack on a loopback listener.
type testServer struct {
	addr        string
	coordinator *handshake.Coordinator
	store       *keystore.Store
}

func startServer(t *testing.T, eavesdrop bool) *testServer {
	t.Helper()

	seed := uint64(4242)
	engine, err := qkd.NewEngine(qkd.Config{
		Symbols: 4096,
		NewSource: func() *qkd.Source {
			s := qkd.NewSeededSource(seed)
			seed++
			return s
		},
	})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	store := keystore.NewStore()

	var hub *transport.Hub
	coordinator := handshake.NewCoordinator(handshake.Config{
		Engine: engine,
		Store:  store,
		Notifier: handshake.NotifierFunc(func(userID string, ev handshake.Event) {
			hub.Notify(userID, ev)
		}),
		Eavesdrop: func() bool { return eavesdrop },
	})
	hub = transport.NewHub(transport.HubConfig{Coordinator: coordinator})

	srv := transport.NewServer(transport.ServerConfig{Hub: hub})
	if err := srv.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		srv.Close()
		<-done
	})

	return &testServer{
		addr:        srv.Addr().String(),
		coordinator: coordinator,
		store:       store,
	}
}

// testClient is one connected chat user.
type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dial(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, clientTimeout)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn, r: bufio.NewReader(conn)}
}

// connect dials and completes the hello exchange up to the welcome message.
func connect(t *testing.T, addr, username string) *testClient {
	t.Helper()
	c := dial(t, addr)
	c.send(&protocol.Envelope{Type: protocol.TypeHello, Username: username})
	welcome := c.waitFor(protocol.TypeWelcome)
	if welcome.Username != username {
		t.Fatalf("welcome username: got %q, want %q", welcome.Username, username)
	}
	return c
}

func (c *testClient) send(env *protocol.Envelope) {
	c.t.Helper()
	data, err := protocol.Encode(env)
	if err != nil {
		c.t.Fatalf("Encode failed: %v", err)
	}
	if _, err := c.conn.Write(data); err != nil {
		c.t.Fatalf("write failed: %v", err)
	}
}

func (c *testClient) next() *protocol.Envelope {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(clientTimeout))
	env, err := protocol.ReadEnvelope(c.r)
	if err != nil {
		c.t.Fatalf("read failed: %v", err)
	}
	return env
}

// waitFor reads envelopes until one of the wanted type arrives, skipping
// interleaved broadcasts like user lists.
func (c *testClient) waitFor(want protocol.Type) *protocol.Envelope {
	c.t.Helper()
	for i := 0; i < 32; i++ {
		env := c.next()
		if env.Type == want {
			return env
		}
		if env.Type == protocol.TypeError {
			c.t.Fatalf("waiting for %q, got error envelope: %s", want, env.Error)
		}
	}
	c.t.Fatalf("no %q envelope within 32 messages", want)
	return nil
}

func TestHelloAndPresence(t *testing.T) {
	ts := startServer(t, false)

	alice := connect(t, ts.addr, "alice")
	list := alice.waitFor(protocol.TypeUserList)
	if !slices.Equal(list.Users, []string{"alice"}) {
		t.Errorf("initial user list: got %v", list.Users)
	}

	connect(t, ts.addr, "bob")
	list = alice.waitFor(protocol.TypeUserList)
	if !slices.Equal(list.Users, []string{"alice", "bob"}) {
		t.Errorf("user list after join: got %v", list.Users)
	}
}

func TestDuplicateUsernameRejected(t *testing.T) {
	ts := startServer(t, false)
	connect(t, ts.addr, "alice")

	imposter := dial(t, ts.addr)
	imposter.send(&protocol.Envelope{Type: protocol.TypeHello, Username: "alice"})
	env := imposter.next()
	if env.Type != protocol.TypeError {
		t.Fatalf("duplicate hello: got %v, want error", env.Type)
	}
}

func TestHelloRequiredFirst(t *testing.T) {
	ts := startServer(t, false)

	c := dial(t, ts.addr)
	c.send(&protocol.Envelope{Type: protocol.TypeInitiate, Target: "bob"})
	env := c.next()
	if env.Type != protocol.TypeError {
		t.Fatalf("pre-hello envelope: got %v, want error", env.Type)
	}
}

func TestHandshakeAndChat(t *testing.T) {
	ts := startServer(t, false)
	alice := connect(t, ts.addr, "alice")
	bob := connect(t, ts.addr, "bob")

	alice.send(&protocol.Envelope{Type: protocol.TypeInitiate, Target: "bob"})

	request := bob.waitFor(protocol.TypeQKDRequest)
	if request.Peer != "alice" {
		t.Errorf("request peer: got %q, want alice", request.Peer)
	}
	if request.SessionID == "" {
		t.Fatal("request without session identifier")
	}
	alice.waitFor(protocol.TypeQKDInitiated)

	bob.send(&protocol.Envelope{Type: protocol.TypeAccept, SessionID: request.SessionID})

	aliceEst := alice.waitFor(protocol.TypeQKDEstablished)
	bobEst := bob.waitFor(protocol.TypeQKDEstablished)
	if aliceEst.Fingerprint == "" || aliceEst.Fingerprint != bobEst.Fingerprint {
		t.Errorf("fingerprint mismatch: alice %q, bob %q", aliceEst.Fingerprint, bobEst.Fingerprint)
	}

	// Chat: the server seals the plaintext and relays ciphertext to both.
	plaintext := []byte("met any interesting photons lately?")
	alice.send(&protocol.Envelope{
		Type:      protocol.TypeChat,
		SessionID: request.SessionID,
		Payload:   plaintext,
	})

	for name, c := range map[string]*testClient{"alice": alice, "bob": bob} {
		msg := c.waitFor(protocol.TypeChat)
		if msg.Sender != "alice" {
			t.Errorf("%s: sender got %q", name, msg.Sender)
		}
		if msg.Kind != protocol.ContentText {
			t.Errorf("%s: kind got %q", name, msg.Kind)
		}
		if bytes.Contains(msg.Payload, plaintext) {
			t.Errorf("%s: relayed payload contains plaintext", name)
		}
		if _, err := time.Parse(time.RFC3339, msg.Timestamp); err != nil {
			t.Errorf("%s: relay timestamp %q: %v", name, msg.Timestamp, err)
		}
		recovered, err := ts.coordinator.DecryptForSession(request.SessionID, msg.Payload)
		if err != nil {
			t.Fatalf("%s: decrypt failed: %v", name, err)
		}
		if !bytes.Equal(recovered, plaintext) {
			t.Errorf("%s: decrypted payload mismatch", name)
		}
	}
}

func TestBinaryAttachment(t *testing.T) {
	ts := startServer(t, false)
	alice := connect(t, ts.addr, "alice")
	bob := connect(t, ts.addr, "bob")

	alice.send(&protocol.Envelope{Type: protocol.TypeInitiate, Target: "bob"})
	request := bob.waitFor(protocol.TypeQKDRequest)
	bob.send(&protocol.Envelope{Type: protocol.TypeAccept, SessionID: request.SessionID})
	bob.waitFor(protocol.TypeQKDEstablished)

	image := []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 1, 2, 3}
	alice.send(&protocol.Envelope{
		Type:      protocol.TypeChat,
		SessionID: request.SessionID,
		Payload:   image,
		Kind:      protocol.ContentBinary,
		Filename:  "photo.png",
	})

	msg := bob.waitFor(protocol.TypeChat)
	if msg.Kind != protocol.ContentBinary {
		t.Errorf("kind: got %q", msg.Kind)
	}
	if msg.Filename != "photo.png" {
		t.Errorf("filename: got %q", msg.Filename)
	}
	recovered, err := ts.coordinator.DecryptForSession(request.SessionID, msg.Payload)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if !bytes.Equal(recovered, image) {
		t.Error("attachment corrupted")
	}
}

func TestRejectFlow(t *testing.T) {
	ts := startServer(t, false)
	alice := connect(t, ts.addr, "alice")
	bob := connect(t, ts.addr, "bob")

	alice.send(&protocol.Envelope{Type: protocol.TypeInitiate, Target: "bob"})
	request := bob.waitFor(protocol.TypeQKDRequest)
	bob.send(&protocol.Envelope{Type: protocol.TypeReject, SessionID: request.SessionID})

	rejected := alice.waitFor(protocol.TypeQKDRejected)
	if rejected.Peer != "bob" {
		t.Errorf("rejection peer: got %q", rejected.Peer)
	}
}

func TestInterceptionAlert(t *testing.T) {
	ts := startServer(t, true)
	alice := connect(t, ts.addr, "alice")
	bob := connect(t, ts.addr, "bob")

	alice.send(&protocol.Envelope{Type: protocol.TypeInitiate, Target: "bob"})
	request := bob.waitFor(protocol.TypeQKDRequest)
	bob.send(&protocol.Envelope{Type: protocol.TypeAccept, SessionID: request.SessionID})

	for name, c := range map[string]*testClient{"alice": alice, "bob": bob} {
		failed := c.waitFor(protocol.TypeQKDFailed)
		if !failed.Security {
			t.Errorf("%s: interception failure not flagged as security alert", name)
		}
		if failed.Reason != string(handshake.ReasonInterception) {
			t.Errorf("%s: reason got %q", name, failed.Reason)
		}
	}

	if established, _ := ts.coordinator.Counts(); established != 0 {
		t.Errorf("established sessions after interception: got %d", established)
	}
}

func TestEndSession(t *testing.T) {
	ts := startServer(t, false)
	alice := connect(t, ts.addr, "alice")
	bob := connect(t, ts.addr, "bob")

	alice.send(&protocol.Envelope{Type: protocol.TypeInitiate, Target: "bob"})
	request := bob.waitFor(protocol.TypeQKDRequest)
	bob.send(&protocol.Envelope{Type: protocol.TypeAccept, SessionID: request.SessionID})
	alice.waitFor(protocol.TypeQKDEstablished)
	bob.waitFor(protocol.TypeQKDEstablished)

	alice.send(&protocol.Envelope{Type: protocol.TypeEndSession, SessionID: request.SessionID})

	terminated := bob.waitFor(protocol.TypeQKDTerminated)
	if terminated.Reason != string(handshake.ReasonUserEnded) {
		t.Errorf("reason: got %q", terminated.Reason)
	}
}

func TestDisconnectTerminatesSession(t *testing.T) {
	ts := startServer(t, false)
	alice := connect(t, ts.addr, "alice")
	bob := connect(t, ts.addr, "bob")

	alice.send(&protocol.Envelope{Type: protocol.TypeInitiate, Target: "bob"})
	request := bob.waitFor(protocol.TypeQKDRequest)
	bob.send(&protocol.Envelope{Type: protocol.TypeAccept, SessionID: request.SessionID})
	alice.waitFor(protocol.TypeQKDEstablished)
	bob.waitFor(protocol.TypeQKDEstablished)

	bob.conn.Close()

	terminated := alice.waitFor(protocol.TypeQKDTerminated)
	if terminated.Reason != string(handshake.ReasonPeerDisconnected) {
		t.Errorf("reason: got %q", terminated.Reason)
	}
	list := alice.waitFor(protocol.TypeUserList)
	if !slices.Equal(list.Users, []string{"alice"}) {
		t.Errorf("user list after disconnect: got %v", list.Users)
	}
}

func TestOfflineTarget(t *testing.T) {
	ts := startServer(t, false)
	alice := connect(t, ts.addr, "alice")

	alice.send(&protocol.Envelope{Type: protocol.TypeInitiate, Target: "ghost"})
	env := alice.waitFor(protocol.TypeError)
	if env.Type != protocol.TypeError {
		t.Fatalf("initiate to offline user: got %v, want error", env.Type)
	}
}

func TestChatWithoutSession(t *testing.T) {
	ts := startServer(t, false)
	alice := connect(t, ts.addr, "alice")

	alice.send(&protocol.Envelope{
		Type:      protocol.TypeChat,
		SessionID: "no-such-session",
		Payload:   []byte("hello?"),
	})
	env := alice.waitFor(protocol.TypeError)
	if env.Error == "" {
		t.Error("error envelope without message")
	}
}
