// Package transport connects chat clients to the handshake coordinator.
//
// The hub keeps the registry of connected users and routes protocol
// envelopes: handshake commands go to the coordinator, chat messages are
// sealed under the session key and relayed to both participants, and
// coordinator events come back to clients as server envelopes. The TCP
// server (server.go) speaks one JSON object per line; the HTTP API
// (http.go) exposes the decrypt/encrypt helpers and health endpoints.
package transport

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pzverkov/quantum-chat/internal/constants"
	qerrors "github.com/pzverkov/quantum-chat/internal/errors"
	"github.com/pzverkov/quantum-chat/pkg/handshake"
	"github.com/pzverkov/quantum-chat/pkg/metrics"
	"github.com/pzverkov/quantum-chat/pkg/protocol"
)

// client is one connected user. Envelopes are queued on send and written
// by the connection's write pump; a slow client drops messages rather than
// blocking the hub.
type client struct {
	username string
	send     chan *protocol.Envelope
	closed   chan struct{}
	once     sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.closed) })
}

// enqueue queues an envelope without blocking.
func (c *client) enqueue(env *protocol.Envelope) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- env:
		return true
	default:
		return false
	}
}

// Hub routes envelopes between connected users and the coordinator.
// It implements handshake.Notifier. All methods are safe for concurrent use.
type Hub struct {
	coordinator *handshake.Coordinator
	logger      *metrics.Logger

	mu      sync.RWMutex
	clients map[string]*client
	closed  bool
}

// HubConfig configures a Hub.
type HubConfig struct {
	// Coordinator handles the handshake commands. Required.
	Coordinator *handshake.Coordinator

	// Logger for hub activity. Optional; defaults to silent.
	Logger *metrics.Logger
}

// NewHub creates a hub. Wire it into the coordinator as its Notifier so
// handshake events reach the clients.
func NewHub(cfg HubConfig) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = metrics.NullLogger()
	}
	return &Hub{
		coordinator: cfg.Coordinator,
		logger:      logger.Named("hub"),
		clients:     make(map[string]*client),
	}
}

// Register adds a user to the registry and broadcasts the updated user
// list. Fails with ErrUserExists if the name is taken.
func (h *Hub) Register(username string) (*client, error) {
	if username == "" {
		return nil, qerrors.ErrInvalidMessage
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, qerrors.ErrHubClosed
	}
	if _, taken := h.clients[username]; taken {
		h.mu.Unlock()
		return nil, qerrors.ErrUserExists
	}
	c := &client{
		username: username,
		send:     make(chan *protocol.Envelope, constants.SendQueueDepth),
		closed:   make(chan struct{}),
	}
	h.clients[username] = c
	h.mu.Unlock()

	h.logger.Info("user connected", metrics.Fields{"username": username})

	c.enqueue(&protocol.Envelope{Type: protocol.TypeWelcome, Username: username})
	h.broadcastUserList()

	return c, nil
}

// Unregister removes a user, tears down their session via the coordinator,
// and broadcasts the updated user list.
func (h *Hub) Unregister(username string) {
	h.mu.Lock()
	c, ok := h.clients[username]
	if ok {
		delete(h.clients, username)
	}
	h.mu.Unlock()

	if !ok {
		return
	}
	c.close()

	h.coordinator.HandleDisconnect(username)
	h.logger.Info("user disconnected", metrics.Fields{"username": username})
	h.broadcastUserList()
}

// Notify implements handshake.Notifier: coordinator events become server
// envelopes for the named user.
func (h *Hub) Notify(userID string, ev handshake.Event) {
	env := &protocol.Envelope{
		SessionID:   ev.SessionID,
		Initiator:   ev.Initiator,
		Target:      ev.Target,
		Peer:        ev.Peer,
		Fingerprint: ev.Fingerprint,
		Reason:      string(ev.Reason),
		Security:    ev.Security,
	}

	switch ev.Type {
	case handshake.EventRequested:
		env.Type = protocol.TypeQKDRequest
	case handshake.EventInitiated:
		env.Type = protocol.TypeQKDInitiated
	case handshake.EventRunning:
		env.Type = protocol.TypeQKDRunning
	case handshake.EventEstablished:
		env.Type = protocol.TypeQKDEstablished
	case handshake.EventRejected:
		env.Type = protocol.TypeQKDRejected
	case handshake.EventFailed:
		env.Type = protocol.TypeQKDFailed
	case handshake.EventTerminated:
		env.Type = protocol.TypeQKDTerminated
	default:
		return
	}

	if err := h.Send(userID, env); err != nil {
		h.logger.Debug("event not delivered", metrics.Fields{
			"username": userID,
			"event":    string(ev.Type),
		})
	}
}

// Send queues an envelope for one user.
func (h *Hub) Send(username string, env *protocol.Envelope) error {
	h.mu.RLock()
	c, ok := h.clients[username]
	h.mu.RUnlock()

	if !ok {
		return qerrors.ErrUserOffline
	}
	if !c.enqueue(env) {
		return qerrors.ErrUserOffline
	}
	return nil
}

// Users returns the sorted list of connected usernames.
func (h *Hub) Users() []string {
	h.mu.RLock()
	users := make([]string, 0, len(h.clients))
	for name := range h.clients {
		users = append(users, name)
	}
	h.mu.RUnlock()

	sort.Strings(users)
	return users
}

// broadcastUserList pushes the current user list to every client.
func (h *Hub) broadcastUserList() {
	users := h.Users()

	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.enqueue(&protocol.Envelope{Type: protocol.TypeUserList, Users: users})
	}
}

// HandleEnvelope dispatches one client-originated envelope. Errors are
// reported back to the sender as error envelopes; the connection stays up.
func (h *Hub) HandleEnvelope(ctx context.Context, username string, env *protocol.Envelope) {
	if err := env.Validate(); err != nil {
		h.sendError(username, err)
		return
	}

	switch env.Type {
	case protocol.TypeInitiate:
		h.handleInitiate(username, env)
	case protocol.TypeAccept:
		if err := h.coordinator.Accept(ctx, env.SessionID, username); err != nil {
			h.sendError(username, err)
		}
	case protocol.TypeReject:
		if err := h.coordinator.Reject(env.SessionID, username); err != nil {
			h.sendError(username, err)
		}
	case protocol.TypeEndSession:
		if err := h.endSession(username, env.SessionID); err != nil {
			h.sendError(username, err)
		}
	case protocol.TypeChat:
		h.handleChat(username, env)
	case protocol.TypeHello:
		// Registration is handled by the connection loop before the
		// envelope stream starts.
		h.sendError(username, qerrors.ErrInvalidMessage)
	}
}

func (h *Hub) handleInitiate(username string, env *protocol.Envelope) {
	h.mu.RLock()
	_, online := h.clients[env.Target]
	h.mu.RUnlock()
	if !online {
		h.sendError(username, qerrors.ErrUserOffline)
		return
	}

	if _, err := h.coordinator.Initiate(username, env.Target); err != nil {
		h.sendError(username, err)
	}
}

func (h *Hub) endSession(username, sessionID string) error {
	info, err := h.coordinator.Session(sessionID)
	if err != nil {
		return err
	}
	if username != info.Initiator && username != info.Target {
		return qerrors.ErrNotParticipant
	}
	return h.coordinator.Terminate(sessionID, handshake.ReasonUserEnded)
}

// handleChat seals the sender's plaintext under the session key and relays
// the ciphertext envelope to both participants. The sender's copy lets the
// client render its own message the same way it renders the peer's.
func (h *Hub) handleChat(username string, env *protocol.Envelope) {
	info, err := h.coordinator.Session(env.SessionID)
	if err != nil {
		h.sendError(username, err)
		return
	}
	if username != info.Initiator && username != info.Target {
		h.sendError(username, qerrors.ErrNotParticipant)
		return
	}

	payload, err := h.coordinator.EncryptForSession(env.SessionID, env.Payload)
	if err != nil {
		h.sendError(username, err)
		return
	}

	kind := env.Kind
	if kind == "" {
		kind = protocol.ContentText
	}
	relay := &protocol.Envelope{
		Type:      protocol.TypeChat,
		SessionID: env.SessionID,
		Sender:    username,
		Payload:   payload,
		Kind:      kind,
		Filename:  env.Filename,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	for _, user := range []string{info.Initiator, info.Target} {
		if err := h.Send(user, relay); err != nil && user != username {
			h.logger.Debug("chat relay dropped", metrics.Fields{
				"session_id": env.SessionID,
				"username":   user,
			})
		}
	}
}

func (h *Hub) sendError(username string, err error) {
	_ = h.Send(username, protocol.ErrorEnvelope(err.Error()))
}

// Close shuts the hub down: no new registrations, all clients closed.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*client)
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
		h.coordinator.HandleDisconnect(c.username)
	}
}

// ConnectedUsers reports the number of connected clients.
func (h *Hub) ConnectedUsers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Healthy returns nil while the hub accepts registrations, ErrHubClosed
// after Close. Registered as a readiness check on the HTTP API.
func (h *Hub) Healthy() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return qerrors.ErrHubClosed
	}
	return nil
}

var _ handshake.Notifier = (*Hub)(nil)
