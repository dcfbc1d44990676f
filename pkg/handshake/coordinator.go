// coordinator.go implements the handshake state machine for many concurrent
// user pairs sharing one process.
package handshake

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pzverkov/quantum-chat/internal/constants"
	qerrors "github.com/pzverkov/quantum-chat/internal/errors"
	"github.com/pzverkov/quantum-chat/pkg/crypto"
	"github.com/pzverkov/quantum-chat/pkg/keystore"
	"github.com/pzverkov/quantum-chat/pkg/metrics"
	"github.com/pzverkov/quantum-chat/pkg/qkd"
)

// Config configures a Coordinator.
type Config struct {
	// Engine runs the key agreement rounds. Required.
	Engine *qkd.Engine

	// Store owns the derived session keys. Required.
	Store *keystore.Store

	// Notifier delivers handshake events to participants. Optional;
	// defaults to discarding events.
	Notifier Notifier

	// Observer receives lifecycle and metrics hooks. Optional.
	Observer Observer

	// Logger for coordinator activity. Optional; defaults to silent.
	Logger *metrics.Logger

	// CipherSuite selects the AEAD used for session messages.
	// Defaults to AES-256-GCM.
	CipherSuite constants.CipherSuite

	// Eavesdrop decides, per accepted handshake, whether the simulated
	// eavesdropper is active for that round. Optional; defaults to never.
	Eavesdrop func() bool
}

// session is one state record. Its mutex guards all mutable fields; the
// coordinator's map lock is never held while a session lock is taken from
// outside, and notification callbacks run with no locks held.
type session struct {
	id        string
	initiator string
	target    string

	mu            sync.Mutex
	state         State
	reason        Reason
	fingerprint   string
	createdAt     time.Time
	establishedAt time.Time

	// cancel aborts an in-flight agreement round on disconnect.
	cancel context.CancelFunc
}

func (s *session) peerOf(userID string) string {
	if userID == s.initiator {
		return s.target
	}
	return s.initiator
}

// Coordinator sequences two-party handshakes and owns the session records.
// All methods are safe for concurrent use.
type Coordinator struct {
	engine    *qkd.Engine
	store     *keystore.Store
	notifier  Notifier
	observer  Observer
	logger    *metrics.Logger
	suite     constants.CipherSuite
	eavesdrop func() bool

	mu       sync.RWMutex
	sessions map[string]*session
	// active maps a participant to their one non-terminal session.
	active map[string]string
}

// NewCoordinator creates a coordinator with the given configuration.
func NewCoordinator(cfg Config) *Coordinator {
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NotifierFunc(func(string, Event) {})
	}
	observer := cfg.Observer
	if observer == nil {
		observer = NopObserver{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = metrics.NullLogger()
	}
	suite := cfg.CipherSuite
	if suite == 0 {
		suite = constants.CipherSuiteAES256GCM
	}
	eavesdrop := cfg.Eavesdrop
	if eavesdrop == nil {
		eavesdrop = func() bool { return false }
	}

	return &Coordinator{
		engine:    cfg.Engine,
		store:     cfg.Store,
		notifier:  notifier,
		observer:  observer,
		logger:    logger.Named("handshake"),
		suite:     suite,
		eavesdrop: eavesdrop,
		sessions:  make(map[string]*session),
		active:    make(map[string]string),
	}
}

// Initiate starts a handshake between two participants.
//
// Fails with ErrSessionBusy if either participant already has a
// non-terminal session. On success the session is in StateRequested, the
// target has been sent EventRequested, and the initiator EventInitiated.
func (c *Coordinator) Initiate(initiator, target string) (string, error) {
	if initiator == "" || target == "" || initiator == target {
		return "", qerrors.ErrNotParticipant
	}

	c.mu.Lock()
	if _, busy := c.active[initiator]; busy {
		c.mu.Unlock()
		return "", qerrors.ErrSessionBusy
	}
	if _, busy := c.active[target]; busy {
		c.mu.Unlock()
		return "", qerrors.ErrSessionBusy
	}

	s := &session{
		id:        uuid.NewString(),
		initiator: initiator,
		target:    target,
		state:     StateRequested,
		createdAt: time.Now(),
	}
	c.sessions[s.id] = s
	c.active[initiator] = s.id
	c.active[target] = s.id
	c.mu.Unlock()

	c.observer.OnSessionRequested()
	c.logger.Info("handshake requested", metrics.Fields{
		"session_id": s.id,
		"initiator":  initiator,
		"target":     target,
	})

	c.notifier.Notify(target, Event{
		Type: EventRequested, SessionID: s.id,
		Initiator: initiator, Target: target, Peer: initiator,
	})
	c.notifier.Notify(initiator, Event{
		Type: EventInitiated, SessionID: s.id,
		Initiator: initiator, Target: target, Peer: target,
	})

	return s.id, nil
}

// Accept is called by the target of a requested handshake. It runs the key
// agreement round synchronously within the caller's goroutine; unrelated
// sessions are unaffected. On success the session is StateEstablished with
// its key in the store; on failure it is StateFailed with the specific
// reason and no key remains stored.
func (c *Coordinator) Accept(ctx context.Context, sessionID, userID string) error {
	s, err := c.lookup(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.state != StateRequested {
		s.mu.Unlock()
		return qerrors.NewSessionError(sessionID, qerrors.ErrInvalidState)
	}
	if userID != s.target {
		s.mu.Unlock()
		return qerrors.NewSessionError(sessionID, qerrors.ErrNotParticipant)
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.state = StateRunningAgreement
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	c.notifyBoth(s, Event{Type: EventRunning, SessionID: s.id, Initiator: s.initiator, Target: s.target})

	obsCtx, done := c.observer.OnAgreementStart(runCtx)
	intercept := c.eavesdrop()
	res, err := c.engine.Run(obsCtx, intercept)
	done(err)

	if err != nil {
		return c.failAgreement(s, err)
	}
	defer crypto.Zeroize(res.Key)

	if err := c.store.Create(s.id, res.Key, res.Fingerprint); err != nil {
		return c.failAgreement(s, err)
	}

	s.mu.Lock()
	if s.state.Terminal() {
		// Disconnected while the round was finishing; the record is
		// already terminal and the key must not survive.
		s.mu.Unlock()
		_ = c.store.Destroy(s.id)
		return qerrors.NewSessionError(s.id, qerrors.ErrInvalidState)
	}
	s.state = StateEstablished
	s.fingerprint = res.Fingerprint
	s.establishedAt = time.Now()
	s.cancel = nil
	s.mu.Unlock()

	c.observer.OnSessionEstablished()
	c.logger.Info("session established", metrics.Fields{
		"session_id":  s.id,
		"fingerprint": res.Fingerprint,
		"error_rate":  res.ErrorRate,
		"key_bits":    res.KeyBits,
	})

	ev := Event{
		Type: EventEstablished, SessionID: s.id,
		Initiator: s.initiator, Target: s.target,
		Fingerprint: res.Fingerprint,
	}
	c.notifyBoth(s, ev)

	return nil
}

// failAgreement transitions a session to StateFailed with the reason mapped
// from the engine error, purges any stored key, and notifies both
// participants. A round aborted by disconnection is left in the terminal
// state the disconnect handler chose.
func (c *Coordinator) failAgreement(s *session, runErr error) error {
	reason := ReasonInsufficientMaterial
	var det *qkd.DetectionError
	if qerrors.As(runErr, &det) {
		reason = ReasonInterception
		c.observer.OnInterceptionDetected(det.ErrorRate)
	}

	s.mu.Lock()
	if s.state.Terminal() {
		// Disconnect won the race; nothing further to publish.
		s.mu.Unlock()
		return qerrors.NewSessionError(s.id, runErr)
	}
	s.state = StateFailed
	s.reason = reason
	s.cancel = nil
	s.mu.Unlock()

	c.release(s)
	_ = c.store.Destroy(s.id)

	c.observer.OnSessionFailed(string(reason))
	c.logger.Warn("handshake failed", metrics.Fields{
		"session_id": s.id,
		"reason":     string(reason),
		"error":      runErr.Error(),
	})

	c.notifyBoth(s, Event{
		Type: EventFailed, SessionID: s.id,
		Initiator: s.initiator, Target: s.target,
		Reason: reason, Security: reason.SecurityRelevant(),
	})

	return qerrors.NewSessionError(s.id, runErr)
}

// Reject is called by the target of a requested handshake. Terminal.
func (c *Coordinator) Reject(sessionID, userID string) error {
	s, err := c.lookup(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.state != StateRequested {
		s.mu.Unlock()
		return qerrors.NewSessionError(sessionID, qerrors.ErrInvalidState)
	}
	if userID != s.target {
		s.mu.Unlock()
		return qerrors.NewSessionError(sessionID, qerrors.ErrNotParticipant)
	}
	s.state = StateRejected
	s.mu.Unlock()

	c.release(s)
	c.observer.OnSessionRejected()
	c.logger.Info("handshake rejected", metrics.Fields{"session_id": s.id})

	c.notifier.Notify(s.initiator, Event{
		Type: EventRejected, SessionID: s.id,
		Initiator: s.initiator, Target: s.target, Peer: s.target,
	})

	return nil
}

// Terminate tears down a session from any non-terminal state, purging its
// key material. Both participants are notified.
func (c *Coordinator) Terminate(sessionID string, reason Reason) error {
	s, err := c.lookup(sessionID)
	if err != nil {
		return err
	}
	return c.terminate(s, reason, "")
}

// HandleDisconnect tears down the disconnected participant's session, if
// any. Pending or running handshakes are aborted and established sessions
// destroyed; only the surviving peer is notified.
func (c *Coordinator) HandleDisconnect(userID string) {
	c.mu.RLock()
	id, ok := c.active[userID]
	var s *session
	if ok {
		s = c.sessions[id]
	}
	c.mu.RUnlock()

	if s == nil {
		return
	}
	_ = c.terminate(s, ReasonPeerDisconnected, userID)
}

// terminate moves s to a terminal state. skipNotify, when non-empty, names
// a participant who must not be notified (the one who disconnected).
func (c *Coordinator) terminate(s *session, reason Reason, skipNotify string) error {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return qerrors.NewSessionError(s.id, qerrors.ErrInvalidState)
	}
	s.state = StateTerminated
	s.reason = reason
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	c.release(s)
	if err := c.store.Destroy(s.id); err != nil && !qerrors.Is(err, qerrors.ErrKeyNotFound) {
		c.logger.Error("key purge failed", metrics.Fields{"session_id": s.id, "error": err.Error()})
	}

	c.observer.OnSessionTerminated(string(reason))
	c.logger.Info("session terminated", metrics.Fields{
		"session_id": s.id,
		"reason":     string(reason),
	})

	ev := Event{
		Type: EventTerminated, SessionID: s.id,
		Initiator: s.initiator, Target: s.target, Reason: reason,
	}
	for _, user := range []string{s.initiator, s.target} {
		if user != skipNotify {
			ev.Peer = s.peerOf(user)
			c.notifier.Notify(user, ev)
		}
	}

	return nil
}

// EncryptForSession encrypts a payload (text or binary) under the session's
// key. The session identifier is bound as associated data, so a payload
// cannot be replayed into a different session even one sharing a key by
// coincidence.
func (c *Coordinator) EncryptForSession(sessionID string, plaintext []byte) ([]byte, error) {
	aead, err := c.sessionCipher(sessionID)
	if err != nil {
		return nil, err
	}

	payload, err := aead.Seal(plaintext, []byte(sessionID))
	if err != nil {
		return nil, qerrors.NewSessionError(sessionID, err)
	}

	c.observer.OnMessageEncrypted(len(plaintext))
	return payload, nil
}

// DecryptForSession decrypts a payload under the session's key.
//
// Authentication failure is reported per message and does not terminate
// the session.
func (c *Coordinator) DecryptForSession(sessionID string, payload []byte) ([]byte, error) {
	aead, err := c.sessionCipher(sessionID)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(payload, []byte(sessionID))
	if err != nil {
		if qerrors.Is(err, qerrors.ErrAuthenticationFailed) {
			c.observer.OnAuthFailure()
			c.logger.Warn("message authentication failed", metrics.Fields{"session_id": sessionID})
		}
		return nil, qerrors.NewSessionError(sessionID, err)
	}

	c.observer.OnMessageDecrypted(len(payload))
	return plaintext, nil
}

func (c *Coordinator) sessionCipher(sessionID string) (*crypto.AEAD, error) {
	s, err := c.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	established := s.state == StateEstablished
	s.mu.Unlock()
	if !established {
		return nil, qerrors.NewSessionError(sessionID, qerrors.ErrSessionNotEstablished)
	}

	sk, err := c.store.Get(sessionID)
	if err != nil {
		return nil, qerrors.NewSessionError(sessionID, err)
	}
	return crypto.NewAEAD(c.suite, sk.Key)
}

// SessionInfo is a read-only snapshot of one session record.
type SessionInfo struct {
	ID            string
	Initiator     string
	Target        string
	State         State
	Reason        Reason
	Fingerprint   string
	CreatedAt     time.Time
	EstablishedAt time.Time
}

// Session returns a snapshot of the session record.
func (c *Coordinator) Session(sessionID string) (SessionInfo, error) {
	s, err := c.lookup(sessionID)
	if err != nil {
		return SessionInfo{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ID:            s.id,
		Initiator:     s.initiator,
		Target:        s.target,
		State:         s.state,
		Reason:        s.reason,
		Fingerprint:   s.fingerprint,
		CreatedAt:     s.createdAt,
		EstablishedAt: s.establishedAt,
	}, nil
}

// Counts returns the number of established sessions and pending handshakes.
// Intended for health reporting.
func (c *Coordinator) Counts() (established, pending int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, id := range c.active {
		s := c.sessions[id]
		s.mu.Lock()
		switch s.state {
		case StateEstablished:
			established++
		case StateRequested, StateRunningAgreement:
			pending++
		}
		s.mu.Unlock()
	}
	// Each active session appears once per participant.
	return established / 2, pending / 2
}

func (c *Coordinator) lookup(sessionID string) (*session, error) {
	c.mu.RLock()
	s, ok := c.sessions[sessionID]
	c.mu.RUnlock()
	if !ok {
		return nil, qerrors.NewSessionError(sessionID, qerrors.ErrSessionNotFound)
	}
	return s, nil
}

// release removes the participants' active-session entries once a session
// reaches a terminal state. The record itself stays queryable.
func (c *Coordinator) release(s *session) {
	c.mu.Lock()
	if c.active[s.initiator] == s.id {
		delete(c.active, s.initiator)
	}
	if c.active[s.target] == s.id {
		delete(c.active, s.target)
	}
	c.mu.Unlock()
}

// notifyBoth sends the same event to both participants with Peer filled in.
func (c *Coordinator) notifyBoth(s *session, ev Event) {
	for _, user := range []string{s.initiator, s.target} {
		ev.Peer = s.peerOf(user)
		c.notifier.Notify(user, ev)
	}
}
