// Package keystore holds the derived session keys for established chat
// sessions and owns their lifetime.
//
// The store is the only shared mutable state in the core. It is sharded by
// session identifier: operations on different sessions proceed fully in
// parallel, while create/destroy on one session serialize on its shard.
// Exactly one live key exists per established session; Create refuses to
// overwrite and callers must Destroy first.
package keystore

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/pzverkov/quantum-chat/internal/constants"
	qerrors "github.com/pzverkov/quantum-chat/internal/errors"
	"github.com/pzverkov/quantum-chat/pkg/crypto"
)

// SessionKey is the derived key material and metadata for one session.
type SessionKey struct {
	// SessionID identifies the owning chat session.
	SessionID string

	// Key is the 256-bit derived secret. Never exposed in notifications.
	Key []byte

	// Fingerprint is the short non-secret display value.
	Fingerprint string

	// CreatedAt is when the key was stored.
	CreatedAt time.Time
}

type shard struct {
	mu   sync.RWMutex
	keys map[string]*SessionKey
}

// Store is a process-wide map from session identifier to session key.
type Store struct {
	shards [constants.KeyStoreShards]shard
}

// NewStore creates an empty session key store.
func NewStore() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i].keys = make(map[string]*SessionKey)
	}
	return s
}

func (s *Store) shardFor(sessionID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	return &s.shards[h.Sum32()&(constants.KeyStoreShards-1)]
}

// Create stores the key for a session.
//
// The key bytes are copied; the caller retains ownership of its slice.
// Returns ErrInvalidKeySize if the key is not 256 bits, ErrKeyExists if a
// key is already stored for the session.
func (s *Store) Create(sessionID string, key []byte, fingerprint string) error {
	if len(key) != constants.SessionKeySize {
		return qerrors.ErrInvalidKeySize
	}

	sh := s.shardFor(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, exists := sh.keys[sessionID]; exists {
		return qerrors.ErrKeyExists
	}

	stored := make([]byte, len(key))
	copy(stored, key)

	sh.keys[sessionID] = &SessionKey{
		SessionID:   sessionID,
		Key:         stored,
		Fingerprint: fingerprint,
		CreatedAt:   time.Now(),
	}
	return nil
}

// Get returns the session key for a session, or ErrKeyNotFound.
//
// The returned SessionKey carries a copy of the key bytes, so a caller
// holding on to it cannot defeat the zeroization Destroy performs.
func (s *Store) Get(sessionID string) (*SessionKey, error) {
	sh := s.shardFor(sessionID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	sk, exists := sh.keys[sessionID]
	if !exists {
		return nil, qerrors.ErrKeyNotFound
	}

	key := make([]byte, len(sk.Key))
	copy(key, sk.Key)

	return &SessionKey{
		SessionID:   sk.SessionID,
		Key:         key,
		Fingerprint: sk.Fingerprint,
		CreatedAt:   sk.CreatedAt,
	}, nil
}

// Destroy removes and zeroizes the key for a session.
//
// Destroying an absent key returns ErrKeyNotFound; the store never
// silently no-ops.
func (s *Store) Destroy(sessionID string) error {
	sh := s.shardFor(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sk, exists := sh.keys[sessionID]
	if !exists {
		return qerrors.ErrKeyNotFound
	}

	crypto.Zeroize(sk.Key)
	delete(sh.keys, sessionID)
	return nil
}

// Len returns the number of stored keys. Intended for health reporting.
func (s *Store) Len() int {
	total := 0
	for i := range s.shards {
		s.shards[i].mu.RLock()
		total += len(s.shards[i].keys)
		s.shards[i].mu.RUnlock()
	}
	return total
}
