// Package session persists authenticated sessions and signs the bearer
// tokens that refer to them.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Authentication methods.
const (
	MethodPassword = "password"
	MethodFace     = "face"
)

var (
	// ErrNotFound is returned for unknown or expired sessions.
	ErrNotFound = errors.New("session not found")
	// ErrInvalidToken is returned for bearer tokens that fail verification.
	ErrInvalidToken = errors.New("invalid session token")
)

// Session is an authenticated session. Only the wrapped form of the session
// key is ever stored.
type Session struct {
	ID         string    `json:"id"`
	Contact    string    `json:"contact"`
	Method     string    `json:"method"`
	WrappedKey []byte    `json:"wrapped_key"`
	CreatedAt  time.Time `json:"created_at"`
}

// New creates a session with a fresh ID.
func New(contact, method string, wrappedKey []byte) Session {
	return Session{
		ID:         uuid.NewString(),
		Contact:    contact,
		Method:     method,
		WrappedKey: wrappedKey,
		CreatedAt:  time.Now().UTC(),
	}
}

// Store persists sessions for a bounded time.
type Store interface {
	Save(ctx context.Context, s Session, ttl time.Duration) error
	Get(ctx context.Context, id string) (Session, error)
	Delete(ctx context.Context, id string) error
}

type memoryEntry struct {
	session Session
	expires time.Time
}

// MemoryStore keeps sessions in memory. Expired entries are dropped lazily.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]memoryEntry
	now      func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryStore) Save(_ context.Context, s Session, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = memoryEntry{session: s, expires: m.now().Add(ttl)}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	if !m.now().Before(e.expires) {
		delete(m.sessions, id)
		return Session{}, ErrNotFound
	}
	return e.session, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// Len returns the number of stored sessions, including expired ones not yet
// dropped.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
