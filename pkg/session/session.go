// Package session implements C8's exclusive ownership of process-local
// session state: per-session adapter configs and progress-token bindings,
// bound to a live server-push stream (§3, §4.8).
package session

import (
	"sync"

	"github.com/google/uuid"

	"github.com/voiceci/voiceci/pkg/store"
)

// Session is process-local state bound to a live server-push stream (§3).
// Owned exclusively by this package's Manager; other components hold only
// the SessionID. A tool call may be handled concurrently with another on
// the same session, so mutation goes through its own mutex.
type Session struct {
	ID string

	mu             sync.Mutex
	AdapterConfigs map[uuid.UUID]store.AdapterConfig
	ProgressTokens map[uuid.UUID]string // run id -> progressToken
}

// Manager is the thread-safe registry of live sessions, created on client
// `initialize` and destroyed on explicit delete, transport close, or
// process shutdown (§3).
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	runOwner map[uuid.UUID]string // run id -> session id, for C11's push lookup
}

// NewManager builds an empty session Manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session), runOwner: make(map[uuid.UUID]string)}
}

// BindRun records that runID was submitted by sessionID, so a later
// callback (C11) can find the session to push a result event to (§4.11).
func (m *Manager) BindRun(sessionID string, runID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runOwner[runID] = sessionID
}

// SessionForRun returns the session id that submitted runID, if the
// binding is still live (it is discarded when the owning session ends).
func (m *Manager) SessionForRun(runID uuid.UUID) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.runOwner[runID]
	return id, ok
}

// Create starts a new session, keyed by a freshly minted session id.
func (m *Manager) Create() *Session {
	sess := &Session{
		ID:             uuid.NewString(),
		AdapterConfigs: make(map[uuid.UUID]store.AdapterConfig),
		ProgressTokens: make(map[uuid.UUID]string),
	}
	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()
	return sess
}

// Get returns the session by id, or ok=false if it doesn't exist (e.g. the
// client reconnected after a process restart).
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	return sess, ok
}

// Destroy removes a session, discarding all of its bindings (§4.8): the
// runs it owned continue and remain retrievable via get_status.
func (m *Manager) Destroy(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	for runID, sessionID := range m.runOwner {
		if sessionID == id {
			delete(m.runOwner, runID)
		}
	}
}

// PutAdapterConfig stores cfg under a freshly minted opaque id and returns
// it (§3: "Stored per-session on C8 under an opaque id").
func (s *Session) PutAdapterConfig(cfg store.AdapterConfig) uuid.UUID {
	id := uuid.New()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AdapterConfigs == nil {
		s.AdapterConfigs = make(map[uuid.UUID]store.AdapterConfig)
	}
	s.AdapterConfigs[id] = cfg
	return id
}

// GetAdapterConfig resolves a previously stored adapter config by id.
func (s *Session) GetAdapterConfig(id uuid.UUID) (store.AdapterConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.AdapterConfigs[id]
	return cfg, ok
}

// BindProgressToken records the progressToken a client supplied on
// run_suite for runID, if any (§4.8).
func (s *Session) BindProgressToken(runID uuid.UUID, token string) {
	if token == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ProgressTokens == nil {
		s.ProgressTokens = make(map[uuid.UUID]string)
	}
	s.ProgressTokens[runID] = token
}

// ProgressToken returns the progressToken bound to runID, if any.
func (s *Session) ProgressToken(runID uuid.UUID) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.ProgressTokens[runID]
	return token, ok
}
