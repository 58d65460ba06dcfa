package api

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/lookbusy1344/x86dbg/service"
)

var (
	// ErrSessionNotFound is returned when a session is not found
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionAlreadyExists is returned when trying to create a session with an existing ID
	ErrSessionAlreadyExists = errors.New("session already exists")
)

// Session represents one debug session: a service.Session bound to one
// target process, plus the bookkeeping the API layer needs around it.
type Session struct {
	ID        string
	Svc       *service.Session
	CreatedAt time.Time
}

// SessionManager manages multiple concurrent debug sessions.
type SessionManager struct {
	sessions    map[string]*Session
	broadcaster *Broadcaster
	mu          sync.RWMutex
}

// NewSessionManager creates a new session manager.
func NewSessionManager(broadcaster *Broadcaster) *SessionManager {
	return &SessionManager{
		sessions:    make(map[string]*Session),
		broadcaster: broadcaster,
	}
}

// CreateSession creates a new session with a unique ID, either
// attaching to an existing pid or launching a new target.
func (sm *SessionManager) CreateSession(opts SessionCreateRequest) (*Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, err
	}

	svc := service.NewSession()
	if sm.broadcaster != nil {
		svc.SetObserver(newBroadcastObserver(sm.broadcaster, sessionID))
	} else {
		debugLog("session %s: WARNING - no broadcaster available for events", sessionID)
	}

	switch {
	case opts.Attach != 0:
		if err := svc.Attach(opts.Attach); err != nil {
			return nil, err
		}
	case len(opts.Launch) > 0:
		if err := svc.Launch(opts.Launch); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("session create request must set attach or launch")
	}

	session := &Session{
		ID:        sessionID,
		Svc:       svc,
		CreatedAt: time.Now(),
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, exists := sm.sessions[sessionID]; exists {
		return nil, ErrSessionAlreadyExists
	}

	sm.sessions[sessionID] = session
	return session, nil
}

// GetSession retrieves a session by ID.
func (sm *SessionManager) GetSession(sessionID string) (*Session, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, exists := sm.sessions[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}

	return session, nil
}

// DestroySession detaches and removes a session by ID.
func (sm *SessionManager) DestroySession(sessionID string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	session, exists := sm.sessions[sessionID]
	if !exists {
		return ErrSessionNotFound
	}

	if err := session.Svc.Detach(); err != nil {
		debugLog("session %s: detach error: %v", sessionID, err)
	}

	delete(sm.sessions, sessionID)
	return nil
}

// ListSessions returns a list of all session IDs.
func (sm *SessionManager) ListSessions() []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	ids := make([]string, 0, len(sm.sessions))
	for id := range sm.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of active sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	return len(sm.sessions)
}

// generateSessionID generates a unique session ID.
func generateSessionID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
