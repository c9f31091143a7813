package realtime

import (
	"sync"
	"sync/atomic"

	"studysphere/internal/metrics"

	"github.com/google/uuid"
)

const maxSessionsPerUser = 10

// Session is one live connection of a user. Push must never block.
type Session interface {
	ID() string
	UserID() uuid.UUID
	// Push enqueues frame and reports false when it was dropped.
	Push(frame []byte) bool
	Close()
}

// Registry answers which sessions a user currently has on this instance.
type Registry interface {
	Sessions(userID uuid.UUID) []Session
}

// Hub is the session registry: user id to the set of that user's live
// sessions. Membership changes are serialised through Run.
type Hub struct {
	sessions   map[uuid.UUID]map[string]Session
	register   chan Session
	unregister chan Session
	logger     *SessionLogger
	mu         sync.RWMutex
	stopChan   chan struct{}
	stopOnce   sync.Once
	done       chan struct{}
	running    atomic.Bool
}

func NewHub(l *SessionLogger) *Hub {
	if l == nil {
		l = NewSessionLogger(nil)
	}
	return &Hub{
		sessions:   make(map[uuid.UUID]map[string]Session),
		register:   make(chan Session, 256),
		unregister: make(chan Session, 256),
		logger:     l,
		stopChan:   make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Run processes registrations until Stop is called.
func (h *Hub) Run() {
	h.running.Store(true)
	defer close(h.done)
	for {
		select {
		case s := <-h.register:
			h.handleRegister(s)
		case s := <-h.unregister:
			h.handleUnregister(s)
		case <-h.stopChan:
			h.closeAll()
			return
		}
	}
}

func (h *Hub) Register(s Session) {
	select {
	case <-h.stopChan:
		s.Close()
		return
	default:
	}
	select {
	case h.register <- s:
	case <-h.stopChan:
		s.Close()
	}
}

func (h *Hub) Unregister(s Session) {
	select {
	case h.unregister <- s:
	case <-h.stopChan:
	}
}

// Sessions returns a snapshot of userID's sessions.
func (h *Hub) Sessions(userID uuid.UUID) []Session {
	h.mu.RLock()
	defer h.mu.RUnlock()

	userSessions := h.sessions[userID]
	out := make([]Session, 0, len(userSessions))
	for _, s := range userSessions {
		out = append(out, s)
	}
	return out
}

func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, userSessions := range h.sessions {
		n += len(userSessions)
	}
	return n
}

func (h *Hub) handleRegister(s Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	userID := s.UserID()
	if h.sessions[userID] == nil {
		h.sessions[userID] = make(map[string]Session)
	}

	if len(h.sessions[userID]) >= maxSessionsPerUser {
		h.logger.Warn("max sessions per user reached", userID, s.ID())
		for id, old := range h.sessions[userID] {
			old.Close()
			delete(h.sessions[userID], id)
			metrics.SessionsActive.Dec()
			break
		}
	}

	h.sessions[userID][s.ID()] = s
	metrics.SessionsActive.Inc()
	h.logger.Info("session registered", userID, s.ID())
}

func (h *Hub) handleUnregister(s Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	userID := s.UserID()
	userSessions, ok := h.sessions[userID]
	if !ok {
		return
	}
	if _, ok := userSessions[s.ID()]; !ok {
		return
	}
	delete(userSessions, s.ID())
	if len(userSessions) == 0 {
		delete(h.sessions, userID)
	}
	s.Close()
	metrics.SessionsActive.Dec()
	h.logger.Info("session unregistered", userID, s.ID())
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, userSessions := range h.sessions {
		for _, s := range userSessions {
			s.Close()
			metrics.SessionsActive.Dec()
		}
	}
	h.sessions = make(map[uuid.UUID]map[string]Session)
}

// Stop closes every session and waits for Run to return.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stopChan) })
	if h.running.Load() {
		<-h.done
	}
}
