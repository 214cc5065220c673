package api

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/canvasmate/canvasmate/internal/agent"
)

// LoopFactory builds a loop around a fresh session. The server owns
// sessions; the factory owns wiring (provider, registry, ledger).
type LoopFactory func(session *agent.Session) *agent.Loop

// SessionManager tracks live loops by session ID.
type SessionManager struct {
	mu      sync.RWMutex
	loops   map[string]*agent.Loop
	factory LoopFactory
	sink    agent.TranscriptSink // optional
	logger  *slog.Logger
}

// NewSessionManager creates an empty manager.
func NewSessionManager(factory LoopFactory, sink agent.TranscriptSink, logger *slog.Logger) *SessionManager {
	return &SessionManager{
		loops:   make(map[string]*agent.Loop),
		factory: factory,
		sink:    sink,
		logger:  logger.With("component", "sessions"),
	}
}

// Create starts a new session and its loop.
func (m *SessionManager) Create() *agent.Loop {
	session := agent.NewSession(m.logger)
	if m.sink != nil {
		session.SetSink(m.sink)
	}
	loop := m.factory(session)

	m.mu.Lock()
	m.loops[session.ID] = loop
	m.mu.Unlock()

	m.logger.Info("session created", "session", session.ID)
	return loop
}

// Get returns the loop for an existing session.
func (m *SessionManager) Get(id string) (*agent.Loop, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	loop, ok := m.loops[id]
	if !ok {
		return nil, fmt.Errorf("unknown session %s", id)
	}
	return loop, nil
}

// GetOrCreate resolves an optional session ID: empty means a new session.
func (m *SessionManager) GetOrCreate(id string) (*agent.Loop, error) {
	if id == "" {
		return m.Create(), nil
	}
	return m.Get(id)
}

// Count returns the number of live sessions.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.loops)
}
