package parley

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// SessionCreator is the single backend call SessionManager depends on.
// *Client satisfies it.
type SessionCreator interface {
	CreateSession(ctx context.Context) (string, error)
}

// SessionManager owns the backend session id: cached in memory, persisted in
// the state store, and created lazily on first use. At most one session id is
// active at a time.
type SessionManager struct {
	creator SessionCreator
	store   StateStore
	logger  *slog.Logger

	mu     sync.Mutex
	id     string
	flight *sessionFlight
}

// sessionFlight lets concurrent EnsureSession callers share one in-flight
// creation request instead of racing to create duplicates.
type sessionFlight struct {
	done chan struct{}
	id   string
	err  error
}

// NewSessionManager creates a manager backed by the given store. The store
// may be nil, in which case the id lives only in memory.
func NewSessionManager(creator SessionCreator, store StateStore, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{creator: creator, store: store, logger: logger}
}

// EnsureSession returns the current session id, creating and persisting a new
// one if none exists. Concurrent callers before the first creation resolves
// all receive the result of a single backend request.
func (m *SessionManager) EnsureSession(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.id != "" {
		id := m.id
		m.mu.Unlock()
		return id, nil
	}
	if m.store != nil {
		if id, err := m.store.SessionID(); err == nil && id != "" {
			m.id = id
			m.mu.Unlock()
			return id, nil
		}
	}
	if f := m.flight; f != nil {
		m.mu.Unlock()
		select {
		case <-f.done:
			return f.id, f.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f := &sessionFlight{done: make(chan struct{})}
	m.flight = f
	m.mu.Unlock()

	id, err := m.creator.CreateSession(ctx)
	if err != nil {
		err = fmt.Errorf("parley: create session: %w", err)
	}

	m.mu.Lock()
	m.flight = nil
	if err == nil {
		m.id = id
		if m.store != nil {
			if perr := m.store.SetSessionID(id); perr != nil {
				m.logger.Warn("session id not persisted", "error", perr)
			}
		}
	}
	m.mu.Unlock()

	f.id, f.err = id, err
	close(f.done)
	return id, err
}

// Clear invalidates the cached session id; the next EnsureSession call
// creates a fresh one.
func (m *SessionManager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id = ""
	if m.store != nil {
		return m.store.ClearSessionID()
	}
	return nil
}
