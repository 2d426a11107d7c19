package parley

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/parley-go/parley-lite/pkg/core/vad"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory StateStore for tests.
type memStore struct {
	mu        sync.Mutex
	sessionID string
	userID    string
	turns     []string

	saveCalls int
}

func (m *memStore) SessionID() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessionID == "" {
		return "", errNotFound
	}
	return m.sessionID, nil
}

func (m *memStore) SetSessionID(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionID = id
	return nil
}

func (m *memStore) ClearSessionID() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionID = ""
	return nil
}

func (m *memStore) UserID() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userID == "" {
		return "", errNotFound
	}
	return m.userID, nil
}

func (m *memStore) SetUserID(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userID = id
	return nil
}

func (m *memStore) SaveTurns(payloads []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append([]string(nil), payloads...)
	m.saveCalls++
	return nil
}

func (m *memStore) LoadTurns() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.turns...), nil
}

func (m *memStore) ClearTurns() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = nil
	return nil
}

type notFoundError struct{}

func (notFoundError) Error() string { return "not found" }

var errNotFound = notFoundError{}

// fakeDetector satisfies vad.Detector and records lifecycle calls.
type fakeDetector struct {
	mu       sync.Mutex
	active   bool
	starts   int
	stops    int
	startErr error
}

func (d *fakeDetector) Load(ctx context.Context) error { return nil }

func (d *fakeDetector) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.startErr != nil {
		return d.startErr
	}
	if !d.active {
		d.active = true
		d.starts++
	}
	return nil
}

func (d *fakeDetector) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active {
		d.active = false
		d.stops++
	}
	return nil
}

func (d *fakeDetector) Close() error { return nil }

func (d *fakeDetector) State() vad.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active {
		return vad.StateListening
	}
	return vad.StateReady
}

func (d *fakeDetector) isActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}
