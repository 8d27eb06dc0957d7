package mirror

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/stemsi/proktor/internal/model"
)

// MemoryMirror is an in-process mirror for tests and single-node dev runs.
// It survives client reloads (the data lives server-side) but not restarts.
type MemoryMirror struct {
	mu       sync.Mutex
	sessions map[string]model.AnswerSnapshot
}

// NewMemoryMirror creates an empty in-memory mirror.
func NewMemoryMirror() *MemoryMirror {
	return &MemoryMirror{sessions: make(map[string]model.AnswerSnapshot)}
}

func (m *MemoryMirror) Save(_ context.Context, ref model.SessionRef, questionID uuid.UUID, val model.AnswerValue) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, ok := m.sessions[ref.Key()]
	if !ok {
		snap = make(model.AnswerSnapshot)
		m.sessions[ref.Key()] = snap
	}
	snap[questionID] = val.Clone()
	return nil
}

func (m *MemoryMirror) Load(_ context.Context, ref model.SessionRef) (model.AnswerSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, ok := m.sessions[ref.Key()]
	if !ok {
		return model.AnswerSnapshot{}, nil
	}
	return snap.Clone(), nil
}

func (m *MemoryMirror) Clear(_ context.Context, ref model.SessionRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, ref.Key())
	return nil
}
