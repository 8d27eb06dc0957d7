package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/proktor/internal/mirror"
	"github.com/stemsi/proktor/internal/model"
)

// AnswerStore is the in-memory answer map with a write-through durable
// mirror. It is a dumb container: callers gate mutations on session status.
// Readers always get deep-copied snapshots, so the sync scheduler and the
// submission controller never observe a partially written answer.
type AnswerStore struct {
	ref    model.SessionRef
	mirror mirror.Mirror

	mu      sync.RWMutex
	answers model.AnswerSnapshot

	log zerolog.Logger
}

// NewAnswerStore creates an empty store backed by the given mirror.
func NewAnswerStore(ref model.SessionRef, m mirror.Mirror, log zerolog.Logger) *AnswerStore {
	return &AnswerStore{
		ref:     ref,
		mirror:  m,
		answers: make(model.AnswerSnapshot),
		log:     log.With().Str("component", "answer_store").Logger(),
	}
}

// Set inserts or overwrites the answer for a question and writes it through
// to the mirror. The in-memory value is kept even when the mirror write
// fails: the store is the source of truth; the returned error only signals
// that durability is degraded.
func (s *AnswerStore) Set(ctx context.Context, questionID uuid.UUID, val model.AnswerValue) error {
	clone := val.Clone()

	s.mu.Lock()
	s.answers[questionID] = clone
	s.mu.Unlock()

	if err := s.mirror.Save(ctx, s.ref, questionID, clone); err != nil {
		s.log.Warn().Err(err).Str("question_id", questionID.String()).Msg("Mirror write failed")
		return err
	}
	return nil
}

// Snapshot returns an immutable deep copy of the answer map.
func (s *AnswerStore) Snapshot() model.AnswerSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.answers.Clone()
}

// Len returns the number of answered questions.
func (s *AnswerStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.answers)
}

// Restore replaces the store contents, used when resuming from the mirror.
func (s *AnswerStore) Restore(snap model.AnswerSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers = snap.Clone()
}
