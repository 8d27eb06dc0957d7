package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/proktor/internal/mirror"
	"github.com/stemsi/proktor/internal/model"
)

// failingMirror always rejects writes.
type failingMirror struct{}

func (failingMirror) Save(context.Context, model.SessionRef, uuid.UUID, model.AnswerValue) error {
	return errors.New("mirror down")
}
func (failingMirror) Load(context.Context, model.SessionRef) (model.AnswerSnapshot, error) {
	return model.AnswerSnapshot{}, nil
}
func (failingMirror) Clear(context.Context, model.SessionRef) error { return nil }

func TestAnswerStoreSetAndSnapshot(t *testing.T) {
	store := NewAnswerStore(testRef(), mirror.NewMemoryMirror(), zerolog.Nop())
	qid := uuid.New()

	if err := store.Set(context.Background(), qid, choiceAnswer("A")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	// Overwrite is last-write-wins.
	if err := store.Set(context.Background(), qid, choiceAnswer("B")); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}

	snap := store.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot len = %d, want 1", len(snap))
	}
	if snap[qid].Choice != "B" {
		t.Fatalf("choice = %q, want B", snap[qid].Choice)
	}
}

func TestAnswerStoreSnapshotIsIsolated(t *testing.T) {
	store := NewAnswerStore(testRef(), mirror.NewMemoryMirror(), zerolog.Nop())
	qid := uuid.New()

	val := model.AnswerValue{Kind: model.AnswerKindMultiple, Choices: []string{"A", "B"}}
	if err := store.Set(context.Background(), qid, val); err != nil {
		t.Fatalf("Set: %v", err)
	}

	// Mutating the caller's slice after Set must not leak into the store.
	val.Choices[0] = "X"

	snap := store.Snapshot()
	if snap[qid].Choices[0] != "A" {
		t.Fatal("store shares a slice with the caller")
	}

	// Mutating a snapshot must not leak back either.
	snap[qid].Choices[1] = "Y"
	if store.Snapshot()[qid].Choices[1] != "B" {
		t.Fatal("snapshot shares a slice with the store")
	}
}

func TestAnswerStoreKeepsValueOnMirrorFailure(t *testing.T) {
	store := NewAnswerStore(testRef(), failingMirror{}, zerolog.Nop())
	qid := uuid.New()

	if err := store.Set(context.Background(), qid, choiceAnswer("A")); err == nil {
		t.Fatal("Set should surface the mirror failure")
	}

	// The in-memory value survives; only durability degraded.
	if store.Snapshot()[qid].Choice != "A" {
		t.Fatal("in-memory answer lost on mirror failure")
	}
}

func TestAnswerStoreRestore(t *testing.T) {
	store := NewAnswerStore(testRef(), mirror.NewMemoryMirror(), zerolog.Nop())
	q1, q2 := uuid.New(), uuid.New()

	store.Restore(model.AnswerSnapshot{
		q1: choiceAnswer("A"),
		q2: {Kind: model.AnswerKindStatements, Statements: []model.StatementMark{model.StatementTrue, model.StatementUnanswered}},
	})

	if store.Len() != 2 {
		t.Fatalf("len = %d, want 2", store.Len())
	}
	snap := store.Snapshot()
	if snap[q2].Statements[1] != model.StatementUnanswered {
		t.Fatal("statement vector not restored")
	}
}

func TestAnswerStoreConcurrentWrites(t *testing.T) {
	store := NewAnswerStore(testRef(), mirror.NewMemoryMirror(), zerolog.Nop())

	qids := make([]uuid.UUID, 8)
	for i := range qids {
		qids[i] = uuid.New()
	}

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = store.Set(context.Background(), qids[i%len(qids)], choiceAnswer("A"))
			_ = store.Snapshot()
		}(i)
	}
	wg.Wait()

	if store.Len() != len(qids) {
		t.Fatalf("len = %d, want %d", store.Len(), len(qids))
	}
}
