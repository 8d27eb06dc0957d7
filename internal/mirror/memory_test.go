package mirror

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stemsi/proktor/internal/model"
)

func TestMemoryMirrorRoundTrip(t *testing.T) {
	m := NewMemoryMirror()
	ref := model.SessionRef{SessionID: uuid.New(), ExamID: uuid.New(), StudentID: 7}
	qid := uuid.New()

	// Unknown session loads empty, not an error.
	snap, err := m.Load(context.Background(), ref)
	if err != nil {
		t.Fatalf("Load empty: %v", err)
	}
	if len(snap) != 0 {
		t.Fatalf("empty load returned %d answers", len(snap))
	}

	val := model.AnswerValue{Kind: model.AnswerKindChoice, Choice: "C"}
	if err := m.Save(context.Background(), ref, qid, val); err != nil {
		t.Fatalf("Save: %v", err)
	}

	snap, err = m.Load(context.Background(), ref)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap[qid].Choice != "C" {
		t.Fatalf("choice = %q, want C", snap[qid].Choice)
	}

	if err := m.Clear(context.Background(), ref); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	snap, _ = m.Load(context.Background(), ref)
	if len(snap) != 0 {
		t.Fatal("Clear left answers behind")
	}
}

func TestMemoryMirrorIsolatesSessions(t *testing.T) {
	m := NewMemoryMirror()
	examID := uuid.New()
	refA := model.SessionRef{ExamID: examID, StudentID: 1}
	refB := model.SessionRef{ExamID: examID, StudentID: 2}
	qid := uuid.New()

	_ = m.Save(context.Background(), refA, qid, model.AnswerValue{Kind: model.AnswerKindChoice, Choice: "A"})

	snap, _ := m.Load(context.Background(), refB)
	if len(snap) != 0 {
		t.Fatal("answers leaked across sessions")
	}
}

func TestMemoryMirrorClonesOnLoad(t *testing.T) {
	m := NewMemoryMirror()
	ref := model.SessionRef{ExamID: uuid.New(), StudentID: 1}
	qid := uuid.New()

	_ = m.Save(context.Background(), ref, qid, model.AnswerValue{
		Kind:    model.AnswerKindMultiple,
		Choices: []string{"A", "B"},
	})

	snap, _ := m.Load(context.Background(), ref)
	snap[qid].Choices[0] = "X"

	again, _ := m.Load(context.Background(), ref)
	if again[qid].Choices[0] != "A" {
		t.Fatal("mirror contents mutated through a loaded snapshot")
	}
}
