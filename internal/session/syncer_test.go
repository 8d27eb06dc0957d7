package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/proktor/internal/mirror"
)

func newTestSyncer(t *testing.T, sink *sinkStub, interval time.Duration) (*Syncer, *AnswerStore) {
	t.Helper()
	ref := testRef()
	store := NewAnswerStore(ref, mirror.NewMemoryMirror(), zerolog.Nop())
	s := NewSyncer(ref, interval, store, sink, nil, zerolog.Nop())
	return s, store
}

func TestSyncerPushesOnInterval(t *testing.T) {
	sink := newSinkStub()
	s, store := newTestSyncer(t, sink, 10*time.Millisecond)

	qid := store.ref.ExamID // any UUID works as a question key
	if err := store.Set(context.Background(), qid, choiceAnswer("A")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	s.Start()
	defer s.Stop()

	select {
	case snap := <-sink.pushed:
		if snap[qid].Choice != "A" {
			t.Fatalf("pushed choice = %q, want A", snap[qid].Choice)
		}
	case <-time.After(time.Second):
		t.Fatal("no push within a second")
	}

	if !s.Online() {
		t.Fatal("successful push should report online")
	}
	if s.LastSyncedAt() == nil {
		t.Fatal("lastSyncedAt not set after successful push")
	}
}

func TestSyncerSkipsEmptyAnswerSet(t *testing.T) {
	sink := newSinkStub()
	s, _ := newTestSyncer(t, sink, 5*time.Millisecond)

	s.Start()
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	if n := sink.pushCount(); n != 0 {
		t.Fatalf("pushed %d times with an empty answer set", n)
	}
}

func TestSyncerRetriesOnNextTickAfterFailure(t *testing.T) {
	sink := newSinkStub()
	sink.setErr(errors.New("network down"))
	s, store := newTestSyncer(t, sink, 10*time.Millisecond)

	if err := store.Set(context.Background(), store.ref.ExamID, choiceAnswer("A")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	s.Start()
	defer s.Stop()

	// Wait until at least one failed attempt happened.
	deadline := time.Now().Add(time.Second)
	for sink.pushCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no push attempt")
		}
		time.Sleep(2 * time.Millisecond)
	}
	if s.Online() {
		t.Fatal("failed push should flip online to false")
	}
	if s.LastSyncedAt() != nil {
		t.Fatal("failed push must not set lastSyncedAt")
	}

	// Recover: the next tick pushes again with no intervention.
	sink.setErr(nil)
	select {
	case <-sink.pushed:
	case <-time.After(time.Second):
		t.Fatal("no successful push after recovery")
	}
	if !s.Online() {
		t.Fatal("recovered push should restore online")
	}
}

func TestSyncerDiscardsStaleResultAfterStop(t *testing.T) {
	sink := newSinkStub()
	sink.setErr(errors.New("slow failure"))
	s, store := newTestSyncer(t, sink, 5*time.Millisecond)

	if err := store.Set(context.Background(), store.ref.ExamID, choiceAnswer("A")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	// Stop before any push: generation bumped, pushOnce on a live goroutine
	// (if one raced the stop) must not mutate status afterwards.
	s.Start()
	s.Stop()

	time.Sleep(50 * time.Millisecond)

	if s.LastSyncedAt() != nil {
		t.Fatal("stale push result leaked into lastSyncedAt")
	}
}

func TestSyncerStartStopIdempotent(t *testing.T) {
	sink := newSinkStub()
	s, _ := newTestSyncer(t, sink, time.Hour)

	s.Start()
	s.Start()
	s.Stop()
	s.Stop()
}
