package session

import (
	"testing"

	"github.com/stemsi/proktor/internal/model"
)

func TestRegistryPutGetRemove(t *testing.T) {
	reg := NewRegistry()
	eng, _ := newEngine(t, nil)
	ref := eng.Ref()

	if _, ok := reg.Get(ref); ok {
		t.Fatal("empty registry returned an engine")
	}

	reg.Put(eng)
	got, ok := reg.Get(ref)
	if !ok || got != eng {
		t.Fatal("registered engine not returned")
	}
	if reg.Len() != 1 {
		t.Fatalf("len = %d, want 1", reg.Len())
	}

	// Lookup ignores the session UUID: one attempt per student per exam.
	lookup := model.SessionRef{ExamID: ref.ExamID, StudentID: ref.StudentID}
	if _, ok := reg.Get(lookup); !ok {
		t.Fatal("lookup without session UUID failed")
	}

	reg.Remove(ref)
	if _, ok := reg.Get(ref); ok {
		t.Fatal("removed engine still returned")
	}
	if reg.Len() != 0 {
		t.Fatalf("len = %d, want 0", reg.Len())
	}
}
