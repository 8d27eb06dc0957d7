package model

import "github.com/google/uuid"

// AnswerKind tags the polymorphic answer value shapes.
type AnswerKind string

const (
	AnswerKindChoice     AnswerKind = "choice"
	AnswerKindMultiple   AnswerKind = "multiple"
	AnswerKindStatements AnswerKind = "statements"
)

// StatementMark is a per-statement verdict: "TRUE", "FALSE" or "" (unanswered).
type StatementMark string

const (
	StatementTrue       StatementMark = "TRUE"
	StatementFalse      StatementMark = "FALSE"
	StatementUnanswered StatementMark = ""
)

// AnswerValue is a polymorphic answer: a single choice, a set of choices,
// or a per-statement true/false/unanswered vector. Exactly one of the value
// fields is populated, selected by Kind.
type AnswerValue struct {
	Kind       AnswerKind      `json:"kind"`
	Choice     string          `json:"choice,omitempty"`
	Choices    []string        `json:"choices,omitempty"`
	Statements []StatementMark `json:"statements,omitempty"`
}

// Clone returns a deep copy so snapshot readers never share slices with
// concurrent writers.
func (v AnswerValue) Clone() AnswerValue {
	out := AnswerValue{Kind: v.Kind, Choice: v.Choice}
	if v.Choices != nil {
		out.Choices = make([]string, len(v.Choices))
		copy(out.Choices, v.Choices)
	}
	if v.Statements != nil {
		out.Statements = make([]StatementMark, len(v.Statements))
		copy(out.Statements, v.Statements)
	}
	return out
}

// AnswerSnapshot is an immutable point-in-time copy of the answer map.
type AnswerSnapshot map[uuid.UUID]AnswerValue

// Clone deep-copies the snapshot.
func (s AnswerSnapshot) Clone() AnswerSnapshot {
	out := make(AnswerSnapshot, len(s))
	for qid, v := range s {
		out[qid] = v.Clone()
	}
	return out
}
