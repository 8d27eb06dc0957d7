// Package remote defines the session controller's boundary contracts: the
// collaborators the engine talks to but does not own.
package remote

import (
	"context"

	"github.com/google/uuid"
	"github.com/stemsi/proktor/internal/model"
)

// QuestionSource loads the fixed, ordered question set for an exam.
// Called once at session start; the set is never mutated after load.
type QuestionSource interface {
	LoadQuestions(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
}

// AnswerSink is the remote persistence endpoint for periodic answer pushes.
// Pushes are idempotent: re-pushing the same snapshot is safe.
type AnswerSink interface {
	PushAnswers(ctx context.Context, ref model.SessionRef, snap model.AnswerSnapshot) error
}

// ScoringClient submits the final snapshot to the external scoring service.
// The response is the single source of truth for the terminal status and
// score; this service never computes a score locally.
type ScoringClient interface {
	SubmitForScoring(ctx context.Context, ref model.SessionRef, snap model.AnswerSnapshot, forced bool) (*model.ScoreResult, error)
}

// ViolationReporter records a violation remotely, best-effort. The engine's
// local count stays authoritative for escalation even when a report fails.
type ViolationReporter interface {
	ReportViolation(ctx context.Context, ref model.SessionRef, kind model.ViolationKind) (*model.ViolationReceipt, error)
}
