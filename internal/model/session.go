package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates exam session states. Transitions only move forward:
// NOT_STARTED → IN_PROGRESS → SUBMITTING → {SUBMITTED | DISQUALIFIED}.
type SessionStatus string

const (
	SessionStatusNotStarted   SessionStatus = "NOT_STARTED"
	SessionStatusInProgress   SessionStatus = "IN_PROGRESS"
	SessionStatusSubmitting   SessionStatus = "SUBMITTING"
	SessionStatusSubmitted    SessionStatus = "SUBMITTED"
	SessionStatusDisqualified SessionStatus = "DISQUALIFIED"
)

// Terminal reports whether the status is one of the two terminal states.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusSubmitted || s == SessionStatusDisqualified
}

// SessionRef identifies one exam attempt. It is immutable for the session's
// lifetime and correlates all activity across Redis, Postgres and the engine.
type SessionRef struct {
	SessionID uuid.UUID `json:"session_id"`
	ExamID    uuid.UUID `json:"exam_id"`
	StudentID int       `json:"student_id"`
}

// Key returns the registry/cache key for this attempt. One attempt per
// student per exam, so the session UUID is not part of the key.
func (r SessionRef) Key() string {
	return fmt.Sprintf("student:%d:exam:%s", r.StudentID, r.ExamID)
}

// ExamSession is the persisted session row.
type ExamSession struct {
	ID         uuid.UUID     `json:"id"`
	ExamID     uuid.UUID     `json:"exam_id"`
	StudentID  int           `json:"student_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Status     SessionStatus `json:"status"`
	FinalScore *float64      `json:"final_score,omitempty"`
}

// SessionState is the reload payload: everything a reconnecting client needs
// to resume where it left off.
type SessionState struct {
	SessionID        uuid.UUID      `json:"session_id"`
	ExamID           uuid.UUID      `json:"exam_id"`
	StudentID        int            `json:"student_id"`
	Status           SessionStatus  `json:"status"`
	RemainingSeconds int64          `json:"remaining_seconds"`
	ViolationCount   int64          `json:"violation_count"`
	Answers          AnswerSnapshot `json:"answers"`
	LastSyncedAt     *time.Time     `json:"last_synced_at,omitempty"`
}

// ScoreStatus is the verdict returned by the remote scoring service.
type ScoreStatus string

const (
	ScoreStatusOK           ScoreStatus = "OK"
	ScoreStatusDisqualified ScoreStatus = "DISQUALIFIED"
)

// ScoreResult is the opaque scoring service response. The session controller
// treats it as the single source of truth and never computes a score locally.
type ScoreResult struct {
	Score  float64     `json:"score"`
	Status ScoreStatus `json:"status"`
}
