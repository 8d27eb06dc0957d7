package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/proktor/internal/model"
)

// SessionRepository persists exam session rows.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// GetOrCreate returns the student's session for the exam, creating it on
// first join. Concurrent joins resolve to the same row via the unique
// constraint on (exam_id, student_id).
func (r *SessionRepository) GetOrCreate(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamSession, error) {
	existing, err := r.GetByExamAndStudent(ctx, examID, studentID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	sess := &model.ExamSession{
		ID:        uuid.New(),
		ExamID:    examID,
		StudentID: studentID,
		StartedAt: time.Now(),
		Status:    model.SessionStatusInProgress,
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO exam_sessions (id, exam_id, student_id, started_at, status)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (exam_id, student_id) DO NOTHING`,
		sess.ID, sess.ExamID, sess.StudentID, sess.StartedAt, sess.Status,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	// Re-read so a concurrent join returns the winner's row.
	return r.GetByExamAndStudent(ctx, examID, studentID)
}

// GetByExamAndStudent returns the session row for one attempt.
func (r *SessionRepository) GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamSession, error) {
	var s model.ExamSession
	err := r.pool.QueryRow(ctx,
		`SELECT id, exam_id, student_id, started_at, finished_at, status, final_score
		 FROM exam_sessions WHERE exam_id = $1 AND student_id = $2`,
		examID, studentID,
	).Scan(&s.ID, &s.ExamID, &s.StudentID, &s.StartedAt, &s.FinishedAt, &s.Status, &s.FinalScore)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &s, nil
}
