package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/proktor/internal/model"
)

// QuestionRepository loads exam metadata and the fixed question set. It
// implements the engine's QuestionSource boundary.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// GetExam returns the exam metadata.
func (r *QuestionRepository) GetExam(ctx context.Context, examID uuid.UUID) (*model.Exam, error) {
	var e model.Exam
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, duration_minutes, status
		 FROM exams WHERE id = $1`,
		examID,
	).Scan(&e.ID, &e.Title, &e.DurationMinutes, &e.Status)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	return &e, nil
}

// LoadQuestions returns the exam's questions in their fixed order.
func (r *QuestionRepository) LoadQuestions(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_id, question_text, question_type, options, order_num
		 FROM questions WHERE exam_id = $1 ORDER BY order_num ASC`,
		examID,
	)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.ExamID, &q.QuestionText, &q.QuestionType, &q.Options, &q.OrderNum); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}
