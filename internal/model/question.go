package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// QuestionType enumerates the supported question shapes.
type QuestionType string

const (
	QuestionTypeSingleChoice QuestionType = "SINGLE_CHOICE"
	QuestionTypeMultiChoice  QuestionType = "MULTI_CHOICE"
	QuestionTypeStatements   QuestionType = "STATEMENTS"
)

// Question represents a single exam question as served to a student.
// Correct answers never live in this service: scoring is remote.
type Question struct {
	ID           uuid.UUID       `json:"id"`
	ExamID       uuid.UUID       `json:"exam_id"`
	QuestionText string          `json:"question_text"`
	QuestionType QuestionType    `json:"question_type"`
	Options      json.RawMessage `json:"options"`
	OrderNum     int             `json:"order_num"`
}

// Exam is the minimal exam metadata the session controller needs.
type Exam struct {
	ID              uuid.UUID  `json:"id"`
	Title           string     `json:"title"`
	DurationMinutes int        `json:"duration_minutes"`
	Status          ExamStatus `json:"status"`
}

// ExamStatus enumerates the states an exam can be in.
type ExamStatus string

const (
	ExamStatusDraft     ExamStatus = "DRAFT"
	ExamStatusPublished ExamStatus = "PUBLISHED"
	ExamStatusClosed    ExamStatus = "CLOSED"
)

// ExamPaper is the payload sent to students: fixed question set, no answer key.
type ExamPaper struct {
	ExamID    uuid.UUID  `json:"exam_id"`
	Title     string     `json:"title"`
	Duration  int        `json:"duration_minutes"`
	Questions []Question `json:"questions"`
}
