package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/proktor/internal/middleware"
	"github.com/stemsi/proktor/internal/model"
	"github.com/stemsi/proktor/internal/response"
	"github.com/stemsi/proktor/internal/service"
	"github.com/stemsi/proktor/internal/session"
	"github.com/stemsi/proktor/internal/validator"
)

// saveAnswerRequest is the REST answer payload. The WebSocket stream is the
// primary path; this body serves clients falling back to plain HTTP.
type saveAnswerRequest struct {
	QID    string            `json:"q_id" binding:"required,uuid"`
	Answer model.AnswerValue `json:"answer" binding:"required"`
}

// reportViolationRequest is the REST violation payload.
type reportViolationRequest struct {
	Kind string `json:"kind" binding:"required,oneof=focus_loss clipboard shortcut"`
}

// SessionHandler handles the student-facing session REST endpoints.
type SessionHandler struct {
	sessionService *service.SessionService
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessionService *service.SessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

// Join godoc
// POST /api/v1/student/exams/:exam_id/join
// Starts or resumes the student's session for an exam (idempotent).
func (h *SessionHandler) Join(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	state, err := h.sessionService.Join(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrExamNotAvailable):
			response.Fail(c, http.StatusNotFound, response.ErrExamNotAvailable)
		case errors.Is(err, service.ErrNoQuestions):
			response.Fail(c, http.StatusConflict, response.ErrNoQuestions)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": state})
}

// GetState godoc
// GET /api/v1/student/exams/:exam_id/state
// Returns the reload payload: status, remaining time, violation count and
// the answers recorded so far.
func (h *SessionHandler) GetState(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	state, err := h.sessionService.State(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotActive) {
			response.Fail(c, http.StatusNotFound, response.ErrSessionNotActive)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, state)
}

// GetPaper godoc
// GET /api/v1/student/exams/:exam_id/paper
// Returns the fixed question set for the student's live session.
// Requires an active session: prevents downloading papers without joining.
func (h *SessionHandler) GetPaper(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	paper, err := h.sessionService.Paper(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSessionNotActive):
			response.Fail(c, http.StatusForbidden, response.ErrSessionNotActive)
		case errors.Is(err, service.ErrExamNotAvailable):
			response.Fail(c, http.StatusNotFound, response.ErrExamNotAvailable)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, paper)
}

// SaveAnswer godoc
// POST /api/v1/student/exams/:exam_id/answers
// Records a single answer on the live session. Fallback for clients whose
// WebSocket stream dropped; last write wins either way.
func (h *SessionHandler) SaveAnswer(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req saveAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	questionID, err := uuid.Parse(req.QID)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := h.sessionService.SetAnswer(c.Request.Context(), examID, claims.UserID, questionID, req.Answer); err != nil {
		switch {
		case errors.Is(err, service.ErrSessionNotActive):
			response.Fail(c, http.StatusNotFound, response.ErrSessionNotActive)
		case errors.Is(err, service.ErrUnknownQuestion):
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		case errors.Is(err, session.ErrSessionClosed):
			response.Fail(c, http.StatusConflict, response.ErrSessionClosed)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{"q_id": req.QID})
}

// ReportViolation godoc
// POST /api/v1/student/exams/:exam_id/violations
// Counts a prohibited-behavior event on the live session. Fallback for
// clients whose WebSocket stream dropped.
func (h *SessionHandler) ReportViolation(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req reportViolationRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.sessionService.Observe(c.Request.Context(), examID, claims.UserID, model.ViolationKind(req.Kind)); err != nil {
		switch {
		case errors.Is(err, service.ErrSessionNotActive):
			response.Fail(c, http.StatusNotFound, response.ErrSessionNotActive)
		case errors.Is(err, service.ErrUnknownViolationKind):
			response.Fail(c, http.StatusBadRequest, response.ErrUnknownViolation)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "recorded"})
}

// Submit godoc
// POST /api/v1/student/exams/:exam_id/submit
// Voluntary submission. A duplicate submit while the session is already
// past IN_PROGRESS is absorbed as a success.
func (h *SessionHandler) Submit(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := h.sessionService.Submit(c.Request.Context(), examID, claims.UserID); err != nil {
		h.failSubmission(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "accepted"})
}

// RetrySubmit godoc
// POST /api/v1/student/exams/:exam_id/submit/retry
// Re-dispatches a scoring call that previously failed, leaving the session
// stuck in SUBMITTING.
func (h *SessionHandler) RetrySubmit(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := h.sessionService.RetrySubmit(c.Request.Context(), examID, claims.UserID); err != nil {
		h.failSubmission(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "accepted"})
}

func (h *SessionHandler) failSubmission(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrSessionNotActive):
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotActive)
	case errors.Is(err, session.ErrSubmissionInFlight):
		response.Fail(c, http.StatusConflict, response.ErrSubmissionInFlight)
	case errors.Is(err, session.ErrNothingToRetry):
		response.Fail(c, http.StatusConflict, response.ErrNothingToRetry)
	default:
		response.Fail(c, http.StatusBadGateway, response.ErrSubmissionFailed)
	}
}
