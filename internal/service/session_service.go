package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/proktor/internal/config"
	"github.com/stemsi/proktor/internal/mirror"
	"github.com/stemsi/proktor/internal/model"
	"github.com/stemsi/proktor/internal/remote"
	"github.com/stemsi/proktor/internal/repository"
	"github.com/stemsi/proktor/internal/session"
	"github.com/stemsi/proktor/internal/worker"
)

var (
	// ErrExamNotAvailable is returned when the exam is missing or not published.
	ErrExamNotAvailable = errors.New("exam is not available")
	// ErrNoQuestions is returned when a published exam has an empty question set.
	ErrNoQuestions = errors.New("exam has no questions")
	// ErrSessionNotActive is returned when no live session exists for the attempt.
	ErrSessionNotActive = errors.New("no active session")
	// ErrUnknownQuestion is returned for an answer targeting a question outside
	// the exam's fixed set.
	ErrUnknownQuestion = errors.New("question does not belong to this exam")
	// ErrUnknownViolationKind is returned for a violation kind outside the catalogue.
	ErrUnknownViolationKind = errors.New("unknown violation kind")
)

// SessionService orchestrates exam session lifecycles: it creates and resumes
// per-attempt engines, routes answer and violation traffic to them, and hands
// finished sessions off to the persistence workers.
type SessionService struct {
	questionRepo *repository.QuestionRepository
	sessionRepo  *repository.SessionRepository
	registry     *session.Registry

	mirror   mirror.Mirror
	sink     remote.AnswerSink
	scoring  remote.ScoringClient
	reporter remote.ViolationReporter

	rdb *redis.Client
	cfg *config.Config
	log zerolog.Logger

	// joinMu serializes engine creation so two concurrent joins for the same
	// attempt cannot both build an engine. Held only on the cold path.
	joinMu sync.Mutex
}

// NewSessionService creates a new SessionService.
func NewSessionService(
	questionRepo *repository.QuestionRepository,
	sessionRepo *repository.SessionRepository,
	registry *session.Registry,
	m mirror.Mirror,
	sink remote.AnswerSink,
	scoring remote.ScoringClient,
	reporter remote.ViolationReporter,
	rdb *redis.Client,
	cfg *config.Config,
	log zerolog.Logger,
) *SessionService {
	return &SessionService{
		questionRepo: questionRepo,
		sessionRepo:  sessionRepo,
		registry:     registry,
		mirror:       m,
		sink:         sink,
		scoring:      scoring,
		reporter:     reporter,
		rdb:          rdb,
		cfg:          cfg,
		log:          log.With().Str("component", "session_service").Logger(),
	}
}

// Join starts (or resumes) the student's session for an exam and returns the
// reload payload. Joining is idempotent: a second join while the engine is
// live returns the current state, and a join after the session finished
// returns the terminal state.
func (s *SessionService) Join(ctx context.Context, examID uuid.UUID, studentID int) (*model.SessionState, error) {
	ref := model.SessionRef{ExamID: examID, StudentID: studentID}
	if eng, ok := s.registry.Get(ref); ok {
		return eng.State(), nil
	}

	s.joinMu.Lock()
	defer s.joinMu.Unlock()

	// Re-check under the lock: a concurrent join may have won.
	if eng, ok := s.registry.Get(ref); ok {
		return eng.State(), nil
	}

	exam, err := s.questionRepo.GetExam(ctx, examID)
	if err != nil {
		return nil, ErrExamNotAvailable
	}
	if exam.Status != model.ExamStatusPublished {
		return nil, ErrExamNotAvailable
	}

	sess, err := s.sessionRepo.GetOrCreate(ctx, examID, studentID)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		return terminalState(sess), nil
	}

	questions, err := s.questionRepo.LoadQuestions(ctx, examID)
	if err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}

	ref.SessionID = sess.ID

	// Remaining budget is anchored to the persisted start, never reset by a
	// reload. A non-positive remainder makes the engine expire immediately.
	elapsed := int64(time.Since(sess.StartedAt).Seconds())
	remaining := int64(exam.DurationMinutes)*60 - elapsed

	s.recordSessionStart(ctx, ref, sess.StartedAt)

	eng := session.New(session.Config{
		Ref:            ref,
		Questions:      questions,
		TickInterval:   s.cfg.TickInterval,
		SyncInterval:   s.cfg.SyncInterval,
		MaxViolations:  s.cfg.MaxViolations,
		WarnCountdowns: s.cfg.WarnCountdowns,
		Mirror:         s.mirror,
		Sink:           s.sink,
		Scoring:        s.scoring,
		Reporter:       s.reporter,
		OnEnded:        s.sessionEnded,
		Logger:         s.log,
	})

	if err := eng.Begin(ctx, remaining, s.priorViolations(ctx, ref)); err != nil {
		return nil, err
	}

	// An exhausted budget (no time left, or violations at the maximum)
	// ends the session inside Begin; the terminal hook has already queued
	// the result, so only a live engine gets registered. A submission that
	// failed mid-Begin is still live (SUBMITTING) and must stay reachable
	// for the retry endpoint.
	if !eng.Status().Terminal() {
		s.registry.Put(eng)
	}

	s.log.Info().
		Str("exam_id", examID.String()).
		Int("student_id", studentID).
		Int64("remaining_seconds", remaining).
		Msg("Session joined")

	return eng.State(), nil
}

// State returns the reload payload for a live session, or the terminal state
// from the database if the session already finished.
func (s *SessionService) State(ctx context.Context, examID uuid.UUID, studentID int) (*model.SessionState, error) {
	ref := model.SessionRef{ExamID: examID, StudentID: studentID}
	if eng, ok := s.registry.Get(ref); ok {
		return eng.State(), nil
	}

	sess, err := s.sessionRepo.GetByExamAndStudent(ctx, examID, studentID)
	if err != nil {
		return nil, ErrSessionNotActive
	}
	if !sess.Status.Terminal() {
		// Row exists but no engine on this node: the session was never
		// started here or the node restarted. The client must re-join.
		return nil, ErrSessionNotActive
	}
	return terminalState(sess), nil
}

// Paper returns the exam paper for a live session. The question set is the
// engine's fixed copy loaded at session start, so a mid-exam edit to the exam
// never changes what the student sees.
func (s *SessionService) Paper(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamPaper, error) {
	eng, err := s.engine(examID, studentID)
	if err != nil {
		return nil, err
	}

	exam, err := s.questionRepo.GetExam(ctx, examID)
	if err != nil {
		return nil, ErrExamNotAvailable
	}

	return &model.ExamPaper{
		ExamID:    examID,
		Title:     exam.Title,
		Duration:  exam.DurationMinutes,
		Questions: eng.Questions(),
	}, nil
}

// SetAnswer records a single answer on the live session.
func (s *SessionService) SetAnswer(ctx context.Context, examID uuid.UUID, studentID int, questionID uuid.UUID, val model.AnswerValue) error {
	eng, err := s.engine(examID, studentID)
	if err != nil {
		return err
	}

	if !questionInSet(eng.Questions(), questionID) {
		return ErrUnknownQuestion
	}

	return eng.SetAnswer(ctx, questionID, val)
}

// Observe counts a violation event on the live session.
func (s *SessionService) Observe(ctx context.Context, examID uuid.UUID, studentID int, kind model.ViolationKind) error {
	if !kind.Valid() {
		return ErrUnknownViolationKind
	}

	eng, err := s.engine(examID, studentID)
	if err != nil {
		return err
	}

	eng.Observe(ctx, kind)
	return nil
}

// Submit requests a voluntary submission of the live session.
func (s *SessionService) Submit(ctx context.Context, examID uuid.UUID, studentID int) error {
	eng, err := s.engine(examID, studentID)
	if err != nil {
		return err
	}
	return eng.Submit(ctx, session.TriggerManual)
}

// RetrySubmit re-dispatches a failed scoring call.
func (s *SessionService) RetrySubmit(ctx context.Context, examID uuid.UUID, studentID int) error {
	eng, err := s.engine(examID, studentID)
	if err != nil {
		return err
	}
	return eng.RetrySubmit(ctx)
}

// SetListener attaches a presentation listener to the live session. Used by
// the WebSocket handler on connect; pass nil on disconnect.
func (s *SessionService) SetListener(examID uuid.UUID, studentID int, l session.Listener) error {
	eng, err := s.engine(examID, studentID)
	if err != nil {
		return err
	}
	eng.SetListener(l)
	return nil
}

// engine returns the live engine for the attempt.
func (s *SessionService) engine(examID uuid.UUID, studentID int) (*session.Engine, error) {
	ref := model.SessionRef{ExamID: examID, StudentID: studentID}
	eng, ok := s.registry.Get(ref)
	if !ok {
		return nil, ErrSessionNotActive
	}
	return eng, nil
}

// sessionEnded is the engine's terminal hook: queue the result for durable
// persistence and drop the engine from the registry.
func (s *SessionService) sessionEnded(ref model.SessionRef, status model.SessionStatus, score *float64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	payload, _ := json.Marshal(worker.ResultPayload{
		StudentID: ref.StudentID,
		ExamID:    ref.ExamID.String(),
		Status:    string(status),
		Score:     score,
	})
	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistResultsQueue, payload).Err(); err != nil {
		s.log.Error().Err(err).
			Str("exam_id", ref.ExamID.String()).
			Int("student_id", ref.StudentID).
			Msg("Failed to queue session result")
	}

	s.registry.Remove(ref)

	s.log.Info().
		Str("exam_id", ref.ExamID.String()).
		Int("student_id", ref.StudentID).
		Str("status", string(status)).
		Msg("Session ended")
}

// recordSessionStart caches the start time so auxiliary consumers (monitor
// dashboards) can see it without a DB round trip. Best-effort.
func (s *SessionService) recordSessionStart(ctx context.Context, ref model.SessionRef, startedAt time.Time) {
	key := config.CacheKey.StudentSessionStartKey(ref.ExamID.String(), ref.StudentID)
	if err := s.rdb.Set(ctx, key, startedAt.Unix(), 0).Err(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to cache session start")
	}
}

// priorViolations reads the remote violation count so a resumed session
// keeps escalating from where it left off. Missing or unreadable counts
// resolve to zero.
func (s *SessionService) priorViolations(ctx context.Context, ref model.SessionRef) int64 {
	key := config.CacheKey.StudentViolationCountKey(ref.ExamID.String(), ref.StudentID)
	raw, err := s.rdb.Get(ctx, key).Result()
	if err != nil {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func terminalState(sess *model.ExamSession) *model.SessionState {
	return &model.SessionState{
		SessionID:        sess.ID,
		ExamID:           sess.ExamID,
		StudentID:        sess.StudentID,
		Status:           sess.Status,
		RemainingSeconds: 0,
		ViolationCount:   0,
		Answers:          model.AnswerSnapshot{},
	}
}

func questionInSet(questions []model.Question, id uuid.UUID) bool {
	for i := range questions {
		if questions[i].ID == id {
			return true
		}
	}
	return false
}
