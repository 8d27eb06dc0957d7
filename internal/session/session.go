// Package session implements the exam session controller: a per-attempt
// aggregate that counts down the time budget, escalates rule violations,
// periodically mirrors in-progress answers, and guarantees the final
// submission happens exactly once regardless of which trigger fires it.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/proktor/internal/mirror"
	"github.com/stemsi/proktor/internal/model"
	"github.com/stemsi/proktor/internal/remote"
)

// Internal state codes backing the atomic status field. Transitions only move
// forward; the SUBMITTING transition is claimed by compare-and-swap in the
// submitter.
const (
	stateNotStarted int32 = iota
	stateInProgress
	stateSubmitting
	stateSubmitted
	stateDisqualified
)

func statusOf(state int32) model.SessionStatus {
	switch state {
	case stateInProgress:
		return model.SessionStatusInProgress
	case stateSubmitting:
		return model.SessionStatusSubmitting
	case stateSubmitted:
		return model.SessionStatusSubmitted
	case stateDisqualified:
		return model.SessionStatusDisqualified
	default:
		return model.SessionStatusNotStarted
	}
}

var (
	// ErrAlreadyStarted is returned when Begin is called twice.
	ErrAlreadyStarted = errors.New("session already started")
	// ErrSessionClosed is returned for mutations after the session left
	// IN_PROGRESS.
	ErrSessionClosed = errors.New("session is not in progress")
)

// Config wires an Engine to its collaborators.
type Config struct {
	Ref       model.SessionRef
	Questions []model.Question

	TickInterval   time.Duration
	SyncInterval   time.Duration
	MaxViolations  int
	WarnCountdowns []int

	Mirror   mirror.Mirror
	Sink     remote.AnswerSink
	Scoring  remote.ScoringClient
	Reporter remote.ViolationReporter

	Listener Listener

	// OnEnded is the service-level hook invoked after the terminal state is
	// reached and the listener has been notified.
	OnEnded func(ref model.SessionRef, status model.SessionStatus, score *float64)

	Logger zerolog.Logger
}

// Engine is the exam session aggregate root. It owns the status state
// machine and composes the countdown timer, violation monitor, answer store,
// sync scheduler and submission controller.
type Engine struct {
	ref       model.SessionRef
	questions []model.Question

	state atomic.Int32

	store     *AnswerStore
	timer     *Countdown
	monitor   *Monitor
	syncer    *Syncer
	submitter *Submitter

	mirror mirror.Mirror

	listenMu sync.RWMutex
	listener Listener

	onEnded func(model.SessionRef, model.SessionStatus, *float64)

	log zerolog.Logger
}

// New creates an engine in NOT_STARTED with an empty answer map.
func New(cfg Config) *Engine {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 30 * time.Second
	}
	if cfg.MaxViolations <= 0 {
		cfg.MaxViolations = 3
	}
	if cfg.WarnCountdowns == nil {
		cfg.WarnCountdowns = []int{0, 10, 5}
	}
	if cfg.Listener == nil {
		cfg.Listener = NopListener{}
	}

	e := &Engine{
		ref:       cfg.Ref,
		questions: cfg.Questions,
		mirror:    cfg.Mirror,
		listener:  cfg.Listener,
		onEnded:   cfg.OnEnded,
		log: cfg.Logger.With().
			Str("component", "session_engine").
			Str("session_id", cfg.Ref.SessionID.String()).
			Int("student_id", cfg.Ref.StudentID).
			Logger(),
	}

	e.store = NewAnswerStore(cfg.Ref, cfg.Mirror, cfg.Logger)

	e.timer = NewCountdown(cfg.TickInterval,
		e.notifyTick,
		func() {
			// Timer expiry runs on the timer goroutine, which is done
			// ticking: dispatching synchronously is safe here.
			_ = e.Submit(context.Background(), TriggerTimeout)
		},
		cfg.Logger,
	)

	e.monitor = NewMonitor(cfg.Ref, cfg.MaxViolations, cfg.WarnCountdowns,
		cfg.Reporter,
		e.notifyViolation,
		func(count int64) {
			e.notifyMaxViolations(count)
			// Keep the caller's event path (usually the WS read loop)
			// unblocked while the scoring call runs.
			go func() {
				_ = e.Submit(context.Background(), TriggerMaxViolations)
			}()
		},
		cfg.Logger,
	)

	e.syncer = NewSyncer(cfg.Ref, cfg.SyncInterval, e.store, cfg.Sink,
		e.notifySyncStatus, cfg.Logger)

	e.submitter = NewSubmitter(cfg.Ref, &e.state, e.store, cfg.Scoring,
		e.halt, e.ended, cfg.Logger)

	return e
}

// Begin transitions NOT_STARTED → IN_PROGRESS: restores mirrored answers
// and the prior violation count, arms the monitor, starts the sync scheduler
// and starts the timer with the given budget. The mirror is read before the
// transition so a resume failure leaves the session startable.
//
// A resume can arrive with its budget already exhausted (violation count at
// the maximum, or zero seconds remaining); both end the session inside Begin
// through the normal submission path. The timer starts last for that reason:
// an immediate expiry must find the monitor and syncer running so halt()
// stops everything, never the other way around.
func (e *Engine) Begin(ctx context.Context, initialSeconds, initialViolations int64) error {
	snap, err := e.mirror.Load(ctx, e.ref)
	if err != nil {
		return err
	}

	if !e.state.CompareAndSwap(stateNotStarted, stateInProgress) {
		return ErrAlreadyStarted
	}

	if len(snap) > 0 {
		e.store.Restore(snap)
		e.log.Info().Int("answers", len(snap)).Msg("Session resumed from mirror")
	}

	if e.monitor.Seed(initialViolations) {
		e.log.Warn().
			Int64("violations", initialViolations).
			Msg("Violation budget already spent on resume")
		e.notifyMaxViolations(initialViolations)
		if err := e.Submit(ctx, TriggerMaxViolations); err != nil {
			e.log.Error().Err(err).Msg("Disqualification dispatch failed, session stays SUBMITTING for retry")
		}
		return nil
	}

	e.monitor.Arm()
	e.syncer.Start()
	e.timer.Start(initialSeconds)

	e.log.Info().Int64("budget_seconds", initialSeconds).Msg("Session started")
	return nil
}

// SetAnswer records an answer. Allowed only while IN_PROGRESS; a mutation
// arriving after the session moved on is rejected and the map is unchanged.
func (e *Engine) SetAnswer(ctx context.Context, questionID uuid.UUID, val model.AnswerValue) error {
	if e.state.Load() != stateInProgress {
		return ErrSessionClosed
	}
	return e.store.Set(ctx, questionID, val)
}

// Observe counts a violation event. Ignored outside IN_PROGRESS.
func (e *Engine) Observe(ctx context.Context, kind model.ViolationKind) {
	if e.state.Load() != stateInProgress {
		return
	}
	e.monitor.Observe(ctx, kind)
}

// Submit requests the terminal transition on behalf of a trigger.
func (e *Engine) Submit(ctx context.Context, trigger Trigger) error {
	return e.submitter.Submit(ctx, trigger)
}

// RetrySubmit re-dispatches a failed scoring call.
func (e *Engine) RetrySubmit(ctx context.Context) error {
	return e.submitter.Retry(ctx)
}

// SetListener swaps the presentation listener. A nil listener detaches.
func (e *Engine) SetListener(l Listener) {
	if l == nil {
		l = NopListener{}
	}
	e.listenMu.Lock()
	e.listener = l
	e.listenMu.Unlock()
}

// Ref returns the immutable session identity.
func (e *Engine) Ref() model.SessionRef {
	return e.ref
}

// Questions returns the fixed question set loaded at session start.
func (e *Engine) Questions() []model.Question {
	return e.questions
}

// Status returns the current lifecycle status.
func (e *Engine) Status() model.SessionStatus {
	return statusOf(e.state.Load())
}

// Remaining returns the remaining seconds of the time budget.
func (e *Engine) Remaining() int64 {
	return e.timer.Remaining()
}

// ViolationCount returns the violations counted so far.
func (e *Engine) ViolationCount() int64 {
	return e.monitor.Count()
}

// State assembles the reload payload for a reconnecting client.
func (e *Engine) State() *model.SessionState {
	return &model.SessionState{
		SessionID:        e.ref.SessionID,
		ExamID:           e.ref.ExamID,
		StudentID:        e.ref.StudentID,
		Status:           e.Status(),
		RemainingSeconds: e.Remaining(),
		ViolationCount:   e.ViolationCount(),
		Answers:          e.store.Snapshot(),
		LastSyncedAt:     e.syncer.LastSyncedAt(),
	}
}

// halt stops the periodic machinery the moment the session leaves
// IN_PROGRESS. Stale ticks arriving afterwards are ignored because every
// mutation path re-checks the status.
func (e *Engine) halt() {
	e.timer.Stop()
	e.syncer.Stop()
	e.monitor.Disarm()
}

// ended runs once after the terminal state is stored: clears the mirror,
// notifies the listener, then the service hook.
func (e *Engine) ended(status model.SessionStatus, score *float64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.mirror.Clear(ctx, e.ref); err != nil {
		e.log.Warn().Err(err).Msg("Mirror cleanup failed")
	}

	e.notifyEnded(status, score)

	if e.onEnded != nil {
		e.onEnded(e.ref, status, score)
	}
}

func (e *Engine) currentListener() Listener {
	e.listenMu.RLock()
	defer e.listenMu.RUnlock()
	return e.listener
}

func (e *Engine) notifyTick(remaining int64) {
	e.currentListener().OnTick(remaining)
}

func (e *Engine) notifyViolation(kind model.ViolationKind, count int64, warnSeconds int) {
	e.currentListener().OnViolation(kind, count, warnSeconds)
}

func (e *Engine) notifyMaxViolations(count int64) {
	e.currentListener().OnMaxViolations(count)
}

func (e *Engine) notifySyncStatus(syncing bool, online bool, lastSyncedAt *time.Time) {
	e.currentListener().OnSyncStatus(syncing, online, lastSyncedAt)
}

func (e *Engine) notifyEnded(status model.SessionStatus, score *float64) {
	e.currentListener().OnSessionEnded(status, score)
}
