package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/stemsi/proktor/internal/model"
	"github.com/stemsi/proktor/internal/remote"
)

// Trigger identifies which path requested the terminal transition.
type Trigger string

const (
	TriggerManual        Trigger = "manual"
	TriggerTimeout       Trigger = "timeout"
	TriggerMaxViolations Trigger = "max_violations"
)

var (
	// ErrSubmissionInFlight is returned when a retry races an outstanding
	// scoring call.
	ErrSubmissionInFlight = errors.New("a submission is already in flight")
	// ErrNothingToRetry is returned when Retry is called outside SUBMITTING.
	ErrNothingToRetry = errors.New("no failed submission to retry")
)

// Submitter is the single authority over the session's terminal transition.
// The compare-and-swap on the shared state field is the one place true
// synchronization decides correctness: exactly one of {manual, timeout,
// max violations} wins the race to SUBMITTING; every loser observes the
// state already changed and becomes a no-op.
type Submitter struct {
	ref     model.SessionRef
	state   *atomic.Int32
	store   *AnswerStore
	scoring remote.ScoringClient

	// halt stops the timer and sync scheduler and disarms the monitor.
	// Invoked exactly once, by the CAS winner.
	halt func()

	// onEnded runs once the terminal state is reached.
	onEnded func(status model.SessionStatus, score *float64)

	inFlight atomic.Bool

	// trigger and forced are written once by the CAS winner before any
	// dispatch, and only read afterwards (including by retries).
	trigger Trigger
	forced  bool

	log zerolog.Logger
}

// NewSubmitter wires the submission controller to the shared session state.
func NewSubmitter(
	ref model.SessionRef,
	state *atomic.Int32,
	store *AnswerStore,
	scoring remote.ScoringClient,
	halt func(),
	onEnded func(model.SessionStatus, *float64),
	log zerolog.Logger,
) *Submitter {
	return &Submitter{
		ref:     ref,
		state:   state,
		store:   store,
		scoring: scoring,
		halt:    halt,
		onEnded: onEnded,
		log:     log.With().Str("component", "submitter").Logger(),
	}
}

// Submit attempts the terminal transition. Calls made while the session is
// not IN_PROGRESS are no-ops by design: the duplicate-trigger race is fully
// absorbed here, never surfaced as an error.
func (s *Submitter) Submit(ctx context.Context, trigger Trigger) error {
	if !s.state.CompareAndSwap(stateInProgress, stateSubmitting) {
		s.log.Debug().Str("trigger", string(trigger)).Msg("Submission ignored, session not in progress")
		return nil
	}

	s.trigger = trigger
	s.forced = trigger != TriggerManual

	s.log.Info().
		Str("trigger", string(trigger)).
		Bool("forced", s.forced).
		Msg("Submission started")

	s.halt()

	return s.dispatch(ctx)
}

// Retry re-dispatches a failed scoring call. Only valid while the session is
// stuck in SUBMITTING; the in-flight guard rejects a retry racing an
// outstanding request.
func (s *Submitter) Retry(ctx context.Context) error {
	if s.state.Load() != stateSubmitting {
		return ErrNothingToRetry
	}
	return s.dispatch(ctx)
}

// dispatch performs the scoring call at most once concurrently. On failure
// the session stays SUBMITTING so the caller can retry; on success the
// terminal state is stored before anyone is notified.
func (s *Submitter) dispatch(ctx context.Context) error {
	if !s.inFlight.CompareAndSwap(false, true) {
		return ErrSubmissionInFlight
	}
	defer s.inFlight.Store(false)

	snap := s.store.Snapshot()

	result, err := s.scoring.SubmitForScoring(ctx, s.ref, snap, s.forced)
	if err != nil {
		s.log.Error().Err(err).Msg("Scoring call failed, session stays SUBMITTING for retry")
		return fmt.Errorf("submit for scoring: %w", err)
	}

	status := model.SessionStatusSubmitted
	final := stateSubmitted
	var score *float64

	if result.Status == model.ScoreStatusDisqualified || s.trigger == TriggerMaxViolations {
		status = model.SessionStatusDisqualified
		final = stateDisqualified
	} else {
		v := result.Score
		score = &v
	}

	s.state.Store(final)

	s.log.Info().
		Str("status", string(status)).
		Str("trigger", string(s.trigger)).
		Msg("Session ended")

	if s.onEnded != nil {
		s.onEnded(status, score)
	}
	return nil
}
