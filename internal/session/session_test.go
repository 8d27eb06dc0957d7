package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/proktor/internal/mirror"
	"github.com/stemsi/proktor/internal/model"
)

// ─── Test doubles ───────────────────────────────────────────────────

type sinkStub struct {
	mu     sync.Mutex
	pushes int
	err    error
	last   model.AnswerSnapshot
	pushed chan model.AnswerSnapshot
}

func newSinkStub() *sinkStub {
	return &sinkStub{pushed: make(chan model.AnswerSnapshot, 32)}
}

func (s *sinkStub) PushAnswers(_ context.Context, _ model.SessionRef, snap model.AnswerSnapshot) error {
	s.mu.Lock()
	s.pushes++
	s.last = snap
	err := s.err
	s.mu.Unlock()
	if err == nil {
		select {
		case s.pushed <- snap:
		default:
		}
	}
	return err
}

func (s *sinkStub) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *sinkStub) pushCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushes
}

type scoringStub struct {
	mu     sync.Mutex
	calls  int
	err    error
	result model.ScoreResult
	forced []bool
	block  chan struct{} // closed to release a blocked call; nil means no block
}

func newScoringStub(score float64) *scoringStub {
	return &scoringStub{result: model.ScoreResult{Score: score, Status: model.ScoreStatusOK}}
}

func (s *scoringStub) SubmitForScoring(_ context.Context, _ model.SessionRef, _ model.AnswerSnapshot, forced bool) (*model.ScoreResult, error) {
	s.mu.Lock()
	s.calls++
	s.forced = append(s.forced, forced)
	err := s.err
	result := s.result
	block := s.block
	s.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *scoringStub) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *scoringStub) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

type reporterStub struct {
	mu      sync.Mutex
	reports []model.ViolationKind
	err     error
}

func (r *reporterStub) ReportViolation(_ context.Context, _ model.SessionRef, kind model.ViolationKind) (*model.ViolationReceipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.reports = append(r.reports, kind)
	return &model.ViolationReceipt{CurrentCount: int64(len(r.reports))}, nil
}

// recListener records engine events and signals terminal transitions.
type recListener struct {
	mu         sync.Mutex
	ticks      []int64
	violations []int64
	warns      []int
	maxFired   int
	endStatus  model.SessionStatus
	endScore   *float64
	ended      chan struct{}
	endedOnce  sync.Once
}

func newRecListener() *recListener {
	return &recListener{ended: make(chan struct{})}
}

func (l *recListener) OnTick(remaining int64) {
	l.mu.Lock()
	l.ticks = append(l.ticks, remaining)
	l.mu.Unlock()
}

func (l *recListener) OnViolation(_ model.ViolationKind, count int64, warnSeconds int) {
	l.mu.Lock()
	l.violations = append(l.violations, count)
	l.warns = append(l.warns, warnSeconds)
	l.mu.Unlock()
}

func (l *recListener) OnMaxViolations(int64) {
	l.mu.Lock()
	l.maxFired++
	l.mu.Unlock()
}

func (l *recListener) OnSyncStatus(bool, bool, *time.Time) {}

func (l *recListener) OnSessionEnded(status model.SessionStatus, score *float64) {
	l.mu.Lock()
	l.endStatus = status
	l.endScore = score
	l.mu.Unlock()
	l.endedOnce.Do(func() { close(l.ended) })
}

func (l *recListener) waitEnded(t *testing.T) {
	t.Helper()
	select {
	case <-l.ended:
	case <-time.After(3 * time.Second):
		t.Fatal("session did not reach a terminal state in time")
	}
}

func testRef() model.SessionRef {
	return model.SessionRef{
		SessionID: uuid.New(),
		ExamID:    uuid.New(),
		StudentID: 42,
	}
}

func choiceAnswer(c string) model.AnswerValue {
	return model.AnswerValue{Kind: model.AnswerKindChoice, Choice: c}
}

type engineDeps struct {
	mirror   *mirror.MemoryMirror
	sink     *sinkStub
	scoring  *scoringStub
	reporter *reporterStub
	listener *recListener
}

func newEngine(t *testing.T, mutate func(*Config)) (*Engine, *engineDeps) {
	t.Helper()
	deps := &engineDeps{
		mirror:   mirror.NewMemoryMirror(),
		sink:     newSinkStub(),
		scoring:  newScoringStub(85),
		reporter: &reporterStub{},
		listener: newRecListener(),
	}
	cfg := Config{
		Ref:            testRef(),
		Questions:      []model.Question{{ID: uuid.New()}, {ID: uuid.New()}},
		TickInterval:   10 * time.Millisecond,
		SyncInterval:   20 * time.Millisecond,
		MaxViolations:  3,
		WarnCountdowns: []int{0, 10, 5},
		Mirror:         deps.mirror,
		Sink:           deps.sink,
		Scoring:        deps.scoring,
		Reporter:       deps.reporter,
		Listener:       deps.listener,
		Logger:         zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg), deps
}

// ─── Lifecycle ──────────────────────────────────────────────────────

func TestEngineBeginTransitionsToInProgress(t *testing.T) {
	eng, _ := newEngine(t, nil)

	if eng.Status() != model.SessionStatusNotStarted {
		t.Fatalf("status before begin = %s", eng.Status())
	}

	if err := eng.Begin(context.Background(), 600, 0); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer eng.Submit(context.Background(), TriggerManual)

	if eng.Status() != model.SessionStatusInProgress {
		t.Fatalf("status after begin = %s", eng.Status())
	}
	if eng.Remaining() != 600 {
		t.Fatalf("remaining = %d, want 600", eng.Remaining())
	}
}

func TestEngineBeginTwiceFails(t *testing.T) {
	eng, _ := newEngine(t, nil)

	if err := eng.Begin(context.Background(), 600, 0); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer eng.Submit(context.Background(), TriggerManual)

	if err := eng.Begin(context.Background(), 600, 0); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Begin = %v, want ErrAlreadyStarted", err)
	}
}

func TestEngineResumesAnswersFromMirror(t *testing.T) {
	m := mirror.NewMemoryMirror()
	ref := testRef()
	qid := uuid.New()
	if err := m.Save(context.Background(), ref, qid, choiceAnswer("B")); err != nil {
		t.Fatalf("seed mirror: %v", err)
	}

	eng, _ := newEngine(t, func(cfg *Config) {
		cfg.Ref = ref
		cfg.Mirror = m
		cfg.Questions = []model.Question{{ID: qid}}
	})

	if err := eng.Begin(context.Background(), 600, 0); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer eng.Submit(context.Background(), TriggerManual)

	state := eng.State()
	got, ok := state.Answers[qid]
	if !ok {
		t.Fatal("restored answer missing from state")
	}
	if got.Choice != "B" {
		t.Fatalf("restored choice = %q, want B", got.Choice)
	}
}

func TestEngineSeedsPriorViolations(t *testing.T) {
	eng, deps := newEngine(t, nil)

	if err := eng.Begin(context.Background(), 600, 2); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	if eng.ViolationCount() != 2 {
		t.Fatalf("seeded count = %d, want 2", eng.ViolationCount())
	}

	// One more violation spends the budget of 3.
	eng.Observe(context.Background(), model.ViolationFocusLoss)
	deps.listener.waitEnded(t)

	if deps.listener.endStatus != model.SessionStatusDisqualified {
		t.Fatalf("end status = %s, want DISQUALIFIED", deps.listener.endStatus)
	}
}

func TestEngineExpiredBudgetEndsWithoutRestartingMachinery(t *testing.T) {
	m := mirror.NewMemoryMirror()
	ref := testRef()
	qid := uuid.New()
	if err := m.Save(context.Background(), ref, qid, choiceAnswer("B")); err != nil {
		t.Fatalf("seed mirror: %v", err)
	}

	eng, deps := newEngine(t, func(cfg *Config) {
		cfg.Ref = ref
		cfg.Mirror = m
		cfg.Questions = []model.Question{{ID: qid}}
	})

	// Rejoining after the exam window closed: zero seconds left.
	if err := eng.Begin(context.Background(), 0, 0); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	deps.listener.waitEnded(t)

	if eng.Status() != model.SessionStatusSubmitted {
		t.Fatalf("status = %s, want SUBMITTED", eng.Status())
	}
	if eng.Remaining() != 0 {
		t.Fatalf("remaining = %d, want 0", eng.Remaining())
	}

	// Several sync intervals of quiet: the scheduler must not be running
	// on a session that ended during Begin.
	time.Sleep(100 * time.Millisecond)
	if n := deps.sink.pushCount(); n != 0 {
		t.Fatalf("sink pushed %d time(s) after the session ended", n)
	}

	// The monitor must not be counting either.
	eng.Observe(context.Background(), model.ViolationFocusLoss)
	if n := eng.ViolationCount(); n != 0 {
		t.Fatalf("violation counted after the session ended: %d", n)
	}
}

func TestEngineResumeWithSpentViolationBudgetDisqualifies(t *testing.T) {
	eng, deps := newEngine(t, nil)

	// The prior run already burned all 3 violations.
	if err := eng.Begin(context.Background(), 600, 3); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	deps.listener.waitEnded(t)

	if eng.Status() != model.SessionStatusDisqualified {
		t.Fatalf("status = %s, want DISQUALIFIED", eng.Status())
	}

	deps.listener.mu.Lock()
	maxFired := deps.listener.maxFired
	endScore := deps.listener.endScore
	deps.listener.mu.Unlock()
	if maxFired != 1 {
		t.Fatalf("max violations fired %d time(s), want 1", maxFired)
	}
	if endScore != nil {
		t.Fatalf("disqualified session carried a score: %v", *endScore)
	}

	if n := deps.scoring.callCount(); n != 1 {
		t.Fatalf("scoring called %d time(s), want 1", n)
	}
	deps.scoring.mu.Lock()
	forced := deps.scoring.forced[0]
	deps.scoring.mu.Unlock()
	if !forced {
		t.Fatal("disqualification submit was not forced")
	}
}

// ─── Answer mutations ───────────────────────────────────────────────

func TestEngineSetAnswerWhileInProgress(t *testing.T) {
	eng, deps := newEngine(t, nil)
	qid := eng.Questions()[0].ID

	if err := eng.Begin(context.Background(), 600, 0); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer eng.Submit(context.Background(), TriggerManual)

	if err := eng.SetAnswer(context.Background(), qid, choiceAnswer("A")); err != nil {
		t.Fatalf("SetAnswer: %v", err)
	}

	// Write-through: the mirror has the answer immediately.
	snap, err := deps.mirror.Load(context.Background(), eng.Ref())
	if err != nil {
		t.Fatalf("mirror load: %v", err)
	}
	if snap[qid].Choice != "A" {
		t.Fatalf("mirrored choice = %q, want A", snap[qid].Choice)
	}
}

func TestEngineRejectsMutationsAfterTerminal(t *testing.T) {
	eng, deps := newEngine(t, nil)
	qid := eng.Questions()[0].ID

	if err := eng.Begin(context.Background(), 600, 0); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := eng.Submit(context.Background(), TriggerManual); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	deps.listener.waitEnded(t)

	if err := eng.SetAnswer(context.Background(), qid, choiceAnswer("C")); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("SetAnswer after end = %v, want ErrSessionClosed", err)
	}
	if len(eng.State().Answers) != 0 {
		t.Fatal("answer map mutated after terminal state")
	}

	// Violations after the end are silently ignored, not counted.
	eng.Observe(context.Background(), model.ViolationClipboard)
	if eng.ViolationCount() != 0 {
		t.Fatalf("violation counted after terminal state: %d", eng.ViolationCount())
	}
}

// ─── Scenario: timer expiry during submission races ─────────────────

func TestEngineTimeoutAutoSubmits(t *testing.T) {
	eng, deps := newEngine(t, nil)

	if err := eng.Begin(context.Background(), 2, 0); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	deps.listener.waitEnded(t)

	if deps.listener.endStatus != model.SessionStatusSubmitted {
		t.Fatalf("end status = %s, want SUBMITTED", deps.listener.endStatus)
	}
	if deps.scoring.callCount() != 1 {
		t.Fatalf("scoring calls = %d, want 1", deps.scoring.callCount())
	}
	deps.scoring.mu.Lock()
	forced := deps.scoring.forced[0]
	deps.scoring.mu.Unlock()
	if !forced {
		t.Fatal("timeout submission must be forced")
	}
	if eng.Remaining() != 0 {
		t.Fatalf("remaining after expiry = %d", eng.Remaining())
	}
}

func TestEngineManualSubmitBeatsTimeout(t *testing.T) {
	// Manual submit lands while the timer is about to expire; whoever wins
	// the CAS submits, the other is a no-op: never two scoring calls.
	eng, deps := newEngine(t, nil)

	if err := eng.Begin(context.Background(), 1, 0); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := eng.Submit(context.Background(), TriggerManual); err != nil {
				t.Errorf("Submit: %v", err)
			}
		}()
	}
	wg.Wait()
	deps.listener.waitEnded(t)

	// Give the racing timer path a moment to (incorrectly) double-submit.
	time.Sleep(50 * time.Millisecond)

	if deps.scoring.callCount() != 1 {
		t.Fatalf("scoring calls = %d, want exactly 1", deps.scoring.callCount())
	}
	status := eng.Status()
	if status != model.SessionStatusSubmitted {
		t.Fatalf("status = %s, want SUBMITTED", status)
	}
}

// ─── Scenario: violation cascade ────────────────────────────────────

func TestEngineMaxViolationsDisqualifies(t *testing.T) {
	eng, deps := newEngine(t, nil)

	if err := eng.Begin(context.Background(), 600, 0); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	eng.Observe(context.Background(), model.ViolationFocusLoss)
	eng.Observe(context.Background(), model.ViolationClipboard)
	eng.Observe(context.Background(), model.ViolationShortcut)

	deps.listener.waitEnded(t)

	if deps.listener.endStatus != model.SessionStatusDisqualified {
		t.Fatalf("end status = %s, want DISQUALIFIED", deps.listener.endStatus)
	}
	if deps.listener.endScore != nil {
		t.Fatal("disqualified session must carry no score")
	}
	deps.listener.mu.Lock()
	maxFired := deps.listener.maxFired
	warns := append([]int(nil), deps.listener.warns...)
	deps.listener.mu.Unlock()
	if maxFired != 1 {
		t.Fatalf("max violations fired %d times, want 1", maxFired)
	}
	if len(warns) != 3 || warns[0] != 0 || warns[1] != 10 || warns[2] != 5 {
		t.Fatalf("warn countdowns = %v, want [0 10 5]", warns)
	}
}

func TestEngineViolationBurstSubmitsOnce(t *testing.T) {
	eng, deps := newEngine(t, nil)

	if err := eng.Begin(context.Background(), 600, 0); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			eng.Observe(context.Background(), model.ViolationFocusLoss)
		}()
	}
	wg.Wait()
	deps.listener.waitEnded(t)
	time.Sleep(50 * time.Millisecond)

	if deps.scoring.callCount() != 1 {
		t.Fatalf("scoring calls = %d, want exactly 1", deps.scoring.callCount())
	}
	if eng.Status() != model.SessionStatusDisqualified {
		t.Fatalf("status = %s, want DISQUALIFIED", eng.Status())
	}
}

// ─── Scoring failure and retry ──────────────────────────────────────

func TestEngineRetryAfterScoringFailure(t *testing.T) {
	eng, deps := newEngine(t, nil)
	deps.scoring.setErr(errors.New("scoring service down"))

	if err := eng.Begin(context.Background(), 600, 0); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	if err := eng.Submit(context.Background(), TriggerManual); err == nil {
		t.Fatal("Submit should surface the scoring failure")
	}
	if eng.Status() != model.SessionStatusSubmitting {
		t.Fatalf("status after failed submit = %s, want SUBMITTING", eng.Status())
	}

	// Answers stay frozen while stuck in SUBMITTING.
	qid := eng.Questions()[0].ID
	if err := eng.SetAnswer(context.Background(), qid, choiceAnswer("A")); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("SetAnswer in SUBMITTING = %v, want ErrSessionClosed", err)
	}

	deps.scoring.setErr(nil)
	if err := eng.RetrySubmit(context.Background()); err != nil {
		t.Fatalf("RetrySubmit: %v", err)
	}
	deps.listener.waitEnded(t)

	if eng.Status() != model.SessionStatusSubmitted {
		t.Fatalf("status after retry = %s, want SUBMITTED", eng.Status())
	}
	if deps.listener.endScore == nil || *deps.listener.endScore != 85 {
		t.Fatalf("score = %v, want 85", deps.listener.endScore)
	}
}

func TestEngineDisqualifiedVerdictFromScoring(t *testing.T) {
	eng, deps := newEngine(t, nil)
	deps.scoring.mu.Lock()
	deps.scoring.result = model.ScoreResult{Status: model.ScoreStatusDisqualified}
	deps.scoring.mu.Unlock()

	if err := eng.Begin(context.Background(), 600, 0); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := eng.Submit(context.Background(), TriggerManual); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	deps.listener.waitEnded(t)

	if eng.Status() != model.SessionStatusDisqualified {
		t.Fatalf("status = %s, want DISQUALIFIED", eng.Status())
	}
}

// ─── Terminal cleanup ───────────────────────────────────────────────

func TestEngineClearsMirrorOnEnd(t *testing.T) {
	eng, deps := newEngine(t, nil)
	qid := eng.Questions()[0].ID

	if err := eng.Begin(context.Background(), 600, 0); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := eng.SetAnswer(context.Background(), qid, choiceAnswer("A")); err != nil {
		t.Fatalf("SetAnswer: %v", err)
	}
	if err := eng.Submit(context.Background(), TriggerManual); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	deps.listener.waitEnded(t)

	snap, err := deps.mirror.Load(context.Background(), eng.Ref())
	if err != nil {
		t.Fatalf("mirror load: %v", err)
	}
	if len(snap) != 0 {
		t.Fatalf("mirror not cleared, %d answers remain", len(snap))
	}
}

func TestEngineOnEndedHookFires(t *testing.T) {
	var (
		hookMu     sync.Mutex
		hookStatus model.SessionStatus
		hookCalls  int
	)
	done := make(chan struct{})

	eng, deps := newEngine(t, func(cfg *Config) {
		cfg.OnEnded = func(_ model.SessionRef, status model.SessionStatus, _ *float64) {
			hookMu.Lock()
			hookStatus = status
			hookCalls++
			hookMu.Unlock()
			close(done)
		}
	})

	if err := eng.Begin(context.Background(), 600, 0); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := eng.Submit(context.Background(), TriggerManual); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	deps.listener.waitEnded(t)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnEnded hook never fired")
	}

	hookMu.Lock()
	defer hookMu.Unlock()
	if hookCalls != 1 {
		t.Fatalf("OnEnded fired %d times, want 1", hookCalls)
	}
	if hookStatus != model.SessionStatusSubmitted {
		t.Fatalf("hook status = %s, want SUBMITTED", hookStatus)
	}
}
