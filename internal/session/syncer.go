package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/proktor/internal/model"
	"github.com/stemsi/proktor/internal/remote"
)

const pushTimeout = 10 * time.Second

// Syncer pushes answer snapshots to the remote persistence endpoint on a
// fixed interval. Failures are logged and retried on the next tick: no
// backoff, no immediate retry, no local state loss. Each push is tagged with
// a generation so a push completing after the session moved on is discarded:
// a stale success must not resurrect lastSyncedAt and a stale failure must
// not be surfaced.
type Syncer struct {
	ref      model.SessionRef
	interval time.Duration
	store    *AnswerStore
	sink     remote.AnswerSink

	mu     sync.Mutex
	cancel context.CancelFunc

	generation atomic.Int64
	online     atomic.Bool

	lastMu       sync.Mutex
	lastSyncedAt *time.Time

	onStatus func(syncing bool, online bool, lastSyncedAt *time.Time)

	log zerolog.Logger
}

// NewSyncer creates a stopped syncer.
func NewSyncer(
	ref model.SessionRef,
	interval time.Duration,
	store *AnswerStore,
	sink remote.AnswerSink,
	onStatus func(bool, bool, *time.Time),
	log zerolog.Logger,
) *Syncer {
	s := &Syncer{
		ref:      ref,
		interval: interval,
		store:    store,
		sink:     sink,
		onStatus: onStatus,
		log:      log.With().Str("component", "sync_scheduler").Logger(),
	}
	s.online.Store(true)
	return s
}

// Start begins the periodic push loop. Idempotent while running.
func (s *Syncer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(ctx)
}

// Stop cancels the loop and bumps the generation so any in-flight push result
// is discarded on completion. The push itself is not aborted mid-flight.
func (s *Syncer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.generation.Add(1)
}

// LastSyncedAt returns the timestamp of the last confirmed push, nil if none.
func (s *Syncer) LastSyncedAt() *time.Time {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	if s.lastSyncedAt == nil {
		return nil
	}
	t := *s.lastSyncedAt
	return &t
}

// Online reports the connectivity derived from push outcomes. Display only;
// it never alters push scheduling.
func (s *Syncer) Online() bool {
	return s.online.Load()
}

func (s *Syncer) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pushOnce()
		}
	}
}

// pushOnce performs one best-effort push. Skipped while the answer set is
// empty. Runs on its own timeout, deliberately not the loop context, so a
// Stop during a push lets the push finish and only discards its result.
func (s *Syncer) pushOnce() {
	if s.store.Len() == 0 {
		return
	}

	gen := s.generation.Load()
	snap := s.store.Snapshot()
	s.notify(true)

	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()
	err := s.sink.PushAnswers(ctx, s.ref, snap)

	if s.generation.Load() != gen {
		// Session moved on while the push was in flight.
		return
	}

	if err != nil {
		s.online.Store(false)
		s.log.Warn().Err(err).Msg("Answer sync failed, retrying next interval")
		s.notify(false)
		return
	}

	now := time.Now()
	s.lastMu.Lock()
	s.lastSyncedAt = &now
	s.lastMu.Unlock()
	s.online.Store(true)

	s.log.Debug().Int("answers", len(snap)).Msg("Answers synced")
	s.notify(false)
}

func (s *Syncer) notify(syncing bool) {
	if s.onStatus != nil {
		s.onStatus(syncing, s.Online(), s.LastSyncedAt())
	}
}
