package session

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/proktor/internal/model"
	"github.com/stemsi/proktor/internal/remote"
)

const reportTimeout = 5 * time.Second

// Monitor counts prohibited-behavior events while armed and fires a
// max-violations signal exactly once when the configured budget is spent.
// Bursts are counted independently across kinds; events are only suppressed
// once the monitor is disarmed. The remote report is best-effort: the local
// count stays authoritative for escalation.
type Monitor struct {
	ref       model.SessionRef
	max       int64
	warnSteps []int

	armed    atomic.Bool
	count    atomic.Int64
	maxFired atomic.Bool

	reporter    remote.ViolationReporter
	onViolation func(kind model.ViolationKind, count int64, warnSeconds int)
	onMax       func(count int64)

	log zerolog.Logger
}

// NewMonitor creates a disarmed monitor. warnSteps holds the warning
// countdown seconds per escalation step; the last entry repeats for any
// further violation.
func NewMonitor(
	ref model.SessionRef,
	max int,
	warnSteps []int,
	reporter remote.ViolationReporter,
	onViolation func(model.ViolationKind, int64, int),
	onMax func(int64),
	log zerolog.Logger,
) *Monitor {
	return &Monitor{
		ref:         ref,
		max:         int64(max),
		warnSteps:   warnSteps,
		reporter:    reporter,
		onViolation: onViolation,
		onMax:       onMax,
		log:         log.With().Str("component", "violation_monitor").Logger(),
	}
}

// Arm starts watching. Idempotent.
func (m *Monitor) Arm() {
	m.armed.Store(true)
}

// Disarm stops counting. Further Observe calls are suppressed.
func (m *Monitor) Disarm() {
	m.armed.Store(false)
}

// Seed primes the counter when a resumed session already has recorded
// violations. Call before Arm. It reports whether the seeded count already
// spends the budget, in which case the caller must take the max-violations
// path instead of arming.
func (m *Monitor) Seed(n int64) bool {
	if n <= 0 {
		return false
	}
	m.count.Store(n)
	return n >= m.max
}

// Count returns the violations counted so far.
func (m *Monitor) Count() int64 {
	return m.count.Load()
}

// Observe counts one violation. Concurrent calls are each counted; the
// max-violations signal fires exactly once, after which the monitor disarms.
func (m *Monitor) Observe(ctx context.Context, kind model.ViolationKind) {
	if !m.armed.Load() {
		return
	}

	n := m.count.Add(1)
	warn := m.warnSeconds(n)

	m.log.Info().
		Str("kind", string(kind)).
		Int64("count", n).
		Msg("Violation observed")

	if m.onViolation != nil {
		m.onViolation(kind, n, warn)
	}

	if m.reporter != nil {
		go m.report(ctx, kind)
	}

	if n >= m.max && m.maxFired.CompareAndSwap(false, true) {
		m.armed.Store(false)
		m.log.Warn().Int64("count", n).Msg("Max violations reached")
		if m.onMax != nil {
			m.onMax(n)
		}
	}
}

// warnSeconds maps the Nth violation to its warning countdown duration.
func (m *Monitor) warnSeconds(n int64) int {
	if len(m.warnSteps) == 0 {
		return 0
	}
	idx := int(n) - 1
	if idx >= len(m.warnSteps) {
		idx = len(m.warnSteps) - 1
	}
	return m.warnSteps[idx]
}

func (m *Monitor) report(ctx context.Context, kind model.ViolationKind) {
	ctx, cancel := context.WithTimeout(ctx, reportTimeout)
	defer cancel()

	receipt, err := m.reporter.ReportViolation(ctx, m.ref, kind)
	if err != nil {
		m.log.Warn().Err(err).Str("kind", string(kind)).Msg("Violation report failed")
		return
	}
	if receipt.CurrentCount != m.count.Load() {
		m.log.Debug().
			Int64("remote", receipt.CurrentCount).
			Int64("local", m.count.Load()).
			Msg("Remote violation count drifted from local")
	}
}
