package session

import (
	"time"

	"github.com/stemsi/proktor/internal/model"
)

// Listener receives the engine's presentation events. The WebSocket handler
// implements it to push events to the connected client; everything is
// fire-and-forget from the engine's point of view.
type Listener interface {
	// OnTick fires once per timer tick with the remaining seconds.
	OnTick(remainingSeconds int64)
	// OnViolation fires for every counted violation. warnSeconds is the
	// countdown the client should display (0 means plain warning).
	OnViolation(kind model.ViolationKind, count int64, warnSeconds int)
	// OnMaxViolations fires exactly once when the violation budget is spent.
	OnMaxViolations(count int64)
	// OnSyncStatus reflects the sync scheduler's passive status indicator.
	OnSyncStatus(syncing bool, online bool, lastSyncedAt *time.Time)
	// OnSessionEnded fires exactly once with the terminal status. score is
	// nil for disqualified sessions.
	OnSessionEnded(status model.SessionStatus, score *float64)
}

// NopListener discards all events.
type NopListener struct{}

func (NopListener) OnTick(int64)                                 {}
func (NopListener) OnViolation(model.ViolationKind, int64, int)  {}
func (NopListener) OnMaxViolations(int64)                        {}
func (NopListener) OnSyncStatus(bool, bool, *time.Time)          {}
func (NopListener) OnSessionEnded(model.SessionStatus, *float64) {}
