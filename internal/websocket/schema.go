package websocket

import (
	"github.com/stemsi/proktor/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer    Action = "answer"
	ActionViolation Action = "violation"
	ActionSubmit    Action = "submit"
	ActionPing      Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// AnswerRequest records a single answer for one question.
type AnswerRequest struct {
	Action Action            `json:"action"`
	QID    string            `json:"q_id"`
	Answer model.AnswerValue `json:"answer"`
}

// ViolationRequest reports a proctoring violation observed by the client.
type ViolationRequest struct {
	Action Action `json:"action"`
	Kind   string `json:"kind"`
}

// SubmitRequest asks to finish the exam voluntarily.
type SubmitRequest struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventTick          Event = "tick"
	EventViolation     Event = "violation"
	EventMaxViolations Event = "max_violations"
	EventSyncStatus    Event = "sync_status"
	EventSessionEnded  Event = "session_ended"
	EventSaved         Event = "saved"
	EventError         Event = "error"
	EventPong          Event = "pong"
)

// TickResponse carries the remaining seconds, once per timer tick.
type TickResponse struct {
	Event            Event `json:"event"`
	RemainingSeconds int64 `json:"remaining_seconds"`
}

// ViolationResponse carries the updated violation count plus the warning
// countdown the client should display. WarnSeconds of 0 means a plain
// warning with no countdown.
type ViolationResponse struct {
	Event       Event  `json:"event"`
	Kind        string `json:"kind"`
	Count       int64  `json:"count"`
	WarnSeconds int    `json:"warn_seconds"`
}

// MaxViolationsResponse fires once when the violation budget is spent.
type MaxViolationsResponse struct {
	Event Event `json:"event"`
	Count int64 `json:"count"`
}

// SyncStatusResponse reflects the passive sync indicator.
type SyncStatusResponse struct {
	Event        Event  `json:"event"`
	Syncing      bool   `json:"syncing"`
	Online       bool   `json:"online"`
	LastSyncedAt *int64 `json:"last_synced_at,omitempty"` // unix seconds
}

// SessionEndedResponse fires once with the terminal status. Score is nil
// for disqualified sessions.
type SessionEndedResponse struct {
	Event  Event    `json:"event"`
	Status string   `json:"status"`
	Score  *float64 `json:"score,omitempty"`
}

// SavedResponse acknowledges a stored answer.
type SavedResponse struct {
	Event Event  `json:"event"`
	QID   string `json:"q_id"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
