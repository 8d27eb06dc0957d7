package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/proktor/internal/middleware"
	"github.com/stemsi/proktor/internal/model"
	"github.com/stemsi/proktor/internal/service"
	ws "github.com/stemsi/proktor/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams the live session over WebSocket: engine events out,
// answer/violation/submit actions in.
type WSHandler struct {
	sessionService *service.SessionService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessionService *service.SessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/student/exams/:exam_id/stream
// Upgrades to WebSocket and attaches the connection as the session's
// presentation listener. One listener per session; a new connection
// replaces the old one.
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid exam ID"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	studentID := claims.UserID

	wsLog := h.log.With().
		Int("student_id", studentID).
		Str("exam_id", examID.String()).
		Logger()

	sink := newConnSink(conn)

	// The session must be joined (live engine) before streaming.
	if err := h.sessionService.SetListener(examID, studentID, sink); err != nil {
		_ = sink.writeError("no active session for this exam")
		return
	}
	defer h.sessionService.SetListener(examID, studentID, nil)

	wsLog.Info().Msg("Student connected")

	for {
		var raw json.RawMessage
		if err := ws.ReadJSON(conn, &raw); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		var env ws.RequestEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			_ = sink.writeError("malformed message")
			continue
		}

		switch env.Action {
		case ws.ActionAnswer:
			h.handleAnswer(c.Request.Context(), sink, examID, studentID, raw)
		case ws.ActionViolation:
			h.handleViolation(c.Request.Context(), sink, examID, studentID, raw)
		case ws.ActionSubmit:
			h.handleSubmit(c.Request.Context(), sink, wsLog, examID, studentID)
		case ws.ActionPing:
			_ = sink.write(ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(env.Action)).Msg("Unknown action")
			_ = sink.writeError("unknown action: " + string(env.Action))
		}
	}
}

func (h *WSHandler) handleAnswer(ctx context.Context, sink *connSink, examID uuid.UUID, studentID int, raw json.RawMessage) {
	var req ws.AnswerRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		_ = sink.writeError("malformed answer payload")
		return
	}

	questionID, err := uuid.Parse(req.QID)
	if err != nil {
		_ = sink.writeError("invalid q_id format")
		return
	}

	if err := h.sessionService.SetAnswer(ctx, examID, studentID, questionID, req.Answer); err != nil {
		_ = sink.writeError(err.Error())
		return
	}

	_ = sink.write(ws.SavedResponse{Event: ws.EventSaved, QID: req.QID})
}

func (h *WSHandler) handleViolation(ctx context.Context, sink *connSink, examID uuid.UUID, studentID int, raw json.RawMessage) {
	var req ws.ViolationRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		_ = sink.writeError("malformed violation payload")
		return
	}

	if err := h.sessionService.Observe(ctx, examID, studentID, model.ViolationKind(req.Kind)); err != nil {
		_ = sink.writeError(err.Error())
	}
	// The acknowledgement is the OnViolation event pushed by the engine.
}

func (h *WSHandler) handleSubmit(ctx context.Context, sink *connSink, wsLog zerolog.Logger, examID uuid.UUID, studentID int) {
	if err := h.sessionService.Submit(ctx, examID, studentID); err != nil {
		wsLog.Error().Err(err).Msg("Submit failed")
		_ = sink.writeError("submission failed, retry available")
		return
	}
	// The terminal outcome arrives as the session_ended event.
}

// connSink serializes writes to one WebSocket connection and adapts the
// engine's listener callbacks to wire events. Engine callbacks run on timer
// and monitor goroutines concurrently with read-loop replies, so every write
// goes through the mutex.
type connSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newConnSink(conn *websocket.Conn) *connSink {
	return &connSink{conn: conn}
}

func (s *connSink) write(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ws.WriteTyped(s.conn, v)
}

func (s *connSink) writeError(msg string) error {
	return s.write(ws.ErrorResponse{Event: ws.EventError, Error: msg})
}

func (s *connSink) OnTick(remainingSeconds int64) {
	_ = s.write(ws.TickResponse{Event: ws.EventTick, RemainingSeconds: remainingSeconds})
}

func (s *connSink) OnViolation(kind model.ViolationKind, count int64, warnSeconds int) {
	_ = s.write(ws.ViolationResponse{
		Event:       ws.EventViolation,
		Kind:        string(kind),
		Count:       count,
		WarnSeconds: warnSeconds,
	})
}

func (s *connSink) OnMaxViolations(count int64) {
	_ = s.write(ws.MaxViolationsResponse{Event: ws.EventMaxViolations, Count: count})
}

func (s *connSink) OnSyncStatus(syncing bool, online bool, lastSyncedAt *time.Time) {
	var ts *int64
	if lastSyncedAt != nil {
		v := lastSyncedAt.Unix()
		ts = &v
	}
	_ = s.write(ws.SyncStatusResponse{
		Event:        ws.EventSyncStatus,
		Syncing:      syncing,
		Online:       online,
		LastSyncedAt: ts,
	})
}

func (s *connSink) OnSessionEnded(status model.SessionStatus, score *float64) {
	_ = s.write(ws.SessionEndedResponse{
		Event:  ws.EventSessionEnded,
		Status: string(status),
		Score:  score,
	})
}
