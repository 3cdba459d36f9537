package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/edukita/proctor-backend/internal/middleware"
	"github.com/edukita/proctor-backend/internal/model"
	"github.com/edukita/proctor-backend/internal/service"
	ws "github.com/edukita/proctor-backend/internal/websocket"
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

// WSHandler handles the detector event stream from the exam client.
type WSHandler struct {
	rdb               *redis.Client
	proctoringService *service.ProctoringService
	log               zerolog.Logger
	upgrader          websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(rdb *redis.Client, proctoringService *service.ProctoringService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		rdb:               rdb,
		proctoringService: proctoringService,
		log:               log.With().Str("component", "ws_handler").Logger(),
		upgrader:          buildUpgrader(allowedOrigins),
	}
}

// SessionWebSocketStream godoc
// WS /ws/v1/proctoring/sessions/:session_id/stream
// Upgrades to WebSocket so the proctoring client can stream detector events
// and evidence snapshots without per-event HTTP overhead. Every violation is
// answered with the updated score/lock state so the client can lock the exam
// UI immediately.
func (h *WSHandler) SessionWebSocketStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session ID"})
		return
	}

	// Validate ownership before upgrading; a foreign session ID gets no socket.
	session, err := h.proctoringService.VerifyOwnership(c.Request.Context(), sessionID, claims.UserID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Str("session_id", sessionID.String()).
		Str("user_id", claims.UserID).
		Logger()

	wsLog.Info().Msg("Proctoring client connected")

	for {
		var msg ws.RequestEnvelope
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}

		switch msg.Action {
		case ws.ActionViolation:
			h.handleViolation(conn, wsLog, session, &msg)
		case ws.ActionSnapshot:
			h.handleSnapshot(conn, wsLog, session, &msg)
		case ws.ActionPing:
			ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			ws.WriteError(conn, "unknown action: "+string(msg.Action))
		}
	}
}

// handleViolation scores one detector event and answers with the updated
// integrity state.
func (h *WSHandler) handleViolation(conn *websocket.Conn, wsLog zerolog.Logger, session *model.ProctoringSession, msg *ws.RequestEnvelope) {
	ctx := context.Background()

	if msg.Type == "" {
		ws.WriteError(conn, "type is required")
		return
	}

	wasLocked := session.IsLocked

	result, err := h.proctoringService.LogViolation(ctx, session.ID, model.ViolationType(msg.Type), msg.Details)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnknownViolation):
			ws.WriteError(conn, "unknown violation type: "+msg.Type)
		case errors.Is(err, service.ErrSessionEnded):
			ws.WriteError(conn, "session already ended")
		default:
			wsLog.Error().Err(err).Msg("Violation scoring failed")
			ws.WriteError(conn, "violation not recorded")
		}
		return
	}

	// Keep the connection-local view current for lock-transition publishing.
	session.IsLocked = result.IsLocked
	session.LockReason = result.LockReason
	session.SuspicionScore = result.SuspicionScore

	publishMonitorEvent(ctx, h.rdb, h.log, session.QuizID, gin.H{
		"type":            "violation",
		"session_id":      session.ID.String(),
		"user_id":         session.UserID,
		"violation_type":  msg.Type,
		"suspicion_score": result.SuspicionScore,
		"is_locked":       result.IsLocked,
	})
	if result.IsLocked && !wasLocked {
		publishMonitorEvent(ctx, h.rdb, h.log, session.QuizID, gin.H{
			"type":        "session_locked",
			"session_id":  session.ID.String(),
			"user_id":     session.UserID,
			"lock_reason": result.LockReason,
		})
	}

	ws.WriteTyped(conn, ws.ScoredResponse{
		Event:          ws.EventScored,
		Severity:       string(result.Violation.Severity),
		SuspicionScore: result.SuspicionScore,
		IsLocked:       result.IsLocked,
		LockReason:     result.LockReason,
	})
}

// handleSnapshot queues an evidence capture for async persistence.
func (h *WSHandler) handleSnapshot(conn *websocket.Conn, wsLog zerolog.Logger, session *model.ProctoringSession, msg *ws.RequestEnvelope) {
	ctx := context.Background()

	if msg.CaptureRef == "" {
		ws.WriteError(conn, "capture_ref is required")
		return
	}

	req := &model.AddSnapshotRequest{CaptureRef: msg.CaptureRef}
	if msg.ViolationType != "" {
		req.ViolationType = &msg.ViolationType
	}

	if err := queueSnapshot(ctx, h.rdb, session, req); err != nil {
		wsLog.Error().Err(err).Msg("Snapshot enqueue failed")
		ws.WriteError(conn, "snapshot not queued")
		return
	}

	ws.WriteTyped(conn, ws.QueuedResponse{Event: ws.EventQueued, Status: "ok"})
}
