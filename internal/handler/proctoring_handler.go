package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/edukita/proctor-backend/internal/config"
	"github.com/edukita/proctor-backend/internal/middleware"
	"github.com/edukita/proctor-backend/internal/model"
	"github.com/edukita/proctor-backend/internal/response"
	"github.com/edukita/proctor-backend/internal/service"
	"github.com/edukita/proctor-backend/internal/validator"
)

// ProctoringHandler handles the proctoring session REST endpoints.
type ProctoringHandler struct {
	proctoringService *service.ProctoringService
	rdb               *redis.Client
	log               zerolog.Logger
}

// NewProctoringHandler creates a new ProctoringHandler.
func NewProctoringHandler(proctoringService *service.ProctoringService, rdb *redis.Client, log zerolog.Logger) *ProctoringHandler {
	return &ProctoringHandler{
		proctoringService: proctoringService,
		rdb:               rdb,
		log:               log.With().Str("component", "proctoring_handler").Logger(),
	}
}

// StartSession godoc
// POST /api/v1/proctoring/sessions
// Opens a proctoring session for the authenticated exam taker.
func (h *ProctoringHandler) StartSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.StartSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	session, err := h.proctoringService.StartSession(c.Request.Context(), claims.UserID, &req)
	if err != nil {
		h.log.Error().Err(err).Str("quiz_id", req.QuizID).Msg("Start session failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	publishMonitorEvent(c.Request.Context(), h.rdb, h.log, session.QuizID, gin.H{
		"type":       "session_started",
		"session_id": session.ID.String(),
		"user_id":    session.UserID,
	})

	response.Success(c, http.StatusCreated, gin.H{"session": session})
}

// LogViolation godoc
// POST /api/v1/proctoring/sessions/:session_id/violations
// Records one detector event and returns the updated integrity state.
func (h *ProctoringHandler) LogViolation(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.LogViolationRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	session, err := h.proctoringService.VerifyOwnership(c.Request.Context(), sessionID, claims.UserID)
	if err != nil {
		h.failFromService(c, err)
		return
	}
	wasLocked := session.IsLocked

	result, err := h.proctoringService.LogViolation(c.Request.Context(), sessionID, model.ViolationType(req.Type), req.Details)
	if err != nil {
		h.failFromService(c, err)
		return
	}

	publishMonitorEvent(c.Request.Context(), h.rdb, h.log, session.QuizID, gin.H{
		"type":            "violation",
		"session_id":      sessionID.String(),
		"user_id":         session.UserID,
		"violation_type":  req.Type,
		"suspicion_score": result.SuspicionScore,
		"is_locked":       result.IsLocked,
	})
	if result.IsLocked && !wasLocked {
		publishMonitorEvent(c.Request.Context(), h.rdb, h.log, session.QuizID, gin.H{
			"type":        "session_locked",
			"session_id":  sessionID.String(),
			"user_id":     session.UserID,
			"lock_reason": result.LockReason,
		})
	}

	response.Success(c, http.StatusOK, result)
}

// AddSnapshot godoc
// POST /api/v1/proctoring/sessions/:session_id/snapshots
// Queues an evidence capture for async persistence. Returns 202 immediately;
// the snapshot worker drains the queue in batches.
func (h *ProctoringHandler) AddSnapshot(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.AddSnapshotRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	session, err := h.proctoringService.VerifyOwnership(c.Request.Context(), sessionID, claims.UserID)
	if err != nil {
		h.failFromService(c, err)
		return
	}

	if err := queueSnapshot(c.Request.Context(), h.rdb, session, &req); err != nil {
		h.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Snapshot enqueue failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusAccepted, gin.H{"queued": true})
}

// GetSessionStatus godoc
// GET /api/v1/proctoring/sessions/:session_id/status
// Returns the session's current integrity state, warnings included.
func (h *ProctoringHandler) GetSessionStatus(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if _, err := h.proctoringService.VerifyOwnership(c.Request.Context(), sessionID, claims.UserID); err != nil {
		h.failFromService(c, err)
		return
	}

	status, err := h.proctoringService.GetSessionStatus(c.Request.Context(), sessionID)
	if err != nil {
		h.failFromService(c, err)
		return
	}

	response.Success(c, http.StatusOK, status)
}

// EndSession godoc
// POST /api/v1/proctoring/sessions/:session_id/end
// Finalizes the session. Repeat calls are a no-op returning the finalized session.
func (h *ProctoringHandler) EndSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.EndSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if _, err := h.proctoringService.VerifyOwnership(c.Request.Context(), sessionID, claims.UserID); err != nil {
		h.failFromService(c, err)
		return
	}

	session, err := h.proctoringService.EndSession(c.Request.Context(), sessionID, model.SessionStatus(req.Status))
	if err != nil {
		h.failFromService(c, err)
		return
	}

	publishMonitorEvent(c.Request.Context(), h.rdb, h.log, session.QuizID, gin.H{
		"type":            "session_ended",
		"session_id":      session.ID.String(),
		"user_id":         session.UserID,
		"status":          session.Status,
		"suspicion_score": session.FinalSuspicionScore,
	})

	response.Success(c, http.StatusOK, gin.H{"session": session})
}

// GetReport godoc
// GET /api/v1/proctoring/sessions/:session_id/report
// Instructor-facing report with risk level and review recommendation.
func (h *ProctoringHandler) GetReport(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	report, err := h.proctoringService.GetReport(c.Request.Context(), sessionID)
	if err != nil {
		h.failFromService(c, err)
		return
	}

	response.Success(c, http.StatusOK, report)
}

// failFromService maps service sentinel errors onto API error codes.
func (h *ProctoringHandler) failFromService(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
	case errors.Is(err, service.ErrSessionEnded):
		response.Fail(c, http.StatusConflict, response.ErrSessionEnded)
	case errors.Is(err, service.ErrUnknownViolation):
		response.Fail(c, http.StatusBadRequest, response.ErrUnknownViolationType)
	case errors.Is(err, service.ErrInvalidEndStatus):
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidEndStatus)
	default:
		h.log.Error().Err(err).Msg("Proctoring operation failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

// publishMonitorEvent pushes a compact event onto the quiz's live monitor
// channel. Best-effort: monitoring must never fail the request.
func publishMonitorEvent(ctx context.Context, rdb *redis.Client, log zerolog.Logger, quizID string, event gin.H) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := rdb.Publish(ctx, config.CacheKey.QuizMonitorChannel(quizID), payload).Err(); err != nil {
		log.Debug().Err(err).Str("quiz_id", quizID).Msg("Monitor publish failed")
	}
}

// queueSnapshot pushes an evidence capture onto the persistence queue drained
// by the snapshot worker.
func queueSnapshot(ctx context.Context, rdb *redis.Client, session *model.ProctoringSession, req *model.AddSnapshotRequest) error {
	payload, err := json.Marshal(map[string]interface{}{
		"session_id":     session.ID.String(),
		"capture_ref":    req.CaptureRef,
		"violation_type": req.ViolationType,
		"captured_at":    time.Now().Unix(),
	})
	if err != nil {
		return err
	}
	return rdb.RPush(ctx, config.WorkerKey.PersistSnapshotsQueue, payload).Err()
}
