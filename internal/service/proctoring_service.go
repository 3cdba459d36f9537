package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/edukita/proctor-backend/internal/model"
	"github.com/edukita/proctor-backend/internal/repository"
)

// Common proctoring errors.
var (
	ErrSessionNotFound  = errors.New("proctoring session not found")
	ErrSessionEnded     = errors.New("proctoring session already ended")
	ErrUnknownViolation = errors.New("unknown violation type")
	ErrInvalidEndStatus = errors.New("invalid end status")
)

// maxAppendRetries bounds the optimistic retry loop when concurrent detector
// events race on the same session.
const maxAppendRetries = 5

// SessionStore is the persistence collaborator for proctoring sessions.
// GetByID returns pgx.ErrNoRows when the session does not exist;
// AppendViolation and Finalize return repository.ErrVersionConflict when the
// session row changed since it was read.
type SessionStore interface {
	Create(ctx context.Context, s *model.ProctoringSession) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.ProctoringSession, error)
	AppendViolation(ctx context.Context, s *model.ProctoringSession, v *model.Violation) error
	Finalize(ctx context.Context, s *model.ProctoringSession) error
	UpdateQuizResult(ctx context.Context, resultID string, summary *model.ResultSummary) error
}

// ProctoringService owns the proctoring session lifecycle: start, violation
// scoring and lock decisions, status projection, reports, and finalization.
type ProctoringService struct {
	store SessionStore
	log   zerolog.Logger
	now   func() time.Time
}

// NewProctoringService creates a new ProctoringService.
func NewProctoringService(store SessionStore, log zerolog.Logger) *ProctoringService {
	return &ProctoringService{
		store: store,
		log:   log.With().Str("component", "proctoring_service").Logger(),
		now:   time.Now,
	}
}

// LogViolationResult is what LogViolation reports back to the client so it
// can lock the exam UI immediately.
type LogViolationResult struct {
	Violation      *model.Violation `json:"violation"`
	SuspicionScore int              `json:"suspicion_score"`
	IsLocked       bool             `json:"is_locked"`
	LockReason     *string          `json:"lock_reason,omitempty"`
	Warnings       []Warning        `json:"warnings,omitempty"`
}

// SessionStatusView is the read-side projection served to the exam client.
type SessionStatusView struct {
	SessionID       uuid.UUID                   `json:"session_id"`
	IsActive        bool                        `json:"is_active"`
	IsLocked        bool                        `json:"is_locked"`
	LockReason      *string                     `json:"lock_reason,omitempty"`
	SuspicionScore  int                         `json:"suspicion_score"`
	Violations      []model.Violation           `json:"violations"`
	ViolationCounts map[model.ViolationType]int `json:"violation_counts"`
	Warnings        []Warning                   `json:"warnings,omitempty"`
}

// SessionReport is the instructor-facing projection of a session.
type SessionReport struct {
	SessionID       uuid.UUID                   `json:"session_id"`
	UserID          string                      `json:"user_id"`
	QuizID          string                      `json:"quiz_id"`
	Status          model.SessionStatus         `json:"status"`
	StartedAt       time.Time                   `json:"started_at"`
	EndedAt         *time.Time                  `json:"ended_at,omitempty"`
	DurationSeconds *float64                    `json:"duration_seconds,omitempty"`
	SuspicionScore  int                         `json:"suspicion_score"`
	RiskLevel       string                      `json:"risk_level"`
	Violations      []model.Violation           `json:"violations"`
	ViolationCounts map[model.ViolationType]int `json:"violation_counts"`
	Recommendation  string                      `json:"recommendation"`
}

// StartSession opens a fresh session for one quiz attempt. No uniqueness is
// enforced here; the platform decides whether duplicate concurrent attempts
// for the same (user, quiz) pair are allowed.
func (s *ProctoringService) StartSession(ctx context.Context, userID string, req *model.StartSessionRequest) (*model.ProctoringSession, error) {
	session := &model.ProctoringSession{
		UserID:      userID,
		QuizID:      req.QuizID,
		ResultID:    req.ResultID,
		Status:      model.SessionStatusActive,
		StartedAt:   s.now(),
		BrowserInfo: req.BrowserInfo,
		Metadata:    req.Metadata,
		Violations:  []model.Violation{},
	}

	if err := s.store.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.log.Info().
		Str("session_id", session.ID.String()).
		Str("quiz_id", session.QuizID).
		Str("user_id", session.UserID).
		Msg("Proctoring session started")

	return session, nil
}

// LogViolation appends one detector event to the session, re-scores it, and
// evaluates the lock thresholds over the full violation history. Events
// arriving after the session locked are still appended for audit but no
// longer change the score or lock state. Events after the session ended are
// rejected.
func (s *ProctoringService) LogViolation(ctx context.Context, sessionID uuid.UUID, vtype model.ViolationType, details json.RawMessage) (*LogViolationResult, error) {
	if !model.KnownViolationType(vtype) {
		return nil, ErrUnknownViolation
	}

	for attempt := 0; attempt < maxAppendRetries; attempt++ {
		session, err := s.store.GetByID(ctx, sessionID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrSessionNotFound
			}
			return nil, fmt.Errorf("get session: %w", err)
		}

		if session.Ended() {
			return nil, ErrSessionEnded
		}

		violation := &model.Violation{
			SessionID:  sessionID,
			Type:       vtype,
			Severity:   ClassifySeverity(vtype),
			Details:    details,
			OccurredAt: s.now(),
		}

		if !session.IsLocked {
			session.SuspicionScore += ViolationPoints(vtype)

			// Counts are re-derived from the whole history (including the
			// event being appended), never from a cached delta.
			counts := CountViolations(append(session.Violations, *violation))
			if locked, reason := EvaluateLock(counts, session.SuspicionScore); locked {
				lockedAt := s.now()
				session.IsLocked = true
				session.Status = model.SessionStatusLocked
				session.LockReason = &reason
				session.LockedAt = &lockedAt

				s.log.Warn().
					Str("session_id", sessionID.String()).
					Str("reason", reason).
					Int("suspicion_score", session.SuspicionScore).
					Msg("Proctoring session locked")
			}
		}

		if err := s.store.AppendViolation(ctx, session, violation); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				continue // another detector event won the race; refetch and redo
			}
			return nil, fmt.Errorf("append violation: %w", err)
		}

		session.Violations = append(session.Violations, *violation)

		return &LogViolationResult{
			Violation:      violation,
			SuspicionScore: session.SuspicionScore,
			IsLocked:       session.IsLocked,
			LockReason:     session.LockReason,
			Warnings:       BuildWarnings(CountViolations(session.Violations)),
		}, nil
	}

	return nil, fmt.Errorf("log violation: session %s contended beyond %d retries", sessionID, maxAppendRetries)
}

// EndSession finalizes a session: freezes the suspicion score, stamps the end
// time, and pushes a best-effort summary onto the linked quiz result. Ending
// an already-ended session is an idempotent no-op that returns the finalized
// session; the frozen score is never rewritten. A locked session keeps its
// locked status through finalization.
func (s *ProctoringService) EndSession(ctx context.Context, sessionID uuid.UUID, status model.SessionStatus) (*model.ProctoringSession, error) {
	if status == "" {
		status = model.SessionStatusCompleted
	}
	if status != model.SessionStatusCompleted && status != model.SessionStatusTerminated {
		return nil, ErrInvalidEndStatus
	}

	var session *model.ProctoringSession
	finalized := false
	for attempt := 0; attempt < maxAppendRetries; attempt++ {
		var err error
		session, err = s.store.GetByID(ctx, sessionID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrSessionNotFound
			}
			return nil, fmt.Errorf("get session: %w", err)
		}

		if session.Ended() {
			return session, nil
		}

		endedAt := s.now()
		finalScore := session.SuspicionScore
		session.EndedAt = &endedAt
		session.FinalSuspicionScore = &finalScore
		if !session.IsLocked {
			session.Status = status
		}

		if err := s.store.Finalize(ctx, session); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				continue // late detector event raced the finalize; redo on fresh state
			}
			return nil, fmt.Errorf("finalize session: %w", err)
		}
		finalized = true
		break
	}
	if !finalized {
		return nil, fmt.Errorf("end session: session %s contended beyond %d retries", sessionID, maxAppendRetries)
	}

	if session.ResultID != nil {
		summary := &model.ResultSummary{
			SessionID:      session.ID,
			SuspicionScore: *session.FinalSuspicionScore,
			ViolationCount: len(session.Violations),
			WasLocked:      session.IsLocked,
			LockReason:     session.LockReason,
		}
		if err := s.store.UpdateQuizResult(ctx, *session.ResultID, summary); err != nil {
			// Best-effort: a failed summary write never fails EndSession.
			s.log.Warn().Err(err).
				Str("session_id", session.ID.String()).
				Str("result_id", *session.ResultID).
				Msg("Failed to push proctoring summary to quiz result")
		}
	}

	s.log.Info().
		Str("session_id", session.ID.String()).
		Str("status", string(session.Status)).
		Int("final_suspicion_score", *session.FinalSuspicionScore).
		Msg("Proctoring session ended")

	return session, nil
}

// GetSessionStatus projects the session's current integrity state. It is a
// pure read: calling it repeatedly without intervening violations returns
// identical results.
func (s *ProctoringService) GetSessionStatus(ctx context.Context, sessionID uuid.UUID) (*SessionStatusView, error) {
	session, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	counts := CountViolations(session.Violations)

	return &SessionStatusView{
		SessionID:       session.ID,
		IsActive:        session.Status == model.SessionStatusActive,
		IsLocked:        session.IsLocked,
		LockReason:      session.LockReason,
		SuspicionScore:  session.SuspicionScore,
		Violations:      session.Violations,
		ViolationCounts: counts,
		Warnings:        BuildWarnings(counts),
	}, nil
}

// GetReport projects the session for an instructor audience: duration, risk
// level, and a review recommendation on top of the raw violation history.
func (s *ProctoringService) GetReport(ctx context.Context, sessionID uuid.UUID) (*SessionReport, error) {
	session, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	var duration *float64
	if session.EndedAt != nil {
		d := session.EndedAt.Sub(session.StartedAt).Seconds()
		duration = &d
	}

	score := reportScore(session)

	return &SessionReport{
		SessionID:       session.ID,
		UserID:          session.UserID,
		QuizID:          session.QuizID,
		Status:          session.Status,
		StartedAt:       session.StartedAt,
		EndedAt:         session.EndedAt,
		DurationSeconds: duration,
		SuspicionScore:  score,
		RiskLevel:       RiskLevel(score),
		Violations:      session.Violations,
		ViolationCounts: CountViolations(session.Violations),
		Recommendation:  Recommendation(session),
	}, nil
}

// VerifyOwnership checks that the session exists and belongs to userID.
// A mismatch reports ErrSessionNotFound so handlers do not leak which
// sessions exist.
func (s *ProctoringService) VerifyOwnership(ctx context.Context, sessionID uuid.UUID, userID string) (*model.ProctoringSession, error) {
	session, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session.UserID != userID {
		return nil, ErrSessionNotFound
	}
	return session, nil
}
