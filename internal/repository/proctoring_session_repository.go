package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edukita/proctor-backend/internal/model"
)

// ErrVersionConflict is returned when a session row was modified between the
// caller's read and its write. Callers are expected to refetch and retry.
var ErrVersionConflict = errors.New("proctoring session modified concurrently")

// ProctoringSessionRepository handles proctoring session data access.
type ProctoringSessionRepository struct {
	pool *pgxpool.Pool
}

// NewProctoringSessionRepository creates a new ProctoringSessionRepository.
func NewProctoringSessionRepository(pool *pgxpool.Pool) *ProctoringSessionRepository {
	return &ProctoringSessionRepository{pool: pool}
}

// Create inserts a new proctoring session.
func (r *ProctoringSessionRepository) Create(ctx context.Context, s *model.ProctoringSession) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO proctoring_sessions
		   (user_id, quiz_id, result_id, status, started_at, browser_info, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, version`,
		s.UserID, s.QuizID, s.ResultID, s.Status, s.StartedAt, s.BrowserInfo, s.Metadata,
	).Scan(&s.ID, &s.Version)
}

// GetByID retrieves a session with its full violation history, ordered by
// insertion. Returns pgx.ErrNoRows if the session does not exist.
func (r *ProctoringSessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ProctoringSession, error) {
	s := &model.ProctoringSession{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, quiz_id, result_id, status, started_at, ended_at,
		        suspicion_score, final_suspicion_score, is_locked, lock_reason,
		        locked_at, browser_info, metadata, version
		 FROM proctoring_sessions
		 WHERE id = $1`, id,
	).Scan(&s.ID, &s.UserID, &s.QuizID, &s.ResultID, &s.Status, &s.StartedAt,
		&s.EndedAt, &s.SuspicionScore, &s.FinalSuspicionScore, &s.IsLocked,
		&s.LockReason, &s.LockedAt, &s.BrowserInfo, &s.Metadata, &s.Version)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, type, severity, details, occurred_at
		 FROM proctoring_violations
		 WHERE session_id = $1
		 ORDER BY id ASC`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var v model.Violation
		if err := rows.Scan(&v.ID, &v.SessionID, &v.Type, &v.Severity, &v.Details, &v.OccurredAt); err != nil {
			return nil, err
		}
		s.Violations = append(s.Violations, v)
	}
	return s, rows.Err()
}

// AppendViolation atomically writes the session's recomputed scalar state and
// appends one violation row. The version predicate serializes concurrent
// writers on the same session; different sessions never block each other.
func (r *ProctoringSessionRepository) AppendViolation(ctx context.Context, s *model.ProctoringSession, v *model.Violation) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE proctoring_sessions
		 SET suspicion_score = $1, status = $2, is_locked = $3, lock_reason = $4,
		     locked_at = $5, version = version + 1
		 WHERE id = $6 AND version = $7`,
		s.SuspicionScore, s.Status, s.IsLocked, s.LockReason, s.LockedAt, s.ID, s.Version)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO proctoring_violations (session_id, type, severity, details, occurred_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		s.ID, v.Type, v.Severity, v.Details, v.OccurredAt,
	).Scan(&v.ID)
	if err != nil {
		return fmt.Errorf("insert violation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.Version++
	return nil
}

// Finalize writes the session's end state (ended_at, status, frozen score)
// under the same version guard as AppendViolation.
func (r *ProctoringSessionRepository) Finalize(ctx context.Context, s *model.ProctoringSession) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE proctoring_sessions
		 SET status = $1, ended_at = $2, final_suspicion_score = $3, version = version + 1
		 WHERE id = $4 AND version = $5`,
		s.Status, s.EndedAt, s.FinalSuspicionScore, s.ID, s.Version)
	if err != nil {
		return fmt.Errorf("finalize session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	s.Version++
	return nil
}

// UpdateQuizResult pushes the proctoring summary onto the platform-owned quiz
// result row. The caller treats failures as best-effort.
func (r *ProctoringSessionRepository) UpdateQuizResult(ctx context.Context, resultID string, summary *model.ResultSummary) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE quiz_results
		 SET proctoring_session_id = $1, proctoring_score = $2,
		     proctoring_violation_count = $3, proctoring_was_locked = $4,
		     proctoring_lock_reason = $5
		 WHERE id = $6`,
		summary.SessionID, summary.SuspicionScore, summary.ViolationCount,
		summary.WasLocked, summary.LockReason, resultID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("quiz result %s not found", resultID)
	}
	return nil
}
