package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edukita/proctor-backend/internal/model"
)

// QuizProctoringStats aggregates session state across one quiz.
type QuizProctoringStats struct {
	TotalSessions     int64 `json:"total_sessions"`
	ActiveSessions    int64 `json:"active_sessions"`
	LockedSessions    int64 `json:"locked_sessions"`
	CompletedSessions int64 `json:"completed_sessions"`
	TotalViolations   int64 `json:"total_violations"`
}

// SessionOverview is one row of the instructor's live monitor table.
type SessionOverview struct {
	SessionID      uuid.UUID           `json:"session_id"`
	UserID         string              `json:"user_id"`
	Status         model.SessionStatus `json:"status"`
	SuspicionScore int                 `json:"suspicion_score"`
	IsLocked       bool                `json:"is_locked"`
	ViolationCount int64               `json:"violation_count"`
	StartedAt      string              `json:"started_at"`
}

// MonitorRepository provides read-side aggregates for the live quiz monitor.
type MonitorRepository struct {
	pool *pgxpool.Pool
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool) *MonitorRepository {
	return &MonitorRepository{pool: pool}
}

// GetQuizStats returns aggregate session and violation counts for a quiz.
func (r *MonitorRepository) GetQuizStats(ctx context.Context, quizID string) (*QuizProctoringStats, error) {
	stats := &QuizProctoringStats{}
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE status = 'active'),
		        COUNT(*) FILTER (WHERE status = 'locked'),
		        COUNT(*) FILTER (WHERE status = 'completed'),
		        COALESCE((SELECT COUNT(*)
		                  FROM proctoring_violations v
		                  JOIN proctoring_sessions ps ON v.session_id = ps.id
		                  WHERE ps.quiz_id = $1), 0)
		 FROM proctoring_sessions
		 WHERE quiz_id = $1`, quizID,
	).Scan(&stats.TotalSessions, &stats.ActiveSessions, &stats.LockedSessions,
		&stats.CompletedSessions, &stats.TotalViolations)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// GetSessionOverviews returns one monitor row per session for the quiz,
// newest first.
func (r *MonitorRepository) GetSessionOverviews(ctx context.Context, quizID string) ([]SessionOverview, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT s.id, s.user_id, s.status, s.suspicion_score, s.is_locked,
		        COUNT(v.id), to_char(s.started_at, 'YYYY-MM-DD"T"HH24:MI:SSOF')
		 FROM proctoring_sessions s
		 LEFT JOIN proctoring_violations v ON v.session_id = s.id
		 WHERE s.quiz_id = $1
		 GROUP BY s.id
		 ORDER BY s.started_at DESC`, quizID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var overviews []SessionOverview
	for rows.Next() {
		var o SessionOverview
		if err := rows.Scan(&o.SessionID, &o.UserID, &o.Status, &o.SuspicionScore,
			&o.IsLocked, &o.ViolationCount, &o.StartedAt); err != nil {
			return nil, err
		}
		overviews = append(overviews, o)
	}
	return overviews, rows.Err()
}
