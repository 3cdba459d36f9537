package worker

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// ReviewWorker sweeps for proctoring sessions whose client disappeared
// without calling the end endpoint (crashed browser, dropped network).
// Any session still open past maxAge is terminated and its live score
// frozen, so instructors never see stale "active" sessions.
type ReviewWorker struct {
	pool     *pgxpool.Pool
	log      zerolog.Logger
	interval time.Duration
	maxAge   time.Duration
}

func NewReviewWorker(pool *pgxpool.Pool, log zerolog.Logger, interval, maxAge time.Duration) *ReviewWorker {
	return &ReviewWorker{
		pool:     pool,
		log:      log.With().Str("component", "review_worker").Logger(),
		interval: interval,
		maxAge:   maxAge,
	}
}

func (w *ReviewWorker) Start(ctx context.Context) {
	w.log.Info().
		Dur("interval", w.interval).
		Dur("max_age", w.maxAge).
		Msg("ReviewWorker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("ReviewWorker stopping")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep terminates every overdue session in one statement. Locked sessions
// keep their locked status; only still-active ones flip to terminated.
// Bumping version keeps a concurrent append from writing over the sweep.
func (w *ReviewWorker) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-w.maxAge)

	tag, err := w.pool.Exec(ctx,
		`UPDATE proctoring_sessions
         SET status = CASE WHEN status = 'locked' THEN 'locked' ELSE 'terminated' END,
             ended_at = NOW(),
             final_suspicion_score = suspicion_score,
             version = version + 1
         WHERE ended_at IS NULL
           AND status IN ('active', 'locked')
           AND started_at < $1`,
		cutoff,
	)
	if err != nil {
		w.log.Error().Err(err).Msg("Stale session sweep failed")
		return
	}

	if n := tag.RowsAffected(); n > 0 {
		w.log.Info().Int64("count", n).Time("cutoff", cutoff).Msg("Terminated stale sessions")
	}
}
