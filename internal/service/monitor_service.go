package service

import (
	"context"
	"sync"

	"github.com/edukita/proctor-backend/internal/repository"
)

// MonitorService orchestrates live quiz proctoring monitoring.
type MonitorService struct {
	monitorRepo *repository.MonitorRepository
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(monitorRepo *repository.MonitorRepository) *MonitorService {
	return &MonitorService{monitorRepo: monitorRepo}
}

// QuizMonitorSnapshot bundles everything the instructor monitor needs for
// one refresh.
type QuizMonitorSnapshot struct {
	Stats    *repository.QuizProctoringStats `json:"stats"`
	Sessions []repository.SessionOverview    `json:"sessions"`
}

// GetQuizSnapshot fetches aggregate stats and per-session overviews for a
// quiz. The two queries run concurrently to keep the monitor refresh cheap.
func (s *MonitorService) GetQuizSnapshot(ctx context.Context, quizID string) (*QuizMonitorSnapshot, error) {
	var (
		stats    *repository.QuizProctoringStats
		sessions []repository.SessionOverview
		statsErr error
		sessErr  error
		wg       sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		stats, statsErr = s.monitorRepo.GetQuizStats(ctx, quizID)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		sessions, sessErr = s.monitorRepo.GetSessionOverviews(ctx, quizID)
	}()

	wg.Wait()

	// Stats are critical; the per-session table is best-effort.
	if statsErr != nil {
		return nil, statsErr
	}

	snapshot := &QuizMonitorSnapshot{Stats: stats}
	if sessErr == nil {
		snapshot.Sessions = sessions
	}
	return snapshot, nil
}
