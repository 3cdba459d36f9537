package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/edukita/proctor-backend/internal/model"
	"github.com/edukita/proctor-backend/internal/repository"
)

// fakeStore is an in-memory SessionStore honoring the same version semantics
// as the PostgreSQL repository: a stale writer gets ErrVersionConflict and is
// expected to refetch.
type fakeStore struct {
	mu              sync.Mutex
	sessions        map[uuid.UUID]*model.ProctoringSession
	nextViolationID int64

	// injectConflicts fails that many AppendViolation/Finalize calls with a
	// version conflict before letting writes through.
	injectConflicts int

	failQuizResult bool
	quizResults    map[string]*model.ResultSummary
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions:    make(map[uuid.UUID]*model.ProctoringSession),
		quizResults: make(map[string]*model.ResultSummary),
	}
}

func copySession(s *model.ProctoringSession) *model.ProctoringSession {
	c := *s
	c.Violations = append([]model.Violation(nil), s.Violations...)
	return &c
}

func (f *fakeStore) Create(_ context.Context, s *model.ProctoringSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s.ID = uuid.New()
	s.Version = 0
	f.sessions[s.ID] = copySession(s)
	return nil
}

func (f *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*model.ProctoringSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.sessions[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return copySession(stored), nil
}

func (f *fakeStore) AppendViolation(_ context.Context, s *model.ProctoringSession, v *model.Violation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.injectConflicts > 0 {
		f.injectConflicts--
		return repository.ErrVersionConflict
	}
	stored, ok := f.sessions[s.ID]
	if !ok || stored.Version != s.Version {
		return repository.ErrVersionConflict
	}

	f.nextViolationID++
	v.ID = f.nextViolationID

	stored.SuspicionScore = s.SuspicionScore
	stored.Status = s.Status
	stored.IsLocked = s.IsLocked
	stored.LockReason = s.LockReason
	stored.LockedAt = s.LockedAt
	stored.Violations = append(stored.Violations, *v)
	stored.Version++
	s.Version++
	return nil
}

func (f *fakeStore) Finalize(_ context.Context, s *model.ProctoringSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.injectConflicts > 0 {
		f.injectConflicts--
		return repository.ErrVersionConflict
	}
	stored, ok := f.sessions[s.ID]
	if !ok || stored.Version != s.Version {
		return repository.ErrVersionConflict
	}
	stored.Status = s.Status
	stored.EndedAt = s.EndedAt
	stored.FinalSuspicionScore = s.FinalSuspicionScore
	stored.Version++
	s.Version++
	return nil
}

func (f *fakeStore) UpdateQuizResult(_ context.Context, resultID string, summary *model.ResultSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failQuizResult {
		return errors.New("quiz result write refused")
	}
	f.quizResults[resultID] = summary
	return nil
}

func newTestService(store SessionStore) *ProctoringService {
	svc := NewProctoringService(store, zerolog.Nop())
	fixed := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }
	return svc
}

func startSession(t *testing.T, svc *ProctoringService, userID string) *model.ProctoringSession {
	t.Helper()
	session, err := svc.StartSession(context.Background(), userID, &model.StartSessionRequest{QuizID: "quiz-1"})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	return session
}

func logViolations(t *testing.T, svc *ProctoringService, id uuid.UUID, types ...model.ViolationType) *LogViolationResult {
	t.Helper()
	var last *LogViolationResult
	for _, vt := range types {
		result, err := svc.LogViolation(context.Background(), id, vt, nil)
		if err != nil {
			t.Fatalf("LogViolation(%s): %v", vt, err)
		}
		last = result
	}
	return last
}

func TestStartSession(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	session := startSession(t, svc, "user-1")
	if session.Status != model.SessionStatusActive {
		t.Errorf("status = %s, want active", session.Status)
	}
	if session.SuspicionScore != 0 || session.IsLocked {
		t.Errorf("fresh session should be unlocked with zero score")
	}
	if session.ID == uuid.Nil {
		t.Error("session ID not assigned")
	}
}

func TestLogViolationAccumulatesScore(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	session := startSession(t, svc, "user-1")

	// suspiciousObject (15) + noFaceDetected (10) + gazeAway (5) = 30,
	// no count threshold reached.
	result := logViolations(t, svc, session.ID,
		model.ViolationSuspiciousObject,
		model.ViolationNoFaceDetected,
		model.ViolationGazeAway,
	)

	if result.SuspicionScore != 30 {
		t.Errorf("score = %d, want 30", result.SuspicionScore)
	}
	if result.IsLocked {
		t.Errorf("unexpected lock: %v", result.LockReason)
	}
	if result.Violation.Severity != model.SeverityLow {
		t.Errorf("gazeAway severity = %s, want low", result.Violation.Severity)
	}
}

func TestLogViolationUnknownTypeRejected(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	session := startSession(t, svc, "user-1")

	_, err := svc.LogViolation(context.Background(), session.ID, "somethingMadeUp", nil)
	if !errors.Is(err, ErrUnknownViolation) {
		t.Fatalf("err = %v, want ErrUnknownViolation", err)
	}

	// Nothing was appended.
	status, err := svc.GetSessionStatus(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetSessionStatus: %v", err)
	}
	if len(status.Violations) != 0 || status.SuspicionScore != 0 {
		t.Error("rejected violation must not change session state")
	}
}

func TestLogViolationSessionNotFound(t *testing.T) {
	svc := newTestService(newFakeStore())
	_, err := svc.LogViolation(context.Background(), uuid.New(), model.ViolationTabSwitch, nil)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestTabSwitchLocksAtTwo(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	session := startSession(t, svc, "user-1")

	first := logViolations(t, svc, session.ID, model.ViolationTabSwitch)
	if first.IsLocked {
		t.Fatal("one tabSwitch must not lock")
	}
	if len(first.Warnings) == 0 {
		t.Error("first tabSwitch should produce a warning")
	}

	second := logViolations(t, svc, session.ID, model.ViolationTabSwitch)
	if !second.IsLocked {
		t.Fatal("second tabSwitch must lock")
	}
	if second.SuspicionScore != 50 {
		t.Errorf("score = %d, want 50", second.SuspicionScore)
	}
	if second.LockReason == nil || !strings.Contains(*second.LockReason, "tabSwitch") {
		t.Errorf("lock reason %v should name tabSwitch", second.LockReason)
	}
}

func TestDifferentPersonLocksAtThree(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	session := startSession(t, svc, "user-1")

	second := logViolations(t, svc, session.ID,
		model.ViolationDifferentPerson, model.ViolationDifferentPerson)
	if second.IsLocked {
		t.Fatalf("two differentPerson events (score %d) must not lock", second.SuspicionScore)
	}
	if second.SuspicionScore != 80 {
		t.Errorf("score = %d, want 80", second.SuspicionScore)
	}

	third := logViolations(t, svc, session.ID, model.ViolationDifferentPerson)
	if !third.IsLocked {
		t.Fatal("third differentPerson must lock")
	}
	// Count rule fires even though the score (120) also crossed the
	// catch-all; the reason names the count rule.
	if third.LockReason == nil || !strings.Contains(*third.LockReason, "differentPerson") {
		t.Errorf("lock reason %v should name differentPerson", third.LockReason)
	}
}

func TestNoFaceDetectedLocksAtFive(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	session := startSession(t, svc, "user-1")

	types := make([]model.ViolationType, 5)
	for i := range types {
		types[i] = model.ViolationNoFaceDetected
	}
	result := logViolations(t, svc, session.ID, types...)

	if !result.IsLocked {
		t.Fatal("five noFaceDetected events must lock")
	}
	if result.SuspicionScore != 50 {
		t.Errorf("score = %d, want 50", result.SuspicionScore)
	}
	if result.LockReason == nil || !strings.Contains(*result.LockReason, "noFaceDetected") {
		t.Errorf("lock reason %v should name noFaceDetected", result.LockReason)
	}
}

func TestGazeAwayLockBoundary(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	session := startSession(t, svc, "user-1")

	types := make([]model.ViolationType, 9)
	for i := range types {
		types[i] = model.ViolationGazeAway
	}
	ninth := logViolations(t, svc, session.ID, types...)
	if ninth.IsLocked {
		t.Fatalf("nine gazeAway events (score %d) must not lock", ninth.SuspicionScore)
	}
	if ninth.SuspicionScore != 45 {
		t.Errorf("score = %d, want 45", ninth.SuspicionScore)
	}

	tenth := logViolations(t, svc, session.ID, model.ViolationGazeAway)
	if !tenth.IsLocked {
		t.Fatal("tenth gazeAway must lock")
	}
	if tenth.LockReason == nil || !strings.Contains(*tenth.LockReason, "gazeAway") {
		t.Errorf("lock reason %v should name gazeAway count rule", tenth.LockReason)
	}
}

func TestPostLockViolationsAreAuditOnly(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	session := startSession(t, svc, "user-1")

	locked := logViolations(t, svc, session.ID,
		model.ViolationTabSwitch, model.ViolationTabSwitch)
	if !locked.IsLocked {
		t.Fatal("expected lock after two tabSwitch events")
	}
	frozenScore := locked.SuspicionScore
	frozenReason := *locked.LockReason

	// Further events are recorded for audit but never re-score or re-lock.
	after := logViolations(t, svc, session.ID, model.ViolationDifferentPerson)
	if after.SuspicionScore != frozenScore {
		t.Errorf("score changed after lock: %d -> %d", frozenScore, after.SuspicionScore)
	}
	if *after.LockReason != frozenReason {
		t.Errorf("lock reason changed after lock: %q -> %q", frozenReason, *after.LockReason)
	}

	status, err := svc.GetSessionStatus(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetSessionStatus: %v", err)
	}
	if len(status.Violations) != 3 {
		t.Errorf("violation history length = %d, want 3 (post-lock event kept)", len(status.Violations))
	}
}

func TestLogViolationRetriesOnVersionConflict(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	session := startSession(t, svc, "user-1")

	store.injectConflicts = 2
	result, err := svc.LogViolation(context.Background(), session.ID, model.ViolationGazeAway, nil)
	if err != nil {
		t.Fatalf("LogViolation should survive transient conflicts: %v", err)
	}
	if result.SuspicionScore != 5 {
		t.Errorf("score = %d, want 5", result.SuspicionScore)
	}
}

func TestLogViolationGivesUpAfterMaxRetries(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	session := startSession(t, svc, "user-1")

	store.injectConflicts = 100
	_, err := svc.LogViolation(context.Background(), session.ID, model.ViolationGazeAway, nil)
	if err == nil || !strings.Contains(err.Error(), "contended") {
		t.Fatalf("err = %v, want contention error", err)
	}
}

func TestEndSessionFreezesScore(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	session := startSession(t, svc, "user-1")

	// 5 x suspiciousObject = 75, no count rule for that type.
	types := make([]model.ViolationType, 5)
	for i := range types {
		types[i] = model.ViolationSuspiciousObject
	}
	logViolations(t, svc, session.ID, types...)

	ended, err := svc.EndSession(context.Background(), session.ID, model.SessionStatusCompleted)
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if ended.Status != model.SessionStatusCompleted {
		t.Errorf("status = %s, want completed", ended.Status)
	}
	if ended.EndedAt == nil {
		t.Fatal("ended_at not set")
	}
	if ended.FinalSuspicionScore == nil || *ended.FinalSuspicionScore != 75 {
		t.Errorf("final score = %v, want 75", ended.FinalSuspicionScore)
	}

	report, err := svc.GetReport(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if report.RiskLevel != "high" {
		t.Errorf("risk level = %s, want high", report.RiskLevel)
	}
	if report.DurationSeconds == nil {
		t.Error("report of ended session should include duration")
	}
}

func TestEndSessionIdempotent(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	session := startSession(t, svc, "user-1")
	logViolations(t, svc, session.ID, model.ViolationExitFullscreen)

	first, err := svc.EndSession(context.Background(), session.ID, model.SessionStatusCompleted)
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	// A repeat end (even with a different status) is a no-op.
	second, err := svc.EndSession(context.Background(), session.ID, model.SessionStatusTerminated)
	if err != nil {
		t.Fatalf("repeat EndSession: %v", err)
	}
	if second.Status != first.Status {
		t.Errorf("repeat end changed status: %s -> %s", first.Status, second.Status)
	}
	if *second.FinalSuspicionScore != *first.FinalSuspicionScore {
		t.Errorf("repeat end changed frozen score")
	}
	if !second.EndedAt.Equal(*first.EndedAt) {
		t.Errorf("repeat end changed ended_at")
	}
}

func TestEndSessionDefaultsToCompleted(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	session := startSession(t, svc, "user-1")

	ended, err := svc.EndSession(context.Background(), session.ID, "")
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if ended.Status != model.SessionStatusCompleted {
		t.Errorf("status = %s, want completed", ended.Status)
	}
}

func TestEndSessionInvalidStatus(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	session := startSession(t, svc, "user-1")

	if _, err := svc.EndSession(context.Background(), session.ID, model.SessionStatusActive); !errors.Is(err, ErrInvalidEndStatus) {
		t.Fatalf("err = %v, want ErrInvalidEndStatus", err)
	}
	if _, err := svc.EndSession(context.Background(), session.ID, "abandoned"); !errors.Is(err, ErrInvalidEndStatus) {
		t.Fatalf("err = %v, want ErrInvalidEndStatus", err)
	}
}

func TestEndLockedSessionKeepsLockedStatus(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	session := startSession(t, svc, "user-1")

	logViolations(t, svc, session.ID, model.ViolationTabSwitch, model.ViolationTabSwitch)

	ended, err := svc.EndSession(context.Background(), session.ID, model.SessionStatusCompleted)
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if ended.Status != model.SessionStatusLocked {
		t.Errorf("status = %s, locked sessions stay locked through finalization", ended.Status)
	}
	if !ended.IsLocked {
		t.Error("is_locked cleared by finalization")
	}
}

func TestEndSessionPushesResultSummary(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	resultID := "result-42"
	session, err := svc.StartSession(context.Background(), "user-1", &model.StartSessionRequest{
		QuizID:   "quiz-1",
		ResultID: &resultID,
	})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	logViolations(t, svc, session.ID, model.ViolationExitFullscreen, model.ViolationGazeAway)

	if _, err := svc.EndSession(context.Background(), session.ID, model.SessionStatusCompleted); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	summary := store.quizResults[resultID]
	if summary == nil {
		t.Fatal("result summary not written")
	}
	if summary.SuspicionScore != 25 {
		t.Errorf("summary score = %d, want 25", summary.SuspicionScore)
	}
	if summary.ViolationCount != 2 {
		t.Errorf("summary violation count = %d, want 2", summary.ViolationCount)
	}
	if summary.WasLocked {
		t.Error("summary should not report a lock")
	}
}

func TestEndSessionSummaryFailureIsBestEffort(t *testing.T) {
	store := newFakeStore()
	store.failQuizResult = true
	svc := newTestService(store)

	resultID := "result-42"
	session, err := svc.StartSession(context.Background(), "user-1", &model.StartSessionRequest{
		QuizID:   "quiz-1",
		ResultID: &resultID,
	})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	ended, err := svc.EndSession(context.Background(), session.ID, model.SessionStatusCompleted)
	if err != nil {
		t.Fatalf("EndSession must succeed despite summary write failure: %v", err)
	}
	if ended.EndedAt == nil {
		t.Error("session not finalized")
	}
}

func TestGetSessionStatusIsPureRead(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	session := startSession(t, svc, "user-1")

	logViolations(t, svc, session.ID,
		model.ViolationNoFaceDetected, model.ViolationNoFaceDetected, model.ViolationNoFaceDetected)

	first, err := svc.GetSessionStatus(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetSessionStatus: %v", err)
	}
	second, err := svc.GetSessionStatus(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetSessionStatus: %v", err)
	}

	if first.SuspicionScore != second.SuspicionScore || len(first.Violations) != len(second.Violations) {
		t.Error("repeated status reads must return identical results")
	}
	if first.ViolationCounts[model.ViolationNoFaceDetected] != 3 {
		t.Errorf("count = %d, want 3", first.ViolationCounts[model.ViolationNoFaceDetected])
	}
	if len(first.Warnings) != 1 || first.Warnings[0].Remaining != 2 {
		t.Errorf("expected a noFaceDetected warning with 2 remaining, got %+v", first.Warnings)
	}
	if !first.IsActive {
		t.Error("session should still be active")
	}
}

func TestGetReportCleanSession(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	session := startSession(t, svc, "user-1")

	report, err := svc.GetReport(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if report.RiskLevel != "low" {
		t.Errorf("risk level = %s, want low", report.RiskLevel)
	}
	if !strings.Contains(report.Recommendation, "No serious signs") {
		t.Errorf("recommendation %q should be the all-clear", report.Recommendation)
	}
	if report.DurationSeconds != nil {
		t.Error("open session must not report a duration")
	}
}

func TestVerifyOwnership(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	session := startSession(t, svc, "user-1")

	if _, err := svc.VerifyOwnership(context.Background(), session.ID, "user-1"); err != nil {
		t.Fatalf("owner lookup failed: %v", err)
	}

	// A foreign user gets not-found, not forbidden, so session existence
	// does not leak.
	if _, err := svc.VerifyOwnership(context.Background(), session.ID, "user-2"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestViolationDetailsPreserved(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	session := startSession(t, svc, "user-1")

	details := json.RawMessage(`{"confidence":0.93,"faces":2}`)
	result, err := svc.LogViolation(context.Background(), session.ID, model.ViolationMultipleFaces, details)
	if err != nil {
		t.Fatalf("LogViolation: %v", err)
	}
	if string(result.Violation.Details) != string(details) {
		t.Errorf("details = %s, want %s", result.Violation.Details, details)
	}
	if result.Violation.Severity != model.SeverityHigh {
		t.Errorf("multipleFaces severity = %s, want high", result.Violation.Severity)
	}
}
