package service

import (
	"strings"
	"testing"

	"github.com/edukita/proctor-backend/internal/model"
)

func TestViolationPoints(t *testing.T) {
	cases := []struct {
		vtype model.ViolationType
		want  int
	}{
		{model.ViolationNoFaceDetected, 10},
		{model.ViolationMultipleFaces, 35},
		{model.ViolationDifferentPerson, 40},
		{model.ViolationGazeAway, 5},
		{model.ViolationExitFullscreen, 20},
		{model.ViolationTabSwitch, 25},
		{model.ViolationWindowSwitch, 25},
		{model.ViolationSuspiciousObject, 15},
		{model.ViolationCameraAccessDenied, 30},
		{model.ViolationIdentityVerified, 0},
		// Enumerated but unweighted types fall back to the default.
		{model.ViolationAudioDetected, 5},
		{model.ViolationScreenCaptureDetected, 5},
	}
	for _, tc := range cases {
		if got := ViolationPoints(tc.vtype); got != tc.want {
			t.Errorf("ViolationPoints(%s) = %d, want %d", tc.vtype, got, tc.want)
		}
	}
}

func TestClassifySeverity(t *testing.T) {
	cases := []struct {
		vtype model.ViolationType
		want  model.Severity
	}{
		{model.ViolationNoFaceDetected, model.SeverityMedium},
		{model.ViolationMultipleFaces, model.SeverityHigh},
		{model.ViolationDifferentPerson, model.SeverityCritical},
		{model.ViolationGazeAway, model.SeverityLow},
		{model.ViolationExitFullscreen, model.SeverityCritical},
		{model.ViolationTabSwitch, model.SeverityCritical},
		{model.ViolationWindowSwitch, model.SeverityCritical},
		{model.ViolationSuspiciousObject, model.SeverityHigh},
		{model.ViolationCameraAccessDenied, model.SeverityCritical},
		{model.ViolationIdentityVerified, model.SeverityLow},
		{model.ViolationAudioDetected, model.SeverityLow},
		{model.ViolationScreenCaptureDetected, model.SeverityLow},
	}
	for _, tc := range cases {
		if got := ClassifySeverity(tc.vtype); got != tc.want {
			t.Errorf("ClassifySeverity(%s) = %s, want %s", tc.vtype, got, tc.want)
		}
	}
}

func TestEvaluateLockCountThresholds(t *testing.T) {
	cases := []struct {
		name   string
		counts map[model.ViolationType]int
		score  int
		locked bool
		reason string // substring expected in the lock reason
	}{
		{"empty", map[model.ViolationType]int{}, 0, false, ""},
		{"noFaceBelow", map[model.ViolationType]int{model.ViolationNoFaceDetected: 4}, 40, false, ""},
		{"noFaceAt", map[model.ViolationType]int{model.ViolationNoFaceDetected: 5}, 50, true, "noFaceDetected"},
		{"multipleFacesAt", map[model.ViolationType]int{model.ViolationMultipleFaces: 3}, 0, true, "multipleFaces"},
		{"differentPersonBelow", map[model.ViolationType]int{model.ViolationDifferentPerson: 2}, 80, false, ""},
		{"differentPersonAt", map[model.ViolationType]int{model.ViolationDifferentPerson: 3}, 0, true, "differentPerson"},
		{"gazeAwayBelow", map[model.ViolationType]int{model.ViolationGazeAway: 9}, 45, false, ""},
		{"gazeAwayAt", map[model.ViolationType]int{model.ViolationGazeAway: 10}, 50, true, "gazeAway"},
		{"exitFullscreenAt", map[model.ViolationType]int{model.ViolationExitFullscreen: 2}, 40, true, "exitFullscreen"},
		{"tabSwitchAt", map[model.ViolationType]int{model.ViolationTabSwitch: 2}, 50, true, "tabSwitch"},
		{"windowSwitchAt", map[model.ViolationType]int{model.ViolationWindowSwitch: 2}, 50, true, "windowSwitch"},
		{"cameraDeniedAt", map[model.ViolationType]int{model.ViolationCameraAccessDenied: 3}, 90, true, "cameraAccessDenied"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			locked, reason := EvaluateLock(tc.counts, tc.score)
			if locked != tc.locked {
				t.Fatalf("EvaluateLock locked = %v, want %v (reason %q)", locked, tc.locked, reason)
			}
			if tc.reason != "" && !strings.Contains(reason, tc.reason) {
				t.Errorf("lock reason %q does not mention %q", reason, tc.reason)
			}
		})
	}
}

func TestEvaluateLockScoreCatchAll(t *testing.T) {
	// No per-type threshold reached, but the aggregate crosses 100.
	counts := map[model.ViolationType]int{
		model.ViolationDifferentPerson:    2, // 80 pts
		model.ViolationCameraAccessDenied: 1, // 30 pts
	}
	locked, reason := EvaluateLock(counts, 110)
	if !locked {
		t.Fatal("expected lock from score catch-all")
	}
	if !strings.Contains(reason, "suspicion score") {
		t.Errorf("reason %q should name the score rule", reason)
	}
}

func TestEvaluateLockFirstRuleWins(t *testing.T) {
	// Both noFaceDetected and tabSwitch thresholds reached; the reason must
	// name noFaceDetected since it is evaluated first.
	counts := map[model.ViolationType]int{
		model.ViolationNoFaceDetected: 5,
		model.ViolationTabSwitch:      2,
	}
	locked, reason := EvaluateLock(counts, 100)
	if !locked {
		t.Fatal("expected lock")
	}
	if !strings.Contains(reason, "noFaceDetected") {
		t.Errorf("reason %q should name noFaceDetected (first matching rule)", reason)
	}
}

func TestRiskLevel(t *testing.T) {
	cases := []struct {
		score int
		want  string
	}{
		{0, "low"},
		{24, "low"},
		{25, "medium"},
		{49, "medium"},
		{50, "high"},
		{99, "high"},
		{100, "critical"},
		{250, "critical"},
	}
	for _, tc := range cases {
		if got := RiskLevel(tc.score); got != tc.want {
			t.Errorf("RiskLevel(%d) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestBuildWarnings(t *testing.T) {
	t.Run("none below trigger", func(t *testing.T) {
		counts := map[model.ViolationType]int{
			model.ViolationNoFaceDetected: 2, // triggers at 3
			model.ViolationGazeAway:       7, // no warning rule at all
		}
		if got := BuildWarnings(counts); len(got) != 0 {
			t.Errorf("expected no warnings, got %+v", got)
		}
	})

	t.Run("noFaceDetected remaining math", func(t *testing.T) {
		counts := map[model.ViolationType]int{model.ViolationNoFaceDetected: 3}
		warnings := BuildWarnings(counts)
		if len(warnings) != 1 {
			t.Fatalf("expected 1 warning, got %d", len(warnings))
		}
		w := warnings[0]
		if w.Type != model.ViolationNoFaceDetected {
			t.Errorf("warning type = %s", w.Type)
		}
		if w.Remaining != 2 {
			t.Errorf("remaining = %d, want 2 (lock at 5, count 3)", w.Remaining)
		}
	})

	t.Run("immediate triggers", func(t *testing.T) {
		counts := map[model.ViolationType]int{
			model.ViolationMultipleFaces:  1,
			model.ViolationExitFullscreen: 1,
			model.ViolationTabSwitch:      1,
		}
		warnings := BuildWarnings(counts)
		if len(warnings) != 3 {
			t.Fatalf("expected 3 warnings, got %d", len(warnings))
		}
		for _, w := range warnings {
			if w.Message == "" {
				t.Errorf("warning for %s has empty message", w.Type)
			}
		}
	})
}

func TestRecommendation(t *testing.T) {
	reason := "tabSwitch count reached 2 (limit 2)"

	t.Run("locked", func(t *testing.T) {
		s := &model.ProctoringSession{IsLocked: true, LockReason: &reason, SuspicionScore: 50}
		if got := Recommendation(s); !strings.Contains(got, "locked") {
			t.Errorf("recommendation %q should mention the lock", got)
		}
	})

	t.Run("high score", func(t *testing.T) {
		s := &model.ProctoringSession{SuspicionScore: 60}
		if got := Recommendation(s); !strings.Contains(got, "High suspicion") {
			t.Errorf("recommendation %q should flag the score", got)
		}
	})

	t.Run("uses frozen final score", func(t *testing.T) {
		final := 60
		s := &model.ProctoringSession{SuspicionScore: 10, FinalSuspicionScore: &final}
		if got := Recommendation(s); !strings.Contains(got, "High suspicion") {
			t.Errorf("recommendation %q should use the final score", got)
		}
	})

	t.Run("many minor violations", func(t *testing.T) {
		s := &model.ProctoringSession{SuspicionScore: 45}
		for i := 0; i < 10; i++ {
			s.Violations = append(s.Violations, model.Violation{Type: model.ViolationGazeAway})
		}
		if got := Recommendation(s); !strings.Contains(got, "minor violations") {
			t.Errorf("recommendation %q should flag repeated minor violations", got)
		}
	})

	t.Run("clean", func(t *testing.T) {
		s := &model.ProctoringSession{SuspicionScore: 10}
		if got := Recommendation(s); !strings.Contains(got, "No serious signs") {
			t.Errorf("recommendation %q should be the all-clear", got)
		}
	})
}

func TestCountViolations(t *testing.T) {
	violations := []model.Violation{
		{Type: model.ViolationTabSwitch},
		{Type: model.ViolationGazeAway},
		{Type: model.ViolationTabSwitch},
	}
	counts := CountViolations(violations)
	if counts[model.ViolationTabSwitch] != 2 {
		t.Errorf("tabSwitch count = %d, want 2", counts[model.ViolationTabSwitch])
	}
	if counts[model.ViolationGazeAway] != 1 {
		t.Errorf("gazeAway count = %d, want 1", counts[model.ViolationGazeAway])
	}
	if counts[model.ViolationNoFaceDetected] != 0 {
		t.Errorf("absent type should count 0")
	}
}
