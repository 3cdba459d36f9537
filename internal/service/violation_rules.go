package service

import (
	"fmt"

	"github.com/edukita/proctor-backend/internal/model"
)

// violationSeverities maps each detector event type to its audit tier.
// Types missing from this map classify as low.
var violationSeverities = map[model.ViolationType]model.Severity{
	model.ViolationNoFaceDetected:     model.SeverityMedium,
	model.ViolationMultipleFaces:      model.SeverityHigh,
	model.ViolationDifferentPerson:    model.SeverityCritical,
	model.ViolationGazeAway:           model.SeverityLow,
	model.ViolationExitFullscreen:     model.SeverityCritical,
	model.ViolationTabSwitch:          model.SeverityCritical,
	model.ViolationWindowSwitch:       model.SeverityCritical,
	model.ViolationSuspiciousObject:   model.SeverityHigh,
	model.ViolationCameraAccessDenied: model.SeverityCritical,
	model.ViolationIdentityVerified:   model.SeverityLow,
}

// violationPoints maps each detector event type to its suspicion weight.
// Types missing from this map score the default 5 points. The default
// asymmetry with violationSeverities (low vs 5) is intentional product
// behavior; do not align the two maps.
var violationPoints = map[model.ViolationType]int{
	model.ViolationNoFaceDetected:     10,
	model.ViolationMultipleFaces:      35,
	model.ViolationDifferentPerson:    40,
	model.ViolationGazeAway:           5,
	model.ViolationExitFullscreen:     20,
	model.ViolationTabSwitch:          25,
	model.ViolationWindowSwitch:       25,
	model.ViolationSuspiciousObject:   15,
	model.ViolationCameraAccessDenied: 30,
	model.ViolationIdentityVerified:   0, // informational, not a violation
}

const (
	defaultSeverity = model.SeverityLow
	defaultPoints   = 5

	// scoreLockThreshold is the catch-all: any session whose suspicion
	// score reaches it is locked regardless of per-type counts.
	scoreLockThreshold = 100
)

// ClassifySeverity returns the audit tier for a violation type.
func ClassifySeverity(t model.ViolationType) model.Severity {
	if sev, ok := violationSeverities[t]; ok {
		return sev
	}
	return defaultSeverity
}

// ViolationPoints returns the suspicion weight for a violation type.
func ViolationPoints(t model.ViolationType) int {
	if pts, ok := violationPoints[t]; ok {
		return pts
	}
	return defaultPoints
}

// lockRule is one per-type count threshold over the full violation history.
type lockRule struct {
	Type      model.ViolationType
	Threshold int
}

// lockRules are evaluated in this fixed order; the first rule that fires
// names the lock reason. The score catch-all is checked last.
var lockRules = []lockRule{
	{model.ViolationNoFaceDetected, 5},
	{model.ViolationMultipleFaces, 3},
	{model.ViolationDifferentPerson, 3},
	{model.ViolationGazeAway, 10},
	{model.ViolationExitFullscreen, 2},
	{model.ViolationTabSwitch, 2},
	{model.ViolationWindowSwitch, 2},
	{model.ViolationCameraAccessDenied, 3},
}

// CountViolations folds the full violation history into per-type counts.
// Counts are always re-derived from scratch, never maintained incrementally,
// so concurrent retries cannot drift.
func CountViolations(violations []model.Violation) map[model.ViolationType]int {
	counts := make(map[model.ViolationType]int, len(lockRules))
	for i := range violations {
		counts[violations[i].Type]++
	}
	return counts
}

// EvaluateLock checks every lock threshold against the given per-type counts
// and suspicion score. It returns whether the session must be locked and a
// reason naming the rule that fired (first match in evaluation order wins).
func EvaluateLock(counts map[model.ViolationType]int, score int) (bool, string) {
	for _, rule := range lockRules {
		if counts[rule.Type] >= rule.Threshold {
			return true, fmt.Sprintf("%s count reached %d (limit %d)", rule.Type, counts[rule.Type], rule.Threshold)
		}
	}
	if score >= scoreLockThreshold {
		return true, fmt.Sprintf("suspicion score reached %d (limit %d)", score, scoreLockThreshold)
	}
	return false, ""
}

// RiskLevel buckets a suspicion score for instructor-facing reports.
func RiskLevel(score int) string {
	switch {
	case score >= 100:
		return "critical"
	case score >= 50:
		return "high"
	case score >= 25:
		return "medium"
	default:
		return "low"
	}
}

// Warning is a user-facing advisory generated from per-type counts. It is
// purely informational and independent of lock state. Remaining is how many
// more events of that type the session can absorb before locking.
type Warning struct {
	Type      model.ViolationType `json:"type"`
	Message   string              `json:"message"`
	Remaining int                 `json:"remaining"`
}

// warningRule emits a Warning once a type's count reaches TriggerAt.
// LockAt mirrors the corresponding lock threshold for the Remaining math.
type warningRule struct {
	Type      model.ViolationType
	TriggerAt int
	LockAt    int
	Message   string
}

var warningRules = []warningRule{
	{model.ViolationNoFaceDetected, 3, 5, "Your face is not visible to the camera. Please adjust your position."},
	{model.ViolationMultipleFaces, 1, 3, "Multiple faces detected. Make sure you are alone during the exam."},
	{model.ViolationExitFullscreen, 1, 2, "Leaving fullscreen is not allowed. Return to fullscreen to continue."},
	{model.ViolationTabSwitch, 1, 2, "Switching tabs is not allowed during the exam."},
}

// BuildWarnings derives the active warnings from per-type violation counts.
func BuildWarnings(counts map[model.ViolationType]int) []Warning {
	var warnings []Warning
	for _, rule := range warningRules {
		count := counts[rule.Type]
		if count < rule.TriggerAt {
			continue
		}
		warnings = append(warnings, Warning{
			Type:      rule.Type,
			Message:   rule.Message,
			Remaining: rule.LockAt - count,
		})
	}
	return warnings
}

// Recommendation derives a free-text instructor recommendation from the
// session's final (or current) state.
func Recommendation(s *model.ProctoringSession) string {
	switch {
	case s.IsLocked:
		return "Session was locked for excessive violations. Investigate the attempt or allow a proctored retake."
	case reportScore(s) >= 50:
		return "High suspicion score. Review the session recording before accepting this result."
	case len(s.Violations) >= 10:
		return "Many minor violations recorded. Monitor this participant in future exams."
	default:
		return "No serious signs of cheating detected."
	}
}

// reportScore picks the frozen final score for ended sessions, falling back
// to the live score.
func reportScore(s *model.ProctoringSession) int {
	if s.FinalSuspicionScore != nil {
		return *s.FinalSuspicionScore
	}
	return s.SuspicionScore
}
