package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ViolationType is the wire enumeration of detector events. Values are
// case-sensitive and match what the proctoring client sends.
type ViolationType string

const (
	ViolationNoFaceDetected        ViolationType = "noFaceDetected"
	ViolationMultipleFaces         ViolationType = "multipleFaces"
	ViolationGazeAway              ViolationType = "gazeAway"
	ViolationExitFullscreen        ViolationType = "exitFullscreen"
	ViolationTabSwitch             ViolationType = "tabSwitch"
	ViolationWindowSwitch          ViolationType = "windowSwitch"
	ViolationSuspiciousObject      ViolationType = "suspiciousObject"
	ViolationAudioDetected         ViolationType = "audioDetected"
	ViolationScreenCaptureDetected ViolationType = "screenCaptureDetected"
	ViolationCameraAccessDenied    ViolationType = "cameraAccessDenied"
	ViolationIdentityVerified      ViolationType = "identityVerified"
	ViolationDifferentPerson       ViolationType = "differentPerson"
)

var knownViolationTypes = map[ViolationType]struct{}{
	ViolationNoFaceDetected:        {},
	ViolationMultipleFaces:         {},
	ViolationGazeAway:              {},
	ViolationExitFullscreen:        {},
	ViolationTabSwitch:             {},
	ViolationWindowSwitch:          {},
	ViolationSuspiciousObject:      {},
	ViolationAudioDetected:         {},
	ViolationScreenCaptureDetected: {},
	ViolationCameraAccessDenied:    {},
	ViolationIdentityVerified:      {},
	ViolationDifferentPerson:       {},
}

// KnownViolationType reports whether t is part of the wire enumeration.
func KnownViolationType(t ViolationType) bool {
	_, ok := knownViolationTypes[t]
	return ok
}

// Severity is the qualitative tier of a violation type, stored for audit.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Violation is a single detected anomalous event. Records are immutable once
// appended; Details is an opaque payload (coordinates, confidence, ...) that
// scoring never reads.
type Violation struct {
	ID         int64           `json:"id"`
	SessionID  uuid.UUID       `json:"-"`
	Type       ViolationType   `json:"type"`
	Severity   Severity        `json:"severity"`
	Details    json.RawMessage `json:"details,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Snapshot is an evidentiary capture attached to a session. It is a passive
// audit log: scoring never reads it.
type Snapshot struct {
	ID            int64          `json:"id"`
	SessionID     uuid.UUID      `json:"session_id"`
	CaptureRef    string         `json:"capture_ref"`
	ViolationType *ViolationType `json:"violation_type,omitempty"`
	CapturedAt    time.Time      `json:"captured_at"`
}

// LogViolationRequest is the payload for reporting a detector event.
type LogViolationRequest struct {
	Type    string          `json:"type" binding:"required,min=1,max=64"`
	Details json.RawMessage `json:"details"`
}

// AddSnapshotRequest is the payload for queueing an evidence capture.
// CaptureRef points at media stored by the platform's upload service.
type AddSnapshotRequest struct {
	CaptureRef    string  `json:"capture_ref" binding:"required,min=1,max=512"`
	ViolationType *string `json:"violation_type" binding:"omitempty,max=64"`
}
