package websocket

import "encoding/json"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionViolation Action = "violation"
	ActionSnapshot  Action = "snapshot"
	ActionPing      Action = "ping"
)

// RequestEnvelope carries every client message. Fields beyond Action are
// populated depending on the action.
type RequestEnvelope struct {
	Action Action `json:"action"`

	// violation
	Type    string          `json:"type,omitempty"`
	Details json.RawMessage `json:"details,omitempty"`

	// snapshot
	CaptureRef    string `json:"capture_ref,omitempty"`
	ViolationType string `json:"violation_type,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError  Event = "error"
	EventScored Event = "scored"
	EventQueued Event = "queued"
	EventPong   Event = "pong"
)

// ScoredResponse reports the session's integrity state right after a
// violation is logged, so the client can lock the exam UI immediately.
type ScoredResponse struct {
	Event          Event   `json:"event"`
	Severity       string  `json:"severity"`
	SuspicionScore int     `json:"suspicion_score"`
	IsLocked       bool    `json:"is_locked"`
	LockReason     *string `json:"lock_reason,omitempty"`
}

// QueuedResponse acknowledges an evidence snapshot accepted for async persistence.
type QueuedResponse struct {
	Event  Event  `json:"event"`
	Status string `json:"status"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
