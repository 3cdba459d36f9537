package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates proctoring session states.
type SessionStatus string

const (
	SessionStatusActive     SessionStatus = "active"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusLocked     SessionStatus = "locked"
	SessionStatusTerminated SessionStatus = "terminated"
)

// ProctoringSession is one proctored quiz attempt's integrity record.
// UserID, QuizID and ResultID are platform identifiers; this service treats
// them as opaque keys. BrowserInfo and Metadata are captured at start and
// never interpreted.
type ProctoringSession struct {
	ID                  uuid.UUID       `json:"id"`
	UserID              string          `json:"user_id"`
	QuizID              string          `json:"quiz_id"`
	ResultID            *string         `json:"result_id,omitempty"`
	Status              SessionStatus   `json:"status"`
	StartedAt           time.Time       `json:"started_at"`
	EndedAt             *time.Time      `json:"ended_at,omitempty"`
	SuspicionScore      int             `json:"suspicion_score"`
	FinalSuspicionScore *int            `json:"final_suspicion_score,omitempty"`
	IsLocked            bool            `json:"is_locked"`
	LockReason          *string         `json:"lock_reason,omitempty"`
	LockedAt            *time.Time      `json:"locked_at,omitempty"`
	BrowserInfo         json.RawMessage `json:"browser_info,omitempty"`
	Metadata            json.RawMessage `json:"metadata,omitempty"`

	// Violations is append-only; insertion order is chronological order.
	Violations []Violation `json:"violations"`

	// Version guards the session row's read-modify-write cycle. Every write
	// bumps it; stale writers retry against the fresh row.
	Version int64 `json:"-"`
}

// Ended reports whether the session has been finalized by an end call or the
// review sweep. Locked sessions are not ended until explicitly finalized.
func (s *ProctoringSession) Ended() bool {
	return s.EndedAt != nil
}

// ResultSummary is the proctoring digest pushed onto the platform-owned quiz
// result when a session ends. The write is best-effort.
type ResultSummary struct {
	SessionID      uuid.UUID `json:"session_id"`
	SuspicionScore int       `json:"suspicion_score"`
	ViolationCount int       `json:"violation_count"`
	WasLocked      bool      `json:"was_locked"`
	LockReason     *string   `json:"lock_reason,omitempty"`
}

// StartSessionRequest is the payload for opening a proctoring session.
type StartSessionRequest struct {
	QuizID      string          `json:"quiz_id" binding:"required,min=1,max=64"`
	ResultID    *string         `json:"result_id" binding:"omitempty,max=64"`
	BrowserInfo json.RawMessage `json:"browser_info"`
	Metadata    json.RawMessage `json:"metadata"`
}

// EndSessionRequest is the payload for ending a session. Status defaults to
// "completed" when omitted.
type EndSessionRequest struct {
	Status string `json:"status" binding:"omitempty,oneof=completed terminated"`
}
