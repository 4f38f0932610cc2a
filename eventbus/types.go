package eventbus

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Event types published over the bus.
const (
	TypeRunStarted       = "run_started"
	TypeSessionCompleted = "session_completed"
	TypeRunCompleted     = "run_completed"
)

// RunEvent is the uniform envelope for attendance-run progress events.
// Front-ends subscribe to these instead of polling the status cell.
type RunEvent struct {
	EventID   string    `json:"event_id"`
	RunID     string    `json:"run_id"`
	Type      string    `json:"type"`
	Subject   string    `json:"subject,omitempty"`
	StudentID string    `json:"student_id,omitempty"`
	Success   *bool     `json:"success,omitempty"`
	Total     int       `json:"total,omitempty"`
	Succeeded int       `json:"succeeded,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEventID generates a compact unique event id with a date prefix.
func NewEventID(prefix string, t time.Time) string {
	// 8 random bytes -> 16 hex chars
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return prefix + t.UTC().Format("20060102") + "_" + hex.EncodeToString(b)
}

// MinimalValidate checks required fields.
func (e *RunEvent) MinimalValidate() bool {
	return e.EventID != "" && e.RunID != "" && e.Type != "" && !e.Timestamp.IsZero()
}
