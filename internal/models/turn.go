package models

import "time"

// Turn represents one user-message/assistant-reply exchange. A user turn is
// complete as soon as it is recorded; an assistant turn moves through the
// streaming lifecycle while its content is appended delta by delta.
type Turn struct {
	ID        string
	Role      Role
	Content   string
	Status    TurnStatus
	Timestamp time.Time

	// Err holds the original transport or protocol error for a failed turn.
	// The user-visible message derived from it lives in Content.
	Err error
}

// TurnEvent is the snapshot emitted to observers every time a turn changes.
type TurnEvent struct {
	TurnID  string     `json:"turn_id"`
	Role    Role       `json:"role"`
	Content string     `json:"content"`
	Status  TurnStatus `json:"status"`
}

// Role represents the role of a turn participant.
type Role string

// TurnStatus represents the lifecycle state of a turn.
type TurnStatus string

const (
	// RoleUser represents a user turn.
	RoleUser Role = "user"
	// RoleAssistant represents an assistant turn.
	RoleAssistant Role = "assistant"

	// TurnPending means the turn has been submitted but its stream has not opened yet.
	TurnPending TurnStatus = "pending"
	// TurnStreaming means the reply stream is open and deltas may still arrive.
	TurnStreaming TurnStatus = "streaming"
	// TurnComplete means the reply stream ended normally.
	TurnComplete TurnStatus = "complete"
	// TurnAborted means the turn was stopped by an explicit cancellation.
	TurnAborted TurnStatus = "aborted"
	// TurnFailed means the turn ended with a transport or protocol error.
	TurnFailed TurnStatus = "failed"
)

// Active reports whether the turn still owns the in-flight slot of its session.
func (s TurnStatus) Active() bool {
	return s == TurnPending || s == TurnStreaming
}

// Event builds the observer snapshot for the turn's current state.
func (t Turn) Event() TurnEvent {
	return TurnEvent{
		TurnID:  t.ID,
		Role:    t.Role,
		Content: t.Content,
		Status:  t.Status,
	}
}
