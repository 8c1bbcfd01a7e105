package notification

import (
	"time"

	"github.com/google/uuid"
)

// Type is the notification category. It drives retry policy resolution and
// template selection.
type Type string

const (
	TypeTaskAssigned    Type = "task_assigned"
	TypeTaskCompleted   Type = "task_completed"
	TypeDueDateReminder Type = "due_date_reminder"
	TypeProjectInvite   Type = "project_invite"
	TypeCommentAdded    Type = "comment_added"
	TypeSystem          Type = "system"
)

// Priority informs queue ordering hints for a notification.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Valid checks if the priority is one of the known values.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	}
	return false
}

// Status is the notification lifecycle state.
type Status string

const (
	// StatusPending means the notification is persisted and queued (or
	// scheduled) but no delivery attempt is in flight.
	StatusPending Status = "pending"

	// StatusDelivering means a consumer owns the message and a delivery
	// attempt is in progress.
	StatusDelivering Status = "delivering"

	// StatusDelivered means every requested channel succeeded. Terminal.
	StatusDelivered Status = "delivered"

	// StatusFailed means delivery attempts are exhausted. Terminal.
	StatusFailed Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed
}

// CanTransitionTo reports whether the lifecycle permits moving to next.
// Re-entering the same non-terminal state is permitted so redelivered
// messages can be processed idempotently; terminal states admit nothing.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusPending || next == StatusDelivering
	case StatusDelivering:
		return next == StatusDelivering || next == StatusDelivered ||
			next == StatusPending || next == StatusFailed
	default:
		return false
	}
}

// Well-known metadata keys.
const (
	// MetadataCorrelationID ties the notification to the request that
	// created it across logs and queue messages.
	MetadataCorrelationID = "correlation_id"

	// MetadataScheduledFor records the requested deferred send time.
	MetadataScheduledFor = "scheduled_for"
)

// Notification is a single notification owned by the delivery pipeline from
// creation to its terminal state.
type Notification struct {
	ID               uuid.UUID         `json:"id"`
	UserID           string            `json:"user_id"`
	Type             Type              `json:"type"`
	Title            string            `json:"title"`
	Message          string            `json:"message"`
	Priority         Priority          `json:"priority"`
	Channels         []string          `json:"channels"`
	Status           Status            `json:"status"`
	DeliveryAttempts int               `json:"delivery_attempts"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	ReadAt           *time.Time        `json:"read_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// CorrelationID returns the correlation metadata value, or "" when absent.
func (n *Notification) CorrelationID() string {
	if n.Metadata == nil {
		return ""
	}
	return n.Metadata[MetadataCorrelationID]
}

// Read reports whether the notification has been marked read by its
// recipient.
func (n *Notification) Read() bool {
	return n.ReadAt != nil
}
