package notification

import (
	"context"

	"github.com/google/uuid"
)

// StatusUpdate describes one status transition applied atomically with its
// bookkeeping.
type StatusUpdate struct {
	// Status is the state to transition to. Required.
	Status Status

	// Channel optionally names the delivery channel that produced this
	// outcome.
	Channel string

	// ErrorMessage optionally records why the attempt failed. Stores append
	// it to the notification metadata keyed by the attempt number.
	ErrorMessage string

	// IncrementAttempts bumps DeliveryAttempts as part of the same update.
	IncrementAttempts bool
}

// Filter narrows ListByUser results. Zero values match everything.
type Filter struct {
	// Statuses keeps only notifications in one of the given states.
	Statuses []Status

	// Types keeps only notifications of the given categories.
	Types []Type

	// Unread keeps only unread (true) or read (false) notifications.
	Unread *bool
}

// Page is offset pagination for ListByUser.
type Page struct {
	Limit  int
	Offset int
}

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = defaultPageLimit
	}
	if p.Limit > maxPageLimit {
		p.Limit = maxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Store is the durable record of notification state. Implementations must
// enforce the status lifecycle: an update whose transition is not permitted
// by Status.CanTransitionTo fails with ErrInvalidTransition, and every
// accepted update bumps UpdatedAt.
type Store interface {
	// Create persists a new notification and returns the stored copy.
	Create(ctx context.Context, n *Notification) (*Notification, error)

	// FindByID returns the notification or ErrNotFound.
	FindByID(ctx context.Context, id uuid.UUID) (*Notification, error)

	// UpdateStatus applies a lifecycle transition atomically with its
	// attempt bookkeeping and returns the updated notification.
	UpdateStatus(ctx context.Context, id uuid.UUID, update StatusUpdate) (*Notification, error)

	// MarkRead records the recipient reading the notification. Fails with
	// ErrNotFound when the notification does not exist or belongs to a
	// different user. Marking twice is a no-op.
	MarkRead(ctx context.Context, id uuid.UUID, userID string) (*Notification, error)

	// ListByUser returns the user's notifications newest first, with the
	// total count matching the filter before pagination.
	ListByUser(ctx context.Context, userID string, filter Filter, page Page) ([]Notification, int, error)

	// CountUnread returns the number of unread notifications for the user.
	CountUnread(ctx context.Context, userID string) (int, error)
}
