package notification

import "errors"

var (
	// ErrInvalidRequest is returned for malformed creation input. Not
	// retryable; the caller must fix the request.
	ErrInvalidRequest = errors.New("invalid notification request")

	// ErrRateLimitExceeded is returned when the per-user quota is exhausted.
	// No notification is created and nothing is enqueued.
	ErrRateLimitExceeded = errors.New("notification rate limit exceeded")

	// ErrPersistence is returned when the store is unavailable during
	// creation. The notification does not exist; the whole call is safe to
	// retry.
	ErrPersistence = errors.New("failed to persist notification")

	// ErrEnqueue is returned when the transport refuses the message after
	// persistence succeeded. The notification remains queryable as pending
	// for later reconciliation.
	ErrEnqueue = errors.New("failed to enqueue notification")

	// ErrNotFound is returned when no notification exists for the given id.
	ErrNotFound = errors.New("notification not found")

	// ErrInvalidTransition is returned by stores for a status update the
	// lifecycle does not permit.
	ErrInvalidTransition = errors.New("invalid status transition")
)
