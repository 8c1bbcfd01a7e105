package retrypolicy

import "time"

// Priority is the delivery priority a policy assigns to its notification type.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Policy describes how deliveries of one notification type are retried.
type Policy struct {
	// MaxAttempts is the total number of delivery attempts before the
	// notification is marked failed and dead-lettered.
	MaxAttempts int

	// BackoffInterval is the base delay before the first retry. Subsequent
	// retries double the delay.
	BackoffInterval time.Duration

	// MaxBackoff caps the computed delay. Zero means no cap.
	MaxBackoff time.Duration

	// Priority is the queue priority hint for the type.
	Priority Priority
}

// Backoff returns the delay before re-enqueueing after the given failed
// attempt (1-based): BackoffInterval * 2^(attempt-1), capped at MaxBackoff.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	// Shift overflows past 62 doublings; every realistic policy caps out or
	// exhausts attempts long before that.
	shift := attempt - 1
	if shift > 62 {
		shift = 62
	}

	delay := p.BackoffInterval << shift
	if delay < p.BackoffInterval {
		delay = p.MaxBackoff
	}
	if p.MaxBackoff > 0 && delay > p.MaxBackoff {
		delay = p.MaxBackoff
	}

	return delay
}

// DefaultPolicy is applied to any notification type without an explicit
// entry: 3 attempts, 5s base backoff, normal priority.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		BackoffInterval: 5 * time.Second,
		Priority:        PriorityNormal,
	}
}
