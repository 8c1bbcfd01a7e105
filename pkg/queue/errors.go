package queue

import "errors"

var (
	// ErrBrokerNil is returned when a nil broker is provided.
	ErrBrokerNil = errors.New("broker cannot be nil")

	// ErrQueueNameEmpty is returned when publishing without a queue name.
	ErrQueueNameEmpty = errors.New("queue name cannot be empty")

	// ErrPayloadEmpty is returned when publishing an empty payload.
	ErrPayloadEmpty = errors.New("payload cannot be empty")

	// ErrInvalidPriority is returned when priority is outside valid range.
	ErrInvalidPriority = errors.New("priority must be between 0 and 100")

	// ErrQueueFull is returned by Publish when the destination queue reached
	// its configured maximum length. This is the backpressure signal for
	// producers; consumers are never blocked by it.
	ErrQueueFull = errors.New("queue is at maximum length")

	// ErrNoMessageToClaim indicates no message is currently due. Normal
	// condition, not a failure.
	ErrNoMessageToClaim = errors.New("no message to claim")

	// ErrMessageNotFound is returned for ack/reject of an unknown message.
	ErrMessageNotFound = errors.New("message not found")

	// ErrMessageNotClaimed is returned for ack/reject of a message that is
	// not currently locked by a consumer.
	ErrMessageNotClaimed = errors.New("message is not claimed")

	// ErrNoHandlers is returned when a worker is started with no handlers.
	ErrNoHandlers = errors.New("no queue handlers registered")

	// ErrHandlerNil is returned when registering a nil handler.
	ErrHandlerNil = errors.New("handler cannot be nil")

	// ErrDeadLetter is returned by handlers to signal that the message must
	// be routed to the dead-letter destination instead of being retried.
	ErrDeadLetter = errors.New("message rejected to dead letter")

	// ErrRequeue is returned by handlers to signal that the message should
	// be made claimable again immediately.
	ErrRequeue = errors.New("message rejected for requeue")
)
