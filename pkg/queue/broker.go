package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Publisher is the producer-side contract: durably enqueue a payload.
type Publisher interface {
	// Publish stores a message for asynchronous consumption and returns it.
	// Publishing fails with ErrQueueFull once the destination queue reached
	// its configured maximum length; producers surface that to their callers
	// instead of blocking.
	Publish(ctx context.Context, queueName string, payload []byte, opts ...PublishOption) (*Message, error)
}

// Broker is the full transport contract consumed by workers. Delivery is
// at-least-once: a message is only gone once explicitly acknowledged, and a
// claim whose lock expires makes the message claimable again.
type Broker interface {
	Publisher

	// ClaimMessage atomically claims the next due message from the given
	// queues, preferring higher priorities, and locks it for lockFor.
	// Returns ErrNoMessageToClaim when nothing is due.
	ClaimMessage(ctx context.Context, consumerID uuid.UUID, queues []string, lockFor time.Duration) (*Message, error)

	// AckMessage acknowledges a claimed message, removing it from the queue.
	AckMessage(ctx context.Context, messageID uuid.UUID) error

	// RejectMessage negatively acknowledges a claimed message. With requeue
	// it becomes immediately claimable again; without, it routes to the
	// dead-letter destination.
	RejectMessage(ctx context.Context, messageID uuid.UUID, requeue bool) error
}

// PublishOption is a functional option for Publish.
type PublishOption func(*publishOptions)

type publishOptions struct {
	priority    Priority
	headers     map[string]string
	scheduledAt *time.Time
	delay       time.Duration
	ttl         time.Duration
}

// WithPriority sets the message priority.
func WithPriority(priority Priority) PublishOption {
	return func(o *publishOptions) {
		o.priority = priority
	}
}

// WithHeader sets a single message header.
func WithHeader(key, value string) PublishOption {
	return func(o *publishOptions) {
		if key == "" {
			return
		}
		if o.headers == nil {
			o.headers = make(map[string]string)
		}
		o.headers[key] = value
	}
}

// WithHeaders merges the given headers into the message.
func WithHeaders(headers map[string]string) PublishOption {
	return func(o *publishOptions) {
		for k, v := range headers {
			if k == "" {
				continue
			}
			if o.headers == nil {
				o.headers = make(map[string]string)
			}
			o.headers[k] = v
		}
	}
}

// WithScheduledAt defers consumption until the given time.
func WithScheduledAt(at time.Time) PublishOption {
	return func(o *publishOptions) {
		o.scheduledAt = &at
	}
}

// WithDelay defers consumption by the given duration from now.
// Ignored when WithScheduledAt is also set.
func WithDelay(delay time.Duration) PublishOption {
	return func(o *publishOptions) {
		if delay > 0 {
			o.delay = delay
		}
	}
}

// WithTTL dead-letters the message if it is not consumed within the given
// duration after it becomes due.
func WithTTL(ttl time.Duration) PublishOption {
	return func(o *publishOptions) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// buildMessage constructs a Message from a payload and publish options.
func buildMessage(queueName string, payload []byte, opts []PublishOption) (*Message, error) {
	if queueName == "" {
		return nil, ErrQueueNameEmpty
	}
	if len(payload) == 0 {
		return nil, ErrPayloadEmpty
	}

	options := &publishOptions{
		priority: PriorityDefault,
	}
	for _, opt := range opts {
		opt(options)
	}

	if !options.priority.Valid() {
		return nil, ErrInvalidPriority
	}

	now := time.Now()

	scheduledAt := now
	if options.scheduledAt != nil {
		scheduledAt = *options.scheduledAt
	} else if options.delay > 0 {
		scheduledAt = now.Add(options.delay)
	}

	var expiresAt *time.Time
	if options.ttl > 0 {
		t := scheduledAt.Add(options.ttl)
		expiresAt = &t
	}

	return &Message{
		ID:          uuid.New(),
		Queue:       queueName,
		Payload:     payload,
		Priority:    options.priority,
		Headers:     options.headers,
		ScheduledAt: scheduledAt,
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
	}, nil
}
