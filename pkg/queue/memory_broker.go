package queue

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryBroker implements Broker in memory for tests and local development.
// Semantics mirror the Postgres broker: priority-first claiming, scheduled
// messages invisible until due, bounded queue length, TTL expiry to the
// dead-letter destination, and lock expiry returning messages to the queue.
type MemoryBroker struct {
	mu       sync.Mutex
	messages map[uuid.UUID]*Message
	byQueue  map[string][]uuid.UUID
	dlq      map[string][]DeadLetter

	maxQueueLength int
	defaultTTL     time.Duration

	janitor *time.Ticker
	done    chan struct{}
	once    sync.Once
}

// MemoryBrokerOption configures a MemoryBroker.
type MemoryBrokerOption func(*MemoryBroker)

// WithMaxQueueLength bounds each queue; Publish fails with ErrQueueFull past
// the bound. Zero means unbounded.
func WithMaxQueueLength(n int) MemoryBrokerOption {
	return func(b *MemoryBroker) {
		if n > 0 {
			b.maxQueueLength = n
		}
	}
}

// WithDefaultTTL dead-letters any message not consumed within ttl of
// becoming due, matching transport-level TTL dead-lettering. Zero disables.
func WithDefaultTTL(ttl time.Duration) MemoryBrokerOption {
	return func(b *MemoryBroker) {
		if ttl > 0 {
			b.defaultTTL = ttl
		}
	}
}

// NewMemoryBroker creates an in-memory broker.
func NewMemoryBroker(opts ...MemoryBrokerOption) *MemoryBroker {
	b := &MemoryBroker{
		messages: make(map[uuid.UUID]*Message),
		byQueue:  make(map[string][]uuid.UUID),
		dlq:      make(map[string][]DeadLetter),
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(b)
	}

	// Janitor releases expired locks and dead-letters expired messages.
	b.janitor = time.NewTicker(time.Second)
	go b.run()

	return b
}

// Close stops the background janitor.
func (b *MemoryBroker) Close() error {
	b.once.Do(func() {
		close(b.done)
		b.janitor.Stop()
	})
	return nil
}

// Publish implements Publisher.
func (b *MemoryBroker) Publish(ctx context.Context, queueName string, payload []byte, opts ...PublishOption) (*Message, error) {
	msg, err := buildMessage(queueName, payload, opts)
	if err != nil {
		return nil, err
	}

	if msg.ExpiresAt == nil && b.defaultTTL > 0 {
		t := msg.ScheduledAt.Add(b.defaultTTL)
		msg.ExpiresAt = &t
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.maxQueueLength > 0 && len(b.byQueue[queueName]) >= b.maxQueueLength {
		return nil, ErrQueueFull
	}

	stored := *msg
	b.messages[msg.ID] = &stored
	b.byQueue[queueName] = append(b.byQueue[queueName], msg.ID)

	return msg, nil
}

// ClaimMessage implements Broker.
func (b *MemoryBroker) ClaimMessage(ctx context.Context, consumerID uuid.UUID, queues []string, lockFor time.Duration) (*Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	var best *Message

	for _, queueName := range queues {
		for _, id := range b.byQueue[queueName] {
			msg := b.messages[id]

			// Not due yet, already owned, or expired (janitor will collect).
			if msg.ScheduledAt.After(now) {
				continue
			}
			if msg.LockedUntil != nil && msg.LockedUntil.After(now) {
				continue
			}
			if msg.ExpiresAt != nil && msg.ExpiresAt.Before(now) {
				continue
			}

			// Priority-first selection; earliest due time breaks ties.
			if best == nil ||
				msg.Priority > best.Priority ||
				(msg.Priority == best.Priority && msg.ScheduledAt.Before(best.ScheduledAt)) {
				best = msg
			}
		}
	}

	if best == nil {
		return nil, ErrNoMessageToClaim
	}

	lockUntil := now.Add(lockFor)
	best.LockedUntil = &lockUntil
	best.LockedBy = &consumerID

	claimed := *best
	return &claimed, nil
}

// AckMessage implements Broker.
func (b *MemoryBroker) AckMessage(ctx context.Context, messageID uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	msg, exists := b.messages[messageID]
	if !exists {
		return ErrMessageNotFound
	}
	if msg.LockedUntil == nil {
		return ErrMessageNotClaimed
	}

	b.remove(msg)
	return nil
}

// RejectMessage implements Broker.
func (b *MemoryBroker) RejectMessage(ctx context.Context, messageID uuid.UUID, requeue bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	msg, exists := b.messages[messageID]
	if !exists {
		return ErrMessageNotFound
	}
	if msg.LockedUntil == nil {
		return ErrMessageNotClaimed
	}

	if requeue {
		msg.LockedUntil = nil
		msg.LockedBy = nil
		return nil
	}

	b.deadLetter(msg, DeadLetterReasonRejected)
	return nil
}

// DeadLetters returns a copy of the dead-letter entries for a queue.
func (b *MemoryBroker) DeadLetters(queueName string) []DeadLetter {
	b.mu.Lock()
	defer b.mu.Unlock()

	return slices.Clone(b.dlq[queueName])
}

// Len returns the number of live messages in a queue.
func (b *MemoryBroker) Len(queueName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.byQueue[queueName])
}

// remove deletes a message from storage and indexes. Caller holds the lock.
func (b *MemoryBroker) remove(msg *Message) {
	delete(b.messages, msg.ID)
	b.byQueue[msg.Queue] = slices.DeleteFunc(b.byQueue[msg.Queue], func(id uuid.UUID) bool {
		return id == msg.ID
	})
}

// deadLetter moves a message to the dead-letter destination. Caller holds
// the lock.
func (b *MemoryBroker) deadLetter(msg *Message, reason string) {
	b.dlq[msg.Queue] = append(b.dlq[msg.Queue], DeadLetter{
		ID:        uuid.New(),
		MessageID: msg.ID,
		Queue:     msg.Queue,
		Payload:   msg.Payload,
		Priority:  msg.Priority,
		Headers:   msg.Headers,
		Reason:    reason,
		FailedAt:  time.Now(),
		CreatedAt: msg.CreatedAt,
	})
	b.remove(msg)
}

func (b *MemoryBroker) run() {
	for {
		select {
		case <-b.janitor.C:
			b.sweep()
		case <-b.done:
			return
		}
	}
}

// sweep releases expired locks so crashed consumers don't strand messages,
// and dead-letters messages that outlived their TTL without being consumed.
func (b *MemoryBroker) sweep() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()

	var expired []*Message
	for _, msg := range b.messages {
		if msg.LockedUntil != nil && msg.LockedUntil.Before(now) {
			msg.LockedUntil = nil
			msg.LockedBy = nil
		}
		if msg.ExpiresAt != nil && msg.ExpiresAt.Before(now) && msg.LockedUntil == nil {
			expired = append(expired, msg)
		}
	}

	for _, msg := range expired {
		b.deadLetter(msg, DeadLetterReasonExpired)
	}
}
