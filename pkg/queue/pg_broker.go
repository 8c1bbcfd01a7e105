package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGBroker implements Broker on Postgres. Expected schema:
//
//	CREATE TABLE queue_messages (
//	    id           uuid PRIMARY KEY,
//	    queue        text NOT NULL,
//	    payload      bytea NOT NULL,
//	    priority     smallint NOT NULL,
//	    headers      jsonb NOT NULL DEFAULT '{}'::jsonb,
//	    scheduled_at timestamptz NOT NULL,
//	    expires_at   timestamptz,
//	    locked_until timestamptz,
//	    locked_by    uuid,
//	    created_at   timestamptz NOT NULL
//	);
//	CREATE INDEX queue_messages_claim_idx
//	    ON queue_messages (queue, priority DESC, scheduled_at);
//
//	CREATE TABLE queue_dead_letters (
//	    id         uuid PRIMARY KEY,
//	    message_id uuid NOT NULL,
//	    queue      text NOT NULL,
//	    payload    bytea NOT NULL,
//	    priority   smallint NOT NULL,
//	    headers    jsonb NOT NULL DEFAULT '{}'::jsonb,
//	    reason     text NOT NULL,
//	    failed_at  timestamptz NOT NULL,
//	    created_at timestamptz NOT NULL
//	);
//
// Claiming uses FOR UPDATE SKIP LOCKED so concurrent consumers never block
// each other and a message is owned by exactly one consumer until settled.
type PGBroker struct {
	pool *pgxpool.Pool

	maxQueueLength int
}

// PGBrokerOption configures a PGBroker.
type PGBrokerOption func(*PGBroker)

// WithPGMaxQueueLength bounds each queue; Publish fails with ErrQueueFull
// past the bound. Zero means unbounded.
func WithPGMaxQueueLength(n int) PGBrokerOption {
	return func(b *PGBroker) {
		if n > 0 {
			b.maxQueueLength = n
		}
	}
}

// NewPGBroker creates a Postgres-backed broker.
func NewPGBroker(pool *pgxpool.Pool, opts ...PGBrokerOption) (*PGBroker, error) {
	if pool == nil {
		return nil, ErrBrokerNil
	}

	b := &PGBroker{pool: pool}
	for _, opt := range opts {
		opt(b)
	}

	return b, nil
}

// Publish implements Publisher.
func (b *PGBroker) Publish(ctx context.Context, queueName string, payload []byte, opts ...PublishOption) (*Message, error) {
	msg, err := buildMessage(queueName, payload, opts)
	if err != nil {
		return nil, err
	}

	headers, err := json.Marshal(msg.Headers)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal headers: %w", err)
	}
	if msg.Headers == nil {
		headers = []byte("{}")
	}

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if b.maxQueueLength > 0 {
		var count int
		if err := tx.QueryRow(ctx,
			`SELECT count(*) FROM queue_messages WHERE queue = $1`, queueName,
		).Scan(&count); err != nil {
			return nil, fmt.Errorf("failed to count queue length: %w", err)
		}
		if count >= b.maxQueueLength {
			return nil, ErrQueueFull
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO queue_messages (id, queue, payload, priority, headers, scheduled_at, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		msg.ID, msg.Queue, msg.Payload, int16(msg.Priority), headers,
		msg.ScheduledAt, msg.ExpiresAt, msg.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	return msg, nil
}

// ClaimMessage implements Broker.
func (b *PGBroker) ClaimMessage(ctx context.Context, consumerID uuid.UUID, queues []string, lockFor time.Duration) (*Message, error) {
	if len(queues) == 0 {
		return nil, ErrNoMessageToClaim
	}

	lockUntil := time.Now().Add(lockFor)

	row := b.pool.QueryRow(ctx, `
		UPDATE queue_messages SET locked_until = $1, locked_by = $2
		WHERE id = (
			SELECT id FROM queue_messages
			WHERE queue = ANY($3)
			  AND scheduled_at <= now()
			  AND (locked_until IS NULL OR locked_until < now())
			  AND (expires_at IS NULL OR expires_at > now())
			ORDER BY priority DESC, scheduled_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, queue, payload, priority, headers, scheduled_at, expires_at, locked_until, locked_by, created_at`,
		lockUntil, consumerID, queues)

	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoMessageToClaim
		}
		return nil, fmt.Errorf("failed to claim message: %w", err)
	}

	return msg, nil
}

// AckMessage implements Broker.
func (b *PGBroker) AckMessage(ctx context.Context, messageID uuid.UUID) error {
	tag, err := b.pool.Exec(ctx, `
		DELETE FROM queue_messages
		WHERE id = $1 AND locked_until IS NOT NULL`, messageID)
	if err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// RejectMessage implements Broker.
func (b *PGBroker) RejectMessage(ctx context.Context, messageID uuid.UUID, requeue bool) error {
	if requeue {
		tag, err := b.pool.Exec(ctx, `
			UPDATE queue_messages SET locked_until = NULL, locked_by = NULL
			WHERE id = $1 AND locked_until IS NOT NULL`, messageID)
		if err != nil {
			return fmt.Errorf("failed to requeue message: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrMessageNotFound
		}
		return nil
	}

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		WITH moved AS (
			DELETE FROM queue_messages
			WHERE id = $1 AND locked_until IS NOT NULL
			RETURNING id, queue, payload, priority, headers, created_at
		)
		INSERT INTO queue_dead_letters (id, message_id, queue, payload, priority, headers, reason, failed_at, created_at)
		SELECT $2, id, queue, payload, priority, headers, $3, now(), created_at FROM moved`,
		messageID, uuid.New(), DeadLetterReasonRejected)
	if err != nil {
		return fmt.Errorf("failed to dead-letter message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}

	return tx.Commit(ctx)
}

// SweepExpired dead-letters messages past their TTL and releases expired
// locks. Intended to be run periodically by the hosting process.
func (b *PGBroker) SweepExpired(ctx context.Context) error {
	if _, err := b.pool.Exec(ctx, `
		UPDATE queue_messages SET locked_until = NULL, locked_by = NULL
		WHERE locked_until IS NOT NULL AND locked_until < now()`); err != nil {
		return fmt.Errorf("failed to release expired locks: %w", err)
	}

	if _, err := b.pool.Exec(ctx, `
		WITH expired AS (
			DELETE FROM queue_messages
			WHERE expires_at IS NOT NULL AND expires_at < now() AND locked_until IS NULL
			RETURNING id, queue, payload, priority, headers, created_at
		)
		INSERT INTO queue_dead_letters (id, message_id, queue, payload, priority, headers, reason, failed_at, created_at)
		SELECT gen_random_uuid(), id, queue, payload, priority, headers, $1, now(), created_at FROM expired`,
		DeadLetterReasonExpired); err != nil {
		return fmt.Errorf("failed to dead-letter expired messages: %w", err)
	}

	return nil
}

// rowScanner abstracts pgx.Row for message scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var (
		msg      Message
		priority int16
		headers  []byte
	)

	if err := row.Scan(
		&msg.ID, &msg.Queue, &msg.Payload, &priority, &headers,
		&msg.ScheduledAt, &msg.ExpiresAt, &msg.LockedUntil, &msg.LockedBy, &msg.CreatedAt,
	); err != nil {
		return nil, err
	}

	msg.Priority = Priority(priority)
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &msg.Headers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal headers: %w", err)
		}
	}

	return &msg, nil
}
