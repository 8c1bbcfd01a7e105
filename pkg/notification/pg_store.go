package notification

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

// PGStore implements Store on Postgres. Expected schema:
//
//	CREATE TABLE notifications (
//	    id                uuid PRIMARY KEY,
//	    user_id           text NOT NULL,
//	    type              text NOT NULL,
//	    title             text NOT NULL,
//	    message           text NOT NULL,
//	    priority          text NOT NULL,
//	    channels          text[] NOT NULL,
//	    status            text NOT NULL,
//	    delivery_attempts int NOT NULL DEFAULT 0,
//	    metadata          jsonb NOT NULL DEFAULT '{}'::jsonb,
//	    read_at           timestamptz,
//	    created_at        timestamptz NOT NULL,
//	    updated_at        timestamptz NOT NULL
//	);
//	CREATE INDEX notifications_user_idx ON notifications (user_id, created_at DESC);
//
// Status transitions are validated inside a row-locking transaction so
// concurrent updates to the same notification serialize and the lifecycle
// rules hold under at-least-once redelivery.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a Postgres-backed notification store.
func NewPGStore(pool *pgxpool.Pool) (*PGStore, error) {
	if pool == nil {
		return nil, errors.New("pgxpool is required")
	}
	return &PGStore{pool: pool}, nil
}

const notificationColumns = `id, user_id, type, title, message, priority, channels, status,
	delivery_attempts, metadata, read_at, created_at, updated_at`

// Create implements Store.
func (s *PGStore) Create(ctx context.Context, n *Notification) (*Notification, error) {
	if n == nil {
		return nil, fmt.Errorf("%w: notification is nil", ErrInvalidRequest)
	}

	stored := cloneNotification(n)
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	now := time.Now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = stored.CreatedAt

	metadata, err := marshalMetadata(stored.Metadata)
	if err != nil {
		return nil, err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message, priority, channels, status,
			delivery_attempts, metadata, read_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		stored.ID, stored.UserID, string(stored.Type), stored.Title, stored.Message,
		string(stored.Priority), stored.Channels, string(stored.Status),
		stored.DeliveryAttempts, metadata, stored.ReadAt, stored.CreatedAt, stored.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert notification: %w", err)
	}

	return stored, nil
}

// FindByID implements Store.
func (s *PGStore) FindByID(ctx context.Context, id uuid.UUID) (*Notification, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id)

	n, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find notification: %w", err)
	}
	return n, nil
}

// UpdateStatus implements Store.
func (s *PGStore) UpdateStatus(ctx context.Context, id uuid.UUID, update StatusUpdate) (*Notification, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = $1 FOR UPDATE`, id)

	current, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock notification: %w", err)
	}

	if !current.Status.CanTransitionTo(update.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, update.Status)
	}

	current.Status = update.Status
	if update.IncrementAttempts {
		current.DeliveryAttempts++
	}
	if update.ErrorMessage != "" {
		if current.Metadata == nil {
			current.Metadata = make(map[string]string)
		}
		key := fmt.Sprintf("attempt_%d_error", current.DeliveryAttempts)
		if update.Channel != "" {
			current.Metadata[key] = update.Channel + ": " + update.ErrorMessage
		} else {
			current.Metadata[key] = update.ErrorMessage
		}
	}
	current.UpdatedAt = time.Now()

	metadata, err := marshalMetadata(current.Metadata)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE notifications
		SET status = $2, delivery_attempts = $3, metadata = $4, updated_at = $5
		WHERE id = $1`,
		id, string(current.Status), current.DeliveryAttempts, metadata, current.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update notification: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	return current, nil
}

// MarkRead implements Store.
func (s *PGStore) MarkRead(ctx context.Context, id uuid.UUID, userID string) (*Notification, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE notifications
		SET read_at = COALESCE(read_at, now()),
		    updated_at = CASE WHEN read_at IS NULL THEN now() ELSE updated_at END
		WHERE id = $1 AND user_id = $2
		RETURNING `+notificationColumns, id, userID)

	n, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to mark notification read: %w", err)
	}
	return n, nil
}

// ListByUser implements Store.
func (s *PGStore) ListByUser(ctx context.Context, userID string, filter Filter, page Page) ([]Notification, int, error) {
	where := `WHERE user_id = $1`
	args := []any{userID}

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		where += fmt.Sprintf(` AND status = ANY($%d)`, len(args))
	}
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, tp := range filter.Types {
			types[i] = string(tp)
		}
		args = append(args, types)
		where += fmt.Sprintf(` AND type = ANY($%d)`, len(args))
	}
	if filter.Unread != nil {
		if *filter.Unread {
			where += ` AND read_at IS NULL`
		} else {
			where += ` AND read_at IS NOT NULL`
		}
	}

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM notifications `+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	page = page.Normalize()
	args = append(args, page.Limit, page.Offset)
	query := fmt.Sprintf(`SELECT %s FROM notifications %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		notificationColumns, where, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	out := make([]Notification, 0, page.Limit)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read notifications: %w", err)
	}

	return out, total, nil
}

// CountUnread implements Store.
func (s *PGStore) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM notifications WHERE user_id = $1 AND read_at IS NULL`, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

type notificationScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row notificationScanner) (*Notification, error) {
	var (
		n                     Notification
		typ, priority, status string
		metadata              []byte
	)

	if err := row.Scan(
		&n.ID, &n.UserID, &typ, &n.Title, &n.Message, &priority, &n.Channels, &status,
		&n.DeliveryAttempts, &metadata, &n.ReadAt, &n.CreatedAt, &n.UpdatedAt,
	); err != nil {
		return nil, err
	}

	n.Type = Type(typ)
	n.Priority = Priority(priority)
	n.Status = Status(status)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &n.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &n, nil
}

func marshalMetadata(m map[string]string) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return data, nil
}
