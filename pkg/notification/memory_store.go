package notification

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Store in memory for tests and local development.
// It enforces the same lifecycle rules as the Postgres store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*Notification
}

// NewMemoryStore creates an empty in-memory notification store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[uuid.UUID]*Notification)}
}

// Create implements Store.
func (s *MemoryStore) Create(ctx context.Context, n *Notification) (*Notification, error) {
	if n == nil {
		return nil, fmt.Errorf("%w: notification is nil", ErrInvalidRequest)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := cloneNotification(n)
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	now := time.Now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = stored.CreatedAt

	s.records[stored.ID] = stored
	return cloneNotification(stored), nil
}

// FindByID implements Store.
func (s *MemoryStore) FindByID(ctx context.Context, id uuid.UUID) (*Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneNotification(n), nil
}

// UpdateStatus implements Store.
func (s *MemoryStore) UpdateStatus(ctx context.Context, id uuid.UUID, update StatusUpdate) (*Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}

	if !n.Status.CanTransitionTo(update.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, n.Status, update.Status)
	}

	n.Status = update.Status
	if update.IncrementAttempts {
		n.DeliveryAttempts++
	}
	if update.ErrorMessage != "" {
		if n.Metadata == nil {
			n.Metadata = make(map[string]string)
		}
		key := fmt.Sprintf("attempt_%d_error", n.DeliveryAttempts)
		if update.Channel != "" {
			n.Metadata[key] = update.Channel + ": " + update.ErrorMessage
		} else {
			n.Metadata[key] = update.ErrorMessage
		}
	}
	n.UpdatedAt = time.Now()

	return cloneNotification(n), nil
}

// MarkRead implements Store.
func (s *MemoryStore) MarkRead(ctx context.Context, id uuid.UUID, userID string) (*Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.records[id]
	if !ok || n.UserID != userID {
		return nil, ErrNotFound
	}

	if n.ReadAt == nil {
		now := time.Now()
		n.ReadAt = &now
		n.UpdatedAt = now
	}

	return cloneNotification(n), nil
}

// ListByUser implements Store.
func (s *MemoryStore) ListByUser(ctx context.Context, userID string, filter Filter, page Page) ([]Notification, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Notification
	for _, n := range s.records {
		if n.UserID != userID || !matches(n, filter) {
			continue
		}
		matched = append(matched, n)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	page = page.Normalize()

	if page.Offset >= total {
		return []Notification{}, total, nil
	}
	end := min(page.Offset+page.Limit, total)

	out := make([]Notification, 0, end-page.Offset)
	for _, n := range matched[page.Offset:end] {
		out = append(out, *cloneNotification(n))
	}
	return out, total, nil
}

// CountUnread implements Store.
func (s *MemoryStore) CountUnread(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, n := range s.records {
		if n.UserID == userID && n.ReadAt == nil {
			count++
		}
	}
	return count, nil
}

func matches(n *Notification, filter Filter) bool {
	if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, n.Status) {
		return false
	}
	if len(filter.Types) > 0 && !slices.Contains(filter.Types, n.Type) {
		return false
	}
	if filter.Unread != nil && *filter.Unread != (n.ReadAt == nil) {
		return false
	}
	return true
}

func cloneNotification(n *Notification) *Notification {
	c := *n
	c.Channels = slices.Clone(n.Channels)
	if n.Metadata != nil {
		c.Metadata = make(map[string]string, len(n.Metadata))
		for k, v := range n.Metadata {
			c.Metadata[k] = v
		}
	}
	if n.ReadAt != nil {
		t := *n.ReadAt
		c.ReadAt = &t
	}
	return &c
}
