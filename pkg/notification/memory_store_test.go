package notification_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskhive/notifier/pkg/notification"
)

func newStored(t *testing.T, store *notification.MemoryStore, userID string, typ notification.Type) *notification.Notification {
	t.Helper()

	n, err := store.Create(context.Background(), &notification.Notification{
		UserID:   userID,
		Type:     typ,
		Title:    "T",
		Message:  "M",
		Priority: notification.PriorityNormal,
		Channels: []string{"email"},
		Status:   notification.StatusPending,
	})
	require.NoError(t, err)
	return n
}

func TestMemoryStore_CreateFind(t *testing.T) {
	t.Parallel()

	store := notification.NewMemoryStore()
	n := newStored(t, store, "u1", notification.TypeTaskAssigned)

	assert.NotEqual(t, uuid.Nil, n.ID)
	assert.False(t, n.CreatedAt.IsZero())
	assert.Equal(t, n.CreatedAt, n.UpdatedAt)

	found, err := store.FindByID(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, n.ID, found.ID)
	assert.Equal(t, notification.StatusPending, found.Status)

	_, err = store.FindByID(context.Background(), uuid.New())
	require.ErrorIs(t, err, notification.ErrNotFound)
}

func TestMemoryStore_UpdateStatus(t *testing.T) {
	t.Parallel()

	t.Run("walks the lifecycle forward", func(t *testing.T) {
		t.Parallel()

		store := notification.NewMemoryStore()
		n := newStored(t, store, "u1", notification.TypeTaskAssigned)
		ctx := context.Background()

		updated, err := store.UpdateStatus(ctx, n.ID, notification.StatusUpdate{
			Status:            notification.StatusDelivering,
			IncrementAttempts: true,
		})
		require.NoError(t, err)
		assert.Equal(t, notification.StatusDelivering, updated.Status)
		assert.Equal(t, 1, updated.DeliveryAttempts)
		assert.True(t, updated.UpdatedAt.After(n.UpdatedAt) || updated.UpdatedAt.Equal(n.UpdatedAt))

		updated, err = store.UpdateStatus(ctx, n.ID, notification.StatusUpdate{
			Status: notification.StatusDelivered,
		})
		require.NoError(t, err)
		assert.Equal(t, notification.StatusDelivered, updated.Status)
	})

	t.Run("rejects transitions out of terminal states", func(t *testing.T) {
		t.Parallel()

		store := notification.NewMemoryStore()
		n := newStored(t, store, "u1", notification.TypeTaskAssigned)
		ctx := context.Background()

		_, err := store.UpdateStatus(ctx, n.ID, notification.StatusUpdate{Status: notification.StatusDelivering})
		require.NoError(t, err)
		_, err = store.UpdateStatus(ctx, n.ID, notification.StatusUpdate{Status: notification.StatusDelivered})
		require.NoError(t, err)

		_, err = store.UpdateStatus(ctx, n.ID, notification.StatusUpdate{Status: notification.StatusPending})
		require.ErrorIs(t, err, notification.ErrInvalidTransition)
	})

	t.Run("rejects skipping delivering", func(t *testing.T) {
		t.Parallel()

		store := notification.NewMemoryStore()
		n := newStored(t, store, "u1", notification.TypeTaskAssigned)

		_, err := store.UpdateStatus(context.Background(), n.ID, notification.StatusUpdate{
			Status: notification.StatusDelivered,
		})
		require.ErrorIs(t, err, notification.ErrInvalidTransition)
	})

	t.Run("records attempt errors in metadata", func(t *testing.T) {
		t.Parallel()

		store := notification.NewMemoryStore()
		n := newStored(t, store, "u1", notification.TypeTaskAssigned)
		ctx := context.Background()

		_, err := store.UpdateStatus(ctx, n.ID, notification.StatusUpdate{
			Status:            notification.StatusDelivering,
			IncrementAttempts: true,
		})
		require.NoError(t, err)

		updated, err := store.UpdateStatus(ctx, n.ID, notification.StatusUpdate{
			Status:       notification.StatusPending,
			Channel:      "email",
			ErrorMessage: "provider unavailable",
		})
		require.NoError(t, err)
		assert.Equal(t, "email: provider unavailable", updated.Metadata["attempt_1_error"])
	})

	t.Run("unknown id", func(t *testing.T) {
		t.Parallel()

		store := notification.NewMemoryStore()
		_, err := store.UpdateStatus(context.Background(), uuid.New(), notification.StatusUpdate{
			Status: notification.StatusDelivering,
		})
		require.ErrorIs(t, err, notification.ErrNotFound)
	})
}

func TestMemoryStore_MarkRead(t *testing.T) {
	t.Parallel()

	store := notification.NewMemoryStore()
	n := newStored(t, store, "u1", notification.TypeCommentAdded)
	ctx := context.Background()

	read, err := store.MarkRead(ctx, n.ID, "u1")
	require.NoError(t, err)
	require.NotNil(t, read.ReadAt)

	// Marking twice keeps the original timestamp.
	again, err := store.MarkRead(ctx, n.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, read.ReadAt.Unix(), again.ReadAt.Unix())

	// Another user cannot read someone else's notification.
	_, err = store.MarkRead(ctx, n.ID, "u2")
	require.ErrorIs(t, err, notification.ErrNotFound)
}

func TestMemoryStore_ListByUser(t *testing.T) {
	t.Parallel()

	store := notification.NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		newStored(t, store, "u1", notification.TypeTaskAssigned)
		// Distinct creation times for a deterministic order.
		time.Sleep(time.Millisecond)
	}
	reminder := newStored(t, store, "u1", notification.TypeDueDateReminder)
	newStored(t, store, "u2", notification.TypeTaskAssigned)

	t.Run("newest first with total", func(t *testing.T) {
		t.Parallel()

		items, total, err := store.ListByUser(ctx, "u1", notification.Filter{}, notification.Page{})
		require.NoError(t, err)
		assert.Equal(t, 4, total)
		require.Len(t, items, 4)
		assert.Equal(t, reminder.ID, items[0].ID)
	})

	t.Run("filter by type", func(t *testing.T) {
		t.Parallel()

		items, total, err := store.ListByUser(ctx, "u1",
			notification.Filter{Types: []notification.Type{notification.TypeDueDateReminder}},
			notification.Page{})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, items, 1)
		assert.Equal(t, reminder.ID, items[0].ID)
	})

	t.Run("pagination", func(t *testing.T) {
		t.Parallel()

		items, total, err := store.ListByUser(ctx, "u1", notification.Filter{},
			notification.Page{Limit: 2, Offset: 2})
		require.NoError(t, err)
		assert.Equal(t, 4, total)
		assert.Len(t, items, 2)

		items, total, err = store.ListByUser(ctx, "u1", notification.Filter{},
			notification.Page{Limit: 2, Offset: 10})
		require.NoError(t, err)
		assert.Equal(t, 4, total)
		assert.Empty(t, items)
	})

	t.Run("unread filter and count", func(t *testing.T) {
		t.Parallel()

		_, err := store.MarkRead(ctx, reminder.ID, "u1")
		require.NoError(t, err)

		unread := true
		items, total, err := store.ListByUser(ctx, "u1",
			notification.Filter{Unread: &unread}, notification.Page{})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		assert.Len(t, items, 3)

		count, err := store.CountUnread(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 3, count)
	})
}
