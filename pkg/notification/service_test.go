package notification_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskhive/notifier/pkg/channel"
	"github.com/taskhive/notifier/pkg/notification"
	"github.com/taskhive/notifier/pkg/queue"
	"github.com/taskhive/notifier/pkg/ratelimiter"
	"github.com/taskhive/notifier/pkg/retrypolicy"
)

// spyPublisher records every published message. The embedded memory broker
// does the real option handling so recorded messages carry priority, headers,
// and scheduling exactly as a broker would see them.
type spyPublisher struct {
	broker    *queue.MemoryBroker
	published []*queue.Message
	failWith  error
}

func newSpyPublisher(t *testing.T) *spyPublisher {
	t.Helper()

	broker := queue.NewMemoryBroker()
	t.Cleanup(func() { _ = broker.Close() })
	return &spyPublisher{broker: broker}
}

func (p *spyPublisher) Publish(ctx context.Context, queueName string, payload []byte, opts ...queue.PublishOption) (*queue.Message, error) {
	if p.failWith != nil {
		return nil, p.failWith
	}
	msg, err := p.broker.Publish(ctx, queueName, payload, opts...)
	if err != nil {
		return nil, err
	}
	p.published = append(p.published, msg)
	return msg, nil
}

type fakeChannel struct {
	name     string
	sendErr  error
	sent     int
	payloads []channel.Payload
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(ctx context.Context, userID string, payload channel.Payload, correlationID string) error {
	f.sent++
	f.payloads = append(f.payloads, payload)
	return f.sendErr
}

type fakeLimiter struct {
	result *ratelimiter.Result
	err    error
}

func (f *fakeLimiter) Allow(ctx context.Context, key string) (*ratelimiter.Result, error) {
	return f.result, f.err
}

type fixture struct {
	store     *notification.MemoryStore
	publisher *spyPublisher
	email     *fakeChannel
	svc       *notification.Service
}

func newFixture(t *testing.T, opts ...notification.ServiceOption) *fixture {
	t.Helper()

	store := notification.NewMemoryStore()
	publisher := newSpyPublisher(t)
	email := &fakeChannel{name: "email"}

	registry := channel.NewRegistry()
	require.NoError(t, registry.Register(email))

	policies := retrypolicy.NewResolver(map[string]retrypolicy.Policy{
		string(notification.TypeDueDateReminder): {
			MaxAttempts:     5,
			BackoffInterval: 10 * time.Second,
			Priority:        retrypolicy.PriorityHigh,
		},
	})

	svc, err := notification.NewService(store, publisher, registry, policies, opts...)
	require.NoError(t, err)

	return &fixture{store: store, publisher: publisher, email: email, svc: svc}
}

func claimed(t *testing.T, f *fixture) *queue.Message {
	t.Helper()

	require.NotEmpty(t, f.publisher.published, "nothing was published")
	msg := *f.publisher.published[len(f.publisher.published)-1]
	return &msg
}

func TestService_Send(t *testing.T) {
	t.Parallel()

	t.Run("creates pending and publishes with zero retry count", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)

		n, err := f.svc.Send(context.Background(), notification.Request{
			UserID:  "u1",
			Type:    notification.TypeTaskAssigned,
			Title:   "T",
			Message: "M",
		}, notification.Options{Channels: []string{"email"}})
		require.NoError(t, err)

		assert.Equal(t, notification.StatusPending, n.Status)
		assert.Equal(t, 0, n.DeliveryAttempts)
		assert.NotEmpty(t, n.CorrelationID())
		assert.Equal(t, []string{"email"}, n.Channels)

		require.Len(t, f.publisher.published, 1)
		msg := f.publisher.published[0]
		assert.Equal(t, f.svc.QueueName(), msg.Queue)
		assert.Equal(t, "0", msg.Header(queue.HeaderRetryCount))
		assert.Equal(t, n.CorrelationID(), msg.CorrelationID())
		assert.Equal(t, queue.PriorityNormal, msg.Priority)
	})

	t.Run("priority follows the type's retry policy", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)

		n, err := f.svc.Send(context.Background(), notification.Request{
			UserID: "u1",
			Type:   notification.TypeDueDateReminder,
		}, notification.Options{})
		require.NoError(t, err)

		assert.Equal(t, notification.PriorityHigh, n.Priority)
		assert.Equal(t, queue.PriorityHigh, claimed(t, f).Priority)
	})

	t.Run("explicit priority overrides the policy", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)

		n, err := f.svc.Send(context.Background(), notification.Request{
			UserID: "u1",
			Type:   notification.TypeDueDateReminder,
		}, notification.Options{Priority: notification.PriorityLow})
		require.NoError(t, err)

		assert.Equal(t, notification.PriorityLow, n.Priority)
		assert.Equal(t, queue.PriorityLow, claimed(t, f).Priority)
	})

	t.Run("missing user id", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		_, err := f.svc.Send(context.Background(), notification.Request{
			Type: notification.TypeTaskAssigned,
		}, notification.Options{})
		require.ErrorIs(t, err, notification.ErrInvalidRequest)
		assert.Empty(t, f.publisher.published)
	})

	t.Run("missing type", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		_, err := f.svc.Send(context.Background(), notification.Request{
			UserID: "u1",
		}, notification.Options{})
		require.ErrorIs(t, err, notification.ErrInvalidRequest)
	})

	t.Run("rate limit denial creates nothing", func(t *testing.T) {
		t.Parallel()

		denied := &fakeLimiter{result: &ratelimiter.Result{
			Limit:     10,
			Remaining: -1,
			ResetAt:   time.Now().Add(time.Minute),
		}}
		f := newFixture(t, notification.WithRateLimiter(denied))

		_, err := f.svc.Send(context.Background(), notification.Request{
			UserID: "u2",
			Type:   notification.TypeTaskAssigned,
		}, notification.Options{})
		require.ErrorIs(t, err, notification.ErrRateLimitExceeded)

		_, total, err := f.svc.ListForUser(context.Background(), "u2", notification.Filter{}, notification.Page{})
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.Empty(t, f.publisher.published)
	})

	t.Run("limiter outage allows the request", func(t *testing.T) {
		t.Parallel()

		broken := &fakeLimiter{err: errors.New("redis unavailable")}
		f := newFixture(t, notification.WithRateLimiter(broken))

		_, err := f.svc.Send(context.Background(), notification.Request{
			UserID: "u1",
			Type:   notification.TypeTaskAssigned,
		}, notification.Options{})
		require.NoError(t, err)
		assert.Len(t, f.publisher.published, 1)
	})

	t.Run("scheduled send defers the publish", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		at := time.Now().Add(time.Hour)

		n, err := f.svc.Send(context.Background(), notification.Request{
			UserID: "u1",
			Type:   notification.TypeDueDateReminder,
			Title:  "Due soon",
		}, notification.Options{ScheduledFor: &at})
		require.NoError(t, err)

		msg := claimed(t, f)
		assert.WithinDuration(t, at, msg.ScheduledAt, time.Second)
		assert.Equal(t, at.Format(time.RFC3339), n.Metadata[notification.MetadataScheduledFor])

		// Not claimable before the scheduled time.
		_, err = f.publisher.broker.ClaimMessage(context.Background(), uuid.New(),
			[]string{f.svc.QueueName()}, time.Minute)
		require.ErrorIs(t, err, queue.ErrNoMessageToClaim)
	})

	t.Run("enqueue failure leaves the record pending", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.publisher.failWith = queue.ErrQueueFull

		n, err := f.svc.Send(context.Background(), notification.Request{
			UserID: "u1",
			Type:   notification.TypeTaskAssigned,
		}, notification.Options{})
		require.ErrorIs(t, err, notification.ErrEnqueue)
		require.NotNil(t, n)

		stored, ferr := f.store.FindByID(context.Background(), n.ID)
		require.NoError(t, ferr)
		assert.Equal(t, notification.StatusPending, stored.Status)
	})
}

func TestService_HandleDelivery(t *testing.T) {
	t.Parallel()

	send := func(t *testing.T, f *fixture, typ notification.Type) (*notification.Notification, *queue.Message) {
		t.Helper()

		n, err := f.svc.Send(context.Background(), notification.Request{
			UserID:  "u1",
			Type:    typ,
			Title:   "T",
			Message: "M",
		}, notification.Options{Channels: []string{"email"}})
		require.NoError(t, err)
		return n, claimed(t, f)
	}

	t.Run("successful delivery settles as delivered", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		n, msg := send(t, f, notification.TypeTaskAssigned)

		require.NoError(t, f.svc.HandleDelivery(context.Background(), msg))

		stored, err := f.store.FindByID(context.Background(), n.ID)
		require.NoError(t, err)
		assert.Equal(t, notification.StatusDelivered, stored.Status)
		assert.Equal(t, 1, stored.DeliveryAttempts)
		assert.Equal(t, 1, f.email.sent)

		// No retry was scheduled.
		assert.Len(t, f.publisher.published, 1)
	})

	t.Run("redelivered copy of a settled notification is acked without sending", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		_, msg := send(t, f, notification.TypeTaskAssigned)

		require.NoError(t, f.svc.HandleDelivery(context.Background(), msg))
		require.Equal(t, 1, f.email.sent)

		// Same message again, as an at-least-once transport may do.
		require.NoError(t, f.svc.HandleDelivery(context.Background(), msg))
		assert.Equal(t, 1, f.email.sent)
	})

	t.Run("failure schedules a retry with backoff and increments attempts", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.email.sendErr = errors.New("smtp timeout")
		n, msg := send(t, f, notification.TypeTaskAssigned)

		before := time.Now()
		require.NoError(t, f.svc.HandleDelivery(context.Background(), msg))

		stored, err := f.store.FindByID(context.Background(), n.ID)
		require.NoError(t, err)
		assert.Equal(t, notification.StatusPending, stored.Status)
		assert.Equal(t, 1, stored.DeliveryAttempts)
		assert.Contains(t, stored.Metadata["attempt_1_error"], "smtp timeout")

		// Default policy: first retry after ~5s, retry count bumped to 1.
		require.Len(t, f.publisher.published, 2)
		retry := f.publisher.published[1]
		assert.Equal(t, "1", retry.Header(queue.HeaderRetryCount))
		assert.Equal(t, msg.CorrelationID(), retry.CorrelationID())
		assert.WithinDuration(t, before.Add(5*time.Second), retry.ScheduledAt, time.Second)
	})

	t.Run("backoff grows exponentially across retries", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.email.sendErr = errors.New("smtp timeout")
		_, msg := send(t, f, notification.TypeTaskAssigned)

		// Attempts 1 and 2 fail and schedule retries (default max is 3).
		start := time.Now()
		require.NoError(t, f.svc.HandleDelivery(context.Background(), msg))
		require.NoError(t, f.svc.HandleDelivery(context.Background(), msg))

		require.Len(t, f.publisher.published, 3)
		first := f.publisher.published[1].ScheduledAt
		second := f.publisher.published[2].ScheduledAt
		assert.WithinDuration(t, start.Add(5*time.Second), first, time.Second)
		assert.WithinDuration(t, start.Add(10*time.Second), second, time.Second)
		assert.True(t, second.After(first), "backoff must strictly increase")
	})

	t.Run("exhausted attempts settle as failed and dead-letter", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.email.sendErr = errors.New("smtp timeout")
		n, msg := send(t, f, notification.TypeTaskAssigned)

		ctx := context.Background()
		require.NoError(t, f.svc.HandleDelivery(ctx, msg))
		require.NoError(t, f.svc.HandleDelivery(ctx, msg))

		// Third attempt exhausts the default budget of 3.
		err := f.svc.HandleDelivery(ctx, msg)
		require.ErrorIs(t, err, queue.ErrDeadLetter)

		stored, ferr := f.store.FindByID(ctx, n.ID)
		require.NoError(t, ferr)
		assert.Equal(t, notification.StatusFailed, stored.Status)
		assert.Equal(t, 3, stored.DeliveryAttempts)
		assert.Equal(t, 3, f.email.sent)

		// Attempt history is preserved in metadata.
		assert.Contains(t, stored.Metadata, "attempt_1_error")
		assert.Contains(t, stored.Metadata, "attempt_2_error")
		assert.Contains(t, stored.Metadata, "attempt_3_error")

		// No retry was scheduled past the terminal decision.
		assert.Len(t, f.publisher.published, 3)
	})

	t.Run("attempts track failures up to the policy maximum", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.email.sendErr = errors.New("smtp timeout")
		n, msg := send(t, f, notification.TypeTaskAssigned)
		ctx := context.Background()

		for i := 1; i <= 5; i++ {
			err := f.svc.HandleDelivery(ctx, msg)
			stored, ferr := f.store.FindByID(ctx, n.ID)
			require.NoError(t, ferr)

			if i < 3 {
				require.NoError(t, err)
				assert.Equal(t, i, stored.DeliveryAttempts)
			} else {
				// min(N, maxAttempts): redeliveries past terminal ack only.
				assert.Equal(t, 3, stored.DeliveryAttempts)
			}
		}
		assert.Equal(t, 3, f.email.sent)
	})

	t.Run("unregistered channel fails the attempt", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		n, err := f.svc.Send(context.Background(), notification.Request{
			UserID: "u1",
			Type:   notification.TypeTaskAssigned,
		}, notification.Options{Channels: []string{"sms"}})
		require.NoError(t, err)

		require.NoError(t, f.svc.HandleDelivery(context.Background(), claimed(t, f)))

		stored, ferr := f.store.FindByID(context.Background(), n.ID)
		require.NoError(t, ferr)
		assert.Equal(t, notification.StatusPending, stored.Status)
		assert.Equal(t, 1, stored.DeliveryAttempts)
	})

	t.Run("malformed payload dead-letters", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		err := f.svc.HandleDelivery(context.Background(), &queue.Message{
			ID:      uuid.New(),
			Queue:   f.svc.QueueName(),
			Payload: []byte("not json"),
		})
		require.ErrorIs(t, err, queue.ErrDeadLetter)
	})

	t.Run("unknown notification dead-letters", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		payload, err := json.Marshal(map[string]string{
			"notification_id": uuid.New().String(),
			"user_id":         "u1",
		})
		require.NoError(t, err)

		err = f.svc.HandleDelivery(context.Background(), &queue.Message{
			ID:      uuid.New(),
			Queue:   f.svc.QueueName(),
			Payload: payload,
		})
		require.ErrorIs(t, err, queue.ErrDeadLetter)
	})

	t.Run("retry publish failure keeps the original claimable", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.email.sendErr = errors.New("smtp timeout")
		n, msg := send(t, f, notification.TypeTaskAssigned)

		f.publisher.failWith = queue.ErrQueueFull

		err := f.svc.HandleDelivery(context.Background(), msg)
		require.ErrorIs(t, err, queue.ErrRequeue)

		stored, ferr := f.store.FindByID(context.Background(), n.ID)
		require.NoError(t, ferr)
		assert.Equal(t, notification.StatusDelivering, stored.Status)
	})
}

func TestService_ReadSide(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	n, err := f.svc.Send(ctx, notification.Request{
		UserID: "u1",
		Type:   notification.TypeCommentAdded,
		Title:  "New comment",
	}, notification.Options{})
	require.NoError(t, err)

	count, err := f.svc.CountUnread(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	read, err := f.svc.MarkAsRead(ctx, n.ID, "u1")
	require.NoError(t, err)
	assert.True(t, read.Read())

	count, err = f.svc.CountUnread(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = f.svc.MarkAsRead(ctx, n.ID, "intruder")
	require.ErrorIs(t, err, notification.ErrNotFound)

	items, total, err := f.svc.ListForUser(ctx, "u1", notification.Filter{}, notification.Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, n.ID, items[0].ID)
}
