package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/taskhive/notifier/pkg/channel"
	"github.com/taskhive/notifier/pkg/logger"
	"github.com/taskhive/notifier/pkg/queue"
	"github.com/taskhive/notifier/pkg/ratelimiter"
	"github.com/taskhive/notifier/pkg/retrypolicy"
)

// DefaultQueueName is the transport destination for notification deliveries.
const DefaultQueueName = "notifications.delivery"

// Limiter gates notification creation per user. *ratelimiter.Bucket
// satisfies it.
type Limiter interface {
	Allow(ctx context.Context, key string) (*ratelimiter.Result, error)
}

// Request is the creation input for a notification.
type Request struct {
	UserID   string
	Type     Type
	Title    string
	Message  string
	Metadata map[string]string
}

// Options tune a single send.
type Options struct {
	// Priority overrides the queue priority derived from the type's retry
	// policy.
	Priority Priority

	// Channels names the delivery channels to use. Defaults to ["email"].
	Channels []string

	// ScheduledFor defers delivery until the given time when it is in the
	// future.
	ScheduledFor *time.Time
}

// Service is the notification orchestrator. It owns the lifecycle from
// creation request to terminal state: rate limiting, persistence, enqueue,
// and the consumer-side delivery/retry/dead-letter decisions.
type Service struct {
	store     Store
	publisher queue.Publisher
	channels  *channel.Registry
	policies  *retrypolicy.Resolver
	limiter   Limiter
	logger    *slog.Logger
	queueName string
}

// ServiceOption is a functional option for configuring the service.
type ServiceOption func(*Service)

// WithRateLimiter gates Send per user. Without it creation is unlimited.
func WithRateLimiter(l Limiter) ServiceOption {
	return func(s *Service) {
		s.limiter = l
	}
}

// WithQueueName overrides the transport destination.
func WithQueueName(name string) ServiceOption {
	return func(s *Service) {
		if name != "" {
			s.queueName = name
		}
	}
}

// WithLogger sets the logger for the service.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates the orchestrator over its collaborators.
func NewService(store Store, publisher queue.Publisher, channels *channel.Registry, policies *retrypolicy.Resolver, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if channels == nil {
		return nil, errors.New("channel registry is required")
	}
	if policies == nil {
		return nil, errors.New("retry policy resolver is required")
	}

	s := &Service{
		store:     store,
		publisher: publisher,
		channels:  channels,
		policies:  policies,
		logger:    slog.Default(),
		queueName: DefaultQueueName,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// QueueName returns the transport destination deliveries are published to.
func (s *Service) QueueName() string { return s.queueName }

// deliveryMessage is the queue payload. The store record is authoritative;
// the payload identifies it and carries enough context for logging.
type deliveryMessage struct {
	NotificationID uuid.UUID `json:"notification_id"`
	UserID         string    `json:"user_id"`
	Type           Type      `json:"type"`
}

// Send accepts a notification request: rate-limit check, persist as pending,
// enqueue immediately or at the scheduled time. The caller sees success once
// the notification is durably queued; the delivery outcome is observed later
// through ListForUser.
func (s *Service) Send(ctx context.Context, req Request, opts Options) (*Notification, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	if req.Type == "" {
		return nil, fmt.Errorf("%w: type is required", ErrInvalidRequest)
	}
	if opts.Priority != "" && !opts.Priority.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %q", ErrInvalidRequest, opts.Priority)
	}

	correlationID := req.Metadata[MetadataCorrelationID]
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	log := s.logger.With(
		logger.UserID(req.UserID),
		logger.NotificationType(string(req.Type)),
		logger.CorrelationID(correlationID))

	if err := s.checkRateLimit(ctx, req.UserID, log); err != nil {
		return nil, err
	}

	policy := s.policies.Resolve(string(req.Type))

	priority := Priority(policy.Priority)
	if opts.Priority != "" {
		priority = opts.Priority
	}

	channels := opts.Channels
	if len(channels) == 0 {
		channels = []string{"email"}
	}

	metadata := make(map[string]string, len(req.Metadata)+2)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata[MetadataCorrelationID] = correlationID
	if opts.ScheduledFor != nil {
		metadata[MetadataScheduledFor] = opts.ScheduledFor.Format(time.RFC3339)
	}

	n, err := s.store.Create(ctx, &Notification{
		ID:       uuid.New(),
		UserID:   req.UserID,
		Type:     req.Type,
		Title:    req.Title,
		Message:  req.Message,
		Priority: priority,
		Channels: channels,
		Status:   StatusPending,
		Metadata: metadata,
	})
	if err != nil {
		log.Error("failed to persist notification", logger.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	log = log.With(logger.NotificationID(n.ID))

	payload, err := json.Marshal(deliveryMessage{
		NotificationID: n.ID,
		UserID:         n.UserID,
		Type:           n.Type,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnqueue, err)
	}

	publishOpts := []queue.PublishOption{
		queue.WithPriority(queuePriority(priority)),
		queue.WithHeader(queue.HeaderRetryCount, "0"),
		queue.WithHeader(queue.HeaderCorrelationID, correlationID),
	}
	if opts.ScheduledFor != nil && opts.ScheduledFor.After(time.Now()) {
		publishOpts = append(publishOpts, queue.WithScheduledAt(*opts.ScheduledFor))
	}

	// Enqueue failure leaves the record queryable as pending: an external
	// reconciliation sweep re-enqueues orphaned pending notifications.
	if _, err := s.publisher.Publish(ctx, s.queueName, payload, publishOpts...); err != nil {
		log.Error("failed to enqueue notification", logger.Error(err))
		return n, fmt.Errorf("%w: %v", ErrEnqueue, err)
	}

	log.Info("notification queued",
		slog.String("priority", string(priority)),
		slog.Any("channels", channels),
		slog.Any("scheduled_for", opts.ScheduledFor))

	return n, nil
}

// checkRateLimit consults the per-user limiter. Limiter infrastructure
// failures allow the request through: notification creation stays available
// when the counter store is down.
func (s *Service) checkRateLimit(ctx context.Context, userID string, log *slog.Logger) error {
	if s.limiter == nil {
		return nil
	}

	res, err := s.limiter.Allow(ctx, "notifications:user:"+userID)
	if err != nil {
		log.Warn("rate limiter unavailable, allowing request", logger.Error(err))
		return nil
	}
	if !res.Allowed() {
		log.Info("notification rate limit exceeded",
			slog.Duration("retry_after", res.RetryAfter()))
		return fmt.Errorf("%w: retry after %s", ErrRateLimitExceeded, res.RetryAfter().Round(time.Millisecond))
	}
	return nil
}

// HandleDelivery is the consumer entry point, registered as the queue
// handler for the delivery destination. The return value is the settlement
// decision: nil acks, queue.ErrRequeue retries the same message later, and
// queue.ErrDeadLetter parks it. Channel and store failures are absorbed into
// the retry/backoff logic and never propagate as anything else, so the
// consumer loop keeps running.
func (s *Service) HandleDelivery(ctx context.Context, msg *queue.Message) error {
	var dm deliveryMessage
	if err := json.Unmarshal(msg.Payload, &dm); err != nil {
		s.logger.Error("malformed delivery payload",
			logger.MessageID(msg.ID),
			logger.Error(err))
		return queue.ErrDeadLetter
	}

	log := s.logger.With(
		logger.NotificationID(dm.NotificationID),
		logger.UserID(dm.UserID),
		logger.NotificationType(string(dm.Type)),
		logger.CorrelationID(msg.CorrelationID()))

	current, err := s.store.FindByID(ctx, dm.NotificationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Error("notification record missing for delivery message")
			return queue.ErrDeadLetter
		}
		// Store outage: leave the message claimable so delivery resumes
		// when the store recovers.
		log.Error("failed to load notification, requeueing", logger.Error(err))
		return queue.ErrRequeue
	}

	// At-least-once redelivery guard: a copy of an already-settled message
	// is acked without touching any channel.
	if current.Status.Terminal() {
		log.Debug("notification already settled, acking redelivery",
			slog.String("status", string(current.Status)))
		return nil
	}

	// Attempt starts now. The increment happens with the DELIVERING mark so
	// the count survives a crash mid-attempt.
	attempt, err := s.store.UpdateStatus(ctx, current.ID, StatusUpdate{
		Status:            StatusDelivering,
		IncrementAttempts: true,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			log.Error("unexpected lifecycle state for delivery", logger.Error(err))
			return queue.ErrDeadLetter
		}
		log.Error("failed to mark notification delivering, requeueing", logger.Error(err))
		return queue.ErrRequeue
	}

	log = log.With(logger.Attempt(attempt.DeliveryAttempts))

	failedChannel, sendErr := s.deliver(ctx, attempt, log)
	if sendErr == nil {
		if _, err := s.store.UpdateStatus(ctx, attempt.ID, StatusUpdate{Status: StatusDelivered}); err != nil {
			// The send happened; acking anyway avoids a duplicate email at
			// the cost of a stale record for the reconciliation sweep.
			log.Error("delivered but failed to record terminal status", logger.Error(err))
			return nil
		}
		log.Info("notification delivered")
		return nil
	}

	return s.handleFailure(ctx, msg, attempt, failedChannel, sendErr, log)
}

// deliver sends through every requested channel. The first failure fails the
// whole attempt; remaining channels are skipped.
func (s *Service) deliver(ctx context.Context, n *Notification, log *slog.Logger) (string, error) {
	payload := channel.Payload{
		Title:    n.Title,
		Message:  n.Message,
		Metadata: n.Metadata,
	}

	for _, name := range n.Channels {
		ch, err := s.channels.Get(name)
		if err != nil {
			return name, err
		}

		if err := ch.Send(ctx, n.UserID, payload, n.CorrelationID()); err != nil {
			if errors.Is(err, channel.ErrCircuitOpen) {
				log.Warn("delivery refused by open circuit", logger.Channel(name))
			} else {
				log.Warn("channel delivery failed",
					logger.Channel(name),
					logger.Error(err))
			}
			return name, err
		}
	}

	return "", nil
}

// handleFailure drives the retry/dead-letter decision for a failed attempt.
// The re-published retry is durable before the original message is acked, so
// a crash between the two yields a redundant redelivery (absorbed by the
// terminal-status guard), never a lost retry.
func (s *Service) handleFailure(ctx context.Context, msg *queue.Message, n *Notification, failedChannel string, sendErr error, log *slog.Logger) error {
	policy := s.policies.Resolve(string(n.Type))

	if n.DeliveryAttempts >= policy.MaxAttempts {
		if _, err := s.store.UpdateStatus(ctx, n.ID, StatusUpdate{
			Status:       StatusFailed,
			Channel:      failedChannel,
			ErrorMessage: sendErr.Error(),
		}); err != nil {
			log.Error("failed to record terminal failure", logger.Error(err))
		}
		log.Warn("delivery attempts exhausted, dead-lettering",
			slog.Int("max_attempts", policy.MaxAttempts),
			logger.Channel(failedChannel),
			logger.Error(sendErr))
		return queue.ErrDeadLetter
	}

	delay := policy.Backoff(n.DeliveryAttempts)

	if _, err := s.publisher.Publish(ctx, msg.Queue, msg.Payload,
		queue.WithPriority(msg.Priority),
		queue.WithHeader(queue.HeaderRetryCount, fmt.Sprintf("%d", n.DeliveryAttempts)),
		queue.WithHeader(queue.HeaderCorrelationID, msg.CorrelationID()),
		queue.WithDelay(delay),
	); err != nil {
		// Without a durable retry the original must stay in the queue.
		log.Error("failed to schedule retry, requeueing original", logger.Error(err))
		return queue.ErrRequeue
	}

	if _, err := s.store.UpdateStatus(ctx, n.ID, StatusUpdate{
		Status:       StatusPending,
		Channel:      failedChannel,
		ErrorMessage: sendErr.Error(),
	}); err != nil {
		log.Error("failed to flip notification back to pending", logger.Error(err))
	}

	log.Info("delivery failed, retry scheduled",
		slog.Duration("backoff", delay),
		logger.Channel(failedChannel),
		logger.Error(sendErr))

	return nil
}

// MarkAsRead records the recipient reading the notification.
func (s *Service) MarkAsRead(ctx context.Context, id uuid.UUID, userID string) (*Notification, error) {
	n, err := s.store.MarkRead(ctx, id, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return n, nil
}

// ListForUser returns the user's notifications newest first along with the
// total count matching the filter.
func (s *Service) ListForUser(ctx context.Context, userID string, filter Filter, page Page) ([]Notification, int, error) {
	if userID == "" {
		return nil, 0, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}

	items, total, err := s.store.ListByUser(ctx, userID, filter, page)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return items, total, nil
}

// CountUnread returns the number of unread notifications for the user.
func (s *Service) CountUnread(ctx context.Context, userID string) (int, error) {
	count, err := s.store.CountUnread(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return count, nil
}

// queuePriority maps the domain priority to the transport's numeric scale.
func queuePriority(p Priority) queue.Priority {
	switch p {
	case PriorityLow:
		return queue.PriorityLow
	case PriorityHigh:
		return queue.PriorityHigh
	default:
		return queue.PriorityNormal
	}
}
