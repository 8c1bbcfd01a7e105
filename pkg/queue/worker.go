package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/taskhive/notifier/pkg/logger"
)

// Handler consumes messages from one queue.
type Handler interface {
	// Queue names the queue this handler consumes.
	Queue() string

	// Handle processes a claimed message. Returning nil acknowledges the
	// message; ErrDeadLetter routes it to the dead-letter destination;
	// ErrRequeue makes it claimable again. Any other error is treated as a
	// processing failure and dead-letters the message so the consumer loop
	// never stalls on a poisoned payload.
	Handle(ctx context.Context, msg *Message) error
}

type handlerFunc struct {
	queue string
	fn    func(ctx context.Context, msg *Message) error
}

func (h *handlerFunc) Queue() string { return h.queue }

func (h *handlerFunc) Handle(ctx context.Context, msg *Message) error { return h.fn(ctx, msg) }

// NewHandler wraps a function as a Handler for the given queue.
func NewHandler(queue string, fn func(ctx context.Context, msg *Message) error) Handler {
	return &handlerFunc{queue: queue, fn: fn}
}

// Worker pulls messages from the broker and dispatches them to registered
// handlers. The prefetch bound caps in-flight unacknowledged messages per
// worker, which is the consumer-side backpressure mechanism.
type Worker struct {
	broker     Broker
	handlers   map[string]Handler
	consumerID uuid.UUID
	sem        chan struct{}
	wg         sync.WaitGroup
	mu         sync.RWMutex
	stopMu     sync.Mutex // Protects stopping state and WaitGroup operations

	pullInterval time.Duration
	lockTimeout  time.Duration
	logger       *slog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	stopping atomic.Bool
}

// WorkerOption is a functional option for configuring a worker.
type WorkerOption func(*workerOptions)

type workerOptions struct {
	pullInterval time.Duration
	lockTimeout  time.Duration
	prefetch     int
	logger       *slog.Logger
}

// WithPullInterval sets how often the worker checks for due messages.
func WithPullInterval(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.pullInterval = d
		}
	}
}

// WithLockTimeout sets how long a claimed message stays locked.
func WithLockTimeout(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.lockTimeout = d
		}
	}
}

// WithPrefetch bounds concurrent in-flight messages for this worker.
func WithPrefetch(n int) WorkerOption {
	return func(o *workerOptions) {
		if n > 0 {
			o.prefetch = n
		}
	}
}

// WithWorkerLogger sets the logger for the worker.
func WithWorkerLogger(l *slog.Logger) WorkerOption {
	return func(o *workerOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewWorker creates a message consumer over the given broker.
func NewWorker(broker Broker, opts ...WorkerOption) (*Worker, error) {
	if broker == nil {
		return nil, ErrBrokerNil
	}

	options := &workerOptions{
		pullInterval: time.Second,
		lockTimeout:  5 * time.Minute,
		prefetch:     1,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Worker{
		broker:       broker,
		handlers:     make(map[string]Handler),
		consumerID:   uuid.New(),
		sem:          make(chan struct{}, options.prefetch),
		pullInterval: options.pullInterval,
		lockTimeout:  options.lockTimeout,
		logger:       options.logger,
	}, nil
}

// RegisterHandler registers a handler for its queue. The last registration
// for a queue wins.
func (w *Worker) RegisterHandler(handler Handler) error {
	if handler == nil {
		return ErrHandlerNil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.handlers[handler.Queue()] = handler
	return nil
}

// Start begins consuming in the background.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return fmt.Errorf("worker already started")
	}

	if len(w.handlers) == 0 {
		w.mu.Unlock()
		return ErrNoHandlers
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	w.stopping.Store(false)

	go w.run()

	w.logger.Info("queue worker started",
		slog.String("consumer_id", w.consumerID.String()),
		slog.Any("queues", w.queueNames()),
		slog.Int("prefetch", cap(w.sem)))

	return nil
}

// Stop gracefully shuts down the worker, waiting for in-flight handlers.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return fmt.Errorf("worker not started")
	}

	w.stopMu.Lock()
	w.stopping.Store(true)
	w.stopMu.Unlock()

	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	cancel()

	w.logger.Info("queue worker stopping, waiting for in-flight messages",
		slog.String("consumer_id", w.consumerID.String()))

	w.wg.Wait()

	w.logger.Info("queue worker stopped",
		slog.String("consumer_id", w.consumerID.String()))

	return nil
}

// Run starts the worker and returns a function suitable for errgroup.
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		if err := w.Start(ctx); err != nil {
			return err
		}

		<-ctx.Done()

		return w.Stop()
	}
}

func (w *Worker) queueNames() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	names := make([]string, 0, len(w.handlers))
	for name := range w.handlers {
		names = append(names, name)
	}
	return names
}

// run is the main consume loop.
func (w *Worker) run() {
	ticker := time.NewTicker(w.pullInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			select {
			case w.sem <- struct{}{}:
				// Use stopMu to ensure we don't add to WaitGroup after Stop() starts
				w.stopMu.Lock()
				if w.stopping.Load() {
					w.stopMu.Unlock()
					<-w.sem
					return
				}
				w.wg.Add(1)
				w.stopMu.Unlock()

				go func() {
					defer w.wg.Done()
					defer func() { <-w.sem }()

					w.pullAndProcess()
				}()
			default:
				// Prefetch bound reached, skip this tick
				w.logger.Debug("prefetch bound reached, skipping tick",
					slog.String("consumer_id", w.consumerID.String()))
			}
		}
	}
}

// pullAndProcess claims one message and drives it to an ack/reject decision.
func (w *Worker) pullAndProcess() {
	msg, err := w.broker.ClaimMessage(w.ctx, w.consumerID, w.queueNames(), w.lockTimeout)
	if err != nil {
		if !errors.Is(err, ErrNoMessageToClaim) && !errors.Is(err, context.Canceled) {
			w.logger.Error("failed to claim message",
				slog.String("consumer_id", w.consumerID.String()),
				logger.Error(err))
		}
		return
	}

	w.logger.Debug("claimed message",
		slog.String("consumer_id", w.consumerID.String()),
		logger.MessageID(msg.ID),
		logger.Queue(msg.Queue),
		logger.RetryCount(msg.RetryCount()))

	w.mu.RLock()
	handler := w.handlers[msg.Queue]
	w.mu.RUnlock()

	w.settle(msg, w.invoke(handler, msg))
}

// invoke runs the handler with panic recovery. A panicking handler is a
// processing failure, not a worker crash.
func (w *Worker) invoke(handler Handler, msg *Message) (retErr error) {
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("panic in handler: %v", r)
			w.logger.Error("handler panicked",
				slog.String("consumer_id", w.consumerID.String()),
				logger.MessageID(msg.ID),
				logger.Queue(msg.Queue),
				slog.Any("panic", r))
		}
	}()

	if handler == nil {
		return fmt.Errorf("no handler registered for queue %q", msg.Queue)
	}

	// Handler context is detached from the worker lifecycle so graceful
	// shutdown lets in-flight messages finish.
	ctx, cancel := context.WithTimeout(context.Background(), w.lockTimeout)
	defer cancel()

	return handler.Handle(ctx, msg)
}

// settle maps the handler outcome to an ack or reject. Acknowledgement
// happens only after the handler has fully decided the next action, so a
// crash before this point leaves the message claimable for redelivery.
func (w *Worker) settle(msg *Message, handleErr error) {
	// Settlement uses a background context: the decision must reach the
	// broker even while the worker is shutting down.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch {
	case handleErr == nil:
		if err := w.broker.AckMessage(ctx, msg.ID); err != nil {
			w.logger.Error("failed to ack message",
				logger.MessageID(msg.ID),
				logger.Queue(msg.Queue),
				logger.Error(err))
		}

	case errors.Is(handleErr, ErrRequeue):
		if err := w.broker.RejectMessage(ctx, msg.ID, true); err != nil {
			w.logger.Error("failed to requeue message",
				logger.MessageID(msg.ID),
				logger.Queue(msg.Queue),
				logger.Error(err))
		}

	case errors.Is(handleErr, ErrDeadLetter):
		w.logger.Warn("message routed to dead letter",
			logger.MessageID(msg.ID),
			logger.Queue(msg.Queue),
			logger.RetryCount(msg.RetryCount()),
			logger.Error(handleErr))
		if err := w.broker.RejectMessage(ctx, msg.ID, false); err != nil {
			w.logger.Error("failed to dead-letter message",
				logger.MessageID(msg.ID),
				logger.Queue(msg.Queue),
				logger.Error(err))
		}

	default:
		// Unexpected processing error: dead-letter rather than hot-loop.
		w.logger.Error("message processing failed, routing to dead letter",
			logger.MessageID(msg.ID),
			logger.Queue(msg.Queue),
			logger.RetryCount(msg.RetryCount()),
			logger.Error(handleErr))
		if err := w.broker.RejectMessage(ctx, msg.ID, false); err != nil {
			w.logger.Error("failed to dead-letter message",
				logger.MessageID(msg.ID),
				logger.Queue(msg.Queue),
				logger.Error(err))
		}
	}
}
