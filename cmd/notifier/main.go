package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/taskhive/notifier/pkg/channel"
	"github.com/taskhive/notifier/pkg/channel/email"
	"github.com/taskhive/notifier/pkg/config"
	"github.com/taskhive/notifier/pkg/logger"
	"github.com/taskhive/notifier/pkg/notification"
	"github.com/taskhive/notifier/pkg/pg"
	"github.com/taskhive/notifier/pkg/queue"
	"github.com/taskhive/notifier/pkg/ratelimiter"
	"github.com/taskhive/notifier/pkg/redis"
	"github.com/taskhive/notifier/pkg/retrypolicy"
)

func main() {
	if err := run(); err != nil {
		slog.Error("notifier exited with error", logger.Error(err))
		os.Exit(1)
	}
}

func run() error {
	var appCfg appConfig
	config.MustLoad(&appCfg)

	log := logger.New(logger.WithService("notifier", appCfg.Env))
	logger.SetAsDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var pgCfg pg.Config
	config.MustLoad(&pgCfg)

	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return fmt.Errorf("postgres connect: %w", err)
	}
	defer pool.Close()

	var redisCfg redis.Config
	config.MustLoad(&redisCfg)

	redisClient, err := redis.Connect(ctx, redisCfg)
	if err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	defer func() { _ = redisClient.Close() }()

	store, err := notification.NewPGStore(pool)
	if err != nil {
		return fmt.Errorf("notification store: %w", err)
	}

	broker, err := queue.NewPGBroker(pool, queue.WithPGMaxQueueLength(appCfg.MaxQueueLength))
	if err != nil {
		return fmt.Errorf("queue broker: %w", err)
	}

	var rlCfg ratelimiter.Config
	config.MustLoad(&rlCfg)

	rlStore, err := ratelimiter.NewRedisStore(redisClient)
	if err != nil {
		return fmt.Errorf("rate limit store: %w", err)
	}
	limiter, err := ratelimiter.NewBucket(rlStore, rlCfg)
	if err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	emailChannel, err := buildEmailChannel(appCfg, pool, log)
	if err != nil {
		return fmt.Errorf("email channel: %w", err)
	}

	registry := channel.NewRegistry()
	if err := registry.Register(emailChannel); err != nil {
		return fmt.Errorf("channel registry: %w", err)
	}

	svc, err := notification.NewService(store, broker, registry, deliveryPolicies(),
		notification.WithRateLimiter(limiter),
		notification.WithQueueName(appCfg.QueueName),
		notification.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("notification service: %w", err)
	}

	worker, err := queue.NewWorker(broker,
		queue.WithPrefetch(appCfg.Prefetch),
		queue.WithPullInterval(appCfg.PullInterval),
		queue.WithLockTimeout(appCfg.LockTimeout),
		queue.WithWorkerLogger(log),
	)
	if err != nil {
		return fmt.Errorf("queue worker: %w", err)
	}
	if err := worker.RegisterHandler(queue.NewHandler(svc.QueueName(), svc.HandleDelivery)); err != nil {
		return fmt.Errorf("register handler: %w", err)
	}

	log.Info("notifier starting",
		slog.String("env", appCfg.Env),
		logger.Queue(svc.QueueName()),
		slog.Int("prefetch", appCfg.Prefetch))

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(worker.Run(ctx))
	eg.Go(sweepLoop(ctx, broker, appCfg.SweepInterval, log))

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	log.Info("notifier stopped")
	return nil
}

// appConfig is the worker-level configuration.
type appConfig struct {
	Env            string        `env:"APP_ENV" envDefault:"development"`
	QueueName      string        `env:"NOTIFIER_QUEUE" envDefault:"notifications.delivery"`
	Prefetch       int           `env:"NOTIFIER_PREFETCH" envDefault:"8"`
	PullInterval   time.Duration `env:"NOTIFIER_PULL_INTERVAL" envDefault:"1s"`
	LockTimeout    time.Duration `env:"NOTIFIER_LOCK_TIMEOUT" envDefault:"5m"`
	SweepInterval  time.Duration `env:"NOTIFIER_SWEEP_INTERVAL" envDefault:"30s"`
	MaxQueueLength int           `env:"NOTIFIER_MAX_QUEUE_LENGTH" envDefault:"100000"`

	// EmailDevDir switches the email channel to the disk-backed sender.
	EmailDevDir string `env:"NOTIFIER_EMAIL_DEV_DIR"`

	SendRatePerSecond float64 `env:"NOTIFIER_EMAIL_SEND_RATE" envDefault:"14"`
	SendBurst         int     `env:"NOTIFIER_EMAIL_SEND_BURST" envDefault:"14"`
}

// buildEmailChannel wires the email channel with the configured sender:
// Postmark in production, the disk-backed dev sender when EmailDevDir is set.
// Recipient addresses come from the application's users table.
func buildEmailChannel(cfg appConfig, pool *pgxpool.Pool, log *slog.Logger) (*email.Channel, error) {
	var sender email.Sender
	if cfg.EmailDevDir != "" {
		sender = email.NewDevSender(cfg.EmailDevDir)
	} else {
		var emailCfg email.Config
		config.MustLoad(&emailCfg)

		client, err := email.NewPostmarkClient(emailCfg)
		if err != nil {
			return nil, err
		}
		sender = client
	}

	resolver := email.AddressResolverFunc(func(ctx context.Context, userID string) (string, error) {
		var address string
		err := pool.QueryRow(ctx, `SELECT email FROM users WHERE id = $1`, userID).Scan(&address)
		if err != nil {
			if pg.IsNotFoundError(err) {
				return "", fmt.Errorf("no email on file for user %s", userID)
			}
			return "", err
		}
		return address, nil
	})

	return email.NewChannel(sender, resolver,
		email.WithSendRate(cfg.SendRatePerSecond, cfg.SendBurst),
		email.WithLogger(log),
	)
}

// deliveryPolicies is the per-type retry configuration. Types without an
// entry use the documented default of 3 attempts with a 5s base backoff.
func deliveryPolicies() *retrypolicy.Resolver {
	return retrypolicy.NewResolver(map[string]retrypolicy.Policy{
		string(notification.TypeDueDateReminder): {
			MaxAttempts:     5,
			BackoffInterval: 10 * time.Second,
			MaxBackoff:      10 * time.Minute,
			Priority:        retrypolicy.PriorityHigh,
		},
		string(notification.TypeSystem): {
			MaxAttempts:     5,
			BackoffInterval: 5 * time.Second,
			MaxBackoff:      5 * time.Minute,
			Priority:        retrypolicy.PriorityHigh,
		},
		string(notification.TypeCommentAdded): {
			MaxAttempts:     2,
			BackoffInterval: 5 * time.Second,
			Priority:        retrypolicy.PriorityLow,
		},
	})
}

// sweepLoop periodically releases expired locks and dead-letters messages
// past their TTL.
func sweepLoop(ctx context.Context, broker *queue.PGBroker, interval time.Duration, log *slog.Logger) func() error {
	return func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := broker.SweepExpired(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("queue sweep failed", logger.Error(err))
				}
			}
		}
	}
}
