package email

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/taskhive/notifier/pkg/channel"
	"github.com/taskhive/notifier/pkg/logger"
	"github.com/taskhive/notifier/pkg/sanitizer"
)

// MetadataAddressKey is the payload metadata key that overrides the resolved
// recipient address for a single delivery.
const MetadataAddressKey = "email"

// AddressResolver maps a user ID to the email address on file.
type AddressResolver interface {
	EmailAddress(ctx context.Context, userID string) (string, error)
}

// AddressResolverFunc adapts a function to the AddressResolver interface.
type AddressResolverFunc func(ctx context.Context, userID string) (string, error)

func (f AddressResolverFunc) EmailAddress(ctx context.Context, userID string) (string, error) {
	return f(ctx, userID)
}

// BreakerConfig tunes the circuit breaker guarding the email provider.
type BreakerConfig struct {
	// MaxRequests is the number of probe requests allowed in half-open state.
	MaxRequests uint32

	// Interval is the cyclic period of the closed state to clear counts.
	Interval time.Duration

	// Timeout is how long to wait in open state before probing again.
	Timeout time.Duration

	// FailureThreshold is the failure ratio that trips the circuit.
	FailureThreshold float64

	// MinRequests is the minimum number of requests before the ratio applies.
	MinRequests uint32
}

// DefaultBreakerConfig returns breaker settings suited to a transactional
// email provider: trip on a 60% failure rate over at least 5 calls, probe
// again after 30 seconds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

// Channel delivers notifications over email. It owns the transport-side
// protections for the provider: a circuit breaker so a failing provider is
// not hammered, an outbound rate limit so the provider's quota is respected,
// content sanitization, and recipient address validation.
type Channel struct {
	sender   Sender
	resolver AddressResolver
	breaker  *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// Option is a functional option for configuring the email channel.
type Option func(*channelOptions)

type channelOptions struct {
	breaker   BreakerConfig
	sendRate  rate.Limit
	sendBurst int
	logger    *slog.Logger
}

// WithBreakerConfig overrides the circuit breaker settings.
func WithBreakerConfig(cfg BreakerConfig) Option {
	return func(o *channelOptions) {
		o.breaker = cfg
	}
}

// WithSendRate bounds outbound sends to perSecond with the given burst.
func WithSendRate(perSecond float64, burst int) Option {
	return func(o *channelOptions) {
		if perSecond > 0 {
			o.sendRate = rate.Limit(perSecond)
		}
		if burst > 0 {
			o.sendBurst = burst
		}
	}
}

// WithLogger sets the logger for the channel.
func WithLogger(l *slog.Logger) Option {
	return func(o *channelOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewChannel creates an email delivery channel over the given sender.
func NewChannel(sender Sender, resolver AddressResolver, opts ...Option) (*Channel, error) {
	if sender == nil {
		return nil, fmt.Errorf("%w: sender is required", ErrInvalidConfig)
	}
	if resolver == nil {
		return nil, fmt.Errorf("%w: address resolver is required", ErrInvalidConfig)
	}

	options := &channelOptions{
		breaker:   DefaultBreakerConfig(),
		sendRate:  rate.Limit(14), // Postmark's default throughput allowance
		sendBurst: 14,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	log := options.logger
	settings := gobreaker.Settings{
		Name:        "email-provider",
		MaxRequests: options.breaker.MaxRequests,
		Interval:    options.breaker.Interval,
		Timeout:     options.breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < options.breaker.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= options.breaker.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				slog.String("circuit", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	}

	return &Channel{
		sender:   sender,
		resolver: resolver,
		breaker:  gobreaker.NewCircuitBreaker(settings),
		limiter:  rate.NewLimiter(options.sendRate, options.sendBurst),
		logger:   options.logger,
	}, nil
}

// Name implements channel.Channel.
func (c *Channel) Name() string { return "email" }

// Send implements channel.Channel.
//
// Recipient resolution and validation happen before the breaker and the rate
// limiter: a bad address is a permanent failure of this delivery, not
// evidence of provider health, and must not consume quota or trip the
// circuit.
func (c *Channel) Send(ctx context.Context, userID string, payload channel.Payload, correlationID string) error {
	address, err := c.recipient(ctx, userID, payload)
	if err != nil {
		return err
	}

	if !c.limiter.Allow() {
		c.logger.Warn("outbound email rate limit exceeded",
			logger.UserID(userID),
			logger.CorrelationID(correlationID))
		return channel.ErrSendRateLimited
	}

	subject := sanitizer.Content(payload.Title)
	body, err := renderBody(subject, sanitizer.Content(payload.Message))
	if err != nil {
		return fmt.Errorf("failed to render email body: %w", err)
	}

	_, err = c.breaker.Execute(func() (any, error) {
		return nil, c.sender.SendEmail(ctx, SendEmailParams{
			SendTo:   address,
			Subject:  subject,
			BodyHTML: body,
			Tag:      payload.Metadata["tag"],
		})
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.logger.Warn("email send refused, circuit open",
				logger.UserID(userID),
				logger.CorrelationID(correlationID))
			return channel.ErrCircuitOpen
		}
		c.logger.Error("email send failed",
			logger.UserID(userID),
			logger.CorrelationID(correlationID),
			logger.Error(err))
		return errors.Join(channel.ErrSendFailed, err)
	}

	c.logger.Info("email sent",
		logger.UserID(userID),
		logger.CorrelationID(correlationID))

	return nil
}

// recipient resolves and validates the delivery address. A metadata override
// takes precedence over the address on file.
func (c *Channel) recipient(ctx context.Context, userID string, payload channel.Payload) (string, error) {
	address := strings.TrimSpace(payload.Metadata[MetadataAddressKey])
	if address == "" {
		resolved, err := c.resolver.EmailAddress(ctx, userID)
		if err != nil {
			return "", fmt.Errorf("%w: %v", channel.ErrInvalidRecipient, err)
		}
		address = strings.TrimSpace(resolved)
	}

	if !ValidAddress(address) {
		return "", fmt.Errorf("%w: %q", channel.ErrInvalidRecipient, address)
	}

	return address, nil
}

// bodyTemplate is intentionally minimal: the subject and message arrive
// pre-sanitized, so they are injected as trusted HTML fragments.
var bodyTemplate = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; margin: 0; padding: 24px;">
  <h2 style="margin-top: 0;">{{.Title}}</h2>
  <p>{{.Message}}</p>
</body>
</html>`))

func renderBody(title, message string) (string, error) {
	var sb strings.Builder
	err := bodyTemplate.Execute(&sb, struct {
		Title   template.HTML
		Message template.HTML
	}{
		Title:   template.HTML(title),
		Message: template.HTML(message),
	})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}
