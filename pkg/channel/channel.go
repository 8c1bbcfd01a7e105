package channel

import (
	"context"
	"fmt"
	"sync"
)

// Payload is the channel-agnostic content of a notification delivery.
type Payload struct {
	// Title is a short subject line.
	Title string

	// Message is the notification body.
	Message string

	// Metadata carries channel-specific hints, such as a recipient address
	// override. Channels ignore keys they do not understand.
	Metadata map[string]string
}

// Channel delivers a notification payload to a user over one medium.
// Implementations own their transport concerns: recipient resolution,
// content sanitization, outbound rate limiting, and failure detection.
type Channel interface {
	// Name identifies the channel, e.g. "email".
	Name() string

	// Send delivers the payload to the user. The correlation ID ties the
	// delivery to the originating request in logs.
	//
	// Errors classify the failure for the caller's retry decision:
	// ErrInvalidRecipient and other permanent errors should not be retried,
	// while ErrCircuitOpen, ErrSendRateLimited, and transport errors are
	// transient.
	Send(ctx context.Context, userID string, payload Payload, correlationID string) error
}

// Registry holds the configured delivery channels keyed by name.
// Registration happens at startup; lookups are concurrent-safe.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

// NewRegistry creates an empty channel registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]Channel)}
}

// Register adds a channel under its name. The last registration for a name
// wins.
func (r *Registry) Register(ch Channel) error {
	if ch == nil {
		return ErrChannelNil
	}
	if ch.Name() == "" {
		return ErrChannelNameEmpty
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.channels[ch.Name()] = ch
	return nil
}

// Get returns the channel registered under name.
func (r *Registry) Get(name string) (Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, ok := r.channels[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotRegistered, name)
	}
	return ch, nil
}

// Names returns the names of all registered channels.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	return names
}
