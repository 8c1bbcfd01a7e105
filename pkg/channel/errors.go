package channel

import "errors"

var (
	// ErrChannelNil is returned when registering a nil channel.
	ErrChannelNil = errors.New("channel cannot be nil")

	// ErrChannelNameEmpty is returned when registering a channel without a name.
	ErrChannelNameEmpty = errors.New("channel name cannot be empty")

	// ErrChannelNotRegistered is returned when looking up an unknown channel.
	ErrChannelNotRegistered = errors.New("channel not registered")

	// ErrCircuitOpen signals that the channel's circuit breaker is open and
	// the send was refused without contacting the provider. Transient.
	ErrCircuitOpen = errors.New("channel circuit breaker is open")

	// ErrSendRateLimited signals that the channel's outbound rate limit was
	// exceeded. Transient.
	ErrSendRateLimited = errors.New("channel send rate limit exceeded")

	// ErrInvalidRecipient signals that no valid recipient address could be
	// resolved for the user. Permanent.
	ErrInvalidRecipient = errors.New("invalid recipient address")

	// ErrSendFailed wraps provider-side delivery failures. Transient.
	ErrSendFailed = errors.New("failed to send notification")
)
