package email

import "errors"

var (
	// ErrInvalidConfig is returned when a sender is constructed with
	// incomplete or malformed configuration.
	ErrInvalidConfig = errors.New("invalid email configuration")

	// ErrInvalidParams is returned when send parameters fail validation.
	ErrInvalidParams = errors.New("invalid email parameters")

	// ErrFailedToSend wraps provider-side failures.
	ErrFailedToSend = errors.New("failed to send email")
)
