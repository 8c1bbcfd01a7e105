// Package channel defines the delivery channel abstraction used by the
// notification pipeline and a registry for looking channels up by name.
//
// A Channel delivers a channel-agnostic Payload to a user over one medium.
// The email implementation lives in the email subpackage; additional media
// (SMS, push, webhooks) implement the same interface and register under
// their own names.
//
// Send errors are classified by sentinel so callers can decide between
// retrying and failing permanently: ErrCircuitOpen, ErrSendRateLimited, and
// ErrSendFailed are transient, ErrInvalidRecipient is permanent.
package channel
