// Package email implements the email delivery channel and the underlying
// provider-agnostic sender abstraction.
//
// The Sender interface hides the concrete provider: NewPostmarkClient for
// production delivery with open and click tracking, NewDevSender for local
// development (saves emails to disk). Both validate parameters before
// sending.
//
// Channel wraps a Sender with the transport protections the delivery
// pipeline relies on: recipient resolution and syntactic address validation,
// content sanitization, an outbound token bucket respecting the provider's
// throughput allowance, and a circuit breaker that fails fast while the
// provider is unhealthy. Failures are mapped to the channel package's
// sentinel errors so the caller can distinguish transient from permanent
// conditions.
//
//	sender, err := email.NewPostmarkClient(cfg)
//	if err != nil {
//		return err
//	}
//
//	ch, err := email.NewChannel(sender, resolver,
//		email.WithSendRate(14, 14),
//	)
package email
