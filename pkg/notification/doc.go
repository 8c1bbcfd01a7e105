// Package notification implements the asynchronous notification delivery
// pipeline: the domain model with its status lifecycle, the durable store
// contract, and the orchestrator service that drives a notification from
// creation request to terminal state.
//
// # Lifecycle
//
// A notification is created pending, picked up by a queue consumer
// (delivering), and settles as delivered or, once its type's retry budget is
// exhausted, failed:
//
//	pending -> delivering -> delivered
//	                      -> pending (retry scheduled with backoff)
//	                      -> failed  (attempts exhausted, dead-lettered)
//
// Delivered and failed are terminal. Stores enforce these transitions, which
// also makes at-least-once redelivery idempotent: HandleDelivery acks a
// redelivered copy of a settled notification without re-sending.
//
// # Sending
//
//	svc, err := notification.NewService(store, broker, registry, policies,
//		notification.WithRateLimiter(bucket),
//	)
//	if err != nil {
//		return err
//	}
//
//	n, err := svc.Send(ctx, notification.Request{
//		UserID:  "u1",
//		Type:    notification.TypeTaskAssigned,
//		Title:   "Task assigned",
//		Message: "You were assigned to Fix login bug.",
//	}, notification.Options{Channels: []string{"email"}})
//
// Send succeeds once the notification is durably queued; the delivery
// outcome is observed later through ListForUser. Scheduled sends and retry
// delays are expressed as the broker's scheduled-at timestamps rather than
// process-local timers, so they survive a restart.
//
// # Consuming
//
// HandleDelivery is registered as the queue handler for the delivery
// destination. Its return value is the settlement decision for the worker;
// delivery failures are absorbed into retry/backoff and never stall the
// consumer loop.
package notification
