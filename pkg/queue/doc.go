// Package queue provides a durable message queue with priority ordering,
// scheduled delivery, and dead-lettering, used as the transport between the
// notification orchestrator and its delivery consumers.
//
// Delivery is at-least-once. A consumer claims a message with a time-bounded
// lock, processes it, and then acknowledges (removing it) or rejects it
// (requeueing it or routing it to the dead-letter destination). If a consumer
// crashes mid-processing, the lock expires and the message becomes claimable
// again, so consumers must tolerate redelivery.
//
// Two Broker implementations are provided: PGBroker persists messages in
// Postgres and is the production transport, while MemoryBroker mirrors its
// semantics in memory for tests and local development.
//
// # Publishing
//
//	broker, err := queue.NewPGBroker(pool)
//	if err != nil {
//		return err
//	}
//
//	msg, err := broker.Publish(ctx, "notifications.email", payload,
//		queue.WithPriority(queue.PriorityHigh),
//		queue.WithScheduledAt(dueDate.Add(-24*time.Hour)),
//		queue.WithHeader(queue.HeaderCorrelationID, correlationID),
//	)
//
// # Consuming
//
//	worker, err := queue.NewWorker(broker, queue.WithPrefetch(8))
//	if err != nil {
//		return err
//	}
//
//	_ = worker.RegisterHandler(queue.NewHandler("notifications.email", handle))
//
//	eg, ctx := errgroup.WithContext(ctx)
//	eg.Go(worker.Run(ctx))
//
// Handlers signal the settlement decision through their return value: nil
// acknowledges, ErrRequeue makes the message claimable again, ErrDeadLetter
// and any unexpected error route it to the dead-letter destination.
package queue
