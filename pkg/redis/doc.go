// Package redis provides Redis connection helpers for the shared rate-limit
// counters: retried connect from env-driven config and a health check
// closure.
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
package redis
