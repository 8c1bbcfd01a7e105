// Package ratelimiter provides token bucket rate limiting over pluggable
// storage backends.
//
// The bucket allows bursts up to a configured capacity while refilling at a
// steady rate. Two stores ship with the package: MemoryStore for tests and
// single-process deployments, and RedisStore for counters shared across
// processes (the consume path runs as a single Lua script, so
// increment-and-check is atomic).
//
// Basic usage:
//
//	store := ratelimiter.NewMemoryStore()
//	defer store.Close()
//
//	limiter, err := ratelimiter.NewBucket(store, ratelimiter.Config{
//		Capacity:       10,
//		RefillRate:     10,
//		RefillInterval: time.Minute,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	result, err := limiter.Allow(ctx, "user:"+userID)
//	if err != nil {
//		// storage failure
//	}
//	if !result.Allowed() {
//		// deny, retry after result.RetryAfter()
//	}
package ratelimiter
