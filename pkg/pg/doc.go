// Package pg provides PostgreSQL connection helpers for the notification
// pipeline's stores and broker: pooled connect with startup retries,
// a health check closure, and error classification helpers over pgx.
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
// Schema management is deliberately not handled here; the deployment applies
// migrations before the worker starts.
package pg
