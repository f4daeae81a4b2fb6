// Package idempotency coalesces duplicate submissions: concurrent
// requests with the same key share one execution, and completed results
// replay from a TTL cache.
package idempotency
