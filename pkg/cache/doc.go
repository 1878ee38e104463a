// Package cache implements the expiring local cache: named collections of
// records stamped on write and treated as absent once their TTL elapses.
//
// The cache is best-effort. Storage failures are logged and reported through
// Result.Err, never returned to the caller's primary code path: a failed read
// is a miss and a failed write is a no-op.
//
// Writes fully replace a store's records. Concurrent writes to the same store
// are not serialized by the cache; callers that issue them must order them
// themselves.
package cache
