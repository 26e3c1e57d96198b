/*
Package idempotency deduplicates mutating requests keyed by the
Idempotency-Key header.

Run wraps a handler: the first caller for an (owner, endpoint, key)
tuple executes it and the stored response replays for every retry with
the same key and body. An empty key bypasses the machinery entirely.

# Semantics

  - The request body is fingerprinted (SHA-256); a replay with the same
    key but a different body is a conflict, not a replay
  - A retry racing the original in-flight request gets a conflict and
    should retry after the winner completes
  - A handler failure releases the key so the operation can be retried
  - Records expire after the configured TTL and are purged by the
    garbage collector
*/
package idempotency
