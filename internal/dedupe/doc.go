// Package dedupe provides request deduplication using a time-based cache
// so a retried tool call with the same request ID is dispatched only once.
package dedupe
