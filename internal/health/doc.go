// Package health tracks backend liveness for the gateway.
//
// The Tracker holds the last-known up/down status per backend. Records older
// than the staleness window are assumed healthy rather than stale-failed, so
// a prober outage never permanently blackholes a backend.
//
// The Prober owns the probing loop: it runs a caller-supplied liveness check
// against every registered backend on a timer (and on demand via ProbeAll),
// marking the tracker and feeding the circuit breaker with each outcome.
// Probe failures are contained entirely within the loop; they surface only
// as health records and breaker transitions, never as errors to the caller.
package health
