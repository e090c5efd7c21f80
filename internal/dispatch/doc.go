// Package dispatch routes tool calls from agents to backends.
//
// The router resolves a tool name to its owning backend through the
// registry, asks the circuit breaker whether the backend may be called, and
// hands the call to an injected Caller that owns the actual transport. Every
// completed call is reported back to the breaker so backend failures trip
// circuits and recoveries close them. "Circuit open" is returned as
// ErrBackendUnavailable, a routing decision the caller handles, never an
// exception.
package dispatch
