// Package breaker implements per-backend circuit breaking for the gateway's
// dispatch path.
//
// Each backend gets an independent three-state circuit:
//
//   - closed: calls pass through normally
//   - open: calls are rejected until the reset timeout elapses
//   - half-open: calls are admitted as recovery probes
//
// A circuit opens after a configurable run of consecutive failures. After the
// reset timeout, the next admission check moves it to half-open; one success
// closes it again, one failure reopens it immediately.
//
// Backends are tracked lazily. A backend that has never failed carries no
// state at all and is always admitted. The dispatcher consults CanExecute
// before routing a call and reports the outcome with RecordSuccess or
// RecordFailure; the health prober feeds the same two methods so circuits
// recover even without live traffic.
package breaker
