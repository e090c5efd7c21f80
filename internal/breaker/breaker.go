// ABOUTME: Per-backend circuit breaker guarding dispatch to tool backends.
// ABOUTME: Tracks consecutive failures and gates calls through closed/open/half-open states.

package breaker

import (
	"log/slog"
	"sync"
	"time"
)

// State is the admission state of a backend's circuit.
type State string

const (
	// StateClosed allows all calls through.
	StateClosed State = "closed"
	// StateOpen rejects calls until the reset timeout elapses.
	StateOpen State = "open"
	// StateHalfOpen allows probing calls while the backend recovers.
	StateHalfOpen State = "half-open"
)

// Default circuit configuration.
const (
	DefaultFailureThreshold = 5
	DefaultResetTimeout     = 30 * time.Second
)

// Config controls when a circuit opens and when it may be probed again.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// ResetTimeout is how long an open circuit waits before allowing a probe.
	ResetTimeout time.Duration
}

// DefaultConfig returns the default circuit configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: DefaultFailureThreshold,
		ResetTimeout:     DefaultResetTimeout,
	}
}

// Decision is the result of an admission check.
type Decision struct {
	Allowed bool
	State   State
}

// Status is a read-only snapshot of a backend's circuit.
type Status struct {
	State               State
	ConsecutiveFailures int
	LastFailureAt       time.Time
	LastSuccessAt       time.Time
	Config              Config
}

// circuit is the tracked state for a single backend. Guarded by Breaker.mu.
type circuit struct {
	state               State
	consecutiveFailures int
	lastFailureAt       time.Time
	lastSuccessAt       time.Time
	config              Config
}

// Breaker tracks circuit state per backend ID. A backend with no entry is
// implicitly closed: never tracked means always allowed. Entries are created
// lazily on first recorded failure or explicit Configure, and removed only by
// Reset. Safe for concurrent use from the dispatch path and the health prober.
type Breaker struct {
	mu       sync.Mutex
	circuits map[string]*circuit
	logger   *slog.Logger
}

// New creates a Breaker. A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{
		circuits: make(map[string]*circuit),
		logger:   logger.With("component", "breaker"),
	}
}

// CanExecute reports whether a call to the backend should be admitted.
// Closed circuits always admit. Open circuits admit once the reset timeout
// has elapsed since the last failure, transitioning to half-open as a side
// effect. Half-open circuits admit; concurrent callers during half-open are
// each treated as a probe, the design does not serialize them.
func (b *Breaker) CanExecute(backendID string) Decision {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[backendID]
	if !ok {
		return Decision{Allowed: true, State: StateClosed}
	}

	b.maybeHalfOpen(backendID, c)

	switch c.state {
	case StateOpen:
		return Decision{Allowed: false, State: StateOpen}
	case StateHalfOpen:
		return Decision{Allowed: true, State: StateHalfOpen}
	default:
		return Decision{Allowed: true, State: StateClosed}
	}
}

// RecordSuccess notes a successful call: zeroes the failure counter and
// closes the circuit. No-op for backends with no tracked circuit.
func (b *Breaker) RecordSuccess(backendID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[backendID]
	if !ok {
		return
	}

	prev := c.state
	c.consecutiveFailures = 0
	c.lastSuccessAt = time.Now()
	c.state = StateClosed

	if prev != StateClosed {
		b.logger.Info("circuit closed",
			"backend_id", backendID,
			"previous_state", string(prev),
		)
	}
}

// RecordFailure notes a failed call, creating a circuit with default config
// if none exists. A failure during half-open immediately reopens. A closed
// circuit opens once consecutive failures reach the threshold.
func (b *Breaker) RecordFailure(backendID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[backendID]
	if !ok {
		c = &circuit{state: StateClosed, config: DefaultConfig()}
		b.circuits[backendID] = c
	}

	c.consecutiveFailures++
	c.lastFailureAt = time.Now()

	switch c.state {
	case StateHalfOpen:
		// A single failed probe reopens the circuit.
		c.state = StateOpen
		b.logger.Warn("circuit reopened after failed probe",
			"backend_id", backendID,
			"consecutive_failures", c.consecutiveFailures,
		)
	case StateClosed:
		if c.consecutiveFailures >= c.config.FailureThreshold {
			c.state = StateOpen
			b.logger.Warn("circuit opened",
				"backend_id", backendID,
				"consecutive_failures", c.consecutiveFailures,
				"failure_threshold", c.config.FailureThreshold,
			)
		}
	}
}

// Status returns a snapshot of the backend's circuit. A backend with no
// tracked circuit reports closed with default config. The open to half-open
// timeout check runs here too, so Status stays consistent with CanExecute.
func (b *Breaker) Status(backendID string) Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[backendID]
	if !ok {
		return Status{State: StateClosed, Config: DefaultConfig()}
	}

	b.maybeHalfOpen(backendID, c)

	return Status{
		State:               c.state,
		ConsecutiveFailures: c.consecutiveFailures,
		LastFailureAt:       c.lastFailureAt,
		LastSuccessAt:       c.lastSuccessAt,
		Config:              c.config,
	}
}

// Configure sets the circuit configuration for a backend, creating the
// circuit if it does not exist. Zero-valued fields fall back to defaults.
func (b *Breaker) Configure(backendID string, cfg Config) {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultResetTimeout
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[backendID]
	if !ok {
		c = &circuit{state: StateClosed}
		b.circuits[backendID] = c
	}
	c.config = cfg
}

// Reset removes all tracked state for a backend, returning it to the
// implicit closed state. No-op if the backend has no circuit.
func (b *Breaker) Reset(backendID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.circuits[backendID]; ok {
		delete(b.circuits, backendID)
		b.logger.Info("circuit reset", "backend_id", backendID)
	}
}

// maybeHalfOpen transitions an open circuit to half-open once the reset
// timeout has elapsed. Must be called with mu held.
func (b *Breaker) maybeHalfOpen(backendID string, c *circuit) {
	if c.state != StateOpen {
		return
	}
	if time.Since(c.lastFailureAt) >= c.config.ResetTimeout {
		c.state = StateHalfOpen
		b.logger.Info("circuit half-open, allowing probe",
			"backend_id", backendID,
		)
	}
}
