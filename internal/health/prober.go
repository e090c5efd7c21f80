// ABOUTME: Timer-driven liveness probing for registered backends.
// ABOUTME: Feeds probe outcomes into the health tracker and circuit breaker.

package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/glinthq/glint-gateway/internal/breaker"
)

// Default prober configuration.
const (
	DefaultProbeInterval       = 60 * time.Second
	DefaultMaxConcurrentProbes = 16
)

// ProbeFunc checks whether a backend is alive. A false result or an error
// both count as a failed probe; the prober never propagates either to its
// caller.
type ProbeFunc func(ctx context.Context, backendID string) (bool, error)

// ProberConfig configures the probe loop.
type ProberConfig struct {
	Tracker *Tracker
	Breaker *breaker.Breaker // optional; probe outcomes feed it when set
	Probe   ProbeFunc
	// Interval between probe rounds. Defaults to DefaultProbeInterval.
	Interval time.Duration
	// MaxConcurrent bounds the probe fan-out per round.
	// Defaults to DefaultMaxConcurrentProbes.
	MaxConcurrent int
	Logger        *slog.Logger
}

// Prober periodically runs a liveness check against every registered backend
// and pushes the results into the health tracker and, when bound, the circuit
// breaker. Probing also runs on demand via ProbeAll.
type Prober struct {
	tracker       *Tracker
	breaker       *breaker.Breaker
	probe         ProbeFunc
	interval      time.Duration
	maxConcurrent int
	logger        *slog.Logger

	mu       sync.Mutex
	backends map[string]struct{}
	stop     chan struct{}
	done     chan struct{}
}

// NewProber creates a Prober from cfg. Tracker and Probe are required.
func NewProber(cfg ProberConfig) *Prober {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentProbes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Prober{
		tracker:       cfg.Tracker,
		breaker:       cfg.Breaker,
		probe:         cfg.Probe,
		interval:      interval,
		maxConcurrent: maxConcurrent,
		logger:        logger.With("component", "prober"),
		backends:      make(map[string]struct{}),
	}
}

// Register adds a backend to the probed set.
func (p *Prober) Register(backendID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.backends[backendID] = struct{}{}
}

// Unregister removes a backend from the probed set. Its last health record
// is kept; the tracker's staleness window ages it out.
func (p *Prober) Unregister(backendID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.backends, backendID)
}

// Start launches the repeating probe loop. Calling Start while the loop is
// already running is a no-op. Rounds run back to back on the loop goroutine,
// so a slow round delays the next tick instead of overlapping it.
func (p *Prober) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stop != nil {
		return
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})

	go p.run(p.stop, p.done)
	p.logger.Info("health probe loop started", "interval", p.interval)
}

// Stop cancels the probe loop and waits for the current round, if any, to
// finish. Safe to call repeatedly and before Start.
func (p *Prober) Stop() {
	p.mu.Lock()
	if p.stop == nil {
		p.mu.Unlock()
		return
	}
	stop, done := p.stop, p.done
	p.stop = nil
	p.done = nil
	p.mu.Unlock()

	close(stop)
	<-done
	p.logger.Info("health probe loop stopped")
}

// run is the loop goroutine. Exits when stop is closed.
func (p *Prober) run(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.ProbeAll(context.Background())
		}
	}
}

// ProbeAll probes every registered backend concurrently and waits for all
// probes to settle. One backend's failure never aborts the others, and no
// probe outcome is returned to the caller; every result becomes a tracker
// update and, when a breaker is bound, a breaker success or failure.
func (p *Prober) ProbeAll(ctx context.Context) {
	p.mu.Lock()
	ids := make([]string, 0, len(p.backends))
	for id := range p.backends {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	if len(ids) == 0 {
		return
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxConcurrent)
	for _, id := range ids {
		g.Go(func() error {
			p.probeOne(ctx, id)
			return nil
		})
	}
	// Workers always return nil; Wait only synchronizes the round.
	_ = g.Wait()
}

// probeOne runs a single liveness check and records the outcome.
func (p *Prober) probeOne(ctx context.Context, backendID string) {
	alive, err := p.probe(ctx, backendID)

	switch {
	case err != nil:
		p.tracker.MarkUnhealthy(backendID, err.Error())
		if p.breaker != nil {
			p.breaker.RecordFailure(backendID)
		}
		p.logger.Warn("probe failed",
			"backend_id", backendID,
			"error", err,
		)
	case !alive:
		p.tracker.MarkUnhealthy(backendID, "probe returned unhealthy")
		if p.breaker != nil {
			p.breaker.RecordFailure(backendID)
		}
		p.logger.Warn("probe reported unhealthy", "backend_id", backendID)
	default:
		p.tracker.MarkHealthy(backendID)
		if p.breaker != nil {
			p.breaker.RecordSuccess(backendID)
		}
		p.logger.Debug("probe ok", "backend_id", backendID)
	}
}
