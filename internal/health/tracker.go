// ABOUTME: Tracks last-known liveness per backend with staleness expiry.
// ABOUTME: Records are overwritten by probe results and never deleted.

package health

import (
	"sync"
	"time"
)

// DefaultStalenessWindow is how long a health record is trusted. Older
// records are treated as "assume healthy" so a stalled prober cannot
// permanently blackhole a backend.
const DefaultStalenessWindow = 5 * time.Minute

// Record is the last-known health of a backend.
type Record struct {
	Healthy       bool
	LastCheckedAt time.Time
	LastError     string
}

// Tracker maintains health records keyed by backend ID. Safe for concurrent
// use. Records are only ever overwritten by MarkHealthy and MarkUnhealthy.
type Tracker struct {
	mu        sync.RWMutex
	records   map[string]Record
	staleness time.Duration
}

// NewTracker creates a Tracker. A non-positive staleness falls back to
// DefaultStalenessWindow.
func NewTracker(staleness time.Duration) *Tracker {
	if staleness <= 0 {
		staleness = DefaultStalenessWindow
	}
	return &Tracker{
		records:   make(map[string]Record),
		staleness: staleness,
	}
}

// MarkHealthy records a successful liveness check for the backend.
func (t *Tracker) MarkHealthy(backendID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[backendID] = Record{
		Healthy:       true,
		LastCheckedAt: time.Now(),
	}
}

// MarkUnhealthy records a failed liveness check with the failure detail.
func (t *Tracker) MarkUnhealthy(backendID string, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[backendID] = Record{
		Healthy:       false,
		LastCheckedAt: time.Now(),
		LastError:     errMsg,
	}
}

// IsHealthy reports whether the backend should be considered healthy.
// Backends with no record, and backends whose record has gone stale, are
// assumed healthy.
func (t *Tracker) IsHealthy(backendID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.records[backendID]
	if !ok {
		return true
	}
	if time.Since(rec.LastCheckedAt) > t.staleness {
		return true
	}
	return rec.Healthy
}

// Get returns the backend's raw record and whether one exists.
func (t *Tracker) Get(backendID string) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[backendID]
	return rec, ok
}

// Snapshot returns a copy of all health records keyed by backend ID.
func (t *Tracker) Snapshot() map[string]Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]Record, len(t.records))
	for id, rec := range t.records {
		out[id] = rec
	}
	return out
}
