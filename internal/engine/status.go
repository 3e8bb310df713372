// Package engine tracks the readiness of the embedded simulation
// engine. The engine reports free-form status strings while its
// runtime loads; the host treats the session as ready once the status
// reports that the main loop is running.
package engine

import (
	"strings"
	"sync"
	"time"
)

// runningMarker is the substring the engine emits once its main loop
// has started.
const runningMarker = "Running..."

// StatusTracker records the latest engine status string and derives
// readiness from it.
type StatusTracker struct {
	mu      sync.RWMutex
	status  string
	ready   bool
	readyAt time.Time
}

// NewStatusTracker creates a tracker with no status reported yet.
func NewStatusTracker() *StatusTracker {
	return &StatusTracker{}
}

// Report records a new status string from the engine. Once readiness
// is observed it is never revoked: later status strings may describe
// transient work without re-showing the loading state.
func (t *StatusTracker) Report(status string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status = status
	if !t.ready && strings.Contains(status, runningMarker) {
		t.ready = true
		t.readyAt = time.Now()
	}
}

// Status returns the most recent status string.
func (t *StatusTracker) Status() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Ready reports whether the engine's main loop has started.
func (t *StatusTracker) Ready() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ready
}

// ReadySince returns when readiness was first observed. The zero time
// means the engine is still loading.
func (t *StatusTracker) ReadySince() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.readyAt
}
