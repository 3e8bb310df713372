package bridge

import (
	"sync"

	"github.com/samaffleck/Thermatix/internal/metrics"
)

// Modal kinds.
const (
	ModalFolderName   = "folder-name"
	ModalSaveParams   = "save-params"
	ModalSelectParams = "select-params"
	ModalSelectPublic = "select-public"
)

// pending is one parked resolution. The channel is buffered so that
// Resolve never blocks, and done guards against double delivery.
type pending struct {
	ch   chan string
	done bool
}

// Registry tracks which modals are visible and holds the single-use
// resolution for each. Visibility and resolver presence always change
// together under one lock, so an observer can never see a visible
// modal without a live resolver or vice versa.
type Registry struct {
	mu      sync.Mutex
	pending map[string]*pending
}

// NewRegistry creates an empty modal registry.
func NewRegistry() *Registry {
	return &Registry{
		pending: make(map[string]*pending),
	}
}

// Open makes the modal of the given kind visible and parks a new
// resolution. The returned channel delivers exactly one value: the
// user's input, or "" on dismissal. If the same kind is already open
// the previous waiter is released with "" and the new one takes its
// place.
func (r *Registry) Open(kind string) <-chan string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.pending[kind]; ok && !old.done {
		old.done = true
		old.ch <- ""
	}

	p := &pending{ch: make(chan string, 1)}
	r.pending[kind] = p
	metrics.SetModalsOpen(len(r.pending))
	return p.ch
}

// Resolve delivers value to the waiter, hides the modal, and clears
// the resolution. Returns false if no modal of that kind is open; a
// second resolve is a no-op.
func (r *Registry) Resolve(kind, value string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pending[kind]
	if !ok || p.done {
		return false
	}

	p.done = true
	p.ch <- value
	delete(r.pending, kind)
	metrics.SetModalsOpen(len(r.pending))
	return true
}

// Dismiss closes the modal without input. The waiter receives "", the
// designated cancellation value.
func (r *Registry) Dismiss(kind string) bool {
	return r.Resolve(kind, "")
}

// IsOpen reports whether a modal of the given kind is visible.
func (r *Registry) IsOpen(kind string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[kind]
	return ok
}

// OpenKinds returns the kinds of all currently visible modals.
func (r *Registry) OpenKinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	kinds := make([]string, 0, len(r.pending))
	for kind := range r.pending {
		kinds = append(kinds, kind)
	}
	return kinds
}
