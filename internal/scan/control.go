package scan

import (
	"sync"
	"sync/atomic"
)

// Kind identifies which batch scanner holds the execution slot.
type Kind string

const (
	KindNone        Kind = ""
	KindMissingInfo Kind = "missing_info"
	KindUpdates     Kind = "updates"
)

// Control is the single execution slot shared by all batch scanners, plus
// the shared cancellation flag. Acquisition is an atomic check-and-set so
// two concurrent start requests cannot both win. State is in-memory only.
type Control struct {
	mu      sync.Mutex
	running bool
	kind    Kind
	cancel  atomic.Bool
}

func NewControl() *Control {
	return &Control{}
}

// TryAcquire claims the slot for kind. On failure it returns the kind that
// currently holds it. Acquisition resets the cancellation flag.
func (c *Control) TryAcquire(kind Kind) (bool, Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return false, c.kind
	}
	c.running = true
	c.kind = kind
	c.cancel.Store(false)
	return true, kind
}

// Release frees the slot and resets the cancellation flag. Safe to call
// unconditionally on scanner exit.
func (c *Control) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	c.kind = KindNone
	c.cancel.Store(false)
}

// Running reports whether the slot is held and by which scanner.
func (c *Control) Running() (bool, Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running, c.kind
}

// RequestCancel sets the shared cancellation flag; scanners poll it once per
// work item.
func (c *Control) RequestCancel() { c.cancel.Store(true) }

// Cancelled reports whether cancellation was requested.
func (c *Control) Cancelled() bool { return c.cancel.Load() }
