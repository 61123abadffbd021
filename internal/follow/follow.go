// internal/follow/follow.go

// Package follow tracks whether the artifact viewer auto-advances to the
// newest item ("live") or stays pinned to what the user navigated to
// ("browsing").
package follow

import "sync"

type Mode int

const (
	// Live keeps the viewed index pinned to the newest item (index 0).
	Live Mode = iota
	// Browsing preserves the currently displayed item as new ones arrive.
	Browsing
)

func (m Mode) String() string {
	if m == Live {
		return "live"
	}
	return "browsing"
}

// Controller starts in Live mode showing the newest item.
type Controller struct {
	mu    sync.Mutex
	mode  Mode
	index int
}

func New() *Controller {
	return &Controller{mode: Live}
}

// GoLive re-enters live mode and snaps the viewed index to the newest item.
func (c *Controller) GoLive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = Live
	c.index = 0
}

// Navigate records a manual move to the given index. Moving anywhere but the
// newest item while live disengages into browsing.
func (c *Controller) Navigate(index int) {
	if index < 0 {
		index = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = index
	if c.mode == Live && index != 0 {
		c.mode = Browsing
	}
}

// ArtifactArrived accounts for a new newest item. Live keeps showing the
// newest; browsing shifts the index so the displayed item stays stable.
func (c *Controller) ArtifactArrived() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == Live {
		c.index = 0
		return
	}
	c.index++
}

func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Index is the currently viewed position, 0 being the newest item.
func (c *Controller) Index() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index
}
