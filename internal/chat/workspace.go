package chat

import (
	"sync"
	"sync/atomic"
	"time"

	"twin-chat/internal/pane"
)

// Workspace is the in-memory chat of one device: both panes plus the facts
// rendering needs.
type Workspace struct {
	DeviceID string
	basic    *pane.Pane
	plus     *pane.Pane

	loggedIn atomic.Bool
	dirty    atomic.Bool

	mu       sync.Mutex
	lastSeen time.Time
}

func (w *Workspace) Pane(id pane.ID) *pane.Pane {
	if id == pane.Plus {
		return w.plus
	}
	return w.basic
}

func (w *Workspace) Panes() []*pane.Pane {
	return []*pane.Pane{w.basic, w.plus}
}

func (w *Workspace) renderOptions() pane.RenderOptions {
	return pane.RenderOptions{LoggedIn: w.loggedIn.Load()}
}

func (w *Workspace) touch(now time.Time) {
	w.mu.Lock()
	w.lastSeen = now
	w.mu.Unlock()
}

func (w *Workspace) idleSince(cutoff time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeen.Before(cutoff)
}

func (w *Workspace) busy() bool {
	return w.basic.Busy() || w.plus.Busy()
}
