// Package gate keeps at most one forecast request in flight per pane.
package gate

import "sync/atomic"

// Gate is the in-flight flag of a single pane. The zero value is an open gate.
type Gate struct {
	inFlight atomic.Bool
}

// TryAcquire marks the pane busy. It returns false when a request is already
// in flight, in which case the caller must drop its submission.
func (g *Gate) TryAcquire() bool {
	return g.inFlight.CompareAndSwap(false, true)
}

// Release clears the flag. Callers defer it right after a successful TryAcquire.
func (g *Gate) Release() {
	g.inFlight.Store(false)
}

func (g *Gate) InFlight() bool {
	return g.inFlight.Load()
}
