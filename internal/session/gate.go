package session

import "sync/atomic"

// Gate admits one task at a time. A second task is rejected, never queued.
type Gate struct {
	busy atomic.Bool
}

// TryStart marks the gate busy and reports whether it was free.
func (g *Gate) TryStart() bool { return g.busy.CompareAndSwap(false, true) }

// Finish frees the gate. It is safe to call when already free.
func (g *Gate) Finish() { g.busy.Store(false) }

func (g *Gate) Busy() bool { return g.busy.Load() }
