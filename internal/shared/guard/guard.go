// Package guard provides a counting re-entrancy guard.
//
// Code that mutates a host on its own behalf holds the guard for the
// duration of the mutation; listeners for external changes check Held and
// skip the events the holder is about to account for itself.
package guard

import "sync/atomic"

// Guard is safe for concurrent use. The zero value is released.
type Guard struct {
	depth atomic.Int32
}

// Hold acquires the guard and returns the matching release. Holds nest.
func (g *Guard) Hold() (release func()) {
	g.depth.Add(1)
	var done atomic.Bool
	return func() {
		if done.CompareAndSwap(false, true) {
			g.depth.Add(-1)
		}
	}
}

// Held reports whether any holder is active.
func (g *Guard) Held() bool { return g.depth.Load() > 0 }
