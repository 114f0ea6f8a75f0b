// Package sfx plays the side-effects a reveal engine emits. A Player sits
// between the engine and an output Sink: it never blocks the engine, drops
// cues under load and swallows playback failures.
package sfx

import "sync/atomic"

// Toggle is a goroutine-safe sound switch. The zero value is enabled.
type Toggle struct {
	muted atomic.Bool
}

// Enabled reports whether sound is on.
func (t *Toggle) Enabled() bool { return !t.muted.Load() }

// Set turns sound on or off.
func (t *Toggle) Set(enabled bool) { t.muted.Store(!enabled) }

// Flip inverts the switch and returns the new state.
func (t *Toggle) Flip() bool {
	for {
		muted := t.muted.Load()
		if t.muted.CompareAndSwap(muted, !muted) {
			return muted
		}
	}
}

// Global is the process-wide sound switch.
var Global Toggle
