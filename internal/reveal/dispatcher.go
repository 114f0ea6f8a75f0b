package reveal

import "time"

// Effect identifies an auxiliary cue, e.g. a keystroke click.
type Effect string

// EffectKeystroke is the default cue fired while text is revealed.
const EffectKeystroke Effect = "keystroke"

// SideEffectEvent asks a sink to fire Effect for the reveal position
// Position after a nominal Delay. The delay only smooths a burst of cues
// perceptually; sinks may ignore it.
type SideEffectEvent struct {
	Effect   Effect        `json:"effect"`
	Position int           `json:"position"`
	Delay    time.Duration `json:"delay"`
}

// Switch reports whether side-effects are currently wanted. It is read at
// dispatch time and never written by the engine.
type Switch interface {
	Enabled() bool
}

// EffectSink receives the side-effect events produced by a reveal step.
// Emit must not block; delivery is best effort and failures stay inside the
// sink.
type EffectSink interface {
	Emit(events []SideEffectEvent)
}

// EffectSinkFunc adapts a function to EffectSink.
type EffectSinkFunc func(events []SideEffectEvent)

// Emit calls f(events).
func (f EffectSinkFunc) Emit(events []SideEffectEvent) { f(events) }

// Dispatcher turns cursor advances into side-effect events using a fixed
// interval policy.
type Dispatcher struct {
	interval int
	stagger  time.Duration
	effect   Effect
	enabled  bool
	sw       Switch
	last     int
}

// NewDispatcher creates a Dispatcher that fires effect every interval
// characters. sw may be nil.
func NewDispatcher(interval int, stagger time.Duration, effect Effect, enabled bool, sw Switch) *Dispatcher {
	if interval <= 0 {
		interval = DefaultSoundInterval
	}
	if effect == "" {
		effect = EffectKeystroke
	}
	return &Dispatcher{
		interval: interval,
		stagger:  stagger,
		effect:   effect,
		enabled:  enabled,
		sw:       sw,
	}
}

// OnAdvance returns one event for every interval boundary crossed between
// the last fired position and newPos. The k-th event of a call carries a
// delay of k*stagger. The result depends only on (oldPos, newPos, last).
//
// While sound is disabled the boundaries are still consumed, so turning
// sound back on never replays a backlog.
func (d *Dispatcher) OnAdvance(oldPos, newPos int) []SideEffectEvent {
	if newPos <= oldPos || newPos < d.last+d.interval {
		return nil
	}

	on := d.Enabled()
	var events []SideEffectEvent
	k := 0
	for p := d.last + d.interval; p <= newPos; p += d.interval {
		if on {
			events = append(events, SideEffectEvent{
				Effect:   d.effect,
				Position: p,
				Delay:    time.Duration(k) * d.stagger,
			})
		}
		d.last = p
		k++
	}
	return events
}

// Enabled reports whether events are currently emitted.
func (d *Dispatcher) Enabled() bool {
	if !d.enabled {
		return false
	}
	return d.sw == nil || d.sw.Enabled()
}

// LastPosition returns the position of the last fired (or suppressed) event.
func (d *Dispatcher) LastPosition() int {
	return d.last
}
