package reveal

import "fmt"

// Phase is the lifecycle state of a reveal session.
type Phase int

const (
	PhaseIdle      Phase = iota // No chunk received yet.
	PhaseStreaming              // Chunks still arriving; reveal loop catching up.
	PhaseTyping                 // Transport terminated; remaining text being revealed.
	PhaseSkipped                // User forced a full reveal; passes straight to Complete.
	PhaseComplete               // Terminal.
)

var phaseNames = [...]string{
	PhaseIdle:      "idle",
	PhaseStreaming: "streaming",
	PhaseTyping:    "typing",
	PhaseSkipped:   "skipped",
	PhaseComplete:  "complete",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// Active reports whether the reveal loop may still advance the cursor.
func (p Phase) Active() bool {
	return p == PhaseStreaming || p == PhaseTyping
}

// MarshalText encodes the phase by name so snapshots serialize readably.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses a phase name produced by MarshalText.
func (p *Phase) UnmarshalText(text []byte) error {
	for i, name := range phaseNames {
		if name == string(text) {
			*p = Phase(i)
			return nil
		}
	}
	return fmt.Errorf("reveal: unknown phase %q", text)
}
