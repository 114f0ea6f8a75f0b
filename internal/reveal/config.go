package reveal

import "time"

// Defaults for Config.
const (
	DefaultSpeed         = 30 * time.Millisecond
	PrioritySpeed        = 20 * time.Millisecond
	DefaultSoundInterval = 3
	DefaultStagger       = 30 * time.Millisecond
)

// Status is the side-channel outcome delivered with completion.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusTruncated Status = "truncated"
)

// Result describes how a session reached Complete.
type Result struct {
	Status   Status
	Skipped  bool
	Err      error // transport failure behind a truncation, if any
	Text     string
	Revealed int
	Total    int
}

// Config holds the tunables of one reveal session.
type Config struct {
	// Speed is the nominal delay per revealed character.
	Speed time.Duration

	// SoundInterval is the number of characters between side-effects.
	SoundInterval int

	// SoundEnabled turns side-effects on for this session.
	SoundEnabled bool

	// Sound is an optional process-wide switch consulted at dispatch time.
	Sound Switch

	// Stagger is the nominal delay added between effects of one step.
	Stagger time.Duration

	// MaxCharsPerTick caps catch-up per tick. Zero means uncapped.
	MaxCharsPerTick int

	// Effect is the cue identifier carried by side-effect events.
	Effect Effect

	// OnComplete is called exactly once when the session completes.
	OnComplete func(Result)
}

// DefaultConfig returns a Config with the standard reveal cadence.
func DefaultConfig() Config {
	return Config{
		Speed:         DefaultSpeed,
		SoundInterval: DefaultSoundInterval,
		SoundEnabled:  true,
		Stagger:       DefaultStagger,
		Effect:        EffectKeystroke,
	}
}

// withDefaults fills zero fields that have no meaningful zero value.
func (c Config) withDefaults() Config {
	if c.Speed <= 0 {
		c.Speed = DefaultSpeed
	}
	if c.SoundInterval <= 0 {
		c.SoundInterval = DefaultSoundInterval
	}
	if c.Stagger < 0 {
		c.Stagger = 0
	}
	if c.MaxCharsPerTick < 0 {
		c.MaxCharsPerTick = 0
	}
	if c.Effect == "" {
		c.Effect = EffectKeystroke
	}
	return c
}
