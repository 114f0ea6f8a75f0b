package reveal

import (
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestSessionInvariants(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		cfg := DefaultConfig()
		cfg.SoundInterval = rapid.IntRange(1, 7).Draw(rt, "interval")
		cfg.MaxCharsPerTick = rapid.IntRange(0, 5).Draw(rt, "cap")
		completions := 0
		cfg.OnComplete = func(Result) { completions++ }
		s := NewSession(cfg, nil)

		now := t0
		prevRevealed := 0
		steps := rapid.IntRange(1, 60).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			now = now.Add(time.Duration(rapid.IntRange(0, 200).Draw(rt, "gap")) * time.Millisecond)

			switch rapid.IntRange(0, 9).Draw(rt, "op") {
			case 0, 1, 2:
				s.OnChunk(rapid.String().Draw(rt, "chunk"), now)
			case 3, 4, 5, 6:
				s.Tick(now)
			case 7:
				s.OnTerminate(now)
			case 8:
				s.Skip(now)
			case 9:
				s.OnError(&TransportError{Reason: "test", Fatal: rapid.Bool().Draw(rt, "fatal")}, now)
			}

			snap := s.Snapshot()
			if snap.Revealed < 0 || snap.Revealed > snap.Total {
				rt.Fatalf("cursor %d out of range [0, %d]", snap.Revealed, snap.Total)
			}
			if snap.Revealed < prevRevealed {
				rt.Fatalf("cursor went backwards: %d -> %d", prevRevealed, snap.Revealed)
			}
			prevRevealed = snap.Revealed
			if s.LastSoundPosition() > snap.Revealed {
				rt.Fatalf("sound position %d ahead of cursor %d", s.LastSoundPosition(), snap.Revealed)
			}
			if !strings.HasPrefix(snap.FullText, snap.DisplayedText) {
				rt.Fatalf("displayed text %q is not a prefix of %q", snap.DisplayedText, snap.FullText)
			}
			if snap.Done() && !snap.Truncated && snap.Revealed != snap.Total {
				rt.Fatalf("complete without full reveal: %d/%d", snap.Revealed, snap.Total)
			}
			if completions > 1 {
				rt.Fatalf("completion fired %d times", completions)
			}
			if snap.Done() != (completions == 1) {
				rt.Fatalf("completion count %d for phase %s", completions, snap.Phase)
			}
		}
	})
}

func TestSessionAlwaysCompletes(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := NewSession(DefaultConfig(), nil)
		chunks := rapid.SliceOf(rapid.String()).Draw(rt, "chunks")
		for _, c := range chunks {
			s.OnChunk(c, t0)
		}
		s.OnTerminate(t0)

		total := s.Snapshot().Total
		runTicks(s, t0, total+1)

		snap := s.Snapshot()
		if !snap.Done() {
			rt.Fatalf("not complete after %d ticks for %d characters", s.Ticks(), total)
		}
		if snap.DisplayedText != strings.Join(chunks, "") {
			rt.Fatalf("displayed %q, want %q", snap.DisplayedText, strings.Join(chunks, ""))
		}
		if s.Ticks() > total {
			rt.Fatalf("%d ticks for %d characters", s.Ticks(), total)
		}
	})
}

func TestSkipTwiceEqualsOnce(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		text := rapid.StringN(1, 80, -1).Draw(rt, "text")
		ticks := rapid.IntRange(0, 10).Draw(rt, "ticks")

		run := func(skips int) Snapshot {
			s := NewSession(DefaultConfig(), nil)
			s.OnChunk(text, t0)
			runTicks(s, t0, ticks)
			for i := 0; i < skips; i++ {
				s.Skip(t0)
			}
			return s.Snapshot()
		}
		if once, twice := run(1), run(2); once != twice {
			rt.Fatalf("skip not idempotent: %+v vs %+v", once, twice)
		}
	})
}
