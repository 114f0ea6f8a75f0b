// Package reveal implements the streaming text reveal engine: text arrives in
// chunks from a transport and is revealed character by character at a timed
// cadence, with interval side-effects and a user skip that collapses all
// pending state at once.
//
// Session holds the state machine and is driven synchronously with explicit
// timestamps. Engine wraps a Session in a single event loop that serializes
// transport events, timer ticks, skips and close.
package reveal

import (
	"time"

	"go.uber.org/zap"
)

// Session is the reveal state machine for one streamed message.
//
//	Idle → Streaming → Typing → Complete
//	          └──────────┴→ Skipped → Complete
//
// A Session is not goroutine-safe. Every method takes the current time so
// the cadence is fully determined by the caller.
type Session struct {
	cfg  Config
	buf  *Buffer
	disp *Dispatcher
	log  *zap.Logger

	phase      Phase
	terminated bool
	truncated  bool
	skipped    bool
	failure    error

	scheduled bool
	lastTick  time.Time
	ticks     int

	completed bool
	result    Result
}

// NewSession creates an Idle session. A nil logger discards output.
func NewSession(cfg Config, logger *zap.Logger) *Session {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		cfg:  cfg,
		buf:  NewBuffer(),
		disp: NewDispatcher(cfg.SoundInterval, cfg.Stagger, cfg.Effect, cfg.SoundEnabled, cfg.Sound),
		log:  logger,
	}
}

// OnChunk appends text from the transport. The first chunk moves the
// session from Idle to Streaming.
func (s *Session) OnChunk(text string, now time.Time) {
	if s.terminated || s.phase == PhaseComplete {
		s.log.Debug("chunk after termination ignored",
			zap.Int("bytes", len(text)), zap.Stringer("phase", s.phase))
		return
	}
	s.buf.Append(text)
	if s.phase == PhaseIdle {
		s.phase = PhaseStreaming
	}
	s.arm(now)
}

// OnTerminate records that no more chunks will arrive.
func (s *Session) OnTerminate(now time.Time) {
	if s.terminated || s.phase == PhaseComplete {
		return
	}
	s.terminated = true
	s.settle(now)
}

// OnError records a transport failure. A fatal error completes the session
// at once with whatever is already revealed; any other error lets buffered
// text finish. Both mark the session truncated.
func (s *Session) OnError(err error, now time.Time) {
	if s.terminated || s.phase == PhaseComplete {
		s.log.Debug("transport error after termination ignored", zap.Error(err))
		return
	}
	if err == nil {
		err = &TransportError{Reason: "unspecified failure"}
	}
	s.failure = err
	s.truncated = true
	s.terminated = true

	if IsFatal(err) {
		s.log.Warn("fatal transport error, truncating",
			zap.Error(err), zap.Int("revealed", s.buf.Revealed()), zap.Int("total", s.buf.Len()))
		s.complete()
		return
	}
	s.log.Info("transport interrupted, finishing buffered text",
		zap.Error(err), zap.Int("remaining", s.buf.Remaining()))
	s.settle(now)
}

// Tick advances the cursor in proportion to the time elapsed since the
// previous tick, at least one character. It returns the side-effects for
// the advanced range. Ticks arriving while nothing is scheduled are stale
// and ignored.
func (s *Session) Tick(now time.Time) []SideEffectEvent {
	if !s.scheduled || !s.phase.Active() {
		return nil
	}
	s.scheduled = false

	n := int(now.Sub(s.lastTick) / s.cfg.Speed)
	if n < 1 {
		n = 1
	}
	if limit := s.cfg.MaxCharsPerTick; limit > 0 && n > limit {
		n = limit
	}
	s.lastTick = now
	s.ticks++

	old := s.buf.Revealed()
	adv, err := s.buf.AdvanceCursor(n)
	if err != nil {
		s.log.Error("reveal tick rejected", zap.Error(err), zap.Int("step", n))
	}
	events := s.disp.OnAdvance(old, old+adv)

	switch {
	case s.buf.Remaining() > 0:
		s.scheduled = true
	case s.terminated:
		s.complete()
	}
	return events
}

// Skip reveals all buffered text immediately and completes the session. It
// returns the side-effects for the skipped range and whether a skip
// happened; skipping an Idle or Complete session does nothing.
func (s *Session) Skip(now time.Time) ([]SideEffectEvent, bool) {
	if !s.phase.Active() {
		return nil, false
	}
	s.scheduled = false

	old := s.buf.Revealed()
	s.buf.RevealAll()
	events := s.disp.OnAdvance(old, s.buf.Revealed())

	s.skipped = true
	s.phase = PhaseSkipped
	s.log.Debug("reveal skipped", zap.Int("from", old), zap.Int("to", s.buf.Revealed()))
	s.complete()
	return events, true
}

// Snapshot returns the presentation state.
func (s *Session) Snapshot() Snapshot {
	full, revealed := s.buf.Snapshot()
	return Snapshot{
		DisplayedText: s.buf.Displayed(),
		FullText:      full,
		Phase:         s.phase,
		CanSkip:       s.phase.Active(),
		Revealed:      revealed,
		Total:         s.buf.Len(),
		Truncated:     s.truncated,
		Skipped:       s.skipped,
		Streaming:     s.phase == PhaseStreaming,
		Typing:        s.phase.Active() && s.buf.Remaining() > 0,
		CursorVisible: s.phase.Active(),
	}
}

// Phase returns the current phase.
func (s *Session) Phase() Phase { return s.phase }

// Scheduled reports whether a tick is pending.
func (s *Session) Scheduled() bool { return s.scheduled }

// Speed returns the configured per-character delay.
func (s *Session) Speed() time.Duration { return s.cfg.Speed }

// Ticks returns the number of ticks that advanced the cursor.
func (s *Session) Ticks() int { return s.ticks }

// LastSoundPosition returns the dispatcher's last fired position.
func (s *Session) LastSoundPosition() int { return s.disp.LastPosition() }

// Result returns the completion result and whether the session completed.
func (s *Session) Result() (Result, bool) { return s.result, s.completed }

// arm schedules a tick if there is text to reveal and none is pending. The
// elapsed-time baseline restarts here so an idle gap never turns into a
// burst.
func (s *Session) arm(now time.Time) {
	if s.scheduled || !s.phase.Active() || s.buf.Remaining() == 0 {
		return
	}
	s.scheduled = true
	s.lastTick = now
}

// settle moves a terminated session on to Typing, or straight to Complete
// when nothing is left to reveal.
func (s *Session) settle(now time.Time) {
	if s.phase == PhaseIdle {
		s.phase = PhaseTyping
	}
	if s.buf.Remaining() == 0 {
		s.complete()
		return
	}
	s.phase = PhaseTyping
	s.arm(now)
}

func (s *Session) complete() {
	s.phase = PhaseComplete
	s.scheduled = false
	if s.completed {
		return
	}
	s.completed = true

	status := StatusSuccess
	if s.truncated {
		status = StatusTruncated
	}
	s.result = Result{
		Status:   status,
		Skipped:  s.skipped,
		Err:      s.failure,
		Text:     s.buf.Displayed(),
		Revealed: s.buf.Revealed(),
		Total:    s.buf.Len(),
	}
	if s.cfg.OnComplete != nil {
		s.cfg.OnComplete(s.result)
	}
}
