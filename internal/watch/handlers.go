package watch

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/whisper/reveal/internal/metrics"
	"github.com/whisper/reveal/internal/protocol"
	"github.com/whisper/reveal/internal/ratelimit"
	"github.com/whisper/reveal/internal/ws"
)

// Limiter throttles client actions. *ratelimit.Limiter implements it.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
	RetryAfter(ctx context.Context, identifier string, rule ratelimit.Rule) int
}

// Handlers binds the client protocol to a Manager.
type Handlers struct {
	Manager *Manager
	Limiter Limiter // optional
	Log     *zap.Logger
}

// Register installs the watch, unwatch, skip and sound handlers.
func (h *Handlers) Register(d *ws.MessageDispatcher) {
	if h.Log == nil {
		h.Log = zap.NewNop()
	}
	d.Register(protocol.TypeWatch, h.handleWatch)
	d.Register(protocol.TypeUnwatch, h.handleUnwatch)
	d.Register(protocol.TypeSkip, h.handleSkip)
	d.Register(protocol.TypeSound, h.handleSound)
}

func (h *Handlers) handleWatch(conn *ws.Connection, msg interface{}) {
	watchMsg, ok := msg.(protocol.WatchMsg)
	if !ok {
		return
	}
	if !h.allow(conn, ratelimit.RuleWatch) {
		return
	}

	speed, err := h.Manager.Start(conn.ID, watchMsg)
	switch {
	case errors.Is(err, ErrTooManyStreams):
		h.sendError(conn, protocol.CodeTooManyStream, err.Error())
		return
	case err != nil:
		h.Log.Warn("watch failed", zap.String("session", conn.ID), zap.Error(err))
		h.sendError(conn, protocol.CodeInternal, "could not start stream")
		return
	}

	h.send(conn, protocol.TypeWatching, protocol.WatchingMsg{
		StreamID: watchMsg.StreamID,
		SpeedMs:  speed.Milliseconds(),
	})
}

func (h *Handlers) handleUnwatch(conn *ws.Connection, msg interface{}) {
	unwatch, ok := msg.(protocol.UnwatchMsg)
	if !ok {
		return
	}
	if err := h.Manager.Stop(conn.ID, unwatch.StreamID); err != nil {
		h.sendError(conn, protocol.CodeNotWatching, err.Error())
	}
}

func (h *Handlers) handleSkip(conn *ws.Connection, msg interface{}) {
	skip, ok := msg.(protocol.SkipMsg)
	if !ok {
		return
	}
	if !h.allow(conn, ratelimit.RuleSkip) {
		return
	}
	if err := h.Manager.Skip(conn.ID, skip.StreamID); err != nil {
		h.sendError(conn, protocol.CodeNotWatching, err.Error())
	}
}

func (h *Handlers) handleSound(conn *ws.Connection, msg interface{}) {
	sound, ok := msg.(protocol.SoundMsg)
	if !ok {
		return
	}
	h.Manager.SetSound(conn.ID, sound.Enabled)
}

// allow applies rule and tells the client when it is exceeded. Limiter
// errors fail open.
func (h *Handlers) allow(conn *ws.Connection, rule ratelimit.Rule) bool {
	if h.Limiter == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ok, _ := h.Limiter.Allow(ctx, conn.ID, rule)
	if ok {
		return true
	}
	metrics.MessagesTotal.WithLabelValues("rate_limited").Inc()
	h.send(conn, protocol.TypeRateLimited, protocol.RateLimitedMsg{
		RetryAfter: h.Limiter.RetryAfter(ctx, conn.ID, rule),
	})
	return false
}

func (h *Handlers) send(conn *ws.Connection, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		h.Log.Error("encode reply", zap.String("type", msgType), zap.Error(err))
		return
	}
	if err := h.Manager.sender.SendMessage(conn.ID, data); err != nil {
		h.Log.Debug("reply failed", zap.String("session", conn.ID), zap.Error(err))
	}
}

func (h *Handlers) sendError(conn *ws.Connection, code, message string) {
	h.send(conn, protocol.TypeError, protocol.ErrorMsg{Code: code, Message: message})
}
