package relay

import (
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"github.com/whisper/reveal/internal/metrics"
	"github.com/whisper/reveal/internal/transport"
)

// WSHandler streams a text to every WebSocket client that connects. The
// codec is chosen per request with ?codec=json|msgpack; JSON frames go out
// as text messages and msgpack frames as binary messages.
type WSHandler struct {
	Text         func(r *http.Request) (string, error)
	Options      Options
	WriteTimeout time.Duration
	Log          *zap.Logger
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := h.Log
	if log == nil {
		log = zap.NewNop()
	}

	codec, err := transport.CodecByName(r.URL.Query().Get("codec"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	text, err := h.Text(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Warn("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	op := ws.OpText
	if codec.Name() == transport.CodecMsgpack {
		op = ws.OpBinary
	}

	emit := func(f transport.Frame) error {
		data, err := codec.Encode(f)
		if err != nil {
			return err
		}
		if h.WriteTimeout > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(h.WriteTimeout))
		}
		if err := wsutil.WriteServerMessage(conn, op, data); err != nil {
			return err
		}
		metrics.FramesTotal.WithLabelValues("published", string(f.Type)).Inc()
		return nil
	}

	log.Info("ws stream started", zap.String("remote", r.RemoteAddr), zap.String("codec", codec.Name()))
	if err := Replay(r.Context(), text, emit, h.Options); err != nil {
		log.Info("ws stream ended early", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	// Give the client a moment to answer with its close frame.
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, _ = wsutil.ReadClientData(conn)
}
