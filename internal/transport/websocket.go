package transport

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"github.com/whisper/reveal/internal/reveal"
)

// WebSocketSource reads frames from a WebSocket server. Text messages are
// decoded as JSON and binary messages as msgpack.
type WebSocketSource struct {
	URL    string
	Dialer ws.Dialer
	Log    *zap.Logger
}

// CodecForOp returns the codec matching a WebSocket data opcode.
func CodecForOp(op ws.OpCode) Codec {
	if op == ws.OpBinary {
		return MsgpackCodec{}
	}
	return JSONCodec{}
}

// Stream dials URL and reads frames until a terminal frame, connection
// loss or ctx cancellation. A connection that ends before a done frame is a
// recoverable interruption.
func (s *WebSocketSource) Stream(ctx context.Context, ing Ingestor) error {
	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}

	conn, br, _, err := s.Dialer.Dial(ctx, s.URL)
	if err != nil {
		ing.OnError(&reveal.TransportError{Reason: "dial failed", Err: err})
		return fmt.Errorf("transport: dial %s: %w", s.URL, err)
	}
	defer conn.Close()

	var r io.Reader = conn
	if br != nil {
		r = br
		defer ws.PutReader(br)
	}
	rw := struct {
		io.Reader
		io.Writer
	}{r, conn}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		data, op, err := wsutil.ReadServerData(rw)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var closed wsutil.ClosedError
			if errors.As(err, &closed) || errors.Is(err, io.EOF) {
				log.Info("stream connection closed before done", zap.String("url", s.URL))
				ing.OnError(&reveal.TransportError{Reason: "stream interrupted", Err: err})
				return nil
			}
			ing.OnError(&reveal.TransportError{Reason: "connection lost", Err: err})
			return fmt.Errorf("transport: read %s: %w", s.URL, err)
		}

		if Deliver(data, CodecForOp(op), ing, log) {
			body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
			if err := wsutil.WriteClientMessage(conn, ws.OpClose, body); err != nil {
				log.Debug("close handshake", zap.Error(err))
			}
			return nil
		}
	}
}
