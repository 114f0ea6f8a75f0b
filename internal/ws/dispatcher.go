package ws

import (
	"time"

	"go.uber.org/zap"

	"github.com/whisper/reveal/internal/metrics"
	"github.com/whisper/reveal/internal/protocol"
)

// MessageHandler handles one parsed client message. msg is the concrete
// struct returned by protocol.ParseClientMessage, e.g. protocol.WatchMsg.
type MessageHandler func(conn *Connection, msg interface{})

// MessageDispatcher routes client messages to handlers by type. Ping is
// answered internally; malformed or unsupported messages get an error
// reply.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	log      *zap.Logger
}

// NewMessageDispatcher creates an empty dispatcher.
func NewMessageDispatcher(logger *zap.Logger) *MessageDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		log:      logger.Named("dispatch"),
	}
}

// Register associates handler with msgType, replacing any previous one.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch is the Server onMessage callback.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	start := time.Now()
	defer func() { metrics.MessageLatency.Observe(time.Since(start).Seconds()) }()
	metrics.MessagesTotal.WithLabelValues("received").Inc()

	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		d.log.Debug("parse error", zap.String("session", conn.ID), zap.Error(err))
		SendError(conn, protocol.CodeBadMessage, err.Error())
		return
	}

	if msgType == protocol.TypePing {
		conn.Touch()
		d.reply(conn, protocol.TypePong, protocol.PongMsg{})
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		d.log.Debug("unsupported message", zap.String("type", msgType), zap.String("session", conn.ID))
		SendError(conn, protocol.CodeBadMessage, "unsupported message type")
		return
	}
	handler(conn, msg)
}

func (d *MessageDispatcher) reply(conn *Connection, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		d.log.Error("build reply", zap.String("type", msgType), zap.Error(err))
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		d.log.Debug("write reply", zap.String("session", conn.ID), zap.Error(err))
	}
}

// SendError writes an error message to conn. Failures are ignored; a broken
// connection is cleaned up by the read path.
func SendError(conn *Connection, code, message string) {
	data, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
		Code:    code,
		Message: message,
	})
	if err != nil {
		return
	}
	_ = conn.WriteMessage(data)
}
