package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Request asks the relay to stream Text on reveal.stream.<StreamID>.
type Request struct {
	StreamID string `json:"stream_id"`
	Text     string `json:"text"`
	Seed     uint64 `json:"seed,omitempty"`
}

// RequestSubscriber is the slice of the NATS client a Service needs.
type RequestSubscriber interface {
	SubscribeStreamRequest(handler func(data []byte)) error
}

// Service answers relay requests arriving on NATS by replaying the
// requested text onto the stream subject.
type Service struct {
	sub  RequestSubscriber
	pub  *Publisher
	opts Options
	log  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[string]*run
}

type run struct {
	cancel context.CancelFunc
}

// NewService creates a relay service.
func NewService(sub RequestSubscriber, pub *Publisher, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		sub:    sub,
		pub:    pub,
		opts:   opts,
		log:    logger.Named("relay"),
		ctx:    ctx,
		cancel: cancel,
		active: make(map[string]*run),
	}
}

// Start subscribes to relay requests.
func (s *Service) Start() error {
	if err := s.sub.SubscribeStreamRequest(s.HandleRequest); err != nil {
		return fmt.Errorf("relay: subscribe requests: %w", err)
	}
	s.log.Info("listening for stream requests")
	return nil
}

// HandleRequest decodes a request and replays it in the background. A
// request for a stream that is still running is ignored, so viewers already
// subscribed never see the text start over.
func (s *Service) HandleRequest(data []byte) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		s.log.Warn("invalid request", zap.Error(err))
		return
	}
	if req.StreamID == "" {
		s.log.Warn("request without stream id")
		return
	}

	opts := s.opts
	if req.Seed != 0 {
		opts.Seed = req.Seed
	}

	ctx, cancel := context.WithCancel(s.ctx)
	r := &run{cancel: cancel}
	s.mu.Lock()
	if _, running := s.active[req.StreamID]; running {
		s.mu.Unlock()
		cancel()
		s.log.Debug("stream already running, request ignored", zap.String("stream_id", req.StreamID))
		return
	}
	s.active[req.StreamID] = r
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.finish(req.StreamID, r)

		s.log.Info("stream started", zap.String("stream_id", req.StreamID), zap.Int("bytes", len(req.Text)))
		if err := Replay(ctx, req.Text, s.pub.Emitter(req.StreamID), opts); err != nil {
			s.log.Warn("stream ended early", zap.String("stream_id", req.StreamID), zap.Error(err))
			return
		}
		s.log.Info("stream finished", zap.String("stream_id", req.StreamID))
	}()
}

// Active returns the number of streams being replayed.
func (s *Service) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Stop cancels running streams and waits for them to return.
func (s *Service) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Service) finish(streamID string, r *run) {
	r.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[streamID] == r {
		delete(s.active, streamID)
	}
}
