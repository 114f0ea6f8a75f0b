// Package ws serves the browser side of the reveal service. It upgrades
// HTTP connections to WebSocket, tracks live connections, reads client
// frames through epoll and a bounded worker pool, and pushes reveal updates
// back to the browser.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/whisper/reveal/internal/metrics"
	"github.com/whisper/reveal/internal/protocol"
	"github.com/whisper/reveal/internal/ratelimit"
)

// maxClientFrame caps a client message. Browser messages are tiny.
const maxClientFrame = 16 << 10

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr     string          `yaml:"listen_addr" env:"LISTEN_ADDR"`           // e.g. ":8080"
	Name           string          `yaml:"name" env:"NAME"`                         // server name stored with sessions
	WorkerPoolSize int             `yaml:"worker_pool_size" env:"WORKER_POOL_SIZE"` // concurrent frame readers
	MaxConnections int             `yaml:"max_connections" env:"MAX_CONNECTIONS"`
	ReadTimeout    time.Duration   `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout   time.Duration   `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	Heartbeat      HeartbeatConfig `yaml:"heartbeat" env:"HEARTBEAT"`
}

// DefaultServerConfig returns a ServerConfig with production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		Name:           "reveal-1",
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// SessionStore persists per-connection session state. *session.Store
// implements it.
type SessionStore interface {
	Create(ctx context.Context, sessionID string) error
	Delete(ctx context.Context, sessionID string) error
}

// Limiter throttles actions per identifier. *ratelimit.Limiter implements it.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// Server is the browser-facing WebSocket server.
type Server struct {
	config       ServerConfig
	log          *zap.Logger
	poller       *poller
	conns        *ConnectionManager
	sessions     SessionStore
	limiter      Limiter
	workerPool   chan struct{}
	onMessage    func(conn *Connection, data []byte)
	onDisconnect func(connID string)
	mu           sync.Mutex // guards poller and httpServer
	httpServer   *http.Server
	done         chan struct{}
	stopOnce     sync.Once
	startedAt    time.Time
}

// NewServer creates a Server. sessions may be nil. onMessage is called from
// a worker goroutine for every complete data frame.
func NewServer(config ServerConfig, sessions SessionStore, onMessage func(conn *Connection, data []byte), logger *zap.Logger) *Server {
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = DefaultServerConfig().WorkerPoolSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		config:     config,
		log:        logger.Named("ws"),
		conns:      NewConnectionManager(),
		sessions:   sessions,
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		onMessage:  onMessage,
		done:       make(chan struct{}),
	}
}

// SetLimiter enables per-address connection throttling.
func (s *Server) SetLimiter(l Limiter) {
	s.limiter = l
}

// SetOnDisconnect registers a callback run when a connection is removed,
// before its session is deleted.
func (s *Server) SetOnDisconnect(fn func(connID string)) {
	s.onDisconnect = fn
}

// Handler returns the HTTP routes: /ws, /health and /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// Start listens on ListenAddr and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("ws: listen %s: %w", s.config.ListenAddr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	p, err := newPoller(s.handleConn)
	if err != nil {
		return fmt.Errorf("ws: create poller: %w", err)
	}
	hs := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.mu.Lock()
	s.poller = p
	s.httpServer = hs
	s.startedAt = time.Now()
	s.mu.Unlock()

	go s.startEventLoop()
	s.startHeartbeat(s.config.Heartbeat)

	s.log.Info("server listening",
		zap.String("addr", ln.Addr().String()),
		zap.Int("workers", s.config.WorkerPoolSize),
		zap.Int("max_conns", s.config.MaxConnections))

	if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ws: http server: %w", err)
	}
	return nil
}

func (s *Server) currentPoller() *poller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.poller
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	p := s.currentPoller()
	if p == nil {
		http.Error(w, "server not started", http.StatusServiceUnavailable)
		return
	}
	if s.config.MaxConnections > 0 && s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	if s.limiter != nil {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if ok, _ := s.limiter.Allow(r.Context(), host, ratelimit.RuleConnect); !ok {
			metrics.MessagesTotal.WithLabelValues("rate_limited").Inc()
			http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
			return
		}
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.Debug("upgrade failed", zap.Error(err))
		return
	}

	c := NewConnection(uuid.NewString(), conn)
	s.conns.Add(c)
	if err := p.add(conn); err != nil {
		s.log.Warn("poller add failed", zap.String("session", c.ID), zap.Error(err))
		s.conns.Remove(c.ID)
		return
	}
	metrics.ConnectionsTotal.Inc()

	if s.sessions != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := s.sessions.Create(ctx, c.ID); err != nil {
			s.log.Warn("create session failed", zap.String("session", c.ID), zap.Error(err))
		}
		cancel()
	}

	msg, err := protocol.NewServerMessage(protocol.TypeSessionCreated, protocol.SessionCreatedMsg{SessionID: c.ID})
	if err == nil {
		err = s.SendMessage(c.ID, msg)
	}
	if err != nil {
		s.log.Warn("send session_created failed", zap.String("session", c.ID), zap.Error(err))
	}

	s.log.Debug("connection opened",
		zap.String("session", c.ID), zap.String("addr", c.Addr), zap.Int("total", s.conns.Count()))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Server      string `json:"server"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Server:      s.config.Name,
		Connections: s.conns.Count(),
		Uptime:      time.Since(s.started()).Round(time.Second).String(),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) started() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// startEventLoop hands ready connections to the worker pool.
func (s *Server) startEventLoop() {
	p := s.currentPoller()
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conns, err := p.wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.log.Warn("poller wait failed", zap.Error(err))
			continue
		}

		for _, conn := range conns {
			s.workerPool <- struct{}{}
			go func() {
				defer func() { <-s.workerPool }()
				s.handleConn(conn)
			}()
		}
	}
}

// handleConn reads one frame from a ready connection. Control frames are
// consumed here; a read error or close frame removes the connection.
func (s *Server) handleConn(netConn net.Conn) {
	c := s.conns.GetByConn(netConn)
	if c == nil {
		return
	}
	if !c.processing.CompareAndSwap(false, true) {
		return
	}
	defer c.processing.Store(false)

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(netConn, ws.StateServerSide)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			// Stale readiness; the heartbeat handles dead peers.
			return
		}
		s.RemoveConnection(c)
		return
	}
	_ = netConn.SetReadDeadline(time.Time{})
	c.Touch()

	if header.OpCode.IsControl() {
		if header.OpCode == ws.OpClose {
			s.RemoveConnection(c)
		}
		return
	}
	if header.Length > maxClientFrame {
		s.log.Warn("client frame too large", zap.String("session", c.ID), zap.Int64("bytes", header.Length))
		s.RemoveConnection(c)
		return
	}

	data := make([]byte, header.Length)
	if _, err := io.ReadFull(reader, data); err != nil {
		s.RemoveConnection(c)
		return
	}
	if len(data) == 0 || s.onMessage == nil {
		return
	}
	s.onMessage(c, data)
}

// RemoveConnection unregisters and closes c, runs the disconnect callback
// and deletes the session. Repeated calls for the same connection are
// no-ops.
func (s *Server) RemoveConnection(c *Connection) {
	if p := s.currentPoller(); p != nil {
		_ = p.remove(c.Conn)
	}
	if !s.conns.Remove(c.ID) {
		return
	}
	metrics.ConnectionsTotal.Dec()

	if s.onDisconnect != nil {
		s.onDisconnect(c.ID)
	}
	if s.sessions != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := s.sessions.Delete(ctx, c.ID); err != nil {
			s.log.Warn("delete session failed", zap.String("session", c.ID), zap.Error(err))
		}
		cancel()
	}

	s.log.Debug("connection closed", zap.String("session", c.ID), zap.Int("total", s.conns.Count()))
}

// SendMessage writes a text frame to the connection identified by connID.
func (s *Server) SendMessage(connID string, data []byte) error {
	c := s.conns.Get(connID)
	if c == nil {
		return fmt.Errorf("ws: connection %s not found", connID)
	}

	if s.config.WriteTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
		defer func() { _ = c.Conn.SetWriteDeadline(time.Time{}) }()
	}
	if err := c.WriteMessage(data); err != nil {
		return err
	}
	metrics.MessagesTotal.WithLabelValues("sent").Inc()
	return nil
}

// Connections returns the connection registry.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown stops the listener and the event loop and closes every
// connection, running the disconnect callback for each.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.log.Info("shutting down")
		close(s.done)

		s.mu.Lock()
		hs, p := s.httpServer, s.poller
		s.mu.Unlock()

		if hs != nil {
			if e := hs.Shutdown(ctx); e != nil {
				err = fmt.Errorf("ws: http shutdown: %w", e)
			}
		}
		for _, c := range s.conns.All() {
			s.RemoveConnection(c)
		}
		if p != nil {
			_ = p.close()
		}
		s.log.Info("server stopped")
	})
	return err
}
