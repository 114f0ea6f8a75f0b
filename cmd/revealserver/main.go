package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/whisper/reveal/internal/config"
	"github.com/whisper/reveal/internal/logging"
	"github.com/whisper/reveal/internal/messaging"
	"github.com/whisper/reveal/internal/ratelimit"
	"github.com/whisper/reveal/internal/session"
	"github.com/whisper/reveal/internal/transcript"
	"github.com/whisper/reveal/internal/transport"
	"github.com/whisper/reveal/internal/watch"
	"github.com/whisper/reveal/internal/ws"
)

func main() {
	_ = godotenv.Load()

	configPath := os.Getenv("REVEAL_CONFIG")
	if configPath == "" {
		configPath = "reveal.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	codec, err := transport.CodecByName(cfg.Codec)
	if err != nil {
		logger.Fatal("invalid codec", zap.Error(err))
	}

	// --- NATS ---
	natsClient, err := messaging.NewNATSClient(cfg.NATS, logger)
	if err != nil {
		logger.Fatal("failed to connect to NATS", zap.String("url", cfg.NATS.URL), zap.Error(err))
	}

	// --- Redis ---
	var (
		sessionStore *session.Store
		limiter      *ratelimit.Limiter
	)
	if cfg.Redis.Enabled {
		sessionStore, err = session.NewStore(cfg.Redis.Addr, cfg.Server.Name)
		if err != nil {
			logger.Fatal("failed to connect to Redis", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		limiter = ratelimit.NewLimiter(sessionStore.Client(), logger)
	}

	// --- Postgres ---
	var db *sql.DB
	if cfg.Database.DSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		db, err = transcript.Open(ctx, cfg.Database.DSN)
		cancel()
		if err != nil {
			logger.Fatal("failed to open transcript database", zap.Error(err))
		}
		if cfg.Database.Migrate {
			if err := transcript.Migrate(db); err != nil {
				logger.Fatal("transcript migration failed", zap.Error(err))
			}
		}
	}

	logger.Info("reveal server starting",
		zap.String("listen_addr", cfg.Server.ListenAddr),
		zap.String("server_name", cfg.Server.Name),
		zap.Int("worker_pool", cfg.Server.WorkerPoolSize),
		zap.Int("max_connections", cfg.Server.MaxConnections),
		zap.String("nats_url", cfg.NATS.URL),
		zap.String("codec", codec.Name()),
		zap.Bool("redis", sessionStore != nil),
		zap.Bool("transcripts", db != nil),
		zap.Duration("speed", cfg.Reveal.Speed),
		zap.Duration("priority_speed", cfg.Reveal.PrioritySpeed))

	dispatcher := ws.NewMessageDispatcher(logger)

	var sessions ws.SessionStore
	if sessionStore != nil {
		sessions = sessionStore
	}
	server := ws.NewServer(cfg.Server, sessions, dispatcher.Dispatch, logger)

	opts := watch.DefaultOptions()
	opts.Engine = cfg.Reveal.Engine
	manager := watch.NewManager(server,
		watch.NATSSources(natsClient, codec, cfg.Reveal.IdleTimeout, logger), opts, logger)

	handlers := &watch.Handlers{Manager: manager, Log: logger}
	if sessionStore != nil {
		manager.SetSessions(sessionStore)
		handlers.Limiter = limiter
		server.SetLimiter(limiter)
	}
	if db != nil {
		manager.SetRecorder(transcript.NewStore(db))
	}
	handlers.Register(dispatcher)

	// Stop a connection's reveals before its session is deleted.
	server.SetOnDisconnect(manager.StopAll)

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Start() }()

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, initiating graceful shutdown", zap.Stringer("signal", sig))
	case err := <-serveErr:
		if err != nil {
			logger.Error("server error", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	manager.Close()
	natsClient.Close()
	if sessionStore != nil {
		if err := sessionStore.Close(); err != nil {
			logger.Warn("session store close error", zap.Error(err))
		}
	}
	if db != nil {
		if err := db.Close(); err != nil {
			logger.Warn("transcript database close error", zap.Error(err))
		}
	}
}
