package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/whisper/reveal/internal/config"
	"github.com/whisper/reveal/internal/logging"
	"github.com/whisper/reveal/internal/messaging"
	"github.com/whisper/reveal/internal/metrics"
	"github.com/whisper/reveal/internal/relay"
	"github.com/whisper/reveal/internal/transport"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:          "relay",
		Short:        "Stream text as a paced chunk stream",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "reveal.yaml", "path to the YAML config file")
	root.AddCommand(newServeCmd(), newPublishCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setup() (*config.Config, *zap.Logger, error) {
	_ = godotenv.Load()
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newServeCmd() *cobra.Command {
	var (
		wsAddr string
		file   string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Answer stream requests on NATS and optionally serve streams over WebSocket",
		Long: `Listen for stream requests on NATS and replay each requested text onto
its stream subject.

With --ws-addr, also serve /stream over WebSocket: every client receives
--file, or the text query parameter when no file is given. ?codec=msgpack
selects binary frames.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			codec, err := transport.CodecByName(cfg.Codec)
			if err != nil {
				return err
			}

			var fixed string
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("reading %s: %w", file, err)
				}
				fixed = string(data)
			}

			natsCfg := cfg.NATS
			natsCfg.Name = "reveal-relay"
			natsClient, err := messaging.NewNATSClient(natsCfg, logger)
			if err != nil {
				return fmt.Errorf("connecting to NATS: %w", err)
			}
			defer natsClient.Close()

			svc := relay.NewService(natsClient, relay.NewPublisher(natsClient, codec), cfg.Relay, logger)
			if err := svc.Start(); err != nil {
				return err
			}
			defer svc.Stop()

			var httpServer *http.Server
			serveErr := make(chan error, 1)
			if wsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/stream", &relay.WSHandler{
					Text: func(r *http.Request) (string, error) {
						if fixed != "" {
							return fixed, nil
						}
						if text := r.URL.Query().Get("text"); text != "" {
							return text, nil
						}
						return "", errors.New("no text to stream")
					},
					Options:      cfg.Relay,
					WriteTimeout: cfg.Server.WriteTimeout,
					Log:          logger,
				})
				mux.Handle("/metrics", metrics.Handler())
				httpServer = &http.Server{Addr: wsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						serveErr <- err
					}
				}()
			}

			logger.Info("relay running",
				zap.String("nats_url", natsCfg.URL),
				zap.String("codec", codec.Name()),
				zap.String("ws_addr", wsAddr))

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			select {
			case sig := <-sigCh:
				logger.Info("received signal, shutting down", zap.Stringer("signal", sig))
			case err := <-serveErr:
				logger.Error("websocket listener failed", zap.Error(err))
			}

			if httpServer != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := httpServer.Shutdown(ctx); err != nil {
					logger.Warn("http shutdown error", zap.Error(err))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&wsAddr, "ws-addr", "", "serve /stream over WebSocket on this address")
	cmd.Flags().StringVar(&file, "file", "", "text served to every WebSocket client")
	return cmd
}

func newPublishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish <stream-id> [file]",
		Short: "Publish a file or stdin as a stream on NATS",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if len(args) == 2 && args[1] != "-" {
				data, err = os.ReadFile(args[1])
			} else {
				data, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return fmt.Errorf("reading text: %w", err)
			}

			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			codec, err := transport.CodecByName(cfg.Codec)
			if err != nil {
				return err
			}
			natsClient, err := messaging.NewNATSClient(cfg.NATS, logger)
			if err != nil {
				return fmt.Errorf("connecting to NATS: %w", err)
			}
			defer natsClient.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			streamID := args[0]
			pub := relay.NewPublisher(natsClient, codec)
			logger.Info("publishing stream", zap.String("stream_id", streamID), zap.Int("bytes", len(data)))
			if err := relay.Replay(ctx, string(data), pub.Emitter(streamID), cfg.Relay); err != nil {
				return fmt.Errorf("publishing %s: %w", streamID, err)
			}
			return nil
		},
	}
}
