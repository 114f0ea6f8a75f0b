package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/whisper/reveal/internal/config"
	"github.com/whisper/reveal/internal/logging"
	"github.com/whisper/reveal/internal/reveal"
	"github.com/whisper/reveal/internal/sfx"
	"github.com/whisper/reveal/internal/transport"
	"github.com/whisper/reveal/internal/tui"
)

// setup loads .env and the config file and builds the logger. Logs are
// discarded unless --log-file is set, since the terminal belongs to the
// reveal view.
func (f *flags) setup() (*config.Config, *zap.Logger, func(), error) {
	_ = godotenv.Load()

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	var out io.Writer = io.Discard
	closeOut := func() {}
	if f.logFile != "" {
		file, err := os.OpenFile(f.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		out = file
		closeOut = func() { _ = file.Close() }
	}

	logger, err := logging.NewWithWriter(cfg.Log, out)
	if err != nil {
		closeOut()
		return nil, nil, nil, err
	}
	return cfg, logger, func() {
		_ = logger.Sync()
		closeOut()
	}, nil
}

// engineConfig applies command-line overrides to the configured cadence.
func (f *flags) engineConfig(cmd *cobra.Command, rc config.RevealConfig) reveal.Config {
	ec := rc.Engine(f.priority)
	if cmd.Flags().Changed("speed") && f.speed > 0 {
		ec.Speed = f.speed
	}
	if cmd.Flags().Changed("sound-interval") && f.soundInterval > 0 {
		ec.SoundInterval = f.soundInterval
	}
	return ec
}

// runReveal feeds src into an engine and shows it until the reveal
// completes or the user quits.
func runReveal(cmd *cobra.Command, f *flags, cfg *config.Config, log *zap.Logger, title string, src transport.Source) error {
	toggle := &sfx.Global
	toggle.Set(!f.noSound)

	ec := f.engineConfig(cmd, cfg.Reveal)
	ec.Sound = toggle

	player := sfx.NewPlayer(sfx.NewBellSink(cmd.ErrOrStderr()), cfg.Effects, log)
	defer player.Close()

	eng := reveal.NewEngine(ec, reveal.WithLogger(log), reveal.WithEffectSink(player))
	defer eng.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	streamErr := make(chan error, 1)
	go func() { streamErr <- src.Stream(ctx, eng) }()

	m, err := tui.Run(eng, tui.Options{Title: title, Sound: toggle, ExitOnComplete: true},
		tea.WithOutput(cmd.OutOrStdout()))
	cancel()
	if serr := <-streamErr; serr != nil && !errors.Is(serr, context.Canceled) {
		log.Info("transport ended with error", zap.Error(serr))
	}
	if err != nil {
		return err
	}
	if m.Quitting() {
		return nil
	}

	if r, ok := eng.Result(); ok && r.Status == reveal.StatusTruncated {
		log.Warn("stream truncated", zap.Error(r.Err), zap.Int("revealed", r.Revealed), zap.Int("total", r.Total))
		if r.Err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "stream truncated: %v\n", r.Err)
		} else {
			fmt.Fprintln(cmd.ErrOrStderr(), "stream truncated")
		}
	}
	return nil
}
