package commands

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/whisper/reveal/internal/messaging"
	"github.com/whisper/reveal/internal/protocol"
	"github.com/whisper/reveal/internal/transport"
	"github.com/whisper/reveal/internal/watch"
)

func newWatchCmd(f *flags) *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "watch <stream-id>",
		Short: "Reveal a stream published on NATS",
		Long: `Subscribe to a stream on NATS and reveal it.

With --text, a relay is asked to stream that text under the given id once
the subscription is live.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, done, err := f.setup()
			if err != nil {
				return err
			}
			defer done()

			codec, err := transport.CodecByName(cfg.Codec)
			if err != nil {
				return err
			}
			nc, err := messaging.NewNATSClient(cfg.NATS, log)
			if err != nil {
				return fmt.Errorf("connecting to NATS: %w", err)
			}
			defer nc.Close()

			sources := watch.NATSSources(nc, codec, cfg.Reveal.IdleTimeout, log)
			src := sources(uuid.NewString(), protocol.WatchMsg{StreamID: args[0], Priority: f.priority, Text: text})
			return runReveal(cmd, f, cfg, log, args[0], src)
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "ask a relay to stream this text")
	return cmd
}
