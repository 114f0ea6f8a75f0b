package commands

import (
	"github.com/spf13/cobra"

	"github.com/whisper/reveal/internal/transport"
)

func newConnectCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "connect <ws-url>",
		Short: "Reveal a stream served over WebSocket",
		Long: `Dial a WebSocket endpoint that writes stream frames and reveal them.
Text messages are read as JSON frames and binary messages as msgpack.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, done, err := f.setup()
			if err != nil {
				return err
			}
			defer done()

			src := &transport.WebSocketSource{URL: args[0], Log: log}
			return runReveal(cmd, f, cfg, log, args[0], src)
		},
	}
}
