package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/whisper/reveal/internal/relay"
)

func newPlayCmd(f *flags) *cobra.Command {
	var failAfter int
	cmd := &cobra.Command{
		Use:   "play [file]",
		Short: "Replay a file as a local stream",
		Long: `Split a file (or stdin) into randomly sized chunks, stream them with
jittered delays and reveal the result. Useful to try cadence settings.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "stdin"
			if len(args) == 1 && args[0] != "-" {
				name = args[0]
			}
			text, err := readText(cmd.InOrStdin(), name)
			if err != nil {
				return err
			}

			cfg, log, done, err := f.setup()
			if err != nil {
				return err
			}
			defer done()

			opts := cfg.Relay
			if cmd.Flags().Changed("fail-after") {
				opts.FailAfter = failAfter
			}
			return runReveal(cmd, f, cfg, log, name, &relay.ReplaySource{Text: text, Options: opts})
		},
	}
	cmd.Flags().IntVar(&failAfter, "fail-after", 0, "end with a transport error after this many chunks")
	return cmd
}

func readText(stdin io.Reader, name string) (string, error) {
	var (
		data []byte
		err  error
	)
	if name == "stdin" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(name)
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", name, err)
	}
	return string(data), nil
}
