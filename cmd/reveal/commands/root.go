// Package commands implements the reveal terminal client.
package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var versionInfo = struct {
	Version string
	Commit  string
}{"dev", "none"}

// SetVersion sets the version reported by the version command.
func SetVersion(version, commit string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
}

// flags shared by every reveal command.
type flags struct {
	configPath    string
	speed         time.Duration
	priority      bool
	soundInterval int
	noSound       bool
	logFile       string
}

// NewRootCmd creates the root command with all subcommands.
func NewRootCmd() *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:   "reveal",
		Short: "Reveal streamed text in the terminal",
		Long: `Reveal follows a text stream and types it out at a steady pace,
ringing the terminal bell as characters appear.

Keys while revealing:
  s, enter, esc   reveal the rest at once
  m               toggle sound
  q, ctrl+c       quit

Examples:
  reveal watch answer-42 --text "hello from the relay"
  reveal connect ws://localhost:8090/stream?codec=msgpack
  reveal play notes.txt --priority`,
		SilenceUsage: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "reveal.yaml", "path to the YAML config file")
	pf.DurationVar(&f.speed, "speed", 0, "delay per character (overrides config)")
	pf.BoolVar(&f.priority, "priority", false, "use the faster priority cadence")
	pf.IntVar(&f.soundInterval, "sound-interval", 0, "characters between sounds (overrides config)")
	pf.BoolVar(&f.noSound, "no-sound", false, "start with sound off")
	pf.StringVar(&f.logFile, "log-file", "", "write logs to this file")

	cmd.AddCommand(
		newWatchCmd(f),
		newConnectCmd(f),
		newPlayCmd(f),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "reveal %s (%s)\n", versionInfo.Version, versionInfo.Commit)
		},
	}
}
