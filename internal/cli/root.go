// Package cli implements the tutorctl command tree.
package cli

import (
	"io"
	"log/slog"
	"os"

	"github.com/ashureev/whiteboard-tutor/internal/client"
	"github.com/ashureev/whiteboard-tutor/internal/config"
	"github.com/spf13/cobra"
)

// globalOptions holds the persistent flags shared by every subcommand.
// Unset flags fall back to the TUTOR_* and RECONNECT_* environment.
type globalOptions struct {
	URL     string
	DevHost string
	Dev     bool
	Verbose bool
}

// NewRootCmd creates the tutorctl root command.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:   "tutorctl",
		Short: "Terminal client for the whiteboard tutor",
		Long: `tutorctl talks to a whiteboard tutor server over the same WebSocket
session channel the browser uses.

Available subcommands:
  chat        Hold a text conversation with the tutor
  ping        Measure round-trip latency to the server
  session-id  Print a fresh session id

Examples:
  tutorctl chat --url http://localhost:8000
  tutorctl chat --session lesson-42
  tutorctl ping --timeout 3s`,
		SilenceUsage: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			setupLogging(os.Stderr, opts.Verbose)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.URL, "url", "", "Tutor server base URL (default: $TUTOR_URL or http://localhost:8000)")
	cmd.PersistentFlags().StringVar(&opts.DevHost, "dev-host", "", "Host to use in dev mode (default: $TUTOR_DEV_HOST)")
	cmd.PersistentFlags().BoolVar(&opts.Dev, "dev", false, "Connect to the dev host instead of the URL host")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Log connection events to stderr")

	cmd.AddCommand(newChatCmd(opts))
	cmd.AddCommand(newPingCmd(opts))
	cmd.AddCommand(newSessionIDCmd())

	return cmd
}

// clientConfig merges flags over the environment.
func (o *globalOptions) clientConfig(cmd *cobra.Command) (client.Config, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return client.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("url") {
		cfg.BaseURL = o.URL
	}
	if flags.Changed("dev-host") {
		cfg.DevHost = o.DevHost
	}
	if flags.Changed("dev") {
		cfg.Dev = o.Dev
	}
	return cfg, cfg.Validate()
}

func setupLogging(w io.Writer, verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}
