package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/maauso/clipforge/internal/config"
)

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	ffmpegPath  string
	ffprobePath string
	logLevel    string
	logFormat   string
}

func (o *rootOptions) logger(cmd *cobra.Command) *slog.Logger {
	cfg := config.Config{LogFormat: o.logFormat, LogLevel: o.logLevel}
	return cfg.NewLoggerTo(cmd.ErrOrStderr())
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "clipforge",
		Short:         "Export reframed video clips",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.ffmpegPath, "ffmpeg", "ffmpeg", "Path to the ffmpeg binary")
	rootCmd.PersistentFlags().StringVar(&opts.ffprobePath, "ffprobe", "ffprobe", "Path to the ffprobe binary")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "Log format (text, json)")

	rootCmd.AddCommand(newExportCommand(opts))
	rootCmd.AddCommand(newProbeCommand(opts))

	return rootCmd
}
