// Package cli wires the chronodle commands.
package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chronodle/chronodle/internal/api"
	"github.com/chronodle/chronodle/internal/config"
)

// RootOptions holds global flags and the configuration shared by all commands.
type RootOptions struct {
	LogLevel  string
	LogFormat string

	Config config.Config
	Logger *slog.Logger
}

// NewRootCommand creates the root command for the chronodle CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "chronodle",
		Short:         "Chronodle - which came first?",
		Long:          "Serve, ingest and play the on-this-day history guessing game.",
		Version:       api.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error), overrides CHRONODLE_LOG_LEVEL")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "log format (text|json), overrides CHRONODLE_LOG_FORMAT")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewIngestCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewPlayCommand(opts))
	cmd.AddCommand(NewSettingsCommand(opts))

	return cmd
}

func (o *RootOptions) load(cmd *cobra.Command) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	if o.LogLevel != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(strings.ToUpper(o.LogLevel))); err != nil {
			return fmt.Errorf("invalid --log-level: %w", err)
		}
	}
	switch o.LogFormat {
	case "":
	case "text", "json":
		cfg.LogFormat = o.LogFormat
	default:
		return fmt.Errorf("invalid --log-format %q: must be text or json", o.LogFormat)
	}
	o.Config = cfg
	o.Logger = cfg.Logger(cmd.ErrOrStderr())
	return nil
}
