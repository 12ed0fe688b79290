package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"not-you-kiosk/internal/config"
	"not-you-kiosk/internal/logging"
)

type rootFlags struct {
	logLevel string
	pretty   bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "kiosk",
		Short:         "Demographic portrait kiosk backed by a Stable Diffusion service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level: debug|info|warn|error (defaults LOG_LEVEL or info)")
	root.PersistentFlags().BoolVar(&flags.pretty, "pretty", false, "Human readable console logs")

	root.AddCommand(newServeCmd(flags), newProbeCmd(flags), newPromptCmd())
	return root
}

func newLogger(cfg config.Config, flags *rootFlags) zerolog.Logger {
	level := cfg.LogLevel
	if flags.logLevel != "" {
		level = flags.logLevel
	}
	if cfg.Debug && flags.logLevel == "" {
		level = "debug"
	}
	return logging.New(logging.Options{Level: level, Pretty: flags.pretty || cfg.Debug})
}
