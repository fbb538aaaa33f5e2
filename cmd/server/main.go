// DevopsMate server: an intent-routed DevOps assistant.
//
// The binary serves the HTTP API by default and carries two helpers:
//   - ingest: load local files into a knowledge base
//   - modes:  print the operating modes and what each may do
package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "devopsmate",
	Short:         "Intent-routed DevOps assistant",
	Long:          `DevopsMate answers, plans, debugs and (with approval) executes infrastructure requests.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, ingestCmd, modesCmd)
}

// setupLogging configures the global zerolog logger. The level comes from
// DEVOPSMATE_LOG_LEVEL so it applies before the config file is read.
func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	applyLogLevel(os.Getenv("DEVOPSMATE_LOG_LEVEL"))
}

// applyLogLevel sets the global level; unknown or empty names mean info.
func applyLogLevel(name string) zerolog.Level {
	level, err := zerolog.ParseLevel(name)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	return level
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("devopsmate failed")
		os.Exit(1)
	}
}
