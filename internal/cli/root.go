// Package cli wires the kernel's command-line entrypoint: a single
// musesim binary with one `run` subcommand, the way the teacher
// collapses its several subsystems under one root command.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raodj/musesim/internal/log"
)

// Version is set via ldflags at build time.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:     "musesim",
	Short:   "musesim - a parallel optimistic discrete-event simulation kernel",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// Execute runs the root command, the sole entrypoint cmd/musesim calls.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
