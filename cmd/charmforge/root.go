package main

import (
	"github.com/spf13/cobra"
	"github.com/thediveo/enumflag/v2"

	"github.com/charmtools/charmforge/internal/logging"
)

var logLevel = logging.LevelInfo

var logLevelIDs = map[logging.Level][]string{
	logging.LevelError: {"error"},
	logging.LevelWarn:  {"warn", "warning"},
	logging.LevelInfo:  {"info"},
	logging.LevelDebug: {"debug"},
}

var rootCmd = &cobra.Command{
	Use:           "charmforge",
	Short:         "Build charm archives from source trees",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().Var(
		enumflag.New(&logLevel, "level", logLevelIDs, enumflag.EnumCaseInsensitive),
		"log-level",
		"log level (error, warn, info, debug)")
	rootCmd.AddCommand(buildCmd, schemaCmd)
}

func newLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{Level: logLevel})
}
