package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fakeyudi/afk/internal/config"
)

// cfg holds the effective configuration, populated in PersistentPreRunE.
var cfg config.Config

// dataDir is the runtime data directory (slot table, mailboxes, logs).
var dataDir string

// verbose lowers the log level to debug on every command.
var verbose bool

// logger is the process-wide structured logger. Hook and daemon invocations
// log to files; interactive commands log errors to stderr.
var logger *zap.Logger

var rootCmd = &cobra.Command{
	Use:   "afk",
	Short: "Relay coding agent sessions to Telegram while you are away",
	// Runtime errors (slot capacity, dead daemon) are not usage errors, and
	// activate/deactivate output lands in the host agent's transcript.
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		dataDir, err = config.DataDir()
		if err == nil {
			err = os.MkdirAll(dataDir, 0o755)
		}
		if err != nil && cmd.Name() != "hook" {
			return fmt.Errorf("preparing data directory: %w", err)
		}

		cfg, err = config.Load()
		if err != nil {
			// A hook invocation must never fail the host agent over a
			// broken config file; run on defaults instead.
			if cmd.Name() != "hook" {
				return err
			}
			cfg = config.Defaults()
		}

		logger, err = buildLogger(cmd.Name())
		if err != nil {
			if cmd.Name() != "hook" {
				return fmt.Errorf("building logger: %w", err)
			}
			logger = zap.NewNop()
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// buildLogger picks sinks and level per command. Hooks own the process
// stdout/stderr contract with the host agent, so their logs go only to
// hook.log; the daemon logs to stderr, which the spawner redirects to
// daemon.log; everything else stays quiet unless --verbose.
func buildLogger(command string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	switch command {
	case "hook":
		zcfg.OutputPaths = []string{filepath.Join(dataDir, "hook.log")}
		zcfg.ErrorOutputPaths = zcfg.OutputPaths
	case "daemon":
		zcfg.OutputPaths = []string{"stderr"}
	default:
		zcfg.OutputPaths = []string{"stderr"}
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	}
	if verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return zcfg.Build()
}

// Execute runs the root command. Exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}
