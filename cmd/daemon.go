package cmd

import (
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fakeyudi/afk/internal/bridge"
	"github.com/fakeyudi/afk/internal/lockfile"
	"github.com/fakeyudi/afk/internal/mailbox"
	"github.com/fakeyudi/afk/internal/state"
	"github.com/fakeyudi/afk/internal/telegram"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the bridge daemon in the foreground",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// One daemon per data directory. Losing the race is the normal
		// outcome when two activations fire together; leave quietly.
		lock, err := lockfile.TryAcquire(filepath.Join(dataDir, "daemon.lock"))
		if err != nil {
			if errors.Is(err, lockfile.ErrAlreadyLocked) {
				logger.Info("daemon already running, exiting")
				return nil
			}
			return err
		}
		defer lock.Release()

		if !cfg.Configured() {
			return errors.New("telegram bot not configured; run afk setup")
		}

		store, err := state.NewStore(dataDir)
		if err != nil {
			return err
		}
		root, err := mailbox.NewRoot(filepath.Join(dataDir, "ipc"))
		if err != nil {
			return err
		}
		journal, err := bridge.OpenJournal(filepath.Join(dataDir, "daemon.db"))
		if err != nil {
			return err
		}
		defer func() {
			if err := journal.Close(); err != nil {
				logger.Warn("closing journal", zap.Error(err))
			}
		}()

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		gw := telegram.New(cfg.BotToken, cfg.ChatID)
		return bridge.New(cfg, store, root, journal, gw, logger).Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
