package cmd

import (
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fakeyudi/afk/internal/hook"
	"github.com/fakeyudi/afk/internal/mailbox"
)

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Process one host agent callback from stdin",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := mailbox.NewRoot(filepath.Join(dataDir, "ipc"))
		if err != nil {
			logger.Error("opening mailbox root", zap.Error(err))
			return nil
		}
		h := &hook.Handler{
			Config: cfg,
			Root:   root,
			Log:    logger,
			Out:    cmd.OutOrStdout(),
			Notice: cmd.ErrOrStderr(),
		}
		// A hook that exits non-zero would derail the host's turn; errors
		// stay in the log and the host keeps its own defaults.
		if err := h.Run(cmd.Context(), cmd.InOrStdin()); err != nil {
			logger.Error("hook failed", zap.Error(err))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hookCmd)
}
