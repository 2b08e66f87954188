package cmd

import (
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fakeyudi/afk/internal/mailbox"
	"github.com/fakeyudi/afk/internal/state"
	"github.com/fakeyudi/afk/internal/telegram"
)

// deactivationWait bounds how long we give the daemon to confirm it tore
// the session's topic down before deleting it ourselves.
const deactivationWait = 5 * time.Second

var deactivateCmd = &cobra.Command{
	Use:   "deactivate <session-id>",
	Short: "Release this session's slot and stop relaying it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := state.NewStore(dataDir)
		if err != nil {
			return err
		}
		root, err := mailbox.NewRoot(filepath.Join(dataDir, "ipc"))
		if err != nil {
			return err
		}

		// The caller may pass a rebound session id rather than the mailbox
		// key the slot was claimed under.
		key := args[0]
		mb, resolved, err := root.Resolve(args[0])
		if err != nil {
			return err
		}
		if resolved {
			key = mb.Key()
		}

		tbl, err := store.Load()
		if err != nil {
			return err
		}
		n, slot, found := tbl.FindBySession(key)
		if !found {
			cmd.Println("No active AFK sessions found.")
			return nil
		}

		// Ask the daemon to tear the topic down and confirm; if nothing
		// confirms in time, delete the topic directly.
		processed := false
		if resolved && mb.Exists() {
			ev := mailbox.NewEvent(mailbox.KindDeactivation, args[0])
			ev.Slot = n
			if err := mb.Append(ev); err != nil {
				logger.Warn("announcing deactivation", zap.Error(err))
			} else {
				processed = mb.AwaitDeactivationProcessed(cmd.Context(), deactivationWait)
			}
		}
		if !processed && cfg.Configured() && slot.ThreadID != 0 {
			tg := telegram.New(cfg.BotToken, cfg.ChatID)
			if err := tg.DeleteTopic(cmd.Context(), slot.ThreadID); err != nil {
				logger.Warn("deleting topic directly", zap.Int64("thread", slot.ThreadID), zap.Error(err))
			}
		}

		var last bool
		err = store.Mutate(func(t *state.Table) error {
			t.Release(key)
			last = t.Empty()
			return nil
		})
		if err != nil {
			return err
		}

		if rmErr := root.Mailbox(key).Remove(); rmErr != nil {
			logger.Warn("removing mailbox", zap.String("session", key), zap.Error(rmErr))
		}
		if last {
			// Nothing is active anymore; clear out whatever mailboxes a
			// crashed session may have left behind. The daemon notices the
			// empty table and exits on its own.
			if _, swErr := root.Sweep(map[string]int{}); swErr != nil {
				logger.Warn("sweeping mailboxes", zap.Error(swErr))
			}
		}

		cmd.Printf("AFK mode deactivated — slot S%d released.\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deactivateCmd)
}
