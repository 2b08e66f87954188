package cmd

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/afk/internal/mailbox"
	"github.com/fakeyudi/afk/internal/state"
)

var respondCmd = &cobra.Command{
	Use:   "respond <text>...",
	Short: "Relay a message from this terminal to the session's Telegram topic",
	Args:  cobra.MinimumNArgs(1),
	// The ✗ line below is the whole error story; skip cobra's own print.
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := state.NewStore(dataDir)
		if err != nil {
			return err
		}
		root, err := mailbox.NewRoot(filepath.Join(dataDir, "ipc"))
		if err != nil {
			return err
		}

		tbl, err := store.Load()
		if err != nil {
			return err
		}
		ordinals := tbl.Ordinals()
		if len(ordinals) == 0 {
			cmd.PrintErrln("✗ No active AFK session")
			return errors.New("no active AFK session")
		}
		slot := tbl.Slots[ordinals[0]]

		ev := mailbox.NewEvent(mailbox.KindNotification, slot.SessionKey)
		ev.NotificationType = "relay"
		ev.Title = "Terminal reply"
		ev.Message = strings.Join(args, " ")
		if err := root.Mailbox(slot.SessionKey).Append(ev); err != nil {
			cmd.PrintErrln("✗ No active AFK session")
			return err
		}

		cmd.Println("✓ Response sent to Telegram")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(respondCmd)
}
