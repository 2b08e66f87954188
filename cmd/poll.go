package cmd

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/afk/internal/mailbox"
	"github.com/fakeyudi/afk/internal/state"
)

var pollCmd = &cobra.Command{
	Use:   "poll [session-id]",
	Short: "Print and consume an instruction queued from Telegram",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := mailbox.NewRoot(filepath.Join(dataDir, "ipc"))
		if err != nil {
			return err
		}

		var mb *mailbox.Mailbox
		if len(args) == 1 {
			resolved, ok, err := root.Resolve(args[0])
			if err != nil {
				return err
			}
			if ok {
				mb = resolved
			}
		} else {
			store, err := state.NewStore(dataDir)
			if err != nil {
				return err
			}
			tbl, err := store.Load()
			if err != nil {
				return err
			}
			if ordinals := tbl.Ordinals(); len(ordinals) > 0 {
				mb = root.Mailbox(tbl.Slots[ordinals[0]].SessionKey)
			}
		}

		if mb == nil || !mb.Exists() {
			cmd.Println("✓ No pending instructions from Telegram")
			return nil
		}
		instruction, ok := mb.TakeQueuedInstruction()
		if !ok {
			cmd.Println("✓ No pending instructions from Telegram")
			return nil
		}

		// Fenced so the agent transcript shows the instruction verbatim.
		cmd.Printf("\n📱 **Telegram Instruction:**\n```\n%s\n```\n", instruction)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pollCmd)
}
