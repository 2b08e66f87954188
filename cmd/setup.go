package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fakeyudi/afk/internal/config"
	"github.com/fakeyudi/afk/internal/hostcfg"
	"github.com/fakeyudi/afk/internal/telegram"
)

var setupHooksOnly bool

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Configure the Telegram bot and install the agent hooks",
	// Bypass the normal PersistentPreRunE so setup can repair a config
	// that no longer loads.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		dataDir, err = config.DataDir()
		if err != nil {
			return err
		}
		cfg, err = config.Load()
		if err != nil {
			cmd.Printf("  ⚠ Existing config is unreadable: %v\n", err)
			cmd.Println("    Starting from defaults.")
			cfg = config.Defaults()
		}
		logger = zap.NewNop()
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if !setupHooksOnly {
			discover := func(token string) ([]config.ChatOption, error) {
				chats, err := telegram.New(token, 0).DiscoverChats(cmd.Context())
				if err != nil {
					return nil, err
				}
				opts := make([]config.ChatOption, 0, len(chats))
				for _, c := range chats {
					opts = append(opts, config.ChatOption{ID: c.ID, Title: c.Title, Type: c.Type})
				}
				return opts, nil
			}

			next, err := config.RunSetup(cmd.InOrStdin(), cmd.OutOrStdout(), cfg, discover)
			if err != nil {
				return fmt.Errorf("setup cancelled: %w", err)
			}
			if err := config.Save(next); err != nil {
				return fmt.Errorf("saving config: %w", err)
			}
			cfg = next
			cmd.Println("  ✓ Configuration saved.")
		}

		if err := installHooks(cmd); err != nil {
			cmd.Printf("  ⚠ Hook install failed: %v\n", err)
			cmd.Println("    You can retry with: afk setup --hooks-only")
			return nil
		}

		cmd.Println("  Setup complete. Run /afk inside a session to go AFK.")
		return nil
	},
}

// installHooks registers this binary's hook mode for the three events the
// bridge consumes.
func installHooks(cmd *cobra.Command) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving executable: %w", err)
	}
	path, err := hostcfg.SettingsPath(cfg.HooksSettingsPath)
	if err != nil {
		return err
	}
	entries := []hostcfg.Entry{
		// The permission hook blocks for the full decision window; give the
		// host some slack past it. Stop hooks hold the turn open as long as
		// the operator keeps the session alive from Telegram.
		{Event: "PermissionRequest", Timeout: cfg.PermissionTimeout + 30},
		{Event: "Stop", Timeout: 86400},
		{Event: "Notification", Timeout: 30},
	}
	changed, err := hostcfg.Install(path, exe+" hook", entries)
	if err != nil {
		return err
	}
	if changed {
		cmd.Printf("  ✓ Hooks installed into %s\n", path)
	} else {
		cmd.Printf("  Hooks already installed in %s\n", path)
	}
	return nil
}

func init() {
	setupCmd.Flags().BoolVar(&setupHooksOnly, "hooks-only", false, "skip the wizard and only install the agent hooks")
	rootCmd.AddCommand(setupCmd)
}
