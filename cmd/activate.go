package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fakeyudi/afk/internal/bridge"
	"github.com/fakeyudi/afk/internal/mailbox"
	"github.com/fakeyudi/afk/internal/project"
	"github.com/fakeyudi/afk/internal/state"
)

var activateCmd = &cobra.Command{
	Use:   "activate <session-id> [project] [topic]",
	Short: "Claim a slot and route this session to Telegram",
	Args:  cobra.RangeArgs(1, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.Configured() {
			cmd.Println("Telegram bot not configured yet.")
			cmd.Println("1. Message @BotFather on Telegram and create a bot with /newbot")
			cmd.Println("2. Add the bot to a group chat with topics enabled, as admin")
			cmd.Println("3. Run: afk setup")
			return errors.New("telegram bot not configured")
		}

		sessionKey := args[0]
		proj, topic := "", ""
		if len(args) > 1 {
			proj = args[1]
		}
		if len(args) > 2 {
			topic = args[2]
		}
		if proj == "" {
			wd, _ := os.Getwd()
			proj = project.Detect(wd, nil)
		}

		store, err := state.NewStore(dataDir)
		if err != nil {
			return err
		}
		root, err := mailbox.NewRoot(filepath.Join(dataDir, "ipc"))
		if err != nil {
			return err
		}

		now := time.Now()
		var (
			ordinal  int
			daemonUp bool
			occupied []string
		)
		err = store.Mutate(func(t *state.Table) error {
			// Self-heal before claiming: drop slots whose sessions are
			// dead, then remove mailbox directories nothing owns anymore.
			for _, p := range t.Prune(now, root.Intact) {
				logger.Info("pruned dead slot",
					zap.Int("slot", p.Ordinal),
					zap.String("session", p.SessionKey),
					zap.String("reason", p.Reason))
				if rmErr := root.Mailbox(p.SessionKey).Remove(); rmErr != nil {
					logger.Warn("removing pruned mailbox", zap.Error(rmErr))
				}
			}
			if _, swErr := root.Sweep(t.SessionKeys()); swErr != nil {
				logger.Warn("sweeping orphan mailboxes", zap.Error(swErr))
			}

			n, err := t.Claim(cfg.MaxSlots, state.Slot{
				SessionKey: sessionKey,
				Project:    proj,
				TopicName:  topic,
				StartedAt:  now,
			})
			if err != nil {
				if errors.Is(err, state.ErrCapacityExceeded) {
					for _, o := range t.Ordinals() {
						s := t.Slots[o]
						occupied = append(occupied, fmt.Sprintf("  S%d: %s (...%s)", o, s.Project, keyTail(s.SessionKey)))
					}
				}
				return err
			}
			ordinal = n
			daemonUp = t.DaemonAlive(now)

			topicName := topic
			if topicName == "" {
				// Defaulted names carry the ordinal so two bare activations
				// of the same project never collide on intent.
				topicName = fmt.Sprintf("S%d — %s", n, proj)
				s := t.Slots[n]
				s.TopicName = topicName
				t.Slots[n] = s
			}

			mb, err := root.Create(mailbox.Meta{
				SessionKey: sessionKey,
				Slot:       n,
				Project:    proj,
				TopicName:  topicName,
				Started:    now,
			})
			if err != nil {
				return fmt.Errorf("creating mailbox: %w", err)
			}
			ev := mailbox.NewEvent(mailbox.KindActivation, sessionKey)
			ev.Slot = n
			ev.Project = proj
			ev.TopicName = topicName
			if err := mb.Append(ev); err != nil {
				_ = mb.Remove()
				return fmt.Errorf("announcing activation: %w", err)
			}
			return nil
		})
		if err != nil {
			if errors.Is(err, state.ErrCapacityExceeded) {
				cmd.Printf("All %d slots are occupied:\n", cfg.MaxSlots)
				for _, line := range occupied {
					cmd.Println(line)
				}
				cmd.Println("Run /back in one of those sessions first.")
			}
			return err
		}

		if !daemonUp {
			if err := startDaemon(store); err != nil {
				logger.Warn("starting daemon", zap.Error(err))
				cmd.Println("Warning: the bridge daemon did not start; run 'afk daemon' manually.")
			}
		}

		cmd.Printf("AFK mode activated — slot S%d\n", ordinal)
		cmd.Println("Telegram bridge is watching this session.")
		return nil
	},
}

// startDaemon spawns the detached bridge daemon and records its pid so the
// next activation does not spawn a second one. The daemon's own lock file
// makes an accidental double start harmless.
func startDaemon(store *state.Store) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving executable: %w", err)
	}
	pid, err := bridge.SpawnDetached(exe, dataDir)
	if err != nil {
		return err
	}
	return store.Mutate(func(t *state.Table) error {
		t.DaemonPID = pid
		t.DaemonHeartbeat = time.Now()
		return nil
	})
}

// keyTail returns the trailing eight characters of a session key, the form
// shown to operators everywhere a full key would be noise.
func keyTail(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[len(key)-8:]
}

func init() {
	rootCmd.AddCommand(activateCmd)
}
