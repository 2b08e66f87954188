package cmd

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/afk/internal/bridge"
	"github.com/fakeyudi/afk/internal/state"
	"github.com/fakeyudi/afk/internal/tui"
)

var statusWatch bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show bridge configuration, daemon health, and active slots",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := state.NewStore(dataDir)
		if err != nil {
			return err
		}

		if statusWatch {
			if !term.IsTerminal(os.Stdout.Fd()) {
				return errors.New("--watch needs a terminal")
			}
			return tui.Run(snapshotLoader(store))
		}

		tbl, err := store.Load()
		if err != nil {
			return err
		}
		now := time.Now()

		cmd.Println("Telegram Bridge Status")
		if cfg.Configured() {
			cmd.Println("  Bot configured: yes")
		} else {
			cmd.Println("  Bot configured: no — run afk setup")
		}
		if tbl.DaemonAlive(now) {
			cmd.Printf("  Daemon: running (PID %d)\n", tbl.DaemonPID)
		} else {
			cmd.Println("  Daemon: stopped")
		}
		cmd.Println()

		if tbl.Empty() {
			cmd.Println("  No active AFK sessions.")
			return nil
		}
		for _, n := range tbl.Ordinals() {
			s := tbl.Slots[n]
			cmd.Printf("  S%d: %s (session: ...%s, since: %s)\n",
				n, s.Project, keyTail(s.SessionKey), s.StartedAt.Format(time.RFC3339))
		}
		return nil
	},
}

// snapshotLoader adapts the on-disk state into dashboard snapshots.
func snapshotLoader(store *state.Store) tui.Loader {
	logPath := filepath.Join(dataDir, bridge.DaemonLogName)
	return func() (tui.Snapshot, error) {
		tbl, err := store.Load()
		if err != nil {
			return tui.Snapshot{}, err
		}
		now := time.Now()
		snap := tui.Snapshot{
			Configured: cfg.Configured(),
			DaemonUp:   tbl.DaemonAlive(now),
			DaemonPID:  tbl.DaemonPID,
			LogLines:   tailLines(logPath, 200),
			TakenAt:    now,
		}
		for _, n := range tbl.Ordinals() {
			s := tbl.Slots[n]
			snap.Slots = append(snap.Slots, tui.SlotRow{
				Ordinal:    n,
				Project:    s.Project,
				TopicName:  s.TopicName,
				SessionKey: s.SessionKey,
				ThreadID:   s.ThreadID,
				StartedAt:  s.StartedAt,
			})
		}
		return snap, nil
	}
}

// tailLines returns up to n trailing lines of the file, best effort. The
// daemon log stays small enough to read whole.
func tailLines(path string, n int) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

func init() {
	statusCmd.Flags().BoolVar(&statusWatch, "watch", false, "live dashboard (refreshes every second)")
	rootCmd.AddCommand(statusCmd)
}
