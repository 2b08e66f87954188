package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ChatOption is one group chat the bot can reach, offered during setup.
type ChatOption struct {
	ID    int64
	Title string
	Type  string // "group", "supergroup", "private"
}

// ChatDiscovery fetches the chats visible to a bot token. Wired to the
// Telegram adapter by the caller so this package stays off the network.
type ChatDiscovery func(token string) ([]ChatOption, error)

// Exists reports whether a config file is present on disk.
func Exists() bool {
	p, err := Path()
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// RunSetup runs the interactive credential wizard and returns the updated
// configuration. The current config seeds the defaults so re-running setup
// edits in place.
func RunSetup(in io.Reader, out io.Writer, current Config, discover ChatDiscovery) (Config, error) {
	r := bufio.NewReader(in)

	ask := func(prompt, defaultVal string) (string, error) {
		if defaultVal != "" {
			fmt.Fprintf(out, "%s [%s]: ", prompt, defaultVal)
		} else {
			fmt.Fprintf(out, "%s: ", prompt)
		}
		line, err := r.ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return defaultVal, nil
		}
		return line, nil
	}

	cfg := current
	if cfg.MaxSlots == 0 {
		cfg = Defaults()
		cfg.BotToken = current.BotToken
		cfg.ChatID = current.ChatID
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "  ┌─────────────────────────────────┐")
	fmt.Fprintln(out, "  │      afk — bridge setup         │")
	fmt.Fprintln(out, "  └─────────────────────────────────┘")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  1. In Telegram, message @BotFather and send /newbot")
	fmt.Fprintln(out, "  2. Copy the token it gives you")
	fmt.Fprintln(out)

	token, err := ask("  Bot token", maskToken(cfg.BotToken))
	if err != nil {
		return cfg, err
	}
	if token == "" {
		return cfg, fmt.Errorf("setup cancelled: no bot token provided")
	}
	// Accepting the masked default keeps the stored token.
	if !strings.HasPrefix(token, "…") {
		cfg.BotToken = token
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Now create a Telegram group with Topics enabled, add the bot")
	fmt.Fprintln(out, "  as an admin, and send any message in the group.")
	fmt.Fprint(out, "  Press Enter when done… ")
	if _, err := r.ReadString('\n'); err != nil && err != io.EOF {
		return cfg, err
	}

	var options []ChatOption
	if discover != nil {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "  Looking for your groups…")
		options, err = discover(cfg.BotToken)
		if err != nil {
			fmt.Fprintf(out, "  Could not list chats: %v\n", err)
		}
	}

	groups := options[:0:0]
	for _, o := range options {
		if o.Type == "group" || o.Type == "supergroup" {
			groups = append(groups, o)
		}
	}

	switch len(groups) {
	case 0:
		fmt.Fprintln(out)
		fmt.Fprintln(out, "  No groups found. You can enter the chat id manually; it is")
		fmt.Fprintln(out, "  the \"chat\":{\"id\":…} value at")
		fmt.Fprintln(out, "  https://api.telegram.org/bot<TOKEN>/getUpdates")
		idStr, err := ask("  Chat id", formatChatID(cfg.ChatID))
		if err != nil {
			return cfg, err
		}
		id, err := strconv.ParseInt(strings.TrimSpace(idStr), 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("invalid chat id %q: %w", idStr, err)
		}
		cfg.ChatID = id
	case 1:
		cfg.ChatID = groups[0].ID
		fmt.Fprintf(out, "  Using your group: %s (%d)\n", groups[0].Title, groups[0].ID)
	default:
		fmt.Fprintln(out)
		for i, g := range groups {
			fmt.Fprintf(out, "  %d. %s (%d)\n", i+1, g.Title, g.ID)
		}
		for {
			choice, err := ask("  Select group (number)", "1")
			if err != nil {
				return cfg, err
			}
			idx, err := strconv.Atoi(strings.TrimSpace(choice))
			if err == nil && idx >= 1 && idx <= len(groups) {
				cfg.ChatID = groups[idx-1].ID
				break
			}
			fmt.Fprintln(out, "  Invalid selection, try again.")
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Bot token: …%s\n", tail(cfg.BotToken, 8))
	fmt.Fprintf(out, "  Chat id:   %d\n", cfg.ChatID)
	fmt.Fprintln(out)

	return cfg, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func maskToken(token string) string {
	if token == "" {
		return ""
	}
	return "…" + tail(token, 8)
}

func formatChatID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}
