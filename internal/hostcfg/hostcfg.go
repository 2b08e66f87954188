// Package hostcfg registers this binary's hook mode in the host agent's
// settings file. The edit is additive and idempotent: entries the installer
// owns are recognized by their command and replaced on every run, everything
// else in the file is preserved.
package hostcfg

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// binaryName is how a managed hook command is recognized when its recorded
// path no longer matches the running executable (the binary moved).
const binaryName = "afk"

// Entry describes one hook event to register and how long the host should
// let the hook run. Permission hooks block up to the decision timeout; stop
// hooks hold the session open indefinitely and need the largest allowance
// the host accepts.
type Entry struct {
	Event   string
	Timeout int // seconds; 0 omits the field, leaving the host default
}

// SettingsPath resolves the host settings file: the override when set,
// otherwise the host's default location under the home directory.
func SettingsPath(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".claude", "settings.json"), nil
}

// Install wires command (the full "<binary> hook" invocation) into the
// settings file at path for each entry's event, creating the file if needed.
// It reports whether the file actually changed. A settings file that exists
// but does not parse is never overwritten.
func Install(path, command string, entries []Entry) (bool, error) {
	root := map[string]any{}
	orig := map[string]any{}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// First install starts a fresh settings document.
	case err != nil:
		return false, fmt.Errorf("reading host settings: %w", err)
	default:
		if len(bytes.TrimSpace(data)) > 0 {
			if err := json.Unmarshal(data, &root); err != nil {
				return false, fmt.Errorf("host settings %s is not valid JSON: %w", path, err)
			}
			if err := json.Unmarshal(data, &orig); err != nil {
				return false, fmt.Errorf("host settings %s is not valid JSON: %w", path, err)
			}
		}
	}

	hooks, ok := root["hooks"].(map[string]any)
	if !ok {
		if _, exists := root["hooks"]; exists {
			return false, fmt.Errorf("host settings %s: \"hooks\" is not an object", path)
		}
		hooks = map[string]any{}
	}

	for _, e := range entries {
		existing, _ := hooks[e.Event].([]any)
		hooks[e.Event] = append(stripManaged(existing, command), managedEntry(command, e.Timeout))
	}
	root["hooks"] = hooks

	after, err := json.Marshal(root)
	if err != nil {
		return false, fmt.Errorf("encoding host settings: %w", err)
	}
	before, err := json.Marshal(orig)
	if err != nil {
		return false, fmt.Errorf("encoding host settings: %w", err)
	}
	if bytes.Equal(before, after) {
		return false, nil
	}

	if err := writeSettings(path, root); err != nil {
		return false, err
	}
	return true, nil
}

// managedEntry is the matcher group this installer owns for one event.
func managedEntry(command string, timeout int) map[string]any {
	hook := map[string]any{
		"type":    "command",
		"command": command,
	}
	if timeout > 0 {
		hook["timeout"] = timeout
	}
	return map[string]any{
		"matcher": "*",
		"hooks":   []any{hook},
	}
}

// stripManaged removes this installer's commands from an event's matcher
// groups. Groups that end up empty are dropped; foreign commands and
// unrecognized shapes pass through untouched.
func stripManaged(groups []any, installCmd string) []any {
	var kept []any
	for _, raw := range groups {
		group, ok := raw.(map[string]any)
		if !ok {
			kept = append(kept, raw)
			continue
		}
		cmds, ok := group["hooks"].([]any)
		if !ok {
			kept = append(kept, raw)
			continue
		}
		var keepCmds []any
		for _, rawCmd := range cmds {
			cmdMap, ok := rawCmd.(map[string]any)
			if !ok {
				keepCmds = append(keepCmds, rawCmd)
				continue
			}
			if s, _ := cmdMap["command"].(string); managed(s, installCmd) {
				continue
			}
			keepCmds = append(keepCmds, rawCmd)
		}
		if len(keepCmds) == 0 {
			continue
		}
		group["hooks"] = keepCmds
		kept = append(kept, group)
	}
	return kept
}

// managed reports whether a recorded hook command is one of ours: the exact
// command being installed, or any "<path>/afk hook" left by an earlier
// install from a different location.
func managed(cmd, installCmd string) bool {
	if cmd == installCmd {
		return true
	}
	fields := strings.Fields(cmd)
	if len(fields) < 2 || fields[len(fields)-1] != "hook" {
		return false
	}
	return filepath.Base(fields[0]) == binaryName
}

// writeSettings persists the document atomically so a crash mid-write never
// truncates the host's settings.
func writeSettings(path string, root map[string]any) error {
	data, err := json.MarshalIndent(root, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding host settings: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.json.tmp")
	if err != nil {
		return fmt.Errorf("writing host settings: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing host settings: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("writing host settings: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("writing host settings: %w", err)
	}
	return nil
}
