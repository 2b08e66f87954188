package hook

import (
	"encoding/json"
	"path/filepath"
	"slices"

	"github.com/fakeyudi/afk/internal/config"
)

// Tool-input fields that can name the operation's target path, in the order
// the host populates them.
var pathKeys = [...]string{"file_path", "path", "notebook_path"}

// autoApproved decides whether a tool call skips remote approval. The tool
// name must be allow-listed; if path globs are configured on top of that,
// the call's target path must match one of them. A listed tool without any
// path in its input (a search, say) passes on the name alone.
func autoApproved(cfg config.Config, toolName string, toolInput json.RawMessage) bool {
	if !slices.Contains(cfg.AutoApproveTools, toolName) {
		return false
	}
	if len(cfg.AutoApprovePaths) == 0 {
		return true
	}
	target := targetPath(toolInput)
	if target == "" {
		return true
	}
	for _, pattern := range cfg.AutoApprovePaths {
		if ok, _ := filepath.Match(pattern, target); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, filepath.Base(target)); ok {
			return true
		}
	}
	return false
}

func targetPath(toolInput json.RawMessage) string {
	fields := decodeToolInput(toolInput)
	for _, key := range pathKeys {
		if s, ok := fields[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func decodeToolInput(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}
	return fields
}
