package hook

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// DescribeToolCall renders a short human-readable summary of a tool call for
// the approval message. It knows the common tools and falls back to listing
// the first fields of anything else.
func DescribeToolCall(toolName string, toolInput json.RawMessage) string {
	fields := decodeToolInput(toolInput)

	switch toolName {
	case "Bash":
		cmd, _ := fields["command"].(string)
		if desc, _ := fields["description"].(string); desc != "" {
			return fmt.Sprintf("Bash: %s\n`%s`", desc, truncate(cmd, 200))
		}
		return fmt.Sprintf("Bash: `%s`", truncate(cmd, 300))
	case "Write":
		return "Write: " + stringField(fields, "file_path")
	case "Edit":
		old, _ := fields["old_string"].(string)
		return fmt.Sprintf("Edit: %s\n`%s...`", stringField(fields, "file_path"), truncate(old, 80))
	case "NotebookEdit":
		return "NotebookEdit: " + stringField(fields, "notebook_path")
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 2 {
		keys = keys[:2]
	}
	parts := []string{toolName + ":"}
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("  %s: %s", k, truncate(fmt.Sprint(fields[k]), 100)))
	}
	return strings.Join(parts, "\n")
}

func stringField(fields map[string]any, key string) string {
	if s, ok := fields[key].(string); ok && s != "" {
		return s
	}
	return "?"
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
