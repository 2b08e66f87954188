package cmd

import (
	"strings"
	"testing"
)

// A hook that fails must never fail the host's turn: whatever happens on
// stdin, the command exits zero.
func TestHookToleratesMalformedInput(t *testing.T) {
	testDataDir(t)

	rootCmd.SetIn(strings.NewReader("{ not json"))
	defer rootCmd.SetIn(nil)

	if _, err := executeCommand(rootCmd, "hook"); err != nil {
		t.Fatalf("hook returned an error: %v", err)
	}
}
