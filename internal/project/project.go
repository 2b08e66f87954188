// Package project derives the human-readable project label a session is
// announced under when activation does not name one explicitly.
package project

import (
	"os/exec"
	"path/filepath"
	"strings"
)

// GitRunner executes a git command and returns its output.
// This abstraction allows mocking in tests.
type GitRunner func(workDir string, args ...string) (string, error)

// defaultGitRunner runs git as a real subprocess.
func defaultGitRunner(workDir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = workDir
	out, err := cmd.Output()
	return string(out), err
}

// Detect names the project for workDir: the repository's top-level directory
// name when workDir is inside a git checkout, otherwise workDir's own base
// name. An empty workDir yields "unknown". Detection never fails; on any git
// error it falls back to the directory name.
func Detect(workDir string, runner GitRunner) string {
	if workDir == "" {
		return "unknown"
	}
	if runner == nil {
		runner = defaultGitRunner
	}

	if top, err := runner(workDir, "rev-parse", "--show-toplevel"); err == nil {
		if name := baseName(strings.TrimSpace(top)); name != "" {
			return name
		}
	}
	if name := baseName(workDir); name != "" {
		return name
	}
	return "unknown"
}

func baseName(path string) string {
	name := filepath.Base(filepath.Clean(path))
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	return name
}
