package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestDefaultsValues(t *testing.T) {
	d := Defaults()
	if d.MaxSlots != 4 {
		t.Errorf("MaxSlots: want 4, got %d", d.MaxSlots)
	}
	if d.PermissionTimeout != 300 {
		t.Errorf("PermissionTimeout: want 300, got %d", d.PermissionTimeout)
	}
	if d.KeepAlivePollSeconds != 60 {
		t.Errorf("KeepAlivePollSeconds: want 60, got %d", d.KeepAlivePollSeconds)
	}
	if d.PermissionBatchWindowSeconds != 2 {
		t.Errorf("PermissionBatchWindowSeconds: want 2, got %d", d.PermissionBatchWindowSeconds)
	}
	if d.SessionTrustThreshold != 3 {
		t.Errorf("SessionTrustThreshold: want 3, got %d", d.SessionTrustThreshold)
	}
	if d.ContextWarningThreshold != 150 {
		t.Errorf("ContextWarningThreshold: want 150, got %d", d.ContextWarningThreshold)
	}
	if d.IdlePingHours != 12 {
		t.Errorf("IdlePingHours: want 12, got %d", d.IdlePingHours)
	}
	if d.StaleWarningSeconds != 90 {
		t.Errorf("StaleWarningSeconds: want 90, got %d", d.StaleWarningSeconds)
	}
	if err := d.Validate(); err != nil {
		t.Errorf("Defaults().Validate() = %v, want nil", err)
	}
	if d.Configured() {
		t.Error("Defaults().Configured() = true, want false")
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := loadFrom(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d := Defaults()
	if cfg.MaxSlots != d.MaxSlots || cfg.PermissionTimeout != d.PermissionTimeout {
		t.Errorf("missing file should yield defaults, got %+v", cfg)
	}
}

func TestLoadReadsFileValues(t *testing.T) {
	dir := t.TempDir()
	body := `{
  "bot_token": "123:abc",
  "chat_id": -100123,
  "max_slots": 2,
  "auto_approve_tools": ["Read", "Glob"],
  "auto_approve_paths": ["/tmp/*"]
}`
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadFrom(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.BotToken != "123:abc" {
		t.Errorf("BotToken: want %q, got %q", "123:abc", cfg.BotToken)
	}
	if cfg.ChatID != -100123 {
		t.Errorf("ChatID: want -100123, got %d", cfg.ChatID)
	}
	if cfg.MaxSlots != 2 {
		t.Errorf("MaxSlots: want 2, got %d", cfg.MaxSlots)
	}
	if len(cfg.AutoApproveTools) != 2 || cfg.AutoApproveTools[0] != "Read" {
		t.Errorf("AutoApproveTools: want [Read Glob], got %v", cfg.AutoApproveTools)
	}
	// Unset keys keep defaults.
	if cfg.PermissionTimeout != 300 {
		t.Errorf("PermissionTimeout: want default 300, got %d", cfg.PermissionTimeout)
	}
	if !cfg.Configured() {
		t.Error("Configured() = false with token and chat id set")
	}
}

func TestLoadParseError(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte("{invalid json"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := loadFrom(dir)
	if err == nil {
		t.Fatal("expected an error for invalid JSON, got nil")
	}
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Errorf("expected *ParseError, got %T: %v", err, err)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"max_slots": 0}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := loadFrom(dir); err == nil {
		t.Fatal("expected a validation error for max_slots=0, got nil")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()

	want := Defaults()
	want.BotToken = "999:zzz"
	want.ChatID = 42
	want.AutoApproveTools = []string{"Read"}

	if err := saveTo(dir, want); err != nil {
		t.Fatalf("saveTo failed: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("config.json mode = %o, want 600", perm)
	}

	got, err := loadFrom(dir)
	if err != nil {
		t.Fatalf("loadFrom failed: %v", err)
	}
	if got.BotToken != want.BotToken || got.ChatID != want.ChatID {
		t.Errorf("round trip mismatch: want %+v, got %+v", want, got)
	}
}

// Save then Load preserves every persisted numeric option.
func TestSaveLoadRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		dir := t.TempDir()

		cfg := Defaults()
		cfg.BotToken = rapid.StringMatching(`[0-9]{6}:[A-Za-z0-9_-]{10}`).Draw(rt, "token")
		cfg.ChatID = rapid.Int64Range(-1_000_000_000, 1_000_000_000).Draw(rt, "chat")
		cfg.PermissionTimeout = rapid.IntRange(1, 3600).Draw(rt, "ptimeout")
		cfg.KeepAlivePollSeconds = rapid.IntRange(1, 600).Draw(rt, "kpoll")
		cfg.MaxSlots = rapid.IntRange(1, 16).Draw(rt, "slots")
		cfg.SessionTrustThreshold = rapid.IntRange(1, 50).Draw(rt, "trust")
		cfg.ContextWarningThreshold = rapid.IntRange(1, 10_000).Draw(rt, "warn")

		if err := saveTo(dir, cfg); err != nil {
			rt.Fatalf("saveTo failed: %v", err)
		}
		got, err := loadFrom(dir)
		if err != nil {
			rt.Fatalf("loadFrom failed: %v", err)
		}
		if got.BotToken != cfg.BotToken ||
			got.ChatID != cfg.ChatID ||
			got.PermissionTimeout != cfg.PermissionTimeout ||
			got.KeepAlivePollSeconds != cfg.KeepAlivePollSeconds ||
			got.MaxSlots != cfg.MaxSlots ||
			got.SessionTrustThreshold != cfg.SessionTrustThreshold ||
			got.ContextWarningThreshold != cfg.ContextWarningThreshold {
			rt.Fatalf("round trip mismatch:\nwant %+v\ngot  %+v", cfg, got)
		}
	})
}

func TestRunSetupFirstTime(t *testing.T) {
	in := strings.NewReader("111111:token-aaaa\n\n\n")
	var out strings.Builder

	discover := func(token string) ([]ChatOption, error) {
		if token != "111111:token-aaaa" {
			t.Errorf("discover called with token %q", token)
		}
		return []ChatOption{{ID: -100555, Title: "ops", Type: "supergroup"}}, nil
	}

	cfg, err := RunSetup(in, &out, Config{}, discover)
	if err != nil {
		t.Fatalf("RunSetup failed: %v", err)
	}
	if cfg.BotToken != "111111:token-aaaa" {
		t.Errorf("BotToken: got %q", cfg.BotToken)
	}
	if cfg.ChatID != -100555 {
		t.Errorf("ChatID: want -100555, got %d", cfg.ChatID)
	}
	if cfg.MaxSlots != Defaults().MaxSlots {
		t.Errorf("setup should seed defaults, MaxSlots=%d", cfg.MaxSlots)
	}
}

func TestRunSetupKeepsExistingToken(t *testing.T) {
	// Pressing Enter at the token prompt keeps the stored value.
	in := strings.NewReader("\n\n-100777\n")
	var out strings.Builder

	current := Defaults()
	current.BotToken = "222222:existing-token"

	cfg, err := RunSetup(in, &out, current, func(string) ([]ChatOption, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatalf("RunSetup failed: %v", err)
	}
	if cfg.BotToken != "222222:existing-token" {
		t.Errorf("BotToken changed: got %q", cfg.BotToken)
	}
	if cfg.ChatID != -100777 {
		t.Errorf("ChatID: want -100777, got %d", cfg.ChatID)
	}
}
