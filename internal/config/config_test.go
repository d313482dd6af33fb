// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jeranaias/backroom/internal/model"
)

// isolateHome points the home directory at a temp dir so Load never reads the
// developer's real config.
func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, name := range []string{
		"BACKROOM_ADDR", "BACKROOM_ROSTER", "BACKROOM_TURN_TIMEOUT", "BACKROOM_STORAGE",
		"BACKROOM_REDIS_ADDR", "BACKROOM_CREDENTIALS", "BACKROOM_MYSQL_DSN",
		"BACKROOM_CREDENTIAL_PASSPHRASE", "BACKROOM_AMQP_URL", "BACKROOM_BEARER_TOKEN",
	} {
		t.Setenv(name, "")
	}
	os.Unsetenv("BACKROOM_SYSTEM_MESSAGE")
	return home
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

// =============================================================================
// DEFAULTS
// =============================================================================

func TestConfig_Default(t *testing.T) {
	cfg := Default()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() should validate: %v", err)
	}
	if got := cfg.Engine.Roster; len(got) != 2 || got[0] != "gpt-4o" || got[1] != "gpt-4o-mini" {
		t.Errorf("default roster = %v", got)
	}
	if cfg.Engine.SystemMessage != model.DefaultSystemMessage {
		t.Errorf("default system message = %q", cfg.Engine.SystemMessage)
	}
	if cfg.Engine.TurnTimeout.Duration != 60*time.Second {
		t.Errorf("default turn timeout = %v", cfg.Engine.TurnTimeout)
	}
	if cfg.Engine.MaxTurnsPerRequest != 10 {
		t.Errorf("default max turns = %d", cfg.Engine.MaxTurnsPerRequest)
	}
	if cfg.Engine.BusyPolicy != BusyReject {
		t.Errorf("default busy policy = %q", cfg.Engine.BusyPolicy)
	}
	if len(cfg.Models) != 6 {
		t.Errorf("default catalog has %d models, want 6", len(cfg.Models))
	}
}

// =============================================================================
// LOADING
// =============================================================================

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	isolateHome(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != Default().Server.Addr {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
}

func TestLoadFromPath_Formats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "toml",
			file: "config.toml",
			content: `
[engine]
roster = ["gpt-4", "gpt-4o"]
turn_timeout = "90s"
busy_policy = "queue"

[storage]
backend = "memory"
`,
		},
		{
			name: "yaml",
			file: "config.yaml",
			content: `
engine:
  roster: [gpt-4, gpt-4o]
  turn_timeout: 90s
  busy_policy: queue
storage:
  backend: memory
`,
		},
		{
			name:    "json",
			file:    "config.json",
			content: `{"engine":{"roster":["gpt-4","gpt-4o"],"turn_timeout":"90s","busy_policy":"queue"},"storage":{"backend":"memory"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateHome(t)
			path := filepath.Join(t.TempDir(), tt.file)
			writeFile(t, path, tt.content)

			cfg, err := LoadFromPath(path)
			if err != nil {
				t.Fatalf("LoadFromPath: %v", err)
			}
			if strings.Join(cfg.Engine.Roster, ",") != "gpt-4,gpt-4o" {
				t.Errorf("roster = %v", cfg.Engine.Roster)
			}
			if cfg.Engine.TurnTimeout.Duration != 90*time.Second {
				t.Errorf("turn timeout = %v", cfg.Engine.TurnTimeout)
			}
			if cfg.Engine.BusyPolicy != BusyQueue {
				t.Errorf("busy policy = %q", cfg.Engine.BusyPolicy)
			}
			if cfg.Storage.Backend != StorageMemory {
				t.Errorf("storage = %q", cfg.Storage.Backend)
			}
			// Unset sections are filled from defaults.
			if len(cfg.Models) != len(model.DefaultModels()) {
				t.Errorf("models not defaulted: %d", len(cfg.Models))
			}
			if cfg.Engine.MaxTurnsPerRequest != 10 {
				t.Errorf("max turns not defaulted: %d", cfg.Engine.MaxTurnsPerRequest)
			}
		})
	}
}

func TestLoadFromPath_CustomModels(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, `
[engine]
roster = ["local-a", "claude"]

[[models]]
model_id = "local-a"
provider_family = "openai"
endpoint_url = "http://127.0.0.1:9000/v1/chat/completions"

[[models]]
model_id = "claude"
provider_family = "anthropic"
endpoint_url = "https://api.anthropic.com/v1/messages"
provider_model = "claude-3-haiku-20240307"
default_max_tokens = 512
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if len(cfg.Models) != 2 {
		t.Fatalf("models = %d, want 2", len(cfg.Models))
	}
	if cfg.Models[0].DefaultMaxTokens != model.DefaultMaxTokens {
		t.Errorf("local-a max tokens = %d, want default", cfg.Models[0].DefaultMaxTokens)
	}
	if cfg.Models[1].WireModel() != "claude-3-haiku-20240307" {
		t.Errorf("wire model = %q", cfg.Models[1].WireModel())
	}
}

func TestLoadFromPath_Errors(t *testing.T) {
	isolateHome(t)
	dir := t.TempDir()

	if _, err := LoadFromPath(filepath.Join(dir, "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.toml")
	writeFile(t, bad, "[engine\nroster = ")
	if _, err := LoadFromPath(bad); err == nil {
		t.Error("expected decode error")
	}

	invalid := filepath.Join(dir, "invalid.toml")
	writeFile(t, invalid, "[engine]\nroster = [\"nope\"]\n")
	_, err := LoadFromPath(invalid)
	var verrs ValidateErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidateErrors, got %v", err)
	}
}

func TestLoad_FixesPermissions(t *testing.T) {
	home := isolateHome(t)
	path := filepath.Join(home, ".backroom", "config.toml")
	writeFile(t, path, "[server]\naddr = \"127.0.0.1:9999\"\n")
	if err := os.Chmod(path, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:9999" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0600 {
		t.Errorf("perm = %o, want 600", info.Mode().Perm())
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty roster", func(c *Config) { c.Engine.Roster = nil }, "engine.roster"},
		{"unknown roster model", func(c *Config) { c.Engine.Roster = []string{"gpt-9"} }, "engine.roster"},
		{"zero timeout", func(c *Config) { c.Engine.TurnTimeout = Duration{} }, "engine.turn_timeout"},
		{"bad busy policy", func(c *Config) { c.Engine.BusyPolicy = "drop" }, "engine.busy_policy"},
		{"zero max turns", func(c *Config) { c.Engine.MaxTurnsPerRequest = 0 }, "engine.max_turns_per_request"},
		{"bad storage", func(c *Config) { c.Storage.Backend = "s3" }, "storage.backend"},
		{"redis without addr", func(c *Config) { c.Storage.Backend = StorageRedis }, "storage.redis_addr"},
		{"mysql without dsn", func(c *Config) { c.Credentials.Backend = CredentialsMySQL }, "credentials.mysql_dsn"},
		{"bad credentials", func(c *Config) { c.Credentials.Backend = "vault" }, "credentials.backend"},
		{"auth without tokens", func(c *Config) { c.Server.AuthEnabled = true }, "server.auth_enabled"},
		{"bad amqp url", func(c *Config) { c.Events.AMQPURL = "http://broker" }, "events.amqp_url"},
		{"duplicate model", func(c *Config) { c.Models = append(c.Models, c.Models[0]) }, "models[6].model_id"},
		{"unknown family", func(c *Config) { c.Models[0].ProviderFamily = "gemini" }, "models[0].provider_family"},
		{"bad endpoint", func(c *Config) { c.Models[1].EndpointURL = "not a url" }, "models[1]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			var verrs ValidateErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected ValidateErrors, got %v", err)
			}
			found := false
			for _, v := range verrs {
				if v.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("no error for field %s in %v", tt.field, verrs)
			}
		})
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

func TestConfig_ApplyEnvOverrides(t *testing.T) {
	isolateHome(t)
	t.Setenv("BACKROOM_ADDR", "0.0.0.0:1234")
	t.Setenv("BACKROOM_ROSTER", "gpt-4, claude-3-opus-20240229 ,")
	t.Setenv("BACKROOM_SYSTEM_MESSAGE", "")
	t.Setenv("BACKROOM_TURN_TIMEOUT", "15s")
	t.Setenv("BACKROOM_STORAGE", "redis")
	t.Setenv("BACKROOM_REDIS_ADDR", "127.0.0.1:6379")
	t.Setenv("BACKROOM_CREDENTIALS", "mysql")
	t.Setenv("BACKROOM_MYSQL_DSN", "u:p@tcp(db:3306)/backroom")
	t.Setenv("BACKROOM_CREDENTIAL_PASSPHRASE", "hunter2")
	t.Setenv("BACKROOM_AMQP_URL", "amqp://guest:guest@mq:5672/")
	t.Setenv("BACKROOM_BEARER_TOKEN", "tok")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.Server.Addr != "0.0.0.0:1234" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if strings.Join(cfg.Engine.Roster, "|") != "gpt-4|claude-3-opus-20240229" {
		t.Errorf("roster = %v", cfg.Engine.Roster)
	}
	if cfg.Engine.SystemMessage != "" {
		t.Errorf("system message should be cleared, got %q", cfg.Engine.SystemMessage)
	}
	if cfg.Engine.TurnTimeout.Duration != 15*time.Second {
		t.Errorf("turn timeout = %v", cfg.Engine.TurnTimeout)
	}
	if cfg.Storage.Backend != StorageRedis || cfg.Storage.RedisAddr != "127.0.0.1:6379" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Credentials.Backend != CredentialsMySQL || cfg.Credentials.MySQLDSN == "" || cfg.Credentials.Passphrase != "hunter2" {
		t.Errorf("credentials = %+v", cfg.Credentials)
	}
	if cfg.Events.AMQPURL == "" {
		t.Error("amqp url not applied")
	}
	if !cfg.Server.AuthEnabled || cfg.Server.BearerToken != "tok" {
		t.Errorf("bearer token override not applied")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("overridden config should validate: %v", err)
	}
}

// =============================================================================
// SAVE / GET / REDACT
// =============================================================================

func TestSave_RoundTrip(t *testing.T) {
	isolateHome(t)
	dir := t.TempDir()
	cfg := Default()
	cfg.Engine.Roster = model.ClaudeRoster()
	cfg.Engine.TurnTimeout = Duration{45 * time.Second}

	for name, save := range map[string]func(*Config, string) error{
		"config.toml": SaveTOML,
		"config.yaml": SaveYAML,
		"config.json": SaveJSON,
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := save(cfg, path); err != nil {
				t.Fatalf("save: %v", err)
			}
			info, err := os.Stat(path)
			if err != nil {
				t.Fatal(err)
			}
			if info.Mode().Perm() != 0600 {
				t.Errorf("perm = %o", info.Mode().Perm())
			}

			loaded, err := LoadFromPath(path)
			if err != nil {
				t.Fatalf("reload: %v", err)
			}
			if strings.Join(loaded.Engine.Roster, ",") != strings.Join(cfg.Engine.Roster, ",") {
				t.Errorf("roster = %v", loaded.Engine.Roster)
			}
			if loaded.Engine.TurnTimeout.Duration != 45*time.Second {
				t.Errorf("turn timeout = %v", loaded.Engine.TurnTimeout)
			}
		})
	}
}

func TestConfig_Get(t *testing.T) {
	cfg := Default()

	v, err := cfg.Get("engine.busy_policy")
	if err != nil || v != BusyReject {
		t.Errorf("Get(engine.busy_policy) = %v, %v", v, err)
	}
	if _, err := cfg.Get("engine.nope"); err == nil {
		t.Error("expected error for unknown field")
	}
	if _, err := cfg.Get("engine.roster.x"); err == nil {
		t.Error("expected error for non-section")
	}
}

func TestConfig_StringRedacts(t *testing.T) {
	cfg := Default()
	cfg.Server.BearerToken = "secret-token"
	cfg.Server.Tokens = map[string]string{"tok-abc": "alice"}
	cfg.Credentials.Passphrase = "passphrase"
	cfg.Credentials.MySQLDSN = "root:pw@tcp(db)/x"

	s := cfg.String()
	for _, secret := range []string{"secret-token", "tok-abc", "passphrase\"", "root:pw"} {
		if strings.Contains(s, secret) {
			t.Errorf("String() leaks %q", secret)
		}
	}
	if !strings.Contains(s, "alice") {
		t.Error("user ids should remain visible")
	}
	if cfg.Server.BearerToken != "secret-token" {
		t.Error("String() must not mutate the config")
	}
}

// =============================================================================
// GLOBAL
// =============================================================================

func TestConfig_ConcurrentAccess(t *testing.T) {
	isolateHome(t)
	ResetGlobalForTesting()
	t.Cleanup(ResetGlobalForTesting)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c := Default()
			c.Version = "test"
			SetGlobal(c)
		}()
		go func() {
			defer wg.Done()
			if Global() == nil {
				t.Error("Global() returned nil")
			}
		}()
	}
	wg.Wait()
}

func TestConfig_SetGlobalOverwrites(t *testing.T) {
	isolateHome(t)
	ResetGlobalForTesting()
	t.Cleanup(ResetGlobalForTesting)

	_ = Global()
	custom := Default()
	custom.Version = "custom-version"
	SetGlobal(custom)

	if got := Global().Version; got != "custom-version" {
		t.Errorf("Global().Version = %q", got)
	}
}

// =============================================================================
// WATCH
// =============================================================================

func TestWatch_ReloadsOnWrite(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, "[engine]\nroster = [\"gpt-4o\"]\n")

	got := make(chan *Config, 4)
	w, err := Watch(path, 20*time.Millisecond, func(c *Config) { got <- c })
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Close()

	writeFile(t, path, "[engine]\nroster = [\"gpt-4\", \"gpt-4o-mini\"]\n")

	select {
	case cfg := <-got:
		if strings.Join(cfg.Engine.Roster, ",") != "gpt-4,gpt-4o-mini" {
			t.Errorf("reloaded roster = %v", cfg.Engine.Roster)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload within 3s")
	}
}

func TestWatch_InvalidFileKeepsPrevious(t *testing.T) {
	isolateHome(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, "[engine]\nroster = [\"gpt-4o\"]\n")

	got := make(chan *Config, 4)
	w, err := Watch(path, 20*time.Millisecond, func(c *Config) { got <- c })
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Close()

	writeFile(t, path, "[engine]\nroster = [\"missing-model\"]\n")

	select {
	case cfg := <-got:
		t.Errorf("invalid config should not be delivered, got roster %v", cfg.Engine.Roster)
	case <-time.After(300 * time.Millisecond):
	}
}
