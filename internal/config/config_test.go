package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"voxpipe/internal/config"
)

func TestLoadDefaultConfigExpandsPathsAndReadsEnvKeys(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("GROQ_API_KEY", "groq-env")
	t.Setenv("OPENAI_API_KEY", "")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantWatch := filepath.Join(tempHome, "voxpipe", "inbox")
	if cfg.Paths.WatchDir != wantWatch {
		t.Fatalf("unexpected watch dir: got %q want %q", cfg.Paths.WatchDir, wantWatch)
	}
	if cfg.Paths.AuditLog != filepath.Join(cfg.Paths.StateDir, "audit.jsonl") {
		t.Fatalf("unexpected audit log default: %q", cfg.Paths.AuditLog)
	}
	if cfg.Daemon.InflightDir != filepath.Join(cfg.Daemon.RequestsDir, ".inflight") {
		t.Fatalf("unexpected inflight dir: %q", cfg.Daemon.InflightDir)
	}
	if cfg.Providers.Groq.APIKey != "groq-env" {
		t.Fatalf("expected groq key from env, got %q", cfg.Providers.Groq.APIKey)
	}
	if got := cfg.ConfiguredProviders(); len(got) != 1 || got[0] != config.ProviderGroq {
		t.Fatalf("unexpected configured providers: %v", got)
	}
	if cfg.Watcher.QuietPeriod().Seconds() != 10 || cfg.Watcher.MinAge().Seconds() != 30 {
		t.Fatalf("unexpected stability defaults: %+v", cfg.Watcher)
	}
	if cfg.Daemon.MaxAttempts != 3 || cfg.Daemon.RetryDelay().Seconds() != 2 {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Daemon)
	}
	if cfg.Daemon.DefaultLimit != 10 || cfg.Daemon.MaxLimit != 50 {
		t.Fatalf("unexpected batch limits: %+v", cfg.Daemon)
	}
}

func TestLoadCustomPath(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "voxpipe.toml")
	content := `
[paths]
watch_dir = "` + filepath.Join(tempDir, "watch") + `"
state_dir = "` + filepath.Join(tempDir, "state") + `"
cache_dir = "` + filepath.Join(tempDir, "cache") + `"

[watcher]
extensions = ["M4A", "qta", ".m4a"]
legacy_extensions = ["QTA"]
required_checks = 5

[providers]
order = ["openai"]

[providers.openai]
api_key = "file-key"
base_url = "http://localhost:9999/v1/"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("unexpected resolution: %q exists=%v", resolved, exists)
	}
	if strings.Join(cfg.Watcher.Extensions, ",") != ".m4a,.qta" {
		t.Fatalf("unexpected extensions: %v", cfg.Watcher.Extensions)
	}
	if cfg.Watcher.LegacyExtensions[0] != ".qta" {
		t.Fatalf("unexpected legacy extensions: %v", cfg.Watcher.LegacyExtensions)
	}
	if cfg.Watcher.RequiredChecks != 5 {
		t.Fatalf("expected required checks override, got %d", cfg.Watcher.RequiredChecks)
	}
	if cfg.Providers.OpenAI.BaseURL != "http://localhost:9999/v1" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Providers.OpenAI.BaseURL)
	}
	if got := cfg.ConfiguredProviders(); len(got) != 1 || got[0] != config.ProviderOpenAI {
		t.Fatalf("unexpected configured providers: %v", got)
	}
}

func TestProviderKeysFromEnvFile(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	tempDir := t.TempDir()
	envPath := filepath.Join(tempDir, "voxpipe.env")
	if err := os.WriteFile(envPath, []byte("GROQ_API_KEY=from-dotenv\nOPENAI_API_KEY=\"openai-dotenv\"\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	configPath := filepath.Join(tempDir, "voxpipe.toml")
	content := "[providers]\nenv_file = \"" + envPath + "\"\n"
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Providers.Groq.APIKey != "from-dotenv" {
		t.Fatalf("expected groq key from dotenv, got %q", cfg.Providers.Groq.APIKey)
	}
	if cfg.Providers.OpenAI.APIKey != "openai-dotenv" {
		t.Fatalf("expected openai key from dotenv, got %q", cfg.Providers.OpenAI.APIKey)
	}
	if got := cfg.ConfiguredProviders(); len(got) != 2 {
		t.Fatalf("expected both providers configured, got %v", got)
	}
}

func TestValidateRejectsBadSettings(t *testing.T) {
	cases := map[string]func(*config.Config){
		"no extensions":      func(c *config.Config) { c.Watcher.Extensions = nil },
		"legacy not watched": func(c *config.Config) { c.Watcher.LegacyExtensions = []string{".wav"} },
		"zero checks":        func(c *config.Config) { c.Watcher.RequiredChecks = 0 },
		"zero attempts":      func(c *config.Config) { c.Daemon.MaxAttempts = 0 },
		"limit above cap":    func(c *config.Config) { c.Daemon.DefaultLimit = 51 },
		"unknown provider":   func(c *config.Config) { c.Providers.Order = []string{"acme"} },
		"duplicate provider": func(c *config.Config) { c.Providers.Order = []string{"groq", "groq"} },
		"bad log format":     func(c *config.Config) { c.Logging.Format = "xml" },
	}
	for name, mutate := range cases {
		cfg := config.Default()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestEnsureDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.WatchDir = filepath.Join(base, "watch")
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.CacheDir = filepath.Join(base, "cache")
	cfg.Paths.LogDir = filepath.Join(base, "logs")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.WatchDir, cfg.Paths.StateDir, cfg.Paths.CacheDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestCreateSampleLoads(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	if _, _, exists, err := config.Load(path); err != nil || !exists {
		t.Fatalf("sample config should load: exists=%v err=%v", exists, err)
	}
}
