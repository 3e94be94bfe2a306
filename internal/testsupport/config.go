package testsupport

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"voxpipe/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Watcher, dispatch and daemon share one exchange tree so a single test can
// drive the whole round trip. Every directory is created.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.WatchDir = filepath.Join(base, "inbox")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.CacheDir = filepath.Join(base, "cache")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.AuditLog = filepath.Join(base, "state", "audit.jsonl")

	exchange := filepath.Join(base, "exchange")
	cfgVal.Dispatch.RequestsDir = filepath.Join(exchange, "requests")
	cfgVal.Dispatch.ResultsDir = filepath.Join(exchange, "results")
	cfgVal.Dispatch.MediaDir = filepath.Join(exchange, "media")
	cfgVal.Dispatch.RequestedBy = "test-host"

	cfgVal.Daemon.RequestsDir = cfgVal.Dispatch.RequestsDir
	cfgVal.Daemon.InflightDir = filepath.Join(cfgVal.Dispatch.RequestsDir, ".inflight")
	cfgVal.Daemon.ResultsDir = cfgVal.Dispatch.ResultsDir
	cfgVal.Daemon.MediaDir = cfgVal.Dispatch.MediaDir
	cfgVal.Daemon.CacheDir = filepath.Join(base, "daemon", "cache")
	cfgVal.Daemon.AuditLog = filepath.Join(base, "daemon", "audit.jsonl")
	cfgVal.Daemon.RetryDelaySeconds = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	dirs := []string{cfgVal.Dispatch.MediaDir}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	if err := builder.cfg.EnsureDaemonDirectories(); err != nil {
		t.Fatalf("ensure daemon directories: %v", err)
	}

	return builder.cfg
}

// WithProviderKeys sets credentials for the transcription providers. Empty
// values leave a provider unconfigured.
func WithProviderKeys(groq, openai string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Providers.Groq.APIKey = groq
		b.cfg.Providers.OpenAI.APIKey = openai
	}
}

// WithProviderURL points a provider at a test server.
func WithProviderURL(name, baseURL string) ConfigOption {
	return func(b *configBuilder) {
		switch name {
		case config.ProviderGroq:
			b.cfg.Providers.Groq.BaseURL = baseURL
		case config.ProviderOpenAI:
			b.cfg.Providers.OpenAI.BaseURL = baseURL
		default:
			b.t.Fatalf("unknown provider %q", name)
		}
	}
}

// WithStabilityWindow overrides the watcher thresholds, in seconds.
func WithStabilityWindow(quiet, minAge, interval, checks int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Watcher.QuietPeriodSeconds = quiet
		b.cfg.Watcher.MinAgeSeconds = minAge
		b.cfg.Watcher.CheckIntervalSeconds = interval
		b.cfg.Watcher.RequiredChecks = checks
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, ffprobe and ffmpeg are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffprobe", "ffmpeg"}
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			b.writeStub(name, script)
		}
	}
}

// WithFFprobeDuration installs an ffprobe stub that reports one AAC stream of
// the given length for every input.
func WithFFprobeDuration(seconds float64) ConfigOption {
	return func(b *configBuilder) {
		payload := fmt.Sprintf(`{"streams":[{"index":0,"codec_name":"aac","codec_type":"audio","duration":"%.3f","sample_rate":"48000","channels":1}],"format":{"nb_streams":1,"duration":"%.3f","format_name":"mov,mp4,m4a,3gp,3g2,mj2"}}`, seconds, seconds)
		script := []byte("#!/bin/sh\ncat <<'JSON'\n" + payload + "\nJSON\n")
		b.writeStub("ffprobe", script)
	}
}

func (b *configBuilder) writeStub(name string, script []byte) {
	binDir := filepath.Join(b.baseDir, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		b.t.Fatalf("mkdir bin dir: %v", err)
	}
	target := filepath.Join(binDir, name)
	if err := os.WriteFile(target, script, 0o755); err != nil {
		b.t.Fatalf("write stub %s: %v", name, err)
	}

	oldPath := os.Getenv("PATH")
	if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
		b.t.Fatalf("set PATH: %v", err)
	}
	b.t.Cleanup(func() {
		_ = os.Setenv("PATH", oldPath)
	})
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.WatchDir)
}
