package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the watcher-side directory layout.
type Paths struct {
	WatchDir string `toml:"watch_dir"`
	StateDir string `toml:"state_dir"`
	CacheDir string `toml:"cache_dir"`
	LogDir   string `toml:"log_dir"`
	AuditLog string `toml:"audit_log"`
}

// Watcher contains stability thresholds and scan bounds.
type Watcher struct {
	Extensions            []string `toml:"extensions"`
	LegacyExtensions      []string `toml:"legacy_extensions"`
	QuietPeriodSeconds    int      `toml:"quiet_period_seconds"`
	MinAgeSeconds         int      `toml:"min_age_seconds"`
	CheckIntervalSeconds  int      `toml:"check_interval_seconds"`
	RequiredChecks        int      `toml:"required_checks"`
	PollIntervalSeconds   int      `toml:"poll_interval_seconds"`
	MaxProbeAttempts      int      `toml:"max_probe_attempts"`
	ProbeTimeoutSeconds   int      `toml:"probe_timeout_seconds"`
	ConvertTimeoutSeconds int      `toml:"convert_timeout_seconds"`
	BatchLimit            int      `toml:"batch_limit"`
	MaxDurationSeconds    int      `toml:"max_duration_seconds"`
}

// Dispatch contains settings for handing queued items to the remote daemon.
type Dispatch struct {
	RequestsDir  string `toml:"requests_dir"`
	ResultsDir   string `toml:"results_dir"`
	MediaDir     string `toml:"media_dir"`
	RequestedBy  string `toml:"requested_by"`
	DefaultLimit int    `toml:"default_limit"`
}

// Daemon contains settings for the remote processing daemon.
type Daemon struct {
	RequestsDir            string `toml:"requests_dir"`
	InflightDir            string `toml:"inflight_dir"`
	ResultsDir             string `toml:"results_dir"`
	MediaDir               string `toml:"media_dir"`
	MediaPattern           string `toml:"media_pattern"`
	CacheDir               string `toml:"cache_dir"`
	AuditLog               string `toml:"audit_log"`
	PollIntervalSeconds    int    `toml:"poll_interval_seconds"`
	MaxAttempts            int    `toml:"max_attempts"`
	RetryDelaySeconds      int    `toml:"retry_delay_seconds"`
	ProviderTimeoutSeconds int    `toml:"provider_timeout_seconds"`
	DefaultLimit           int    `toml:"default_limit"`
	MaxLimit               int    `toml:"max_limit"`
	CacheRetentionHours    int    `toml:"cache_retention_hours"`
	MetricsBind            string `toml:"metrics_bind"`
}

// Provider contains connection settings for one transcription backend.
type Provider struct {
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`
	Model   string `toml:"model"`
}

// Providers lists transcription backends in fallback order.
type Providers struct {
	EnvFile string   `toml:"env_file"`
	Order   []string `toml:"order"`
	Groq    Provider `toml:"groq"`
	OpenAI  Provider `toml:"openai"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for voxpipe.
//
// Configuration sections by subsystem:
//   - Paths: watched directory, queue state, normalized cache and logs
//   - Watcher: stability thresholds and per-scan bounds
//   - Dispatch: the request/result exchange used by submit and collect
//   - Daemon: the remote processing daemon
//   - Providers: transcription credentials and fallback order
//   - Logging: log format, level, and retention
type Config struct {
	Paths     Paths     `toml:"paths"`
	Watcher   Watcher   `toml:"watcher"`
	Dispatch  Dispatch  `toml:"dispatch"`
	Daemon    Daemon    `toml:"daemon"`
	Providers Providers `toml:"providers"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/voxpipe/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("voxpipe.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the watcher-side directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WatchDir, c.Paths.StateDir, c.Paths.CacheDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// EnsureDaemonDirectories creates the daemon-side exchange directories.
func (c *Config) EnsureDaemonDirectories() error {
	for _, dir := range []string{c.Daemon.RequestsDir, c.Daemon.InflightDir, c.Daemon.ResultsDir, c.Daemon.CacheDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// QueueDBPath returns the location of the ingest event store.
func (c *Config) QueueDBPath() string {
	return filepath.Join(c.Paths.StateDir, "queue.db")
}

// WatcherLockPath returns the single-instance lock used by the watcher loop.
func (c *Config) WatcherLockPath() string {
	return filepath.Join(c.Paths.StateDir, "watcher.lock")
}

// FFprobeBinary returns the ffprobe executable name used for media validation.
func (c *Config) FFprobeBinary() string {
	return "ffprobe"
}

// FFmpegBinary returns the ffmpeg executable name used for normalization.
func (c *Config) FFmpegBinary() string {
	return "ffmpeg"
}

// QuietPeriod returns the minimum time since the last observed change.
func (w Watcher) QuietPeriod() time.Duration {
	return time.Duration(w.QuietPeriodSeconds) * time.Second
}

// MinAge returns the minimum time since first observation.
func (w Watcher) MinAge() time.Duration {
	return time.Duration(w.MinAgeSeconds) * time.Second
}

// CheckInterval returns the minimum spacing between counted stable checks.
func (w Watcher) CheckInterval() time.Duration {
	return time.Duration(w.CheckIntervalSeconds) * time.Second
}

// PollInterval returns the sleep between watcher polls.
func (w Watcher) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalSeconds) * time.Second
}

// ProbeTimeout bounds a single ffprobe invocation.
func (w Watcher) ProbeTimeout() time.Duration {
	return time.Duration(w.ProbeTimeoutSeconds) * time.Second
}

// ConvertTimeout bounds a single legacy-format conversion.
func (w Watcher) ConvertTimeout() time.Duration {
	return time.Duration(w.ConvertTimeoutSeconds) * time.Second
}

// MaxDuration caps the cumulative audio duration enqueued per scan. Zero disables the cap.
func (w Watcher) MaxDuration() time.Duration {
	return time.Duration(w.MaxDurationSeconds) * time.Second
}

// PollInterval returns the sleep between daemon polls.
func (d Daemon) PollInterval() time.Duration {
	return time.Duration(d.PollIntervalSeconds) * time.Second
}

// RetryDelay returns the fixed delay between provider attempts.
func (d Daemon) RetryDelay() time.Duration {
	return time.Duration(d.RetryDelaySeconds) * time.Second
}

// ProviderTimeout bounds a single provider call.
func (d Daemon) ProviderTimeout() time.Duration {
	return time.Duration(d.ProviderTimeoutSeconds) * time.Second
}

// CacheRetention returns how long staged audio is kept in the daemon cache.
func (d Daemon) CacheRetention() time.Duration {
	return time.Duration(d.CacheRetentionHours) * time.Hour
}

// ConfiguredProviders returns the provider names that carry a credential, in fallback order.
func (c *Config) ConfiguredProviders() []string {
	out := make([]string, 0, len(c.Providers.Order))
	for _, name := range c.Providers.Order {
		p, ok := c.Provider(name)
		if ok && strings.TrimSpace(p.APIKey) != "" {
			out = append(out, name)
		}
	}
	return out
}

// Provider returns the settings for a named provider.
func (c *Config) Provider(name string) (Provider, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case ProviderGroq:
		return c.Providers.Groq, true
	case ProviderOpenAI:
		return c.Providers.OpenAI, true
	default:
		return Provider{}, false
	}
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
