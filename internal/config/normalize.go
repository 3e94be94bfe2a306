package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

const (
	envGroqAPIKey   = "GROQ_API_KEY"
	envOpenAIAPIKey = "OPENAI_API_KEY"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeWatcher()
	if err := c.normalizeDispatch(); err != nil {
		return err
	}
	if err := c.normalizeDaemon(); err != nil {
		return err
	}
	if err := c.normalizeProviders(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.WatchDir, err = expandPath(c.Paths.WatchDir); err != nil {
		return fmt.Errorf("paths.watch_dir: %w", err)
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.CacheDir, err = expandPath(c.Paths.CacheDir); err != nil {
		return fmt.Errorf("paths.cache_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.AuditLog) == "" {
		c.Paths.AuditLog = filepath.Join(c.Paths.StateDir, "audit.jsonl")
	}
	if c.Paths.AuditLog, err = expandPath(c.Paths.AuditLog); err != nil {
		return fmt.Errorf("paths.audit_log: %w", err)
	}
	return nil
}

func (c *Config) normalizeWatcher() {
	c.Watcher.Extensions = normalizeExtensions(c.Watcher.Extensions)
	c.Watcher.LegacyExtensions = normalizeExtensions(c.Watcher.LegacyExtensions)
}

func normalizeExtensions(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		ext := strings.ToLower(strings.TrimSpace(v))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if _, ok := seen[ext]; ok {
			continue
		}
		seen[ext] = struct{}{}
		out = append(out, ext)
	}
	return out
}

func (c *Config) normalizeDispatch() error {
	var err error
	if c.Dispatch.RequestsDir, err = expandPath(c.Dispatch.RequestsDir); err != nil {
		return fmt.Errorf("dispatch.requests_dir: %w", err)
	}
	if c.Dispatch.ResultsDir, err = expandPath(c.Dispatch.ResultsDir); err != nil {
		return fmt.Errorf("dispatch.results_dir: %w", err)
	}
	if c.Dispatch.MediaDir, err = expandPath(c.Dispatch.MediaDir); err != nil {
		return fmt.Errorf("dispatch.media_dir: %w", err)
	}
	c.Dispatch.RequestedBy = strings.TrimSpace(c.Dispatch.RequestedBy)
	if c.Dispatch.RequestedBy == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			c.Dispatch.RequestedBy = host
		} else {
			c.Dispatch.RequestedBy = defaultRequestedBy
		}
	}
	return nil
}

func (c *Config) normalizeDaemon() error {
	var err error
	if c.Daemon.RequestsDir, err = expandPath(c.Daemon.RequestsDir); err != nil {
		return fmt.Errorf("daemon.requests_dir: %w", err)
	}
	if strings.TrimSpace(c.Daemon.InflightDir) == "" {
		c.Daemon.InflightDir = filepath.Join(c.Daemon.RequestsDir, ".inflight")
	}
	if c.Daemon.InflightDir, err = expandPath(c.Daemon.InflightDir); err != nil {
		return fmt.Errorf("daemon.inflight_dir: %w", err)
	}
	if c.Daemon.ResultsDir, err = expandPath(c.Daemon.ResultsDir); err != nil {
		return fmt.Errorf("daemon.results_dir: %w", err)
	}
	if c.Daemon.MediaDir, err = expandPath(c.Daemon.MediaDir); err != nil {
		return fmt.Errorf("daemon.media_dir: %w", err)
	}
	if c.Daemon.CacheDir, err = expandPath(c.Daemon.CacheDir); err != nil {
		return fmt.Errorf("daemon.cache_dir: %w", err)
	}
	if strings.TrimSpace(c.Daemon.AuditLog) == "" {
		c.Daemon.AuditLog = filepath.Join(filepath.Dir(c.Daemon.CacheDir), "audit.jsonl")
	}
	if c.Daemon.AuditLog, err = expandPath(c.Daemon.AuditLog); err != nil {
		return fmt.Errorf("daemon.audit_log: %w", err)
	}
	c.Daemon.MediaPattern = strings.TrimSpace(c.Daemon.MediaPattern)
	if c.Daemon.MediaPattern == "" {
		c.Daemon.MediaPattern = defaultMediaPattern
	}
	c.Daemon.MetricsBind = strings.TrimSpace(c.Daemon.MetricsBind)
	return nil
}

// normalizeProviders resolves credentials in order: config file, process
// environment, then the optional dotenv file.
func (c *Config) normalizeProviders() error {
	var dotenv map[string]string
	if path := strings.TrimSpace(c.Providers.EnvFile); path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return fmt.Errorf("providers.env_file: %w", err)
		}
		c.Providers.EnvFile = expanded
		values, err := godotenv.Read(expanded)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("providers.env_file: read %s: %w", expanded, err)
		}
		dotenv = values
	}

	lookup := func(key string) string {
		if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
		return strings.TrimSpace(dotenv[key])
	}

	c.Providers.Groq.APIKey = strings.TrimSpace(c.Providers.Groq.APIKey)
	if c.Providers.Groq.APIKey == "" {
		c.Providers.Groq.APIKey = lookup(envGroqAPIKey)
	}
	c.Providers.OpenAI.APIKey = strings.TrimSpace(c.Providers.OpenAI.APIKey)
	if c.Providers.OpenAI.APIKey == "" {
		c.Providers.OpenAI.APIKey = lookup(envOpenAIAPIKey)
	}

	c.Providers.Groq.BaseURL = strings.TrimRight(strings.TrimSpace(c.Providers.Groq.BaseURL), "/")
	if c.Providers.Groq.BaseURL == "" {
		c.Providers.Groq.BaseURL = defaultGroqBaseURL
	}
	if strings.TrimSpace(c.Providers.Groq.Model) == "" {
		c.Providers.Groq.Model = defaultGroqModel
	}
	c.Providers.OpenAI.BaseURL = strings.TrimRight(strings.TrimSpace(c.Providers.OpenAI.BaseURL), "/")
	if c.Providers.OpenAI.BaseURL == "" {
		c.Providers.OpenAI.BaseURL = defaultOpenAIBaseURL
	}
	if strings.TrimSpace(c.Providers.OpenAI.Model) == "" {
		c.Providers.OpenAI.Model = defaultOpenAIModel
	}

	order := make([]string, 0, len(c.Providers.Order))
	for _, name := range c.Providers.Order {
		if trimmed := strings.ToLower(strings.TrimSpace(name)); trimmed != "" {
			order = append(order, trimmed)
		}
	}
	c.Providers.Order = order
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
