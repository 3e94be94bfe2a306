package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable. Provider credentials are not
// required here: only the daemon needs them, and it refuses to start without.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateWatcher(); err != nil {
		return err
	}
	if err := c.validateDaemon(); err != nil {
		return err
	}
	if err := c.validateProviders(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.WatchDir) == "" {
		return errors.New("paths.watch_dir must be set")
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		return errors.New("paths.state_dir must be set")
	}
	if strings.TrimSpace(c.Paths.CacheDir) == "" {
		return errors.New("paths.cache_dir must be set")
	}
	return nil
}

func (c *Config) validateWatcher() error {
	w := c.Watcher
	if len(w.Extensions) == 0 {
		return errors.New("watcher.extensions must list at least one extension")
	}
	for _, legacy := range w.LegacyExtensions {
		if !containsString(w.Extensions, legacy) {
			return fmt.Errorf("watcher.legacy_extensions: %s is not a watched extension", legacy)
		}
	}
	if w.QuietPeriodSeconds < 0 || w.MinAgeSeconds < 0 || w.CheckIntervalSeconds < 0 {
		return errors.New("watcher thresholds must not be negative")
	}
	if w.RequiredChecks < 1 {
		return errors.New("watcher.required_checks must be at least 1")
	}
	if w.PollIntervalSeconds <= 0 {
		return errors.New("watcher.poll_interval_seconds must be positive")
	}
	if w.MaxProbeAttempts < 1 {
		return errors.New("watcher.max_probe_attempts must be at least 1")
	}
	if w.ProbeTimeoutSeconds <= 0 || w.ConvertTimeoutSeconds <= 0 {
		return errors.New("watcher probe and convert timeouts must be positive")
	}
	if w.BatchLimit < 0 || w.MaxDurationSeconds < 0 {
		return errors.New("watcher.batch_limit and watcher.max_duration_seconds must not be negative")
	}
	return nil
}

func (c *Config) validateDaemon() error {
	d := c.Daemon
	if d.PollIntervalSeconds <= 0 {
		return errors.New("daemon.poll_interval_seconds must be positive")
	}
	if d.MaxAttempts < 1 {
		return errors.New("daemon.max_attempts must be at least 1")
	}
	if d.RetryDelaySeconds < 0 {
		return errors.New("daemon.retry_delay_seconds must not be negative")
	}
	if d.ProviderTimeoutSeconds <= 0 {
		return errors.New("daemon.provider_timeout_seconds must be positive")
	}
	if d.MaxLimit < 1 {
		return errors.New("daemon.max_limit must be at least 1")
	}
	if d.DefaultLimit < 1 || d.DefaultLimit > d.MaxLimit {
		return fmt.Errorf("daemon.default_limit must be between 1 and %d", d.MaxLimit)
	}
	if d.CacheRetentionHours < 0 {
		return errors.New("daemon.cache_retention_hours must not be negative")
	}
	if c.Dispatch.DefaultLimit < 1 || c.Dispatch.DefaultLimit > d.MaxLimit {
		return fmt.Errorf("dispatch.default_limit must be between 1 and %d", d.MaxLimit)
	}
	return nil
}

func (c *Config) validateProviders() error {
	if len(c.Providers.Order) == 0 {
		return errors.New("providers.order must list at least one provider")
	}
	seen := make(map[string]struct{}, len(c.Providers.Order))
	for _, name := range c.Providers.Order {
		if _, ok := c.Provider(name); !ok {
			return fmt.Errorf("providers.order: unsupported provider %q", name)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("providers.order: %q listed twice", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must not be negative")
	}
	return nil
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
