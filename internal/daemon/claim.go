package daemon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"voxpipe/internal/audit"
	"voxpipe/internal/logging"
	"voxpipe/internal/preflight"
	"voxpipe/internal/services"
)

const requestExt = ".json"

// Prepare readies the exchange for a run: it creates directories, verifies
// the claim rename stays on one filesystem, prunes the cache and recovers
// requests orphaned by a previous crash.
func (d *Daemon) Prepare(ctx context.Context) error {
	if err := d.cfg.EnsureDaemonDirectories(); err != nil {
		return services.Wrap(services.ErrConfiguration, "daemon", "prepare", "create exchange directories", err)
	}
	if err := preflight.Failed(preflight.RunDaemon(d.cfg)); err != nil {
		return err
	}
	d.CleanupCache()
	recovered, err := d.RecoverInflight()
	if err != nil {
		return err
	}
	d.logger.Info("daemon ready",
		logging.String("providers", strings.Join(d.Providers(), ",")),
		logging.String("requests_dir", d.cfg.Daemon.RequestsDir),
		logging.Int("recovered", recovered))
	d.record(audit.EventRunnerStarted, "", map[string]any{
		"pid":       os.Getpid(),
		"providers": d.Providers(),
		"recovered": recovered,
	})
	return ctx.Err()
}

// RecoverInflight moves every in-flight request back to the requests
// directory and returns how many were moved. A request whose name already
// exists in the requests directory is dropped from in-flight instead.
func (d *Daemon) RecoverInflight() (int, error) {
	names, err := listRequests(d.cfg.Daemon.InflightDir)
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "daemon", "recover", d.cfg.Daemon.InflightDir, err)
	}
	recovered := 0
	for _, name := range names {
		src := filepath.Join(d.cfg.Daemon.InflightDir, name)
		dst := filepath.Join(d.cfg.Daemon.RequestsDir, name)
		if _, err := os.Stat(dst); err == nil {
			_ = os.Remove(src)
			continue
		}
		if err := os.Rename(src, dst); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return recovered, services.Wrap(services.ErrTransient, "daemon", "recover", name, err)
		}
		recovered++
		id := strings.TrimSuffix(name, requestExt)
		logging.WarnWithContext(d.logger, "recovered in-flight request", "request_recovered",
			logging.String(logging.FieldRequestID, id),
			logging.String(logging.FieldImpact, "request will be processed again"))
		d.record(audit.EventRecovered, id, map[string]any{"file": name})
	}
	return recovered, nil
}

// Pending lists request file names waiting to be claimed, oldest name first.
func (d *Daemon) Pending() ([]string, error) {
	return listRequests(d.cfg.Daemon.RequestsDir)
}

// Claim renames a pending request into the in-flight directory and returns
// its new path. ErrClaimLost means another daemon got there first.
func (d *Daemon) Claim(name string) (string, error) {
	src := filepath.Join(d.cfg.Daemon.RequestsDir, name)
	dst := filepath.Join(d.cfg.Daemon.InflightDir, name)
	if err := os.Rename(src, dst); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrClaimLost
		}
		return "", fmt.Errorf("claim %s: %w", name, err)
	}
	return dst, nil
}

// CleanupCache removes staged audio older than the retention window and
// returns how many files were removed.
func (d *Daemon) CleanupCache() int {
	removed := logging.CleanupOlderThan(d.logger, d.cfg.Daemon.CacheRetention(), d.now(),
		logging.RetentionTarget{Dir: d.cfg.Daemon.CacheDir})
	if removed > 0 {
		d.logger.Info("cache pruned", logging.Int("removed", removed))
		d.record(audit.EventCacheCleanup, "", map[string]any{"removed": removed})
	}
	return removed
}

func listRequests(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != requestExt {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func countFiles(dir, pattern string) int {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return 0
	}
	n := 0
	for _, m := range matches {
		if strings.HasPrefix(filepath.Base(m), ".") {
			continue
		}
		if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() {
			n++
		}
	}
	return n
}
