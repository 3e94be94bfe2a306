package preflight

import (
	"errors"
	"fmt"
	"strings"

	"voxpipe/internal/config"
	"voxpipe/internal/services"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunWatcher checks the directories the watcher and dispatch commands write to.
func RunWatcher(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	results := []Result{
		CheckDirectoryAccess("Watch directory", cfg.Paths.WatchDir),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Cache directory", cfg.Paths.CacheDir),
	}
	return results
}

// RunDaemon checks the exchange layout. The claim step renames request files
// into the in-flight directory, so both must live on one filesystem.
func RunDaemon(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	return []Result{
		CheckDirectoryAccess("Requests directory", cfg.Daemon.RequestsDir),
		CheckDirectoryAccess("In-flight directory", cfg.Daemon.InflightDir),
		CheckDirectoryAccess("Results directory", cfg.Daemon.ResultsDir),
		CheckDirectoryAccess("Daemon cache", cfg.Daemon.CacheDir),
		CheckSameVolume("Claim rename", cfg.Daemon.RequestsDir, cfg.Daemon.InflightDir),
	}
}

// Failed converts failing results into a configuration error.
func Failed(results []Result) error {
	var problems []string
	for _, r := range results {
		if !r.Passed {
			problems = append(problems, fmt.Sprintf("%s: %s", r.Name, r.Detail))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return services.Wrap(services.ErrConfiguration, "preflight", "check", strings.Join(problems, "; "), errors.New("startup checks failed"))
}
