package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"voxpipe/internal/config"
	"voxpipe/internal/services"
)

// Requirement defines an external binary voxpipe relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Path        string
	Detail      string
}

// WatcherRequirements lists the binaries the watcher needs. ffprobe is
// mandatory; ffmpeg is only needed when legacy formats are watched.
func WatcherRequirements(cfg *config.Config) []Requirement {
	return []Requirement{
		{Name: "FFprobe", Command: cfg.FFprobeBinary(), Description: "Validates arriving audio"},
		{Name: "FFmpeg", Command: cfg.FFmpegBinary(), Description: "Converts legacy recordings", Optional: len(cfg.Watcher.LegacyExtensions) == 0},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		resolved, err := exec.LookPath(cmd)
		if err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		status.Path = resolved
		results = append(results, status)
	}
	return results
}

// Require checks requirements and returns a configuration error naming every
// missing mandatory binary. Callers treat it as fatal at startup.
func Require(requirements []Requirement) error {
	var missing []string
	for _, status := range CheckBinaries(requirements) {
		if status.Available || status.Optional {
			continue
		}
		missing = append(missing, fmt.Sprintf("%s (%s)", status.Name, status.Detail))
	}
	if len(missing) == 0 {
		return nil
	}
	return services.Wrap(services.ErrConfiguration, "startup", "dependency check",
		"missing required binaries: "+strings.Join(missing, ", "), nil)
}
