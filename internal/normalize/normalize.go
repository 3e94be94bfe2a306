// Package normalize converts legacy recordings into the canonical audio format
// and caches the result by content hash.
//
// Conversions write to a temporary file in the cache directory and rename it
// into place only after ffmpeg exits cleanly, so a failed or interrupted
// conversion never leaves a partial artifact at the cache path.
package normalize

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"voxpipe/internal/services"
)

// CanonicalExt is the extension of every normalized artifact.
const CanonicalExt = ".m4a"

// Runner executes ffmpeg with the given arguments.
type Runner func(ctx context.Context, binary string, args []string) ([]byte, error)

func execRunner(ctx context.Context, binary string, args []string) ([]byte, error) {
	return exec.CommandContext(ctx, binary, args...).CombinedOutput()
}

// Result describes the outcome of Normalize.
type Result struct {
	// Path is the file to enqueue: the cached artifact for legacy input or the
	// original path for canonical input.
	Path      string
	Converted bool
	Cached    bool
}

// Normalizer holds the conversion settings.
type Normalizer struct {
	cacheDir string
	legacy   map[string]struct{}
	binary   string
	timeout  time.Duration
	run      Runner
}

// Option customizes a Normalizer.
type Option func(*Normalizer)

// WithRunner replaces the ffmpeg invocation, mainly for tests.
func WithRunner(r Runner) Option {
	return func(n *Normalizer) {
		if r != nil {
			n.run = r
		}
	}
}

// New constructs a Normalizer. legacyExts lists extensions (with dot) that
// require conversion.
func New(cacheDir, ffmpegBinary string, legacyExts []string, timeout time.Duration, opts ...Option) *Normalizer {
	legacy := make(map[string]struct{}, len(legacyExts))
	for _, ext := range legacyExts {
		legacy[strings.ToLower(ext)] = struct{}{}
	}
	if strings.TrimSpace(ffmpegBinary) == "" {
		ffmpegBinary = "ffmpeg"
	}
	n := &Normalizer{
		cacheDir: cacheDir,
		legacy:   legacy,
		binary:   ffmpegBinary,
		timeout:  timeout,
		run:      execRunner,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// NeedsConversion reports whether path has a legacy extension.
func (n *Normalizer) NeedsConversion(path string) bool {
	_, ok := n.legacy[strings.ToLower(filepath.Ext(path))]
	return ok
}

// CachePath returns where the artifact for the given input hash lives.
func (n *Normalizer) CachePath(id string) string {
	return filepath.Join(n.cacheDir, id+CanonicalExt)
}

// Normalize returns the canonical file for input, converting and caching it
// under id when input uses a legacy format. An existing non-empty artifact is
// reused without invoking ffmpeg.
func (n *Normalizer) Normalize(ctx context.Context, input, id string) (Result, error) {
	if !n.NeedsConversion(input) {
		return Result{Path: input}, nil
	}

	target := n.CachePath(id)
	if info, err := os.Stat(target); err == nil && info.Size() > 0 {
		return Result{Path: target, Cached: true}, nil
	}

	if err := os.MkdirAll(n.cacheDir, 0o755); err != nil {
		return Result{}, services.Wrap(services.ErrTransient, "normalize", "prepare cache", n.cacheDir, err)
	}

	absInput, err := filepath.Abs(input)
	if err != nil {
		return Result{}, services.Wrap(services.ErrTransient, "normalize", "resolve input", input, err)
	}

	tmp, err := os.CreateTemp(n.cacheDir, "."+id+".*"+CanonicalExt)
	if err != nil {
		return Result{}, services.Wrap(services.ErrTransient, "normalize", "create temp", n.cacheDir, err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	runCtx := ctx
	if n.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	output, err := n.run(runCtx, n.binary, Args(absInput, tmpPath))
	if err != nil {
		detail := strings.TrimSpace(lastLines(string(output), 3))
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return Result{}, services.Wrap(services.ErrTimeout, "normalize", "ffmpeg", fmt.Sprintf("conversion exceeded %s", n.timeout), err)
		}
		return Result{}, services.Wrap(services.ErrExternalTool, "normalize", "ffmpeg", detail, err)
	}

	info, err := os.Stat(tmpPath)
	if err != nil {
		return Result{}, services.Wrap(services.ErrExternalTool, "normalize", "verify output", tmpPath, err)
	}
	if info.Size() == 0 {
		return Result{}, services.Wrap(services.ErrExternalTool, "normalize", "verify output", "ffmpeg produced an empty file", nil)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return Result{}, services.Wrap(services.ErrTransient, "normalize", "publish artifact", target, err)
	}
	committed = true
	return Result{Path: target, Converted: true}, nil
}

// Args builds the fixed ffmpeg argument list. Both paths must be absolute so
// neither can be parsed as an option.
func Args(input, output string) []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", input,
		"-map", "0:a:0",
		"-vn",
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		"-f", "ipod",
		output,
	}
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
