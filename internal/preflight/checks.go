package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"voxpipe/internal/config"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSameVolume verifies that a and b share a device so rename(2) between
// them is atomic.
func CheckSameVolume(name, a, b string) Result {
	var sa, sb unix.Stat_t
	if err := unix.Stat(a, &sa); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", a, err)}
	}
	if err := unix.Stat(b, &sb); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", b, err)}
	}
	if sa.Dev != sb.Dev {
		return Result{Name: name, Detail: fmt.Sprintf("%s and %s are on different filesystems", a, b)}
	}
	return Result{Name: name, Passed: true, Detail: "same filesystem"}
}

// CheckProviders reports which transcription providers carry credentials.
func CheckProviders(cfg *config.Config) Result {
	const name = "Transcription providers"
	configured := cfg.ConfiguredProviders()
	if len(configured) == 0 {
		return Result{Name: name, Detail: "no API key configured (set GROQ_API_KEY or OPENAI_API_KEY)"}
	}
	return Result{Name: name, Passed: true, Detail: strings.Join(configured, " -> ")}
}

// CheckProviderEndpoint verifies that an OpenAI-compatible endpoint accepts
// the key by listing models.
func CheckProviderEndpoint(ctx context.Context, name, baseURL, apiKey string) Result {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return Result{Name: name, Detail: "missing base url"}
	}
	if strings.TrimSpace(apiKey) == "" {
		return Result{Name: name, Detail: "missing api key"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, base+"/models", nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("health check failed (%v)", err)}
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(apiKey))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Result{Name: name, Detail: summarizeNetError(err)}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return Result{Name: name, Passed: true, Detail: "API reachable"}
	case http.StatusUnauthorized, http.StatusForbidden:
		return Result{Name: name, Detail: "auth failed (invalid api key)"}
	default:
		return Result{Name: name, Detail: fmt.Sprintf("health check failed (%d)", resp.StatusCode)}
	}
}

func summarizeNetError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out (API unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (API unreachable)"
	}
	return err.Error()
}
