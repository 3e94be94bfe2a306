package preflight

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"voxpipe/internal/config"
	"voxpipe/internal/services"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckSameVolume(t *testing.T) {
	base := t.TempDir()
	a := filepath.Join(base, "requests")
	b := filepath.Join(a, ".inflight")
	if err := os.MkdirAll(b, 0o755); err != nil {
		t.Fatal(err)
	}
	if result := CheckSameVolume("claim", a, b); !result.Passed {
		t.Fatalf("expected same volume, got: %s", result.Detail)
	}
	if result := CheckSameVolume("claim", a, filepath.Join(base, "missing")); result.Passed {
		t.Fatal("expected failure for missing path")
	}
}

func TestCheckProviders(t *testing.T) {
	cfg := config.Default()
	if result := CheckProviders(&cfg); result.Passed {
		t.Fatal("expected failure without keys")
	}
	cfg.Providers.OpenAI.APIKey = "k"
	result := CheckProviders(&cfg)
	if !result.Passed || result.Detail != "openai" {
		t.Fatalf("unexpected provider result: %+v", result)
	}
}

func TestCheckProviderEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" || r.Header.Get("Authorization") != "Bearer good-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if result := CheckProviderEndpoint(context.Background(), "groq", srv.URL+"/v1/", "good-key"); !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
	if result := CheckProviderEndpoint(context.Background(), "groq", srv.URL+"/v1", "bad-key"); result.Passed {
		t.Fatal("expected failure for bad key")
	}
	if result := CheckProviderEndpoint(context.Background(), "groq", "", "key"); result.Passed {
		t.Fatal("expected failure for missing URL")
	}
}

func TestRunDaemonAndFailed(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Daemon.RequestsDir = filepath.Join(base, "requests")
	cfg.Daemon.InflightDir = filepath.Join(base, "requests", ".inflight")
	cfg.Daemon.ResultsDir = filepath.Join(base, "results")
	cfg.Daemon.CacheDir = filepath.Join(base, "cache")
	for _, dir := range []string{cfg.Daemon.InflightDir, cfg.Daemon.ResultsDir, cfg.Daemon.CacheDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	if err := Failed(RunDaemon(&cfg)); err != nil {
		t.Fatalf("expected all checks to pass: %v", err)
	}

	cfg.Daemon.ResultsDir = filepath.Join(base, "missing")
	err := Failed(RunDaemon(&cfg))
	if err == nil || !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error for missing results dir, got %v", err)
	}
}
