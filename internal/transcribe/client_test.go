package transcribe_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"voxpipe/internal/config"
	"voxpipe/internal/services"
	"voxpipe/internal/transcribe"
)

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "0123456789ab.m4a")
	if err := os.WriteFile(path, []byte("fake-audio"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	return path
}

func TestClientTranscribeSendsMultipart(t *testing.T) {
	var gotModel, gotFile, gotAuth, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		gotModel = r.FormValue("model")
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			data, _ := io.ReadAll(file)
			gotFile = string(data)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"  hello world  "}`))
	}))
	defer server.Close()

	client := transcribe.NewClient(transcribe.Config{
		Name:      "groq",
		APIKey:    "secret",
		BaseURL:   server.URL + "/openai/v1/",
		Model:     "whisper-large-v3",
		FastModel: "whisper-large-v3-turbo",
	})
	text, err := client.Transcribe(context.Background(), transcribe.Request{Path: writeAudio(t), Quality: transcribe.QualityFast})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello world" {
		t.Fatalf("unexpected text %q", text)
	}
	if gotPath != "/openai/v1/audio/transcriptions" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotModel != "whisper-large-v3-turbo" {
		t.Fatalf("expected fast model, got %q", gotModel)
	}
	if gotFile != "fake-audio" {
		t.Fatalf("unexpected uploaded body %q", gotFile)
	}
}

func TestClientClassifiesStatusErrors(t *testing.T) {
	status := http.StatusUnauthorized
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", status)
	}))
	defer server.Close()

	client := transcribe.NewClient(transcribe.Config{Name: "openai", APIKey: "k", BaseURL: server.URL, Model: "whisper-1"})
	audio := writeAudio(t)

	_, err := client.Transcribe(context.Background(), transcribe.Request{Path: audio})
	if !errors.Is(err, services.ErrTerminal) {
		t.Fatalf("expected terminal error for 401, got %v", err)
	}

	status = http.StatusTooManyRequests
	_, err = client.Transcribe(context.Background(), transcribe.Request{Path: audio})
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error for 429, got %v", err)
	}
}

func TestClientRejectsEmptyText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"   "}`))
	}))
	defer server.Close()

	client := transcribe.NewClient(transcribe.Config{Name: "groq", APIKey: "k", BaseURL: server.URL, Model: "whisper-large-v3"})
	_, err := client.Transcribe(context.Background(), transcribe.Request{Path: writeAudio(t)})
	if !errors.Is(err, transcribe.ErrEmptyTranscript) || !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient empty transcript error, got %v", err)
	}
}

func TestClientRequiresKeyAndFile(t *testing.T) {
	client := transcribe.NewClient(transcribe.Config{Name: "groq", BaseURL: "http://127.0.0.1:1"})
	if _, err := client.Transcribe(context.Background(), transcribe.Request{Path: "x"}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	client = transcribe.NewClient(transcribe.Config{Name: "groq", APIKey: "k", BaseURL: "http://127.0.0.1:1"})
	_, err := client.Transcribe(context.Background(), transcribe.Request{Path: filepath.Join(t.TempDir(), "missing.m4a")})
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestProvidersFromConfig(t *testing.T) {
	cfg := config.Default()
	if _, err := transcribe.ProvidersFromConfig(&cfg); !services.IsFatal(err) {
		t.Fatalf("expected fatal configuration error without keys, got %v", err)
	}

	cfg.Providers.Groq.APIKey = "g"
	cfg.Providers.OpenAI.APIKey = "o"
	providers, err := transcribe.ProvidersFromConfig(&cfg)
	if err != nil {
		t.Fatalf("ProvidersFromConfig: %v", err)
	}
	if len(providers) != 2 || providers[0].Name() != "groq" || providers[1].Name() != "openai" {
		t.Fatalf("unexpected providers order")
	}
}
