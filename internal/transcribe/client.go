package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"voxpipe/internal/config"
	"voxpipe/internal/services"
)

const (
	defaultHTTPTimeout = 120 * time.Second
	maxErrorBody       = 2048
	groqFastModel      = "whisper-large-v3-turbo"
)

// Quality tiers accepted on a request.
const (
	QualityStandard = "standard"
	QualityFast     = "fast"
)

// Request describes one file to transcribe. RequestID and ItemID only label
// attempts for observers.
type Request struct {
	Path      string
	Quality   string
	RequestID string
	ItemID    string
}

// Provider transcribes audio files.
type Provider interface {
	Name() string
	Transcribe(ctx context.Context, req Request) (string, error)
}

// Config captures the settings for one OpenAI-compatible endpoint.
type Config struct {
	Name      string
	APIKey    string
	BaseURL   string
	Model     string
	FastModel string
}

// Client calls {BaseURL}/audio/transcriptions.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a provider client.
func NewClient(cfg Config, opts ...Option) *Client {
	client := &Client{
		cfg: Config{
			Name:      strings.TrimSpace(cfg.Name),
			APIKey:    strings.TrimSpace(cfg.APIKey),
			BaseURL:   strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
			Model:     strings.TrimSpace(cfg.Model),
			FastModel: strings.TrimSpace(cfg.FastModel),
		},
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Name returns the provider label recorded in results and audit entries.
func (c *Client) Name() string {
	return c.cfg.Name
}

type statusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s transcription: http %d: %s", e.Provider, e.StatusCode, strings.TrimSpace(e.Body))
}

// retryable reports whether another attempt against the same provider can help.
func (e *statusError) retryable() bool {
	switch e.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden,
		http.StatusNotFound, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType:
		return false
	default:
		return true
	}
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe uploads the file and returns the recognized text.
func (c *Client) Transcribe(ctx context.Context, req Request) (string, error) {
	if c.cfg.APIKey == "" {
		return "", services.Wrap(services.ErrConfiguration, "transcribe", c.cfg.Name, "api key required", nil)
	}
	body, contentType, err := c.buildBody(req)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/audio/transcriptions", body)
	if err != nil {
		return "", fmt.Errorf("%s transcription: build request: %w", c.cfg.Name, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", services.Wrap(services.ErrTimeout, "transcribe", c.cfg.Name, "request cancelled", ctxErr)
		}
		return "", services.Wrap(services.ErrTransient, "transcribe", c.cfg.Name, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		statusErr := &statusError{Provider: c.cfg.Name, StatusCode: resp.StatusCode, Body: string(snippet)}
		if !statusErr.retryable() {
			return "", fmt.Errorf("%w: %w", services.ErrTerminal, statusErr)
		}
		return "", fmt.Errorf("%w: %w", services.ErrTransient, statusErr)
	}

	var parsed transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", services.Wrap(services.ErrTransient, "transcribe", c.cfg.Name, "decode response", err)
	}
	text := strings.TrimSpace(parsed.Text)
	if text == "" {
		return "", services.Wrap(services.ErrTransient, "transcribe", c.cfg.Name, "provider returned no text", ErrEmptyTranscript)
	}
	return text, nil
}

func (c *Client) model(quality string) string {
	if quality == QualityFast && c.cfg.FastModel != "" {
		return c.cfg.FastModel
	}
	return c.cfg.Model
}

func (c *Client) buildBody(req Request) (io.Reader, string, error) {
	file, err := os.Open(req.Path)
	if err != nil {
		return nil, "", services.Wrap(services.ErrNotFound, "transcribe", c.cfg.Name, "open audio", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("model", c.model(req.Quality)); err != nil {
		return nil, "", fmt.Errorf("%s transcription: write model field: %w", c.cfg.Name, err)
	}
	if err := writer.WriteField("response_format", "json"); err != nil {
		return nil, "", fmt.Errorf("%s transcription: write format field: %w", c.cfg.Name, err)
	}
	part, err := writer.CreateFormFile("file", filepath.Base(req.Path))
	if err != nil {
		return nil, "", fmt.Errorf("%s transcription: create file part: %w", c.cfg.Name, err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", fmt.Errorf("%s transcription: read audio: %w", c.cfg.Name, err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("%s transcription: close body: %w", c.cfg.Name, err)
	}
	return &buf, writer.FormDataContentType(), nil
}

// ProvidersFromConfig builds clients for every credentialed provider in
// fallback order. An empty result is a configuration error.
func ProvidersFromConfig(cfg *config.Config, opts ...Option) ([]Provider, error) {
	if cfg == nil {
		return nil, errors.New("providers from config: config is nil")
	}
	names := cfg.ConfiguredProviders()
	if len(names) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "transcribe", "providers", "no transcription provider has an API key (set GROQ_API_KEY or OPENAI_API_KEY)", nil)
	}
	out := make([]Provider, 0, len(names))
	for _, name := range names {
		settings, _ := cfg.Provider(name)
		pc := Config{
			Name:    name,
			APIKey:  settings.APIKey,
			BaseURL: settings.BaseURL,
			Model:   settings.Model,
		}
		if name == config.ProviderGroq {
			pc.FastModel = groqFastModel
		}
		out = append(out, NewClient(pc, opts...))
	}
	return out, nil
}
