package transcribe_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"voxpipe/internal/services"
	"voxpipe/internal/transcribe"
)

type scriptedProvider struct {
	name    string
	results []error
	text    string
	calls   int
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Transcribe(ctx context.Context, req transcribe.Request) (string, error) {
	idx := p.calls
	p.calls++
	if idx < len(p.results) && p.results[idx] != nil {
		return "", p.results[idx]
	}
	return p.text, nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestChainFallsBackAfterRetries(t *testing.T) {
	transient := errors.New("upstream 503")
	primary := &scriptedProvider{name: "groq", results: []error{transient, transient, transient}}
	secondary := &scriptedProvider{name: "openai", text: "fallback text"}

	var attempts []transcribe.Attempt
	var delays int
	chain, err := transcribe.NewChain(
		[]transcribe.Provider{primary, secondary},
		transcribe.WithMaxAttempts(3),
		transcribe.WithRetryDelay(2*time.Second),
		transcribe.WithSleeper(func(_ context.Context, d time.Duration) error {
			if d != 2*time.Second {
				t.Errorf("unexpected delay %s", d)
			}
			delays++
			return nil
		}),
		transcribe.WithObserver(func(a transcribe.Attempt) { attempts = append(attempts, a) }),
	)
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}

	out, err := chain.Transcribe(context.Background(), transcribe.Request{Path: "a.m4a"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if out.Provider != "openai" || out.Text != "fallback text" || out.Attempts != 4 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if primary.calls != 3 || secondary.calls != 1 {
		t.Fatalf("unexpected call counts: primary=%d secondary=%d", primary.calls, secondary.calls)
	}
	if delays != 2 {
		t.Fatalf("expected 2 delays between 3 attempts, got %d", delays)
	}
	if len(attempts) != 4 || attempts[0].Err == nil || attempts[3].Err != nil {
		t.Fatalf("unexpected observed attempts %+v", attempts)
	}
}

func TestChainTreatsEmptyTextAsFailedAttempt(t *testing.T) {
	primary := &scriptedProvider{name: "groq", text: "  "}
	secondary := &scriptedProvider{name: "openai", text: "spoken words"}

	var failed int
	chain, err := transcribe.NewChain(
		[]transcribe.Provider{primary, secondary},
		transcribe.WithMaxAttempts(2),
		transcribe.WithSleeper(noSleep),
		transcribe.WithObserver(func(a transcribe.Attempt) {
			if errors.Is(a.Err, transcribe.ErrEmptyTranscript) {
				failed++
			}
		}),
	)
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	out, err := chain.Transcribe(context.Background(), transcribe.Request{Path: "a.m4a"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if out.Provider != "openai" || out.Text != "spoken words" || out.Attempts != 3 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if primary.calls != 2 || secondary.calls != 1 || failed != 2 {
		t.Fatalf("expected two empty attempts before fallback, got primary=%d secondary=%d failed=%d", primary.calls, secondary.calls, failed)
	}
}

func TestChainSkipsRemainingAttemptsOnTerminalError(t *testing.T) {
	primary := &scriptedProvider{name: "groq", results: []error{services.Wrap(services.ErrTerminal, "transcribe", "groq", "http 401", nil)}}
	secondary := &scriptedProvider{name: "openai", text: "ok"}
	chain, err := transcribe.NewChain([]transcribe.Provider{primary, secondary}, transcribe.WithSleeper(noSleep))
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	out, err := chain.Transcribe(context.Background(), transcribe.Request{Path: "a.m4a"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if primary.calls != 1 || out.Provider != "openai" {
		t.Fatalf("expected single primary call then fallback, got calls=%d outcome=%+v", primary.calls, out)
	}
}

func TestChainExhausted(t *testing.T) {
	boom := errors.New("boom")
	primary := &scriptedProvider{name: "groq", results: []error{boom, boom}}
	secondary := &scriptedProvider{name: "openai", results: []error{boom, boom}}
	chain, err := transcribe.NewChain([]transcribe.Provider{primary, secondary}, transcribe.WithMaxAttempts(2), transcribe.WithSleeper(noSleep))
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	_, err = chain.Transcribe(context.Background(), transcribe.Request{Path: "a.m4a"})
	if !errors.Is(err, transcribe.ErrExhausted) {
		t.Fatalf("expected exhausted error, got %v", err)
	}
	if primary.calls != 2 || secondary.calls != 2 {
		t.Fatalf("unexpected call counts %d/%d", primary.calls, secondary.calls)
	}
}

func TestChainStopsOnCancelledContext(t *testing.T) {
	primary := &scriptedProvider{name: "groq", text: "never"}
	chain, err := transcribe.NewChain([]transcribe.Provider{primary})
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := chain.Transcribe(ctx, transcribe.Request{Path: "a.m4a"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if primary.calls != 0 {
		t.Fatalf("expected no provider calls, got %d", primary.calls)
	}
}

func TestNewChainRequiresProviders(t *testing.T) {
	if _, err := transcribe.NewChain(nil); !services.IsFatal(err) {
		t.Fatalf("expected fatal configuration error, got %v", err)
	}
}
