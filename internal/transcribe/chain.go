package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"voxpipe/internal/services"
)

// ErrExhausted is returned when every provider used up its attempts.
var ErrExhausted = errors.New("all transcription providers exhausted")

// ErrEmptyTranscript marks a call that succeeded without returning any text.
// It counts as a failed attempt.
var ErrEmptyTranscript = errors.New("empty transcript")

// Attempt describes one provider call.
type Attempt struct {
	Provider string
	Number   int
	Elapsed  time.Duration
	Err      error
	Request  Request
}

// Outcome describes a successful transcription.
type Outcome struct {
	Provider string
	Text     string
	Attempts int
}

// Chain tries providers in order with a fixed retry budget per provider.
type Chain struct {
	providers   []Provider
	maxAttempts int
	delay       time.Duration
	timeout     time.Duration
	sleep       func(context.Context, time.Duration) error
	observe     func(Attempt)
	now         func() time.Time
}

// ChainOption customizes a Chain.
type ChainOption func(*Chain)

// WithMaxAttempts sets attempts per provider.
func WithMaxAttempts(n int) ChainOption {
	return func(c *Chain) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithRetryDelay sets the fixed pause between attempts on the same provider.
func WithRetryDelay(d time.Duration) ChainOption {
	return func(c *Chain) {
		if d >= 0 {
			c.delay = d
		}
	}
}

// WithCallTimeout bounds each provider call. Zero disables the bound.
func WithCallTimeout(d time.Duration) ChainOption {
	return func(c *Chain) {
		c.timeout = d
	}
}

// WithSleeper overrides how retry pauses are performed (useful for tests).
func WithSleeper(sleep func(context.Context, time.Duration) error) ChainOption {
	return func(c *Chain) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// WithObserver receives every attempt, successful or not.
func WithObserver(observe func(Attempt)) ChainOption {
	return func(c *Chain) {
		c.observe = observe
	}
}

// NewChain validates the provider list.
func NewChain(providers []Provider, opts ...ChainOption) (*Chain, error) {
	if len(providers) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "transcribe", "chain", "no providers configured", nil)
	}
	c := &Chain{
		providers:   append([]Provider(nil), providers...),
		maxAttempts: 3,
		delay:       2 * time.Second,
		sleep:       sleepContext,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Providers returns provider names in fallback order.
func (c *Chain) Providers() []string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return names
}

// Transcribe returns the first successful result. A provider that answers
// with a non-retryable error forfeits its remaining attempts.
func (c *Chain) Transcribe(ctx context.Context, req Request) (Outcome, error) {
	var failures []string
	total := 0
	for _, provider := range c.providers {
		for attempt := 1; attempt <= c.maxAttempts; attempt++ {
			if err := ctx.Err(); err != nil {
				return Outcome{}, err
			}
			total++
			text, err := c.call(ctx, provider, req, attempt)
			if err == nil {
				return Outcome{Provider: provider.Name(), Text: text, Attempts: total}, nil
			}
			if ctx.Err() != nil {
				return Outcome{}, ctx.Err()
			}
			failures = append(failures, fmt.Sprintf("%s#%d: %v", provider.Name(), attempt, err))
			if errors.Is(err, services.ErrTerminal) || errors.Is(err, services.ErrConfiguration) || errors.Is(err, services.ErrNotFound) {
				break
			}
			if attempt < c.maxAttempts && c.delay > 0 {
				if err := c.sleep(ctx, c.delay); err != nil {
					return Outcome{}, err
				}
			}
		}
	}
	return Outcome{}, fmt.Errorf("%w: %s", ErrExhausted, strings.Join(failures, "; "))
}

func (c *Chain) call(ctx context.Context, provider Provider, req Request, attempt int) (string, error) {
	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	start := c.now()
	text, err := provider.Transcribe(callCtx, req)
	if err == nil && strings.TrimSpace(text) == "" {
		err = services.Wrap(services.ErrTransient, "transcribe", provider.Name(), "provider returned no text", ErrEmptyTranscript)
	}
	if c.observe != nil {
		c.observe(Attempt{Provider: provider.Name(), Number: attempt, Elapsed: c.now().Sub(start), Err: err, Request: req})
	}
	return text, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
