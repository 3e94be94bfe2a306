package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"voxpipe/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "normalize", "ffmpeg", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"normalize", "ffmpeg", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want services.Kind
	}{
		{"configuration", services.Wrap(services.ErrConfiguration, "daemon", "start", "no providers", nil), services.KindFatal},
		{"validation", services.Wrap(services.ErrValidation, "daemon", "request", "bad action", nil), services.KindTerminal},
		{"terminal", fmt.Errorf("outer: %w", services.ErrTerminal), services.KindTerminal},
		{"transient", services.Wrap(services.ErrTransient, "watcher", "probe", "not ready", errors.New("io")), services.KindTransient},
		{"deadline", fmt.Errorf("probe: %w", context.DeadlineExceeded), services.KindTransient},
		{"unmarked", errors.New("plain"), services.KindTransient},
	}
	for _, tc := range cases {
		if got := services.Classify(tc.err); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
	if services.IsFatal(nil) {
		t.Fatal("nil error must not be fatal")
	}
}
