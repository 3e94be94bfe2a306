package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
	ErrTerminal      = errors.New("terminal failure")
)

// Kind groups failures by how the caller should react to them.
type Kind string

const (
	// KindTransient failures are deferred and retried on a later cycle.
	KindTransient Kind = "transient"
	// KindFatal failures stop the process at startup.
	KindFatal Kind = "fatal"
	// KindTerminal failures are recorded against the item and not retried.
	KindTerminal Kind = "terminal"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps an error to the reaction expected from the pipeline.
// Unmarked errors are treated as transient.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindTransient
	case errors.Is(err, ErrConfiguration):
		return KindFatal
	case errors.Is(err, ErrTerminal), errors.Is(err, ErrValidation):
		return KindTerminal
	case errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	default:
		return KindTransient
	}
}

// IsFatal reports whether err must abort startup.
func IsFatal(err error) bool {
	return err != nil && Classify(err) == KindFatal
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
