package ffprobe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ErrUnprobeable marks files ffprobe ran against but could not read as audio
// with a usable duration. Callers treat it as a per-file failure, not a fatal one.
var ErrUnprobeable = errors.New("unprobeable media")

// Result represents the parsed output from an ffprobe inspection.
type Result struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

// Stream describes a single stream in the media container.
type Stream struct {
	Index      int    `json:"index"`
	CodecName  string `json:"codec_name"`
	CodecType  string `json:"codec_type"`
	Duration   string `json:"duration"`
	SampleRate string `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// Format captures container-level metadata extracted by ffprobe.
type Format struct {
	Filename   string `json:"filename"`
	NBStreams  int    `json:"nb_streams"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
	FormatName string `json:"format_name"`
}

// Info is the subset of probe data the pipeline acts on.
type Info struct {
	Duration   time.Duration
	Codec      string
	FormatName string
	SampleRate int
	Channels   int
}

// Seconds returns the duration as fractional seconds.
func (i Info) Seconds() float64 {
	return i.Duration.Seconds()
}

// Prober validates media files. Implementations must honour ctx cancellation.
type Prober interface {
	Probe(ctx context.Context, path string) (Info, error)
}

// CLI runs the ffprobe binary, bounding every call by Timeout.
type CLI struct {
	Binary  string
	Timeout time.Duration
}

// Probe inspects path and requires at least one audio stream with a positive duration.
func (c CLI) Probe(ctx context.Context, path string) (Info, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	result, err := Inspect(ctx, c.Binary, path)
	if err != nil {
		return Info{}, err
	}
	return result.AudioInfo()
}

// Inspect executes ffprobe against the provided path and decodes the JSON response.
// A missing binary surfaces as exec.ErrNotFound; a file ffprobe rejects
// surfaces as ErrUnprobeable.
func Inspect(ctx context.Context, binary string, path string) (Result, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffprobe"
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return Result{}, errors.New("ffprobe inspect: empty path")
	}

	cmd := exec.CommandContext(ctx, binary, "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	output, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, fmt.Errorf("ffprobe inspect %s: %w", path, ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Result{}, fmt.Errorf("%w: ffprobe %s: %s", ErrUnprobeable, path, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return Result{}, fmt.Errorf("ffprobe inspect: %w", err)
	}

	var result Result
	if err := json.Unmarshal(output, &result); err != nil {
		return Result{}, fmt.Errorf("%w: ffprobe parse: %v", ErrUnprobeable, err)
	}
	return result, nil
}

// AudioStreamCount returns the number of audio streams discovered.
func (r Result) AudioStreamCount() int {
	count := 0
	for _, stream := range r.Streams {
		if strings.EqualFold(stream.CodecType, "audio") {
			count++
		}
	}
	return count
}

// DurationSeconds returns the container duration in seconds, falling back to
// the first audio stream. Returns 0 when unavailable and NaN when unparseable.
func (r Result) DurationSeconds() float64 {
	if d := parseFloat(r.Format.Duration); d != 0 {
		return d
	}
	for _, stream := range r.Streams {
		if strings.EqualFold(stream.CodecType, "audio") {
			return parseFloat(stream.Duration)
		}
	}
	return 0
}

// SizeBytes returns the reported container size in bytes, or 0 when unavailable.
func (r Result) SizeBytes() int64 {
	size := parseFloat(r.Format.Size)
	if math.IsNaN(size) || size < 0 {
		return 0
	}
	return int64(size)
}

// AudioInfo validates the result and extracts the fields used downstream.
func (r Result) AudioInfo() (Info, error) {
	var audio *Stream
	for i := range r.Streams {
		if strings.EqualFold(r.Streams[i].CodecType, "audio") {
			audio = &r.Streams[i]
			break
		}
	}
	if audio == nil {
		return Info{}, fmt.Errorf("%w: no audio stream", ErrUnprobeable)
	}
	seconds := r.DurationSeconds()
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds <= 0 {
		return Info{}, fmt.Errorf("%w: no usable duration", ErrUnprobeable)
	}
	rate, _ := strconv.Atoi(strings.TrimSpace(audio.SampleRate))
	return Info{
		Duration:   time.Duration(seconds * float64(time.Second)),
		Codec:      audio.CodecName,
		FormatName: r.Format.FormatName,
		SampleRate: rate,
		Channels:   audio.Channels,
	}, nil
}

func parseFloat(value string) float64 {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" || cleaned == "N/A" {
		return 0
	}
	if parsed, err := strconv.ParseFloat(cleaned, 64); err == nil {
		return parsed
	}
	return math.NaN()
}
