package ffprobe

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestResultHelpers(t *testing.T) {
	result := Result{
		Streams: []Stream{
			{CodecType: "audio", CodecName: "aac", SampleRate: "48000", Channels: 1},
			{CodecType: "data"},
		},
		Format: Format{Duration: "123.45", Size: "1000", FormatName: "mov,mp4,m4a"},
	}
	if result.AudioStreamCount() != 1 {
		t.Fatalf("expected 1 audio stream, got %d", result.AudioStreamCount())
	}
	if result.DurationSeconds() != 123.45 {
		t.Fatalf("unexpected duration: %v", result.DurationSeconds())
	}
	if result.SizeBytes() != 1000 {
		t.Fatalf("unexpected size: %d", result.SizeBytes())
	}
	info, err := result.AudioInfo()
	if err != nil {
		t.Fatalf("AudioInfo: %v", err)
	}
	if info.Codec != "aac" || info.SampleRate != 48000 || info.Channels != 1 {
		t.Fatalf("unexpected info: %+v", info)
	}
	if info.Duration != 123450*time.Millisecond {
		t.Fatalf("unexpected duration: %s", info.Duration)
	}
}

func TestDurationFallsBackToStream(t *testing.T) {
	result := Result{
		Streams: []Stream{{CodecType: "audio", Duration: "9.5"}},
		Format:  Format{Duration: "N/A"},
	}
	if result.DurationSeconds() != 9.5 {
		t.Fatalf("expected stream duration, got %v", result.DurationSeconds())
	}
}

func TestAudioInfoRejectsUnusableMedia(t *testing.T) {
	cases := map[string]Result{
		"no audio":     {Streams: []Stream{{CodecType: "video"}}, Format: Format{Duration: "10"}},
		"zero length":  {Streams: []Stream{{CodecType: "audio"}}, Format: Format{Duration: "0"}},
		"bad duration": {Streams: []Stream{{CodecType: "audio"}}, Format: Format{Duration: "bad"}},
	}
	for name, result := range cases {
		if _, err := result.AudioInfo(); !errors.Is(err, ErrUnprobeable) {
			t.Fatalf("%s: expected ErrUnprobeable, got %v", name, err)
		}
	}
	if !math.IsNaN(parseFloat("bad")) {
		t.Fatal("expected NaN for unparseable value")
	}
}

func writeStub(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffprobe")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func TestCLIProbeParsesStubOutput(t *testing.T) {
	stub := writeStub(t, `cat <<'JSON'
{"streams":[{"index":0,"codec_type":"audio","codec_name":"aac","sample_rate":"44100","channels":2}],"format":{"duration":"42.0","format_name":"mov,mp4,m4a"}}
JSON
`)
	info, err := CLI{Binary: stub, Timeout: 5 * time.Second}.Probe(context.Background(), "/tmp/memo.m4a")
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if info.Seconds() != 42 || info.Channels != 2 {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestCLIProbeNonZeroExitIsUnprobeable(t *testing.T) {
	stub := writeStub(t, "echo 'moov atom not found' >&2\nexit 1\n")
	_, err := CLI{Binary: stub}.Probe(context.Background(), "/tmp/partial.m4a")
	if !errors.Is(err, ErrUnprobeable) {
		t.Fatalf("expected ErrUnprobeable, got %v", err)
	}
}

func TestCLIProbeTimesOut(t *testing.T) {
	stub := writeStub(t, "exec sleep 5\n")
	start := time.Now()
	_, err := CLI{Binary: stub, Timeout: 100 * time.Millisecond}.Probe(context.Background(), "/tmp/slow.m4a")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatal("probe was not bounded by its timeout")
	}
}

func TestInspectMissingBinary(t *testing.T) {
	_, err := Inspect(context.Background(), filepath.Join(t.TempDir(), "nope"), "/tmp/x.m4a")
	if err == nil || errors.Is(err, ErrUnprobeable) {
		t.Fatalf("expected tool error distinct from unprobeable, got %v", err)
	}
}
