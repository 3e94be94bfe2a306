// Package ffprobe wraps the ffprobe CLI for audio validation.
//
// The watcher probes every stable file before hashing it; a file that ffprobe
// cannot read as audio with a positive duration is reported as ErrUnprobeable
// so the caller can defer it and eventually record it as failed. The Prober
// interface lets tests and the daemon substitute their own implementation.
package ffprobe
