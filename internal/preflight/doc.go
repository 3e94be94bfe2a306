// Package preflight provides readiness checks for the filesystem layout and
// the transcription providers voxpipe depends on.
//
// These checks run in two contexts:
//   - The watcher and the daemon call RunWatcher / RunDaemon at startup and
//     refuse to start when a required check fails.
//   - The CLI "voxpipe status" command renders the same results, plus the
//     provider reachability probes, as a health table.
package preflight
