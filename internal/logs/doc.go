// Package logs reads the role log files (watcher.log, daemon.log, cli.log)
// for `voxpipe logs`.
//
// Last returns the final lines of a file and the offset just past them.
// Follow streams lines appended after an offset, waking on filesystem events
// and falling back to a short poll. A truncated or rotated file restarts from
// the beginning.
package logs
