// Command voxpipe is the operator CLI for the ingestion pipeline.
//
// It runs the watcher (one-shot scan or continuous watch), inspects and
// repairs the ingest queue, hands pending items to the remote daemon through
// the shared exchange (submit, collect, remote status and cancel), runs the
// daemon in the foreground, and prints the audit trail.
package main
