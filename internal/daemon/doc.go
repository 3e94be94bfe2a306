// Package daemon implements the remote processing daemon.
//
// The daemon polls a shared requests directory. It claims each request by
// renaming it into the in-flight directory, so only one daemon instance can
// own a request even when several share the exchange. A claimed request is
// validated, acted on (process, status or cancel) and answered with exactly
// one result file, after which the in-flight copy is removed. Requests left
// in flight by a crash are moved back on the next start; an existing result
// for the same identifier short-circuits reprocessing.
//
// Transcription runs through a transcribe.Chain, so every item gets a fixed
// retry budget per provider before falling back to the next one. Staged audio
// lands in a local cache that a scheduled job prunes by age. Every step is
// appended to the audit trail.
package daemon
