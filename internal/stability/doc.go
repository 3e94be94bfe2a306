// Package stability decides when a file in the watched directory has finished
// arriving.
//
// Cloud-synced folders materialize files in pieces, so a file is only handed
// to the rest of the pipeline once its size and modification time have stayed
// unchanged for a quiet period, it has been known for a minimum age, and a
// number of spaced-out confirmation checks have agreed. Zero-byte files are
// never considered stable.
//
// State lives in a Table owned by the caller and passed into each poll; the
// package holds no globals, so tests can drive it with a synthetic clock.
package stability
