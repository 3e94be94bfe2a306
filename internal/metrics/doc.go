// Package metrics exposes pipeline counters and histograms.
//
// Components depend on the Recorder interface; NoopRecorder is the default
// when no metrics listener is configured and PrometheusRecorder backs the
// daemon's optional /metrics endpoint.
package metrics
