// Package prometheus exposes shopGuard gate metrics as a
// prometheus.Collector.
//
// Counters are published as shopguard_*_total and verification latency as
// the shopguard_verify_latency_seconds histogram. The exporter never
// registers itself with the global registry; mount Handler or register the
// Exporter on a registry you own.
package prometheus
