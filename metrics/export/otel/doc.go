// Package otel publishes shopGuard gate metrics through an OpenTelemetry
// Meter supplied by the caller.
//
// Each counter becomes an Int64ObservableCounter and each histogram bucket
// an Int64ObservableGauge; one callback reads the gate snapshot per
// collection cycle.
package otel
