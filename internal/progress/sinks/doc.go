// Package sinks implements progress consumers: Prometheus collectors and a
// structured zap log.
package sinks
