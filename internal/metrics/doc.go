// Package metrics exposes Prometheus collectors for the relay. Callers use the
// small recording helpers; the gateway mounts Handler when metrics are enabled.
package metrics
