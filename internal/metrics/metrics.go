// Package metrics is the backend-neutral metrics surface used by the session
// controller and the loader.
//
// Core code depends only on Backend; concrete exporters (Datadog,
// Prometheus Pushgateway) live in sub-packages and are chosen by the CLI.
package metrics

import "time"

// Metric names. Exporters translate these into their own naming schemes.
const (
	OpsTotal          = "csvconf_ops_total"
	OpDurationSeconds = "csvconf_op_duration_seconds"
	SidecarWrites     = "csvconf_sidecar_writes_total"
	RowsTotal         = "csvconf_rows_total"
)

// Status label values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric updates. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Nop discards everything.
type Nop struct{}

func (Nop) IncCounter(string, float64, Labels)       {}
func (Nop) ObserveHistogram(string, float64, Labels) {}

// OrNop returns b, or Nop when b is nil.
func OrNop(b Backend) Backend {
	if b == nil {
		return Nop{}
	}
	return b
}

// Status maps an error to a status label.
func Status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusOK
}

// ObserveOp counts one operation and records its duration.
func ObserveOp(b Backend, op, status string, d time.Duration) {
	l := Labels{"op": op, "status": status}
	b.IncCounter(OpsTotal, 1, l)
	b.ObserveHistogram(OpDurationSeconds, d.Seconds(), l)
}

// IncSidecarWrite counts one sidecar write attempt.
func IncSidecarWrite(b Backend, status string) {
	b.IncCounter(SidecarWrites, 1, Labels{"status": status})
}

// AddRows counts rows by kind ("preview", "loaded", "null").
func AddRows(b Backend, kind string, n int) {
	if n <= 0 {
		return
	}
	b.IncCounter(RowsTotal, float64(n), Labels{"kind": kind})
}
