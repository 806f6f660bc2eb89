// Package prompush is a metrics.Backend that records into a private
// Prometheus registry and pushes it to a Pushgateway.
//
// csvconf runs as a short-lived command, so nothing scrapes it; the
// registry is pushed on Flush and once more on Close.
package prompush

import (
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"csvconf/internal/metrics"
)

// Options configures New.
type Options struct {
	// URL of the Pushgateway, e.g. http://localhost:9091. Required.
	URL string
	// Job is the grouping job label. Defaults to "csvconf".
	Job string
	// Grouping adds extra grouping labels.
	Grouping map[string]string
}

// Backend implements metrics.Backend on a Prometheus registry.
type Backend struct {
	reg    *prometheus.Registry
	pusher *push.Pusher

	ops     *prometheus.CounterVec
	opDur   *prometheus.HistogramVec
	sidecar *prometheus.CounterVec
	rows    *prometheus.CounterVec

	closeMu sync.Mutex
	closed  bool
}

// New builds the registry and pusher. Nothing is sent until Flush or Close.
func New(opts Options) (*Backend, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, fmt.Errorf("prompush: pushgateway url is required")
	}
	job := opts.Job
	if job == "" {
		job = "csvconf"
	}

	b := &Backend{
		reg: prometheus.NewRegistry(),
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.OpsTotal,
			Help: "Session and load operations by op and status.",
		}, []string{"op", "status"}),
		opDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metrics.OpDurationSeconds,
			Help:    "Operation duration in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		}, []string{"op", "status"}),
		sidecar: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.SidecarWrites,
			Help: "Sidecar write attempts by status.",
		}, []string{"status"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RowsTotal,
			Help: "Rows read for preview or loaded, by kind.",
		}, []string{"kind"}),
	}
	b.reg.MustRegister(b.ops, b.opDur, b.sidecar, b.rows)

	p := push.New(opts.URL, job).Gatherer(b.reg)
	for k, v := range opts.Grouping {
		p = p.Grouping(k, v)
	}
	b.pusher = p
	return b, nil
}

// Registry exposes the underlying registry.
func (b *Backend) Registry() *prometheus.Registry { return b.reg }

func label(l metrics.Labels, key string) string {
	if v := l[key]; v != "" {
		return v
	}
	return "unknown"
}

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	switch name {
	case metrics.OpsTotal:
		b.ops.WithLabelValues(label(labels, "op"), label(labels, "status")).Add(delta)
	case metrics.SidecarWrites:
		b.sidecar.WithLabelValues(label(labels, "status")).Add(delta)
	case metrics.RowsTotal:
		b.rows.WithLabelValues(label(labels, "kind")).Add(delta)
	}
}

// ObserveHistogram implements metrics.Backend. Unknown names are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 || name != metrics.OpDurationSeconds {
		return
	}
	b.opDur.WithLabelValues(label(labels, "op"), label(labels, "status")).Observe(value)
}

// Flush pushes the registry, replacing the group's previous metrics.
func (b *Backend) Flush() error {
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: push: %w", err)
	}
	return nil
}

// Close pushes one final time. Later calls do nothing.
func (b *Backend) Close() error {
	b.closeMu.Lock()
	defer b.closeMu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.Flush()
}

var _ metrics.Backend = (*Backend)(nil)
