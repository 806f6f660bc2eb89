// Package datadog implements a Datadog backend for the internal/metrics package.
//
// Updates are buffered in memory under a mutex. A background loop submits the
// buffer every FlushEvery and Close submits whatever is left, so a long
// `csvconf watch` produces a time series while a one-shot `csvconf load`
// still reports once at exit.
//
// Flush snapshots and resets the buffers under the lock, then submits outside
// it. If the process is killed before Close, the last window is lost.
package datadog

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"csvconf/internal/metrics"
)

// Series names submitted to Datadog.
const (
	seriesOps      = "csvconf.ops.total"
	seriesOpDur    = "csvconf.op.duration_seconds"
	seriesSidecar  = "csvconf.sidecar.writes.total"
	seriesRows     = "csvconf.rows.total"
	defaultJobName = "csvconf"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric. Defaults to "csvconf".
	JobName string

	// Tags are extra Datadog tags (e.g. []string{"team:gis"}).
	Tags []string

	// FlushEvery controls how often buffered metrics are submitted.
	// If <= 0, defaults to 60 seconds.
	FlushEvery time.Duration

	// Unexported test seams.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the part of *datadogV2.MetricsApi the backend uses.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// opKey identifies one operation series.
type opKey struct {
	op, status string
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}
	closeOnce  sync.Once

	baseTags []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu sync.Mutex

	opCounts    map[opKey]float64
	opDurations map[opKey][]float64
	sidecar     map[string]float64 // status -> writes
	rows        map[string]float64 // kind -> rows
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

// NewBackend constructs a Datadog backend using the official client and
// starts its flush loop. Credentials and site come from the client's usual
// environment variables (DD_API_KEY, DD_SITE).
//
// Edge cases:
//   - If opts.FlushEvery <= 0, defaults to 60s.
//   - If opts.JobName is empty, defaults to "csvconf".
//   - Environment tag selection uses ENV then DD_ENV, otherwise env:unknown.
//
// Network errors surface from Flush and Close, never from NewBackend.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	if parent == nil {
		return nil, wrapInitErr(fmt.Errorf("nil context"))
	}
	job := opts.JobName
	if job == "" {
		job = defaultJobName
	}
	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}
	submitter := opts.submitter
	if submitter == nil {
		submitter = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
	}

	b := &Backend{
		api:         submitter,
		ctx:         dd.NewDefaultContext(parent),
		flushEvery:  flushEvery,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		baseTags:    baseTags,
		now:         nowFn,
		newTicker:   newTicker,
		opCounts:    make(map[opKey]float64),
		opDurations: make(map[opKey][]float64),
		sidecar:     make(map[string]float64),
		rows:        make(map[string]float64),
	}
	go b.loop()
	return b, nil
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the flush loop and performs one final Flush. Later calls only
// flush.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		close(b.stopCh)
		<-b.doneCh
	})
	return b.Flush()
}

func labelOr(l metrics.Labels, key, def string) string {
	if v := l[key]; v != "" {
		return v
	}
	return def
}

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.OpsTotal:
		k := opKey{op: labelOr(labels, "op", "unknown"), status: labelOr(labels, "status", "unknown")}
		b.opCounts[k] += delta
	case metrics.SidecarWrites:
		b.sidecar[labelOr(labels, "status", "unknown")] += delta
	case metrics.RowsTotal:
		kind := labels["kind"]
		if kind == "" {
			return
		}
		b.rows[kind] += delta
	}
}

// ObserveHistogram implements metrics.Backend. Unknown names are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 || name != metrics.OpDurationSeconds {
		return
	}
	k := opKey{op: labelOr(labels, "op", "unknown"), status: labelOr(labels, "status", "unknown")}

	b.mu.Lock()
	b.opDurations[k] = append(b.opDurations[k], value)
	b.mu.Unlock()
}

// snapshot is the buffered state detached by Flush.
type snapshot struct {
	opCounts    map[opKey]float64
	opDurations map[opKey][]float64
	sidecar     map[string]float64
	rows        map[string]float64
}

func (b *Backend) snapshotAndReset() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := snapshot{
		opCounts:    b.opCounts,
		opDurations: b.opDurations,
		sidecar:     b.sidecar,
		rows:        b.rows,
	}
	b.opCounts = make(map[opKey]float64)
	b.opDurations = make(map[opKey][]float64)
	b.sidecar = make(map[string]float64)
	b.rows = make(map[string]float64)
	return s
}

func (s snapshot) isEmpty() bool {
	return len(s.opCounts) == 0 && len(s.opDurations) == 0 && len(s.sidecar) == 0 && len(s.rows) == 0
}

// Flush submits buffered metrics and resets the buffers. It returns nil
// without submitting when nothing was recorded. Buffers are reset even when
// submission fails.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}
	payload := datadogV2.MetricPayload{Series: b.buildSeries(snap, b.now().Unix())}
	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	if err != nil {
		return fmt.Errorf("datadog submit: %w", err)
	}
	return nil
}

// buildSeries turns a snapshot into series stamped at nowUnix. Output order
// is deterministic.
func (b *Backend) buildSeries(s snapshot, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, len(s.opCounts)+6*len(s.opDurations)+len(s.sidecar)+len(s.rows))

	for _, k := range sortedOpKeys(s.opCounts) {
		tags := withTags(b.baseTags, "op:"+k.op, "status:"+k.status)
		series = append(series, countSeries(seriesOps, s.opCounts[k], tags, nowUnix))
	}
	durKeys := make([]opKey, 0, len(s.opDurations))
	for k := range s.opDurations {
		durKeys = append(durKeys, k)
	}
	sortOpKeys(durKeys)
	for _, k := range durKeys {
		tags := withTags(b.baseTags, "op:"+k.op, "status:"+k.status)
		series = appendPercentiles(series, seriesOpDur, s.opDurations[k], tags, nowUnix)
	}
	for _, status := range sortedKeys(s.sidecar) {
		series = append(series, countSeries(seriesSidecar, s.sidecar[status], withTags(b.baseTags, "status:"+status), nowUnix))
	}
	for _, kind := range sortedKeys(s.rows) {
		series = append(series, countSeries(seriesRows, s.rows[kind], withTags(b.baseTags, "kind:"+kind), nowUnix))
	}
	return series
}

// appendPercentiles adds p50/p90/p95/p99/max/samples gauges for samples. It
// sorts a copy; an empty sample set adds nothing.
func appendPercentiles(series []datadogV2.MetricSeries, prefix string, samples []float64, tags []string, nowUnix int64) []datadogV2.MetricSeries {
	if len(samples) == 0 {
		return series
	}
	cp := append([]float64(nil), samples...)
	sort.Float64s(cp)

	return append(series,
		gaugeSeries(prefix+".p50", percentileNearestRank(cp, 0.50), tags, nowUnix),
		gaugeSeries(prefix+".p90", percentileNearestRank(cp, 0.90), tags, nowUnix),
		gaugeSeries(prefix+".p95", percentileNearestRank(cp, 0.95), tags, nowUnix),
		gaugeSeries(prefix+".p99", percentileNearestRank(cp, 0.99), tags, nowUnix),
		gaugeSeries(prefix+".max", cp[len(cp)-1], tags, nowUnix),
		gaugeSeries(prefix+".samples", float64(len(cp)), tags, nowUnix),
	)
}

func countSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_COUNT.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func gaugeSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_GAUGE.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func sortOpKeys(ks []opKey) {
	sort.Slice(ks, func(i, j int) bool {
		if ks[i].op != ks[j].op {
			return ks[i].op < ks[j].op
		}
		return ks[i].status < ks[j].status
	})
}

func sortedOpKeys(m map[opKey]float64) []opKey {
	ks := make([]opKey, 0, len(m))
	for k := range m {
		ks = append(ks, k)
	}
	sortOpKeys(ks)
	return ks
}

func sortedKeys(m map[string]float64) []string {
	ks := make([]string, 0, len(m))
	for k := range m {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return ks
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	out = append(out, extras...)
	return out
}

// percentileNearestRank expects s sorted ascending.
func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

var _ metrics.Backend = (*Backend)(nil)

// ParseTagsCSV parses comma-separated tags like "env:prod,team:gis".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func wrapInitErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("datadog metrics init: %w", err)
}
