package datadog

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"csvconf/internal/metrics"
)

// fakeSubmitter captures payloads submitted by Backend.Flush().
type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
	err      error
}

func (f *fakeSubmitter) SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, body)
	return datadogV2.IntakePayloadAccepted{}, nil, f.err
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeSubmitter) last() (datadogV2.MetricPayload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		return datadogV2.MetricPayload{}, false
	}
	return f.payloads[len(f.payloads)-1], true
}

func idleTicker(time.Duration) *time.Ticker { return time.NewTicker(24 * time.Hour) }

func newTestBackend(t *testing.T, fs *fakeSubmitter) *Backend {
	t.Helper()
	b, err := NewBackend(context.Background(), Options{
		JobName:   "job1",
		submitter: fs,
		now:       func() time.Time { return time.Unix(1000, 0) },
		newTicker: idleTicker,
	})
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func metricNames(p datadogV2.MetricPayload) []string {
	out := make([]string, 0, len(p.Series))
	for _, s := range p.Series {
		out = append(out, s.Metric)
	}
	return out
}

func TestResolveEnvTag(t *testing.T) {
	tests := []struct {
		name string
		env  string
		dd   string
		want string
	}{
		{name: "ENV_wins", env: "prod", dd: "stage", want: "env:prod"},
		{name: "DD_ENV_used_when_ENV_empty", env: "", dd: "stage", want: "env:stage"},
		{name: "whitespace_ignored", env: "   ", dd: "\n\t", want: "env:unknown"},
		{name: "default_unknown", env: "", dd: "", want: "env:unknown"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("ENV", tc.env)
			t.Setenv("DD_ENV", tc.dd)
			if got := resolveEnvTag(); got != tc.want {
				t.Fatalf("resolveEnvTag()=%q, want %q", got, tc.want)
			}
		})
	}
}

func TestWrapInitErr(t *testing.T) {
	if got := wrapInitErr(nil); got != nil {
		t.Fatalf("wrapInitErr(nil)=%v, want nil", got)
	}
	in := errors.New("boom")
	got := wrapInitErr(in)
	if !errors.Is(got, in) || !strings.HasPrefix(got.Error(), "datadog metrics init:") {
		t.Fatalf("wrapInitErr(err)=%v", got)
	}
}

func TestPercentileNearestRank(t *testing.T) {
	t.Parallel()

	s := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	tests := []struct {
		p    float64
		want float64
	}{
		{0, 1},
		{0.5, 6},
		{0.9, 9},
		{0.99, 10},
		{1, 10},
	}
	for _, tt := range tests {
		if got := percentileNearestRank(s, tt.p); got != tt.want {
			t.Fatalf("p%.2f = %v, want %v", tt.p, got, tt.want)
		}
	}
	if got := percentileNearestRank(nil, 0.5); got != 0 {
		t.Fatalf("empty = %v, want 0", got)
	}
}

func TestAppendPercentiles(t *testing.T) {
	t.Parallel()

	samples := []float64{0.3, 0.1, 0.2}
	got := appendPercentiles(nil, "x", samples, []string{"op:open"}, 42)
	if len(got) != 6 {
		t.Fatalf("series = %d, want 6", len(got))
	}
	if got[4].Metric != "x.max" || *got[4].Points[0].Value != 0.3 {
		t.Fatalf("max series = %s %v", got[4].Metric, *got[4].Points[0].Value)
	}
	if got[5].Metric != "x.samples" || *got[5].Points[0].Value != 3 {
		t.Fatalf("samples series = %s %v", got[5].Metric, *got[5].Points[0].Value)
	}
	if samples[0] != 0.3 {
		t.Fatalf("input samples were sorted in place")
	}
	if len(appendPercentiles(nil, "x", nil, nil, 0)) != 0 {
		t.Fatalf("empty samples produced series")
	}
}

func TestNewBackend_Defaults(t *testing.T) {
	b, err := NewBackend(context.Background(), Options{
		Tags:      []string{"team:gis"},
		submitter: &fakeSubmitter{},
		newTicker: idleTicker,
	})
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { _ = b.Close() }()

	if !contains(b.baseTags, "job:csvconf") || !contains(b.baseTags, "team:gis") {
		t.Fatalf("baseTags = %v", b.baseTags)
	}
	if b.flushEvery != 60*time.Second {
		t.Fatalf("flushEvery=%s, want 60s", b.flushEvery)
	}
}

func TestFlush_SubmitsAndResets(t *testing.T) {
	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs)

	metrics.ObserveOp(b, "open", metrics.StatusOK, 500*time.Millisecond)
	metrics.ObserveOp(b, "edit", metrics.StatusError, time.Millisecond)
	metrics.IncSidecarWrite(b, metrics.StatusOK)
	metrics.AddRows(b, "preview", 11)
	b.IncCounter("unrelated_total", 1, nil)

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v", err)
	}
	if fs.count() != 1 {
		t.Fatalf("submit calls=%d, want 1", fs.count())
	}
	if !b.snapshotAndReset().isEmpty() {
		t.Fatalf("buffers not reset after Flush")
	}

	payload, _ := fs.last()
	want := []string{
		"csvconf.ops.total", // edit/error
		"csvconf.ops.total", // open/ok
		"csvconf.op.duration_seconds.p50",
		"csvconf.op.duration_seconds.p90",
		"csvconf.op.duration_seconds.p95",
		"csvconf.op.duration_seconds.p99",
		"csvconf.op.duration_seconds.max",
		"csvconf.op.duration_seconds.samples",
		"csvconf.op.duration_seconds.p50",
		"csvconf.op.duration_seconds.p90",
		"csvconf.op.duration_seconds.p95",
		"csvconf.op.duration_seconds.p99",
		"csvconf.op.duration_seconds.max",
		"csvconf.op.duration_seconds.samples",
		"csvconf.sidecar.writes.total",
		"csvconf.rows.total",
	}
	if got := metricNames(payload); !reflect.DeepEqual(got, want) {
		t.Fatalf("series =\n%v\nwant\n%v", got, want)
	}

	first := payload.Series[0]
	if !contains(first.Tags, "op:edit") || !contains(first.Tags, "status:error") || !contains(first.Tags, "job:job1") {
		t.Fatalf("first series tags = %v", first.Tags)
	}
	if *first.Points[0].Timestamp != 1000 {
		t.Fatalf("timestamp = %d, want 1000", *first.Points[0].Timestamp)
	}
	rows := payload.Series[len(payload.Series)-1]
	if *rows.Points[0].Value != 11 || !contains(rows.Tags, "kind:preview") {
		t.Fatalf("rows series = %v %v", *rows.Points[0].Value, rows.Tags)
	}
}

func TestFlush_NoDataDoesNotSubmit(t *testing.T) {
	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs)

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v", err)
	}
	if fs.count() != 0 {
		t.Fatalf("unexpected submission count=%d", fs.count())
	}
}

func TestFlush_SubmitErrorStillResets(t *testing.T) {
	fs := &fakeSubmitter{err: errors.New("403")}
	b := newTestBackend(t, fs)

	metrics.AddRows(b, "loaded", 3)
	if err := b.Flush(); err == nil {
		t.Fatalf("Flush() err=nil, want submit error")
	}
	if !b.snapshotAndReset().isEmpty() {
		t.Fatalf("buffers kept after failed submit")
	}
}

func TestLoopAndClose(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), Options{
		FlushEvery: 5 * time.Millisecond,
		submitter:  fs,
		now:        func() time.Time { return time.Unix(2000, 0) },
	})
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}

	metrics.IncSidecarWrite(b, metrics.StatusOK)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && fs.count() < 1 {
		time.Sleep(2 * time.Millisecond)
	}
	if fs.count() < 1 {
		_ = b.Close()
		t.Fatalf("expected a background flush; got %d", fs.count())
	}

	metrics.IncSidecarWrite(b, metrics.StatusOK)
	if err := b.Close(); err != nil {
		t.Fatalf("Close() err=%v", err)
	}
	if fs.count() < 2 {
		t.Fatalf("expected final flush on Close; got %d submissions", fs.count())
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close() err=%v", err)
	}
}

func TestBackend_ConcurrentAccess(t *testing.T) {
	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs)

	workers := runtime.GOMAXPROCS(0) * 4
	const iters = 500

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iters; j++ {
				metrics.ObserveOp(b, "edit", metrics.StatusOK, time.Millisecond)
				metrics.AddRows(b, "preview", 1)
			}
		}()
	}
	wg.Wait()

	snap := b.snapshotAndReset()
	if got := snap.rows["preview"]; got != float64(workers*iters) {
		t.Fatalf("rows = %v, want %d", got, workers*iters)
	}
	if got := len(snap.opDurations[opKey{"edit", "ok"}]); got != workers*iters {
		t.Fatalf("duration samples = %d, want %d", got, workers*iters)
	}
}

func TestIncCounterAndObserveHistogram_EdgeCases(t *testing.T) {
	b := newTestBackend(t, &fakeSubmitter{})

	b.IncCounter(metrics.RowsTotal, 0, metrics.Labels{"kind": "preview"})
	b.IncCounter(metrics.RowsTotal, 2, nil)
	b.ObserveHistogram(metrics.OpDurationSeconds, -1, nil)
	b.ObserveHistogram("other_seconds", 1, nil)
	if !b.snapshotAndReset().isEmpty() {
		t.Fatalf("ignored updates were buffered")
	}

	b.IncCounter(metrics.OpsTotal, 1, nil)
	b.IncCounter(metrics.SidecarWrites, 1, nil)
	snap := b.snapshotAndReset()
	if snap.opCounts[opKey{"unknown", "unknown"}] != 1 || snap.sidecar["unknown"] != 1 {
		t.Fatalf("missing labels not defaulted: %+v", snap)
	}
}

func contains[T comparable](xs []T, v T) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func TestParseTagsCSV(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"env:prod", []string{"env:prod"}},
		{" env:prod , ,team:gis,", []string{"env:prod", "team:gis"}},
	}
	for _, tt := range tests {
		if got := ParseTagsCSV(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("ParseTagsCSV(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
