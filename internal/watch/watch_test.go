package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func startWatcher(t *testing.T, source string) (<-chan []Change, context.CancelFunc, <-chan error) {
	t.Helper()
	w, err := New(source, Options{Debounce: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })

	batches := make(chan []Change, 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(b []Change) { batches <- b })
	}()
	return batches, cancel, done
}

func waitBatch(t *testing.T, ch <-chan []Change) []Change {
	t.Helper()
	select {
	case b := <-ch:
		return b
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a change batch")
		return nil
	}
}

func TestWatcher_SidecarBurstIsDebounced(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "points.csv")
	if err := os.WriteFile(src, []byte("id\n1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	batches, cancel, done := startWatcher(t, src)
	defer cancel()

	sc := filepath.Join(dir, "points.csvt")
	for _, line := range []string{"Integer\n", "Real\n", "String\n"} {
		if err := os.WriteFile(sc, []byte(line), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	// Not watched.
	if err := os.WriteFile(filepath.Join(dir, "other.csvt"), []byte("Real\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	b := waitBatch(t, batches)
	if len(b) != 1 {
		t.Fatalf("batch = %+v, want one change", b)
	}
	if !b[0].Sidecar || b[0].Removed || b[0].Path != sc {
		t.Fatalf("change = %+v", b[0])
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestWatcher_SourceRemoved(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "points.csv")
	if err := os.WriteFile(src, []byte("id\n1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	batches, cancel, _ := startWatcher(t, src)
	defer cancel()

	if err := os.Remove(src); err != nil {
		t.Fatal(err)
	}
	b := waitBatch(t, batches)
	if len(b) != 1 || b[0].Sidecar || !b[0].Removed {
		t.Fatalf("batch = %+v", b)
	}
}

func TestWatcher_CloseEndsRun(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w, err := New(filepath.Join(dir, "a.csv"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background(), func([]Change) {}) }()

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestNew_MissingDirectory(t *testing.T) {
	t.Parallel()

	if _, err := New(filepath.Join(t.TempDir(), "nope", "a.csv"), Options{}); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	w := &Watcher{source: "/data/a.csv", sidecar: "/data/a.csvt"}
	tests := []struct {
		name      string
		isSidecar bool
		ok        bool
	}{
		{"/data/a.csv", false, true},
		{"/data//a.csvt", true, true},
		{"/data/b.csv", false, false},
		{"/data/a.csv.swp", false, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sc, ok := w.classify(tt.name)
			if sc != tt.isSidecar || ok != tt.ok {
				t.Fatalf("classify(%q) = %v, %v; want %v, %v", tt.name, sc, ok, tt.isSidecar, tt.ok)
			}
		})
	}
}
