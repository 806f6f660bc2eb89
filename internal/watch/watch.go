// Package watch reports changes to a source file and its type sidecar.
//
// The parent directory is watched rather than the files themselves, so
// editors that save by rename, and sidecars created after the watch starts,
// are still seen. Bursts of events are debounced into one batch.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"csvconf/internal/sidecar"
)

// DefaultDebounce is used when Options.Debounce is zero.
const DefaultDebounce = 200 * time.Millisecond

// Change is one debounced change.
type Change struct {
	Path string
	// Sidecar is true for the .csvt file, false for the source.
	Sidecar bool
	// Removed is true when the last event seen for Path removed or renamed it.
	Removed bool
}

// Handler receives each batch. It runs on the watcher goroutine.
type Handler func([]Change)

// Options configures New.
type Options struct {
	Debounce time.Duration
	Logger   *slog.Logger
}

// Watcher watches one source and its sidecar.
type Watcher struct {
	source   string
	sidecar  string
	debounce time.Duration
	fw       *fsnotify.Watcher
	log      *slog.Logger
}

// New starts watching the directory of source. Call Close when done.
func New(source string, opts Options) (*Watcher, error) {
	abs, err := filepath.Abs(source)
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	d := opts.Debounce
	if d <= 0 {
		d = DefaultDebounce
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Watcher{
		source:   abs,
		sidecar:  sidecar.Path(abs),
		debounce: d,
		fw:       fw,
		log:      log.With("component", "watch", "path", abs),
	}, nil
}

// classify reports whether name is one of the watched files.
func (w *Watcher) classify(name string) (isSidecar, ok bool) {
	switch filepath.Clean(name) {
	case w.source:
		return false, true
	case w.sidecar:
		return true, true
	}
	return false, false
}

// Run delivers batches to h until ctx is done or the watcher is closed.
// Pending changes are delivered before Run returns. It returns nil on
// cancellation.
func (w *Watcher) Run(ctx context.Context, h Handler) error {
	pending := map[string]Change{}
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
		if len(pending) == 0 {
			return
		}
		batch := make([]Change, 0, len(pending))
		for _, c := range pending {
			batch = append(batch, c)
		}
		sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })
		clear(pending)
		h(batch)
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return nil

		case ev, ok := <-w.fw.Events:
			if !ok {
				flush()
				return nil
			}
			isSC, watched := w.classify(ev.Name)
			if !watched || ev.Op == fsnotify.Chmod {
				continue
			}
			path := filepath.Clean(ev.Name)
			pending[path] = Change{
				Path:    path,
				Sidecar: isSC,
				Removed: ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename),
			}
			w.log.Debug("event", "file", path, "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fw.Errors:
			if !ok {
				flush()
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.log.Warn("event overflow; some changes may be merged", "err", err)
				continue
			}
			w.log.Error("watch error", "err", err)

		case <-timerC:
			timer, timerC = nil, nil
			flush()
		}
	}
}

// Close stops the underlying watcher; a running Run returns.
func (w *Watcher) Close() error {
	return w.fw.Close()
}
