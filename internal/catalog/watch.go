package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a content directory whenever one of its YAML files changes
// and hands the result, valid or not, to onChange. It never swaps anything
// itself; the caller decides what a new catalog means.
type Watcher struct {
	paths    Paths
	debounce time.Duration
	onChange func(*Catalog, error)
}

// NewWatcher watches baseDir. Bursts of events within debounce collapse into
// one reload.
func NewWatcher(baseDir string, debounce time.Duration, onChange func(*Catalog, error)) *Watcher {
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	if onChange == nil {
		onChange = func(*Catalog, error) {}
	}
	return &Watcher{
		paths:    Paths{BaseDir: baseDir},
		debounce: debounce,
		onChange: onChange,
	}
}

func (w *Watcher) watched(name string) bool {
	switch filepath.Clean(name) {
	case filepath.Clean(w.paths.RaritiesPath()),
		filepath.Clean(w.paths.CatalogPath()),
		filepath.Clean(w.paths.OverridePath()):
		return true
	}
	return false
}

// Run blocks until ctx is done. The directory is watched rather than the
// files so editors that save via rename are still seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("content watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.paths.BaseDir); err != nil {
		return fmt.Errorf("content watcher: watch %s: %w", w.paths.BaseDir, err)
	}

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.watched(ev.Name) || ev.Op == fsnotify.Chmod {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.onChange(nil, fmt.Errorf("content watcher: %w", err))
		case <-timer.C:
			w.onChange(LoadDir(w.paths.BaseDir))
		}
	}
}
