package reload

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

type fileState struct {
	modTime time.Time
	size    int64
	missing bool
}

// Watcher polls a set of files and detects modifications by modification
// time and size.
type Watcher struct {
	mu    sync.Mutex
	files map[string]fileState
}

// NewWatcher starts tracking paths. Missing files are tracked too and count
// as changed once they appear.
func NewWatcher(paths ...string) (*Watcher, error) {
	w := &Watcher{}
	if err := w.Reset(paths...); err != nil {
		return nil, err
	}
	return w, nil
}

// Reset replaces the tracked files and records their current state.
func (w *Watcher) Reset(paths ...string) error {
	states := make(map[string]fileState, len(paths))
	for _, path := range uniquePaths(paths) {
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		states[abs] = stat(abs)
	}
	w.mu.Lock()
	w.files = states
	w.mu.Unlock()
	return nil
}

func stat(path string) fileState {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return fileState{missing: true}
	}
	return fileState{modTime: info.ModTime(), size: info.Size()}
}

// Check reports the files that changed since the last Reset or Check and
// records their new state.
func (w *Watcher) Check() []string {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	changed := make([]string, 0)
	for path, prev := range w.files {
		cur := stat(path)
		if cur.missing != prev.missing || cur.modTime.After(prev.modTime) || cur.size != prev.size {
			changed = append(changed, path)
			w.files[path] = cur
		}
	}
	sort.Strings(changed)
	return changed
}

// Watch calls Check every interval and sends non-empty results on the
// returned channel until ctx ends.
func (w *Watcher) Watch(ctx context.Context, interval time.Duration) <-chan []string {
	out := make(chan []string, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if changed := w.Check(); len(changed) > 0 {
					select {
					case out <- changed:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out
}

func uniquePaths(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	result := make([]string, 0, len(paths))
	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		result = append(result, path)
	}
	return result
}
