// Package reload detects edits to the files a configuration was loaded from.
package reload

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sabbour/aks-autoinstrumentation-sample/internal/config"
)

type snapshot struct {
	modTime time.Time
	size    int64
	missing bool
}

// Watcher tracks the YAML and dotenv sources of a configuration.
type Watcher struct {
	mu    sync.Mutex
	files map[string]snapshot
}

// NewWatcher snapshots the sources of cfg.
func NewWatcher(cfg *config.Config) *Watcher {
	w := &Watcher{}
	w.Update(cfg)
	return w
}

// Update replaces the tracked set with the sources of cfg. Files that do not exist yet are
// tracked as missing so that creating them counts as a change.
func (w *Watcher) Update(cfg *config.Config) {
	if w == nil {
		return
	}
	files := make(map[string]snapshot)
	for _, path := range normalize(config.SourceFiles(cfg)) {
		files[path] = stat(path)
	}
	w.mu.Lock()
	w.files = files
	w.mu.Unlock()
}

// Tracked returns the watched paths in sorted order.
func (w *Watcher) Tracked() []string {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	paths := make([]string, 0, len(w.files))
	for path := range w.files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Changed reports the files that differ from the last snapshot and records their new state.
func (w *Watcher) Changed() []string {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	var changed []string
	for path, prev := range w.files {
		cur := stat(path)
		if cur.missing == prev.missing && cur.size == prev.size && cur.modTime.Equal(prev.modTime) {
			continue
		}
		w.files[path] = cur
		changed = append(changed, path)
	}
	sort.Strings(changed)
	return changed
}

func stat(path string) snapshot {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return snapshot{missing: true}
	}
	return snapshot{modTime: info.ModTime(), size: info.Size()}
}

func normalize(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	result := make([]string, 0, len(paths))
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		result = append(result, path)
	}
	return result
}
