package collab

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 200 * time.Millisecond

// ProjectContext holds the project description given to every prompt. It can follow a file.
type ProjectContext struct {
	text atomic.Pointer[string]
}

// NewProjectContext returns a context holding text.
func NewProjectContext(text string) *ProjectContext {
	pc := &ProjectContext{}
	pc.Set(text)
	return pc
}

// Get returns the current description.
func (pc *ProjectContext) Get() string {
	if p := pc.text.Load(); p != nil {
		return *p
	}
	return ""
}

// Set replaces the description.
func (pc *ProjectContext) Set(text string) {
	t := strings.TrimSpace(text)
	pc.text.Store(&t)
}

// Load reads path into the context.
func (pc *ProjectContext) Load(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read context file: %w", err)
	}
	pc.Set(string(b))
	return nil
}

// Watch reloads path whenever it changes until ctx ends. The parent directory is watched
// so that editors replacing the file by rename are noticed. A failed reload keeps the
// previous text.
func (pc *ProjectContext) Watch(ctx context.Context, path string) error {
	path = filepath.Clean(path)
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close() //nolint:errcheck,gosec // already failing
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	go func() {
		defer w.Close() //nolint:errcheck // shutdown
		var debounce <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != path || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
					continue
				}
				debounce = time.After(reloadDebounce)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.WarnContext(ctx, "Context watcher error", "component", "collab", "error", err)
			case <-debounce:
				debounce = nil
				if err := pc.Load(path); err != nil {
					slog.WarnContext(ctx, "Failed to reload project context, keeping previous", "component", "collab", "path", path, "error", err)
					continue
				}
				slog.InfoContext(ctx, "Reloaded project context", "component", "collab", "path", path, "bytes", len(pc.Get()))
			}
		}
	}()
	return nil
}
