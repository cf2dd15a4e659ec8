package council

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ManifestWatcher reloads the council role list when the manifest file
// changes on disk.
type ManifestWatcher struct {
	watcher  *fsnotify.Watcher
	path     string
	council  *Council
	logger   *slog.Logger
	debounce time.Duration

	mu     sync.Mutex
	timer  *time.Timer
	cancel context.CancelFunc
}

// NewManifestWatcher creates a watcher for the manifest at path, applying
// reloaded roles to the given council.
func NewManifestWatcher(path string, c *Council, logger *slog.Logger) (*ManifestWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Watch the directory: editors replace files rather than write in place
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	return &ManifestWatcher{
		watcher:  watcher,
		path:     path,
		council:  c,
		logger:   logger,
		debounce: 500 * time.Millisecond,
	}, nil
}

// Start begins watching for manifest changes
func (w *ManifestWatcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				w.handleEvent(event)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("manifest watcher error", "error", err)
			}
		}
	}()
}

// Stop stops watching for manifest changes
func (w *ManifestWatcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.watcher.Close()
}

func (w *ManifestWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(w.path) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *ManifestWatcher) reload() {
	roles, err := LoadManifest(w.path)
	if err != nil {
		w.logger.Warn("council manifest reload failed, keeping current roles", "path", w.path, "error", err)
		return
	}
	w.council.SetRoles(roles)
	w.logger.Info("council manifest reloaded", "roles", len(roles))
}
