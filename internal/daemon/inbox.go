package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/davidchanminpark/time-my-life/internal/bundle"
)

// ImportFunc applies the bundle at path.
type ImportFunc func(ctx context.Context, path string) error

// InboxWatcher imports bundles dropped into a directory. Writes are
// debounced: a file is imported once it has been quiet for the debounce
// interval. Imported files are renamed with bundle.ImportedSuffix.
type InboxWatcher struct {
	dir      string
	debounce time.Duration
	importFn ImportFunc
	logger   *log.Logger

	pending   map[string]time.Time // path -> last event
	pendingMu sync.Mutex
}

// NewInboxWatcher creates a watcher for dir.
func NewInboxWatcher(dir string, debounce time.Duration, importFn ImportFunc, logger *log.Logger) *InboxWatcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[inbox] ", log.LstdFlags)
	}
	return &InboxWatcher{
		dir:      dir,
		debounce: debounce,
		importFn: importFn,
		logger:   logger,
		pending:  make(map[string]time.Time),
	}
}

// Dir returns the watched directory.
func (w *InboxWatcher) Dir() string {
	return w.dir
}

// Run imports bundles already in the directory, then watches for new ones
// until ctx is cancelled.
func (w *InboxWatcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0750); err != nil {
		return fmt.Errorf("failed to create inbox directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch inbox %s: %w", w.dir, err)
	}
	w.logger.Printf("Watching inbox: %s", w.dir)

	// Files present before the watch was added get no event.
	if err := w.ScanOnce(ctx); err != nil {
		w.logger.Printf("Error scanning inbox: %v", err)
	}

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !IsBundle(event.Name) {
				continue
			}
			w.queue(event.Name)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Printf("Watcher error: %v", err)

		case <-ticker.C:
			w.processPending(ctx)
		}
	}
}

// ScanOnce imports every bundle currently in the directory, oldest name first.
func (w *InboxWatcher) ScanOnce(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("failed to read inbox: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if !e.IsDir() && IsBundle(e.Name()) {
			paths = append(paths, filepath.Join(w.dir, e.Name()))
		}
	}
	sort.Strings(paths)

	for _, path := range paths {
		w.importOne(ctx, path)
	}
	return nil
}

// IsBundle reports whether name looks like a complete bundle.
func IsBundle(name string) bool {
	base := filepath.Base(name)
	return strings.HasSuffix(base, bundle.Extension) && !strings.HasPrefix(base, ".")
}

func (w *InboxWatcher) queue(path string) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	w.pending[path] = time.Now()
}

// processPending imports files that have been quiet for the debounce interval.
func (w *InboxWatcher) processPending(ctx context.Context) {
	now := time.Now()

	w.pendingMu.Lock()
	var ready []string
	for path, at := range w.pending {
		if now.Sub(at) < w.debounce {
			continue
		}
		ready = append(ready, path)
		delete(w.pending, path)
	}
	w.pendingMu.Unlock()

	sort.Strings(ready)
	for _, path := range ready {
		w.importOne(ctx, path)
	}
}

func (w *InboxWatcher) importOne(ctx context.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		// Already imported and renamed, or removed.
		return
	}

	w.logger.Printf("Importing bundle: %s", path)
	if err := w.importFn(ctx, path); err != nil {
		w.logger.Printf("Error importing %s: %v", path, err)
		return
	}
	if _, err := bundle.MarkImported(path); err != nil {
		w.logger.Printf("Error marking %s imported: %v", path, err)
	}
}
