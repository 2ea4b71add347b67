package scanner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	apperrors "github.com/gmsas95/paperflow/internal/errors"
)

// Watcher triggers a scan once the watch folder has been quiet for the
// debounce delay after a change
type Watcher struct {
	scanner  *Scanner
	debounce time.Duration
	logger   *zap.Logger
}

// NewWatcher creates a watcher. A non-positive debounce uses five seconds.
func NewWatcher(s *Scanner, debounce time.Duration, logger *zap.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 5 * time.Second
	}
	return &Watcher{scanner: s, debounce: debounce, logger: logger}
}

// Run scans once, then on every settled burst of changes until ctx is done
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := w.addTree(fw, w.scanner.opts.WatchDir); err != nil {
		return err
	}
	w.logger.Info("Watching folder",
		zap.String("dir", w.scanner.opts.WatchDir),
		zap.Duration("debounce", w.debounce))

	w.scan(ctx)

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
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addTree(fw, ev.Name); err != nil {
						w.logger.Warn("Failed to watch new folder", zap.String("dir", ev.Name), zap.Error(err))
					}
					continue
				}
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if !w.scanner.Allowed(ev.Name) {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Watcher error", zap.Error(err))
		case <-timer.C:
			w.scan(ctx)
		}
	}
}

func (w *Watcher) scan(ctx context.Context) {
	report, err := w.scanner.Scan(ctx)
	switch {
	case errors.Is(err, apperrors.ErrScanInProgress):
		w.logger.Debug("Scan already running, skipping trigger")
	case err != nil:
		w.logger.Error("Scan failed", zap.Error(err))
	case report.Imported > 0:
		w.logger.Info("Watch scan imported files", zap.Int("imported", report.Imported))
	}
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, root string) error {
	skip := make(map[string]bool)
	opts := w.scanner.opts
	for _, dir := range append([]string{opts.StagingDir, opts.ArchiveDir}, opts.Skip...) {
		if dir != "" {
			skip[filepath.Clean(dir)] = true
		}
	}
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != root && (strings.HasPrefix(d.Name(), ".") || skip[filepath.Clean(path)]) {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
}
