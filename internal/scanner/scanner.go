// Package scanner imports new files from the watch folder.
package scanner

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gmsas95/paperflow/internal/custody"
	"github.com/gmsas95/paperflow/internal/documents"
	apperrors "github.com/gmsas95/paperflow/internal/errors"
	"github.com/gmsas95/paperflow/internal/events"
	"github.com/gmsas95/paperflow/internal/lifecycle"
	"github.com/gmsas95/paperflow/internal/metrics"
	"github.com/gmsas95/paperflow/internal/scanlock"
	"github.com/gmsas95/paperflow/internal/store"
)

// DefaultExtensions are imported when none are configured
var DefaultExtensions = []string{"pdf", "png", "jpg", "jpeg", "tif", "tiff", "gif", "webp"}

// Processor runs the downstream pipeline on a freshly imported document
type Processor interface {
	Process(ctx context.Context, documentID string) error
}

// Options configures the scanner
type Options struct {
	WatchDir   string
	StagingDir string
	ArchiveDir string
	// Skip lists extra directories never walked, such as the documents tree
	Skip       []string
	Extensions []string
}

// FileError is a per-file failure. The scan goes on after it.
type FileError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Report summarizes one scan
type Report struct {
	Scanned  int         `json:"scanned"`
	Imported int         `json:"imported"`
	Skipped  int         `json:"skipped"`
	Errors   []FileError `json:"errors,omitempty"`
}

// Scanner walks the watch folder and imports new files
type Scanner struct {
	store     *store.Store
	lock      *scanlock.Lock
	text      documents.TextExtractor
	lifecycle *lifecycle.Controller
	next      Processor
	opts      Options
	allowed   map[string]bool
	bus       *events.Bus
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// New creates a scanner. next may be nil, in which case imported documents
// stay imported.
func New(st *store.Store, lock *scanlock.Lock, text documents.TextExtractor, lc *lifecycle.Controller, next Processor, opts Options, bus *events.Bus, m *metrics.Metrics, logger *zap.Logger) *Scanner {
	if len(opts.Extensions) == 0 {
		opts.Extensions = DefaultExtensions
	}
	allowed := make(map[string]bool, len(opts.Extensions))
	for _, ext := range opts.Extensions {
		allowed[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}
	return &Scanner{
		store:     st,
		lock:      lock,
		text:      text,
		lifecycle: lc,
		next:      next,
		opts:      opts,
		allowed:   allowed,
		bus:       bus,
		metrics:   m,
		logger:    logger,
	}
}

// Allowed reports whether path has an importable extension and is not hidden
func (s *Scanner) Allowed(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}
	return s.allowed[strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))]
}

// Scan imports every new file of the watch folder. Only one scan runs per
// installation; a concurrent one gets ErrScanInProgress without touching
// any file.
func (s *Scanner) Scan(ctx context.Context) (*Report, error) {
	if s.opts.WatchDir == "" {
		return nil, apperrors.ErrWatchDirMissing
	}
	if info, err := os.Stat(s.opts.WatchDir); err != nil || !info.IsDir() {
		return nil, apperrors.ErrWatchDirMissing.WithCause(err)
	}

	ok, err := s.lock.Acquire()
	if err != nil {
		return nil, err
	}
	if !ok {
		s.metrics.RecordScanRejected()
		return nil, apperrors.ErrScanInProgress
	}
	defer func() {
		if err := s.lock.Release(); err != nil {
			s.logger.Error("Failed to release scan lock", zap.Error(err))
		}
	}()

	start := time.Now()
	files, err := s.walk()
	if err != nil {
		return nil, err
	}

	report := &Report{}
	for _, path := range files {
		if ctx.Err() != nil {
			break
		}
		report.Scanned++
		if err := s.lock.Touch(); err != nil {
			s.logger.Warn("Failed to refresh scan lock", zap.Error(err))
		}

		imported, err := s.importFile(ctx, path)
		if err != nil {
			report.Errors = append(report.Errors, FileError{Path: path, Error: err.Error()})
			s.metrics.RecordFile("error")
		}
		switch {
		case imported:
			report.Imported++
		case err == nil:
			report.Skipped++
		}
	}

	s.metrics.RecordScan(time.Since(start))
	s.bus.Publish(events.Event{Kind: events.KindScanDone, Attributes: map[string]string{
		"scanned":  strconv.Itoa(report.Scanned),
		"imported": strconv.Itoa(report.Imported),
		"skipped":  strconv.Itoa(report.Skipped),
		"errors":   strconv.Itoa(len(report.Errors)),
	}})
	s.logger.Info("Scan finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("imported", report.Imported),
		zap.Int("skipped", report.Skipped),
		zap.Int("errors", len(report.Errors)),
		zap.Duration("took", time.Since(start)))
	return report, ctx.Err()
}

// walk lists importable files in lexical order
func (s *Scanner) walk() ([]string, error) {
	skip := map[string]bool{}
	for _, dir := range append([]string{s.opts.StagingDir, s.opts.ArchiveDir}, s.opts.Skip...) {
		if dir != "" {
			skip[filepath.Clean(dir)] = true
		}
	}

	var files []string
	err := filepath.WalkDir(s.opts.WatchDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == s.opts.WatchDir {
				return err
			}
			s.logger.Warn("Skipping unreadable path", zap.String("path", path), zap.Error(err))
			return nil
		}
		if d.IsDir() {
			if path != s.opts.WatchDir && (strings.HasPrefix(d.Name(), ".") || skip[filepath.Clean(path)]) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && s.Allowed(path) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// importFile returns true when a new document was created
func (s *Scanner) importFile(ctx context.Context, path string) (bool, error) {
	log := s.logger.With(zap.String("path", path))

	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	sum, err := s.checksum(path, info)
	if err != nil {
		return false, err
	}

	existing, err := s.store.FindLiveByChecksum(ctx, sum)
	switch {
	case err == nil:
		return false, s.duplicate(existing, path)
	case !errors.Is(err, apperrors.ErrDocumentNotFound):
		return false, err
	}

	doc := &store.Document{
		Checksum:         sum,
		OriginalFilename: filepath.Base(path),
		Title:            TitleFromFilename(path),
		FilePath:         path,
		MimeType:         documents.DetectMimeType(path),
		FileSize:         info.Size(),
		Status:           store.StatusImported,
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		if errors.Is(err, apperrors.ErrDuplicate) {
			log.Debug("Checksum imported concurrently, skipping")
			s.metrics.RecordFile("duplicate")
			return false, nil
		}
		return false, err
	}
	log = log.With(zap.String("document_id", doc.ID))

	staged, err := custody.Move(path, filepath.Join(s.opts.StagingDir, doc.OriginalFilename))
	if err != nil {
		s.metrics.RecordMoveError()
		if failErr := s.lifecycle.Fail(ctx, doc.ID, err); failErr != nil {
			log.Error("Failed to record staging failure", zap.Error(failErr))
		}
		return false, err
	}
	if err := s.store.UpdateDocument(ctx, doc.ID, map[string]any{"file_path": staged}); err != nil {
		return false, err
	}
	doc.FilePath = staged

	content, err := s.text.ExtractText(ctx, staged)
	if err != nil {
		log.Warn("Text extraction failed, continuing without content", zap.Error(err))
	}
	content = strings.ToValidUTF8(content, "")
	if err := s.store.UpdateDocument(ctx, doc.ID, map[string]any{
		"content": content,
		"title":   SmartTitle(content, doc.OriginalFilename),
	}); err != nil {
		return false, err
	}

	s.metrics.RecordFile("imported")
	s.bus.Publish(events.Event{Kind: events.KindImported, DocumentID: doc.ID, Status: string(store.StatusImported)})
	log.Info("File imported", zap.String("staged", staged), zap.String("checksum", sum))

	if s.next != nil {
		if err := s.next.Process(ctx, doc.ID); err != nil {
			return true, err
		}
	}
	return true, nil
}

func (s *Scanner) checksum(path string, info fs.FileInfo) (string, error) {
	if sum, err := s.store.GetChecksumMemo(path, info.Size(), info.ModTime()); err == nil && sum != "" {
		return sum, nil
	}
	sum, err := custody.MD5File(path)
	if err != nil {
		return "", err
	}
	if err := s.store.SetChecksumMemo(path, info.Size(), info.ModTime(), sum); err != nil {
		s.logger.Debug("Failed to memoize checksum", zap.String("path", path), zap.Error(err))
	}
	return sum, nil
}

// duplicate archives a copy of a validated document and leaves any other
// duplicate in place
func (s *Scanner) duplicate(existing *store.Document, path string) error {
	s.bus.Publish(events.Event{
		Kind:       events.KindDuplicate,
		DocumentID: existing.ID,
		Status:     string(existing.Status),
		Attributes: map[string]string{"path": path},
	})
	if existing.Status != store.StatusValidated {
		s.logger.Debug("Duplicate of a document in progress, leaving file",
			zap.String("path", path), zap.String("document_id", existing.ID))
		s.metrics.RecordFile("duplicate")
		return nil
	}

	archived, err := custody.Move(path, filepath.Join(s.opts.ArchiveDir, filepath.Base(path)))
	if err != nil {
		s.metrics.RecordMoveError()
		return err
	}
	s.metrics.RecordFile("archived")
	s.logger.Info("Duplicate of validated document archived",
		zap.String("document_id", existing.ID), zap.String("archived", archived))
	return nil
}
