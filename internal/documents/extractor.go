// Package documents extracts text and page structure from scanned files.
package documents

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

// TextExtractor reads text out of stored documents. Pages are 0-based.
type TextExtractor interface {
	ExtractText(ctx context.Context, path string) (string, error)
	CountPages(ctx context.Context, path string) (int, error)
	ExtractPageText(ctx context.Context, path string, page int) (string, error)
}

// PageWriter writes a subset of a PDF's pages to a new file. Pages are 0-based.
type PageWriter interface {
	ExtractPages(ctx context.Context, inputPath, outputPath string, pages []int) error
}

// Extractor is the default TextExtractor and PageWriter. PDFs go through
// poppler CLIs when present and pure-Go readers otherwise; images go
// through tesseract.
type Extractor struct {
	logger   *zap.Logger
	ocr      *TesseractOCR
	counters []PageCounter
}

// PageCounter is one page counting strategy
type PageCounter struct {
	Name  string
	Count func(ctx context.Context, path string) (int, error)
}

// NewExtractor creates an extractor with the default strategy order
func NewExtractor(logger *zap.Logger) *Extractor {
	return &Extractor{
		logger: logger,
		ocr:    NewTesseractOCR("", "fra+eng"),
		counters: []PageCounter{
			{Name: "pdfinfo", Count: countPagesPdfinfo},
			{Name: "pdfcpu", Count: countPagesPDFCPU},
			{Name: "ledongthuc", Count: countPagesNative},
		},
	}
}

// WithCounters overrides the page counting strategies
func (e *Extractor) WithCounters(counters ...PageCounter) *Extractor {
	e.counters = counters
	return e
}

// ExtractText returns the whole text of a PDF or the OCR output of an image
func (e *Extractor) ExtractText(ctx context.Context, path string) (string, error) {
	mimeType := DetectMimeType(path)
	switch {
	case mimeType == "application/pdf":
		text, err := extractTextPdftotext(ctx, path, 0, 0)
		if err == nil && strings.TrimSpace(text) != "" {
			return text, nil
		}
		if err != nil {
			e.logger.Debug("pdftotext unavailable, using native reader", zap.String("path", path), zap.Error(err))
		}
		return extractTextNative(path, -1)
	case strings.HasPrefix(mimeType, "image/"):
		if !e.ocr.IsAvailable() {
			return "", fmt.Errorf("no OCR engine available for %s", filepath.Base(path))
		}
		return e.ocr.ExtractText(ctx, path)
	case strings.HasPrefix(mimeType, "text/"):
		data, err := os.ReadFile(path)
		return string(data), err
	}
	return "", fmt.Errorf("unsupported file type %s", mimeType)
}

// CountPages returns the first successful strategy's answer
func (e *Extractor) CountPages(ctx context.Context, path string) (int, error) {
	var lastErr error
	for _, c := range e.counters {
		n, err := c.Count(ctx, path)
		if err == nil && n > 0 {
			return n, nil
		}
		if err == nil {
			err = fmt.Errorf("%s reported no pages", c.Name)
		}
		e.logger.Debug("page count strategy failed", zap.String("strategy", c.Name), zap.Error(err))
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no page count strategy configured")
	}
	return 0, lastErr
}

// ExtractPageText returns the text of a single page
func (e *Extractor) ExtractPageText(ctx context.Context, path string, page int) (string, error) {
	text, err := extractTextPdftotext(ctx, path, page+1, page+1)
	if err == nil {
		return text, nil
	}
	return extractTextNative(path, page)
}

// ExtractPages writes the selected pages into outputPath
func (e *Extractor) ExtractPages(ctx context.Context, inputPath, outputPath string, pages []int) error {
	return trimPDF(inputPath, outputPath, pages)
}

// DetectMimeType guesses a file's type from its extension, then its content
func DetectMimeType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".pdf":
		return "application/pdf"
	case ".tif", ".tiff":
		return "image/tiff"
	case ".webp":
		return "image/webp"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if i := strings.Index(t, ";"); i > 0 {
			t = t[:i]
		}
		return t
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "application/octet-stream"
	}
	t := mt.String()
	if i := strings.Index(t, ";"); i > 0 {
		t = t[:i]
	}
	return t
}
