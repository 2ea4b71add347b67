package documents

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDetectMimeType(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		want string
	}{
		{"scan.PDF", "application/pdf"},
		{"photo.jpg", "image/jpeg"},
		{"photo.png", "image/png"},
		{"fax.tiff", "image/tiff"},
		{"phone.webp", "image/webp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectMimeType(filepath.Join(dir, tt.name)))
		})
	}

	noExt := filepath.Join(dir, "blob")
	require.NoError(t, os.WriteFile(noExt, []byte("%PDF-1.4\n"), 0644))
	assert.Equal(t, "application/pdf", DetectMimeType(noExt))
}

func TestCountPages_StrategyOrder(t *testing.T) {
	var calls []string
	e := NewExtractor(zap.NewNop()).WithCounters(
		PageCounter{Name: "broken", Count: func(context.Context, string) (int, error) {
			calls = append(calls, "broken")
			return 0, errors.New("tool missing")
		}},
		PageCounter{Name: "empty", Count: func(context.Context, string) (int, error) {
			calls = append(calls, "empty")
			return 0, nil
		}},
		PageCounter{Name: "good", Count: func(context.Context, string) (int, error) {
			calls = append(calls, "good")
			return 4, nil
		}},
		PageCounter{Name: "never", Count: func(context.Context, string) (int, error) {
			calls = append(calls, "never")
			return 9, nil
		}},
	)

	n, err := e.CountPages(context.Background(), "doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []string{"broken", "empty", "good"}, calls)
}

func TestCountPages_AllFail(t *testing.T) {
	e := NewExtractor(zap.NewNop()).WithCounters(
		PageCounter{Name: "broken", Count: func(context.Context, string) (int, error) {
			return 0, errors.New("tool missing")
		}},
	)
	_, err := e.CountPages(context.Background(), "doc.pdf")
	assert.Error(t, err)
}

func TestExtractText_PlainText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("Facture EDF"), 0644))

	text, err := NewExtractor(zap.NewNop()).ExtractText(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "Facture EDF", text)
}

func TestExtractText_Unsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.zip")
	require.NoError(t, os.WriteFile(path, []byte("PK\x03\x04"), 0644))

	_, err := NewExtractor(zap.NewNop()).ExtractText(context.Background(), path)
	assert.Error(t, err)
}

func TestTrimPDF_NoPages(t *testing.T) {
	assert.Error(t, trimPDF("in.pdf", "out.pdf", nil))
}
