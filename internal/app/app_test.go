package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gmsas95/paperflow/internal/config"
	apperrors "github.com/gmsas95/paperflow/internal/errors"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Storage: config.StorageConfig{
			DataDir:           dir,
			SQLitePath:        filepath.Join(dir, "paperflow.db"),
			BadgerPath:        filepath.Join(dir, "badger"),
			WatchDir:          filepath.Join(dir, "consume"),
			StagingDir:        filepath.Join(dir, "staging"),
			ArchiveDir:        filepath.Join(dir, "archive"),
			DocumentsDir:      filepath.Join(dir, "documents"),
			AllowedExtensions: []string{"pdf"},
			PathSegments:      []string{"year", "correspondent"},
		},
		Scan: config.ScanConfig{
			LockFile:      filepath.Join(dir, "scan.lock"),
			LockStaleness: time.Minute,
			WatchDebounce: 50 * time.Millisecond,
		},
		Split:     config.SplitConfig{Enabled: true, MaxPages: 20, MinPageChars: 50},
		Lifecycle: config.LifecycleConfig{AutoValidateThreshold: 0.8},
	}
	require.NoError(t, os.MkdirAll(cfg.Storage.WatchDir, 0755))
	return cfg
}

func newApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, zap.NewNop(), "test")
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestNew_WiresPipeline(t *testing.T) {
	a := newApp(t, testConfig(t))

	assert.Equal(t, "test", a.Version)
	assert.NotNil(t, a.Service)
	assert.NotNil(t, a.Scanner)
	assert.NotNil(t, a.Metrics)
	assert.Nil(t, a.Completer(), "no provider configured")

	count, err := a.Store.CountFields(context.Background())
	require.NoError(t, err)
	assert.Positive(t, count, "default fields are seeded")
}

func TestNew_BadCatalogFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Classify.FieldsFile = filepath.Join(cfg.Storage.DataDir, "missing.yaml")

	_, err := New(context.Background(), cfg, zap.NewNop(), "test")
	assert.Error(t, err)
}

func TestScanEmptyFolder(t *testing.T) {
	a := newApp(t, testConfig(t))

	report, err := a.Service.Scan(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Imported)
	assert.Empty(t, report.Errors)
}

func TestRunDaemon_StopsWithContext(t *testing.T) {
	a := newApp(t, testConfig(t))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- a.RunDaemon(ctx, DaemonOptions{Watch: true}) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func TestRunDaemon_InvalidSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scan.Schedule = "every now and then"
	a := newApp(t, cfg)

	err := a.RunDaemon(context.Background(), DaemonOptions{})
	assert.True(t, apperrors.Is(err, apperrors.ErrConfigInvalid))
}
