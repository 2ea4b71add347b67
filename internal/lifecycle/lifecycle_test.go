package lifecycle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gmsas95/paperflow/internal/config"
	apperrors "github.com/gmsas95/paperflow/internal/errors"
	"github.com/gmsas95/paperflow/internal/pathgen"
	"github.com/gmsas95/paperflow/internal/store"
)

type env struct {
	store   *store.Store
	dir     string
	docsDir string
}

func setup(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	st, err := store.New(&config.Config{Storage: config.StorageConfig{
		DataDir:    dir,
		SQLitePath: filepath.Join(dir, "test.db"),
		BadgerPath: filepath.Join(dir, "badger"),
	}})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return &env{store: st, dir: dir, docsDir: filepath.Join(dir, "documents")}
}

func (e *env) controller(paths pathgen.Generator, opts Options) *Controller {
	opts.DocumentsDir = e.docsDir
	return New(e.store, paths, opts, nil, nil, zap.NewNop())
}

func (e *env) stagedDocument(t *testing.T, name string, status store.DocumentStatus) *store.Document {
	t.Helper()
	path := filepath.Join(e.dir, "staging", name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 "+name), 0644))

	doc := &store.Document{
		Checksum:         strings.Repeat(string(name[0]), 32),
		OriginalFilename: name,
		FilePath:         path,
		MimeType:         "application/pdf",
		Status:           status,
	}
	require.NoError(t, e.store.CreateDocument(context.Background(), doc))
	return doc
}

func (e *env) status(t *testing.T, id string) store.DocumentStatus {
	t.Helper()
	doc, err := e.store.GetDocument(context.Background(), id)
	require.NoError(t, err)
	return doc.Status
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to store.DocumentStatus
		want     bool
	}{
		{store.StatusImported, store.StatusClassified, true},
		{store.StatusImported, store.StatusSplit, true},
		{store.StatusImported, store.StatusValidated, false},
		{store.StatusPending, store.StatusClassified, true},
		{store.StatusPending, store.StatusValidated, true},
		{store.StatusClassified, store.StatusNeedsReview, true},
		{store.StatusClassified, store.StatusAutoValidated, true},
		{store.StatusNeedsReview, store.StatusValidated, true},
		{store.StatusAutoValidated, store.StatusValidated, true},
		{store.StatusError, store.StatusImported, true},
		{store.StatusError, store.StatusValidated, false},
		{store.StatusValidated, store.StatusError, false},
		{store.StatusSplit, store.StatusClassified, false},
		{store.StatusNeedsReview, store.StatusError, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestClassified(t *testing.T) {
	tests := []struct {
		name       string
		opts       Options
		confidence float64
		want       store.DocumentStatus
	}{
		{"auto apply above threshold", Options{AutoApply: true, Threshold: 0.8}, 0.85, store.StatusAutoValidated},
		{"auto apply at threshold", Options{AutoApply: true, Threshold: 0.8}, 0.8, store.StatusAutoValidated},
		{"auto apply below threshold", Options{AutoApply: true, Threshold: 0.8}, 0.5, store.StatusNeedsReview},
		{"auto apply disabled", Options{Threshold: 0.1}, 1.0, store.StatusNeedsReview},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := setup(t)
			doc := e.stagedDocument(t, "a.pdf", store.StatusImported)
			c := e.controller(nil, tt.opts)

			got, err := c.Classified(context.Background(), doc.ID, tt.confidence)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want, e.status(t, doc.ID))
		})
	}
}

func TestClassifiedTwiceIsRejected(t *testing.T) {
	e := setup(t)
	doc := e.stagedDocument(t, "a.pdf", store.StatusPending)
	c := e.controller(nil, Options{})
	ctx := context.Background()

	_, err := c.Classified(ctx, doc.ID, 0.4)
	require.NoError(t, err)
	_, err = c.Classified(ctx, doc.ID, 0.4)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	_, err = c.Classified(ctx, "doc_missing", 0.4)
	assert.ErrorIs(t, err, apperrors.ErrDocumentNotFound)
}

func TestValidateFilesDocument(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	corr := &store.Correspondent{Name: "EDF"}
	typ := &store.DocumentType{Name: "Facture"}
	require.NoError(t, e.store.CreateCorrespondent(ctx, corr))
	require.NoError(t, e.store.CreateDocumentType(ctx, typ))
	tag := &store.Tag{Name: "energie"}
	require.NoError(t, e.store.CreateTag(ctx, tag))

	doc := e.stagedDocument(t, "scan.pdf", store.StatusNeedsReview)
	staged := doc.FilePath
	date := time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC)
	title := "EDF mars 2024"
	c := e.controller(nil, Options{})

	got, err := c.Validate(ctx, doc.ID, Overrides{
		CorrespondentID: &corr.ID,
		DocumentTypeID:  &typ.ID,
		TagIDs:          []uint{tag.ID},
		DocumentDate:    &date,
		Title:           &title,
		User:            "alice",
	})
	require.NoError(t, err)

	want := filepath.Join(e.docsDir, "2024", "EDF", "Facture", "scan.pdf")
	assert.Equal(t, want, got.FilePath)
	assert.FileExists(t, want)
	assert.NoFileExists(t, staged)
	assert.Equal(t, store.StatusValidated, got.Status)
	assert.Equal(t, "alice", got.ValidatedBy)
	assert.NotNil(t, got.ValidatedAt)
	assert.Equal(t, title, got.Title)
	require.NotNil(t, got.CorrespondentID)
	assert.Equal(t, corr.ID, *got.CorrespondentID)
	require.Len(t, got.Tags, 1)
	assert.Equal(t, "energie", got.Tags[0].Name)

	_, err = c.Validate(ctx, doc.ID, Overrides{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
}

func TestValidateNeverOverwrites(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	date := time.Date(2023, 1, 5, 0, 0, 0, 0, time.UTC)
	existing := filepath.Join(e.docsDir, "2023", "Divers", "scan.pdf")
	require.NoError(t, os.MkdirAll(filepath.Dir(existing), 0755))
	require.NoError(t, os.WriteFile(existing, []byte("older"), 0644))

	doc := e.stagedDocument(t, "scan.pdf", store.StatusPending)
	got, err := e.controller(nil, Options{}).Validate(ctx, doc.ID, Overrides{DocumentDate: &date})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(e.docsDir, "2023", "Divers", "scan_1.pdf"), got.FilePath)
	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "older", string(data))
}

func TestValidateDestinationOverride(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	c := e.controller(nil, Options{})

	doc := e.stagedDocument(t, "a.pdf", store.StatusClassified)
	got, err := c.Validate(ctx, doc.ID, Overrides{Destination: "Impots/2024"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(e.docsDir, "Impots", "2024", "a.pdf"), got.FilePath)

	other := e.stagedDocument(t, "b.pdf", store.StatusClassified)
	_, err = c.Validate(ctx, other.ID, Overrides{Destination: "../outside"})
	assert.ErrorIs(t, err, apperrors.ErrConfigInvalid)
	assert.FileExists(t, other.FilePath)
	assert.Equal(t, store.StatusClassified, e.status(t, other.ID))
}

func TestValidateMoveFailureLeavesDocument(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	doc := e.stagedDocument(t, "gone.pdf", store.StatusNeedsReview)
	require.NoError(t, os.Remove(doc.FilePath))

	_, err := e.controller(nil, Options{}).Validate(ctx, doc.ID, Overrides{})
	assert.ErrorIs(t, err, apperrors.ErrFileMove)

	after, err := e.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusNeedsReview, after.Status)
	assert.Equal(t, doc.FilePath, after.FilePath)
}

// racingGenerator changes the document status while the path is computed,
// so the conditional update after the move loses
type racingGenerator struct {
	store *store.Store
	id    string
}

func (g *racingGenerator) Generate(ctx context.Context, attrs pathgen.Attributes) (string, error) {
	if err := g.store.UpdateDocument(ctx, g.id, map[string]any{"status": store.StatusError}); err != nil {
		return "", err
	}
	return "2024/Divers", nil
}

func TestValidateMovesBackWhenUpdateLoses(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	doc := e.stagedDocument(t, "race.pdf", store.StatusNeedsReview)

	c := e.controller(&racingGenerator{store: e.store, id: doc.ID}, Options{})
	_, err := c.Validate(ctx, doc.ID, Overrides{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	assert.FileExists(t, doc.FilePath)
	assert.NoFileExists(t, filepath.Join(e.docsDir, "2024", "Divers", "race.pdf"))
	after, err := e.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.FilePath, after.FilePath)
}

func TestRestoreRecordsSuffixedPath(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	doc := e.stagedDocument(t, "taken.pdf", store.StatusNeedsReview)
	c := e.controller(nil, Options{})

	filed := filepath.Join(e.docsDir, "2024", "Divers", "taken.pdf")
	require.NoError(t, os.MkdirAll(filepath.Dir(filed), 0755))
	require.NoError(t, os.Rename(doc.FilePath, filed))
	// another file now occupies the staging name
	require.NoError(t, os.WriteFile(doc.FilePath, []byte("%PDF-1.4 other"), 0644))

	c.restore(ctx, doc, filed, zap.NewNop())

	after, err := e.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.NotEqual(t, doc.FilePath, after.FilePath)
	assert.Equal(t, filepath.Dir(doc.FilePath), filepath.Dir(after.FilePath))
	assert.FileExists(t, after.FilePath)
	assert.NoFileExists(t, filed)
	data, err := os.ReadFile(after.FilePath)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 taken.pdf", string(data))
}

func TestFailAndReprocess(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	doc := e.stagedDocument(t, "a.pdf", store.StatusImported)
	c := e.controller(nil, Options{})

	require.NoError(t, c.Fail(ctx, doc.ID, errors.New("text extraction failed")))
	failed, err := e.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusError, failed.Status)
	assert.Equal(t, "text extraction failed", failed.LastError)
	assert.FileExists(t, doc.FilePath)

	require.NoError(t, c.Reprocess(ctx, doc.ID))
	again, err := e.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusImported, again.Status)
	assert.Empty(t, again.LastError)

	assert.ErrorIs(t, c.Reprocess(ctx, doc.ID), apperrors.ErrInvalidTransition)
}

func TestSupersedeFreesChecksum(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	doc := e.stagedDocument(t, "a.pdf", store.StatusValidated)
	c := e.controller(nil, Options{})

	again := &store.Document{Checksum: doc.Checksum, OriginalFilename: "a.pdf"}
	assert.ErrorIs(t, e.store.CreateDocument(ctx, again), apperrors.ErrDuplicate)

	require.NoError(t, c.Supersede(ctx, doc.ID))
	again = &store.Document{Checksum: doc.Checksum, OriginalFilename: "a.pdf"}
	require.NoError(t, e.store.CreateDocument(ctx, again))
	assert.NotEqual(t, doc.ID, again.ID)
}

func TestApplySuggestions(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	corr := &store.Correspondent{Name: "Swisscom"}
	require.NoError(t, e.store.CreateCorrespondent(ctx, corr))
	doc := e.stagedDocument(t, "a.pdf", store.StatusNeedsReview)
	amount := 89.9

	c := e.controller(nil, Options{})
	require.NoError(t, c.ApplySuggestions(ctx, doc.ID, Overrides{CorrespondentID: &corr.ID, Amount: &amount}))

	after, err := e.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusNeedsReview, after.Status)
	require.NotNil(t, after.Correspondent)
	assert.Equal(t, "Swisscom", after.Correspondent.Name)
	require.NotNil(t, after.Amount)
	assert.InDelta(t, 89.9, *after.Amount, 1e-9)
	assert.Equal(t, doc.FilePath, after.FilePath)
}
