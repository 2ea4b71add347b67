package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gmsas95/paperflow/internal/config"
	apperrors "github.com/gmsas95/paperflow/internal/errors"
	"github.com/gmsas95/paperflow/internal/store"
)

const sampleCatalog = `
fields:
  - code: cost_center
    name: Centre de coût
    type: select
    options: [ADMIN, PROD, IT]
    position: 7
    history: true
    learn: true
    rules:
      - if: {correspondent: [Swisscom, Sunrise]}
        then: IT
  - code: reference
    regex: '/ref\.?\s*(\w+)/i'
    active: false
correspondents:
  - name: Swisscom
    match: swisscom
    algorithm: any
document_types:
  - name: Facture
    match: facture
    algorithm: exact
tags:
  - name: Télécom
`

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	st, err := store.New(&config.Config{Storage: config.StorageConfig{
		DataDir:    dir,
		SQLitePath: filepath.Join(dir, "test.db"),
		BadgerPath: filepath.Join(dir, "badger"),
	}})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestParse(t *testing.T) {
	f, err := Parse([]byte(sampleCatalog))
	require.NoError(t, err)
	require.Len(t, f.Fields, 2)

	cc := f.Fields[0].Model()
	assert.Equal(t, store.FieldSelect, cc.FieldType)
	assert.True(t, cc.Active)
	assert.True(t, cc.UseRules)
	assert.Equal(t, []string{"ADMIN", "PROD", "IT"}, cc.OptionList())
	rules := cc.RuleList()
	require.Len(t, rules, 1)
	assert.Equal(t, "IT", rules[0].Then)

	ref := f.Fields[1].Model()
	assert.False(t, ref.Active)
	assert.True(t, ref.UseRegex)
	assert.Equal(t, store.FieldText, ref.FieldType)
	assert.Equal(t, "reference", ref.Name)
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown key":     "fields:\n  - code: a\n    colour: red\n",
		"missing code":    "fields:\n  - name: nameless\n",
		"bad type":        "fields:\n  - code: a\n    type: money\n",
		"duplicate code":  "fields:\n  - code: a\n  - code: a\n",
		"bad regex":       "fields:\n  - code: a\n    regex: '(?<=x)'\n",
		"select no opts":  "fields:\n  - code: a\n    type: select\n",
		"bad algorithm":   "tags:\n  - name: x\n    algorithm: soundex\n",
		"rule without if": "fields:\n  - code: a\n    rules:\n      - then: b\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, apperrors.ErrConfigInvalid))
		})
	}
}

func TestDefaultFieldsAreValid(t *testing.T) {
	f := &File{Fields: DefaultFields()}
	require.NoError(t, f.Validate())
}

func TestBootstrap_SeedsDefaultsOnce(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	logger := zap.NewNop()

	require.NoError(t, Bootstrap(ctx, st, "", logger))
	fields, err := st.ListActiveFields(ctx)
	require.NoError(t, err)
	require.Len(t, fields, len(DefaultFields()))
	assert.Equal(t, "supplier", fields[0].Code)

	// an existing catalog is left alone
	require.NoError(t, st.UpsertField(ctx, &store.ClassificationField{Code: "supplier", Active: false}))
	require.NoError(t, Bootstrap(ctx, st, "", logger))
	fields, err = st.ListActiveFields(ctx)
	require.NoError(t, err)
	assert.Len(t, fields, len(DefaultFields())-1)
}

func TestBootstrap_FromFile(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "fields.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleCatalog), 0644))

	require.NoError(t, Bootstrap(ctx, st, path, zap.NewNop()))
	// applying twice updates in place
	require.NoError(t, Bootstrap(ctx, st, path, zap.NewNop()))

	fields, err := st.ListActiveFields(ctx)
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.Equal(t, "cost_center", fields[0].Code)

	cat, err := st.LoadCatalog(ctx)
	require.NoError(t, err)
	require.Len(t, cat.Correspondents, 1)
	assert.Equal(t, store.MatchAny, cat.Correspondents[0].MatchingAlgorithm)
	assert.Len(t, cat.DocumentTypes, 1)
	assert.Len(t, cat.Tags, 1)

	err = Bootstrap(ctx, st, filepath.Join(t.TempDir(), "missing.yaml"), zap.NewNop())
	assert.Error(t, err)
}
