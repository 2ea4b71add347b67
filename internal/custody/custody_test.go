package custody

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/gmsas95/paperflow/internal/errors"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestMove_Simple(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "inbox", "a.pdf")
	writeFile(t, src, "alpha")

	dst := filepath.Join(dir, "storage", "2024", "EDF", "a.pdf")
	got, err := Move(src, dst)
	require.NoError(t, err)
	assert.Equal(t, dst, got)
	assert.NoFileExists(t, src)

	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(data))
}

func TestMove_NeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "out", "facture.pdf")
	writeFile(t, dst, "existing")
	writeFile(t, filepath.Join(dir, "out", "facture_1.pdf"), "existing too")

	src := filepath.Join(dir, "in", "facture.pdf")
	writeFile(t, src, "new")

	got, err := Move(src, dst)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "out", "facture_2.pdf"), got)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "existing", string(data))
}

func TestMove_MissingSource(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "out", "x.pdf")

	_, err := Move(filepath.Join(dir, "nope.pdf"), dst)
	assert.True(t, apperrors.Is(err, apperrors.ErrFileMove))
	assert.NoFileExists(t, dst)
}

func TestCopyVerified(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.pdf")
	writeFile(t, src, "payload")
	dst := filepath.Join(dir, "dst.pdf")
	writeFile(t, dst, "")

	require.NoError(t, copyVerified(src, dst))

	a, err := MD5File(src)
	require.NoError(t, err)
	b, err := MD5File(dst)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.FileExists(t, src)
}

func TestMD5File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	writeFile(t, path, "")
	sum, err := MD5File(path)
	require.NoError(t, err)
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", sum)
}
