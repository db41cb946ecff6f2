package safereplace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
}

func TestReplace_SwapsAndUnlinksBackup(t *testing.T) {
	dir := t.TempDir()
	original := filepath.Join(dir, "movie.mkv")
	candidate := filepath.Join(dir, "movie.mkv.new")
	writeFile(t, original, 1000)
	writeFile(t, candidate, 400)

	saved, err := Replace(original, candidate, 0.10, false)
	require.NoError(t, err)
	assert.Equal(t, int64(600), saved)

	_, err = os.Stat(original)
	assert.NoError(t, err, "final file should exist at the original path")
	_, err = os.Stat(original + ".bak")
	assert.True(t, os.IsNotExist(err), ".bak should be unlinked outside testing mode")
}

func TestReplace_KeepsBackupInTestingMode(t *testing.T) {
	dir := t.TempDir()
	original := filepath.Join(dir, "movie.mkv")
	candidate := filepath.Join(dir, "movie.mkv.new")
	writeFile(t, original, 1000)
	writeFile(t, candidate, 400)

	_, err := Replace(original, candidate, 0.10, true)
	require.NoError(t, err)

	_, err = os.Stat(original + ".bak")
	assert.NoError(t, err, ".bak must survive in testing mode")
}

func TestReplace_RejectsInsufficientSavings(t *testing.T) {
	dir := t.TempDir()
	original := filepath.Join(dir, "movie.mkv")
	candidate := filepath.Join(dir, "movie.mkv.new")
	writeFile(t, original, 1000)
	writeFile(t, candidate, 950) // only 5% smaller, below a 10% floor

	_, err := Replace(original, candidate, 0.10, false)
	assert.ErrorIs(t, err, ErrInsufficientSavings)

	_, statErr := os.Stat(original)
	assert.NoError(t, statErr, "original must be untouched on rejection")
	_, statErr = os.Stat(candidate)
	assert.NoError(t, statErr, "candidate must be untouched on rejection")
}

func TestIsBackupPath(t *testing.T) {
	assert.True(t, IsBackupPath("/media/movie.mkv.bak"))
	assert.False(t, IsBackupPath("/media/movie.mkv"))
}
