package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotatingWriter_AppendsWithinLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mongomem.log")

	w, err := NewRotatingWriter(path, 10, 3)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Write([]byte("first\n"))
	require.NoError(t, err)
	_, err = w.Write([]byte("second\n"))
	require.NoError(t, err)
	require.NoError(t, w.Sync())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(content))

	_, err = os.Stat(path + ".1")
	assert.True(t, os.IsNotExist(err))
}

func TestRotatingWriter_RotatesAndShifts(t *testing.T) {
	// Given: a zero-size limit so every write rotates
	dir := t.TempDir()
	path := filepath.Join(dir, "mongomem.log")

	w, err := NewRotatingWriter(path, 0, 2)
	require.NoError(t, err)
	defer w.Close()

	// When: three writes
	for _, line := range []string{"one\n", "two\n", "three\n"} {
		_, err := w.Write([]byte(line))
		require.NoError(t, err)
	}
	require.NoError(t, w.Sync())

	// Then: current file has the latest line, rotations shift down
	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "three\n", string(current))

	first, err := os.ReadFile(path + ".1")
	require.NoError(t, err)
	assert.Equal(t, "two\n", string(first))

	second, err := os.ReadFile(path + ".2")
	require.NoError(t, err)
	assert.Equal(t, "one\n", string(second))
}

func TestRotatingWriter_DropsPastMaxFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mongomem.log")

	w, err := NewRotatingWriter(path, 0, 2)
	require.NoError(t, err)
	defer w.Close()

	for _, line := range []string{"a\n", "b\n", "c\n", "d\n", "e\n"} {
		_, err := w.Write([]byte(line))
		require.NoError(t, err)
	}

	// Only .1 and .2 survive.
	_, err = os.Stat(path + ".3")
	assert.True(t, os.IsNotExist(err))

	first, err := os.ReadFile(path + ".1")
	require.NoError(t, err)
	assert.Equal(t, "d\n", string(first))
}

func TestRotatingWriter_PicksUpExistingFileSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mongomem.log")
	require.NoError(t, os.WriteFile(path, []byte("existing\n"), 0o644))

	w, err := NewRotatingWriter(path, 10, 2)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Write([]byte("appended\n"))
	require.NoError(t, err)
	require.NoError(t, w.Sync())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "existing\nappended\n", string(content))
}
