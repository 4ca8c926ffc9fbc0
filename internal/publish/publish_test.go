package publish

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitMovesStagingIntoTarget(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out", "file.bin")
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))

	s, err := Stage(target)
	require.NoError(t, err)
	assert.Equal(t, StagingDir(target), filepath.Dir(s.Path()))

	_, err = s.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = s.Write([]byte("world"))
	require.NoError(t, err)
	assert.Equal(t, int64(11), s.Written())

	// nothing is visible at the target before commit
	assert.NoFileExists(t, target)

	require.NoError(t, s.Commit())
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
	assert.NoFileExists(t, s.Path())

	// discard after commit is a no-op
	require.NoError(t, s.Discard())
	assert.FileExists(t, target)
}

func TestDiscardLeavesTargetUnchanged(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "file.bin")
	require.NoError(t, os.WriteFile(target, []byte("original"), 0o644))

	s, err := Stage(target)
	require.NoError(t, err)
	_, err = s.Write([]byte("partial"))
	require.NoError(t, err)

	require.NoError(t, s.Discard())
	require.NoError(t, s.Discard())
	assert.NoFileExists(t, s.Path())

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))

	_, err = s.Write([]byte("late"))
	assert.ErrorIs(t, err, os.ErrClosed)
	assert.Error(t, s.Commit())
}

func TestStagePathsAreUnique(t *testing.T) {
	target := filepath.Join(t.TempDir(), "same.bin")
	seen := make(map[string]bool)
	for range 20 {
		s, err := Stage(target)
		require.NoError(t, err)
		assert.False(t, seen[s.Path()], s.Path())
		seen[s.Path()] = true
		require.NoError(t, s.Discard())
	}
}

func TestCommitFailureRemovesStaging(t *testing.T) {
	dir := t.TempDir()
	// a non-empty directory at the target path makes the rename fail
	target := filepath.Join(dir, "occupied")
	require.NoError(t, os.MkdirAll(filepath.Join(target, "child"), 0o755))

	s, err := Stage(target)
	require.NoError(t, err)
	_, err = s.Write([]byte("data"))
	require.NoError(t, err)

	require.Error(t, s.Commit())
	assert.NoFileExists(t, s.Path())
	assert.DirExists(t, filepath.Join(target, "child"))
}

func TestSweepRemovesOnlyEmptyStagingDirs(t *testing.T) {
	a := filepath.Join(t.TempDir(), "a.bin")
	b := filepath.Join(t.TempDir(), "b.bin")

	sa, err := Stage(a)
	require.NoError(t, err)
	require.NoError(t, sa.Discard())

	sb, err := Stage(b)
	require.NoError(t, err)
	defer sb.Discard()

	Sweep([]string{a, b, a})
	assert.NoDirExists(t, StagingDir(a))
	assert.DirExists(t, StagingDir(b))
}
