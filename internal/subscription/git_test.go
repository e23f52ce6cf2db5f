package subscription

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	run("init", "-q")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "committed.txt"), []byte("hello\n"), 0o644))
	run("add", ".")
	run("commit", "-q", "-m", "initial")
	return dir
}

func TestComputeDiffUncommittedDetectsNewFile(t *testing.T) {
	dir := initRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "untracked.txt"), []byte("new\n"), 0o644))

	diffs, err := computeDiff(context.Background(), dir, ModeUncommitted)
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	require.Equal(t, "untracked.txt", diffs[0].Path)
	require.True(t, diffs[0].IsNew)
}

func TestComputeDiffUncommittedDetectsModification(t *testing.T) {
	dir := initRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "committed.txt"), []byte("hello\nworld\n"), 0o644))

	diffs, err := computeDiff(context.Background(), dir, ModeUncommitted)
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	require.Equal(t, "committed.txt", diffs[0].Path)
	require.False(t, diffs[0].IsNew)
	require.NotEmpty(t, diffs[0].Hunks)
}

func TestComputeDiffCleanTreeReturnsEmpty(t *testing.T) {
	dir := initRepo(t)

	diffs, err := computeDiff(context.Background(), dir, ModeUncommitted)
	require.NoError(t, err)
	require.Empty(t, diffs)
}
