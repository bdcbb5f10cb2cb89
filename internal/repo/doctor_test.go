package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckBranchReachability(t *testing.T) {
	t.Run("normal repository should pass", func(t *testing.T) {
		repoPath := createRepoWithCommit(t)
		require.NoError(t, CheckBranchReachability(repoPath, ""))
		require.NoError(t, CheckBranchReachability(repoPath, "master"))
	})

	t.Run("empty repository is reported as empty", func(t *testing.T) {
		repoPath := t.TempDir()
		_, err := git.PlainInit(repoPath, false)
		require.NoError(t, err)

		err = CheckBranchReachability(repoPath, "")
		assert.True(t, errors.Is(err, ErrEmptyRepository))
	})

	t.Run("missing branch should fail", func(t *testing.T) {
		repoPath := createRepoWithCommit(t)
		err := CheckBranchReachability(repoPath, "missing")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "branch \"missing\" not found")
	})
}

func TestCheckPermissions(t *testing.T) {
	repoPath := createRepoWithCommit(t)
	require.NoError(t, CheckPermissions(repoPath))

	if runtime.GOOS == "windows" {
		t.Skip("permission mode test is not stable on windows")
	}
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}

	gitDir := filepath.Join(repoPath, ".git")
	require.NoError(t, os.Chmod(gitDir, 0o000))
	t.Cleanup(func() {
		_ = os.Chmod(gitDir, 0o755)
	})

	err := CheckPermissions(repoPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot read .git/HEAD")
}

func TestCheckRemote(t *testing.T) {
	repoPath := createRepoWithCommit(t)

	err := CheckRemote(repoPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `remote "origin"`)

	r, err := git.PlainOpen(repoPath)
	require.NoError(t, err)
	_, err = r.CreateRemote(&gitconfig.RemoteConfig{Name: "origin", URLs: []string{"git@example.com:org/a.git"}})
	require.NoError(t, err)

	assert.NoError(t, CheckRemote(repoPath))
}

func TestCheckPerformance(t *testing.T) {
	repos := make([]string, 0, 51)
	for i := 0; i < 51; i++ {
		repos = append(repos, fmt.Sprintf("/tmp/repo-%d", i))
	}

	t.Run("many repositories with one worker should warn", func(t *testing.T) {
		warnings := CheckPerformance(repos, 1)
		require.NotEmpty(t, warnings)
		assert.Contains(t, strings.Join(warnings, "\n"), "51 repos synced by a single worker")
	})

	t.Run("many repositories with several workers pass", func(t *testing.T) {
		assert.Empty(t, CheckPerformance(repos, 8))
	})

	t.Run("large git directory should warn", func(t *testing.T) {
		repoPath := t.TempDir()
		gitDir := filepath.Join(repoPath, ".git", "objects", "pack")
		require.NoError(t, os.MkdirAll(gitDir, 0o755))

		packFile := filepath.Join(gitDir, "pack-test.pack")
		f, err := os.Create(packFile)
		require.NoError(t, err)
		require.NoError(t, f.Truncate(gitSizeWarnThreshold+1))
		require.NoError(t, f.Close())

		warnings := CheckPerformance([]string{repoPath}, 1)
		require.NotEmpty(t, warnings)
		assert.Contains(t, strings.Join(warnings, "\n"), "is large")
	})
}

func createRepoWithCommit(t *testing.T) string {
	t.Helper()

	repoPath := t.TempDir()
	r, err := git.PlainInit(repoPath, false)
	require.NoError(t, err)

	wt, err := r.Worktree()
	require.NoError(t, err)

	filePath := filepath.Join(repoPath, "README.md")
	require.NoError(t, os.WriteFile(filePath, []byte("hello\n"), 0o644))

	_, err = wt.Add("README.md")
	require.NoError(t, err)

	sig := &object.Signature{
		Name:  "Test",
		Email: "test@example.com",
		When:  time.Now(),
	}

	_, err = wt.Commit("init", &git.CommitOptions{Author: sig, Committer: sig})
	require.NoError(t, err)

	return repoPath
}
