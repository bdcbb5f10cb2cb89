package vcs

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T, dir string) *git.Repository {
	t.Helper()

	r, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	return r
}

func commitFile(t *testing.T, r *git.Repository, name, content string) plumbing.Hash {
	t.Helper()

	wt, err := r.Worktree()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(wt.Filesystem.Root(), name), []byte(content), 0o644))

	_, err = wt.Add(name)
	require.NoError(t, err)

	sig := &object.Signature{Name: "Test", Email: "test@example.com", When: time.Now()}
	hash, err := wt.Commit("add "+name, &git.CommitOptions{Author: sig, Committer: sig})
	require.NoError(t, err)
	return hash
}

func originRemote() *gitconfig.RemoteConfig {
	return &gitconfig.RemoteConfig{Name: RemoteName, URLs: []string{"https://example.com/org/a.git"}}
}

func requireGitBinary(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git-upload-pack"); err != nil {
		t.Skip("local transport needs git-upload-pack")
	}
}

func TestCurrentBranch(t *testing.T) {
	dir := t.TempDir()
	r := initRepo(t, dir)
	g := NewGoGit(Options{})
	ctx := context.Background()

	// Unborn branch still has a name.
	branch, err := g.CurrentBranch(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, "master", branch)

	hash := commitFile(t, r, "README.md", "hello\n")
	wt, err := r.Worktree()
	require.NoError(t, err)
	require.NoError(t, wt.Checkout(&git.CheckoutOptions{Branch: plumbing.NewBranchReferenceName("dev"), Create: true}))

	branch, err = g.CurrentBranch(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, "dev", branch)

	require.NoError(t, wt.Checkout(&git.CheckoutOptions{Hash: hash}))
	branch, err = g.CurrentBranch(ctx, dir)
	require.NoError(t, err)
	assert.Empty(t, branch, "detached HEAD has no branch")
}

func TestCurrentBranch_NotARepository(t *testing.T) {
	dir := t.TempDir()

	_, err := NewGoGit(Options{}).CurrentBranch(context.Background(), dir)
	require.Error(t, err)

	var ce *CommandError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "branch", ce.Command)
	assert.Equal(t, dir, ce.Path)
	assert.True(t, errors.Is(err, git.ErrRepositoryNotExists))
}

func TestSetRemoteURL(t *testing.T) {
	dir := t.TempDir()
	r := initRepo(t, dir)
	g := NewGoGit(Options{})
	ctx := context.Background()

	require.NoError(t, g.SetRemoteURL(ctx, dir, "git@example.com:org/a.git"))
	remote, err := r.Remote(RemoteName)
	require.NoError(t, err)
	assert.Equal(t, []string{"git@example.com:org/a.git"}, remote.Config().URLs)
	assert.NotEmpty(t, remote.Config().Fetch)

	require.NoError(t, g.SetRemoteURL(ctx, dir, "https://example.com/org/renamed.git"))
	r, err = git.PlainOpen(dir)
	require.NoError(t, err)
	remote, err = r.Remote(RemoteName)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/org/renamed.git"}, remote.Config().URLs)
}

func TestCheckout(t *testing.T) {
	dir := t.TempDir()
	r := initRepo(t, dir)
	g := NewGoGit(Options{})
	ctx := context.Background()

	hash := commitFile(t, r, "README.md", "hello\n")
	_, err := r.CreateRemote(originRemote())
	require.NoError(t, err)

	t.Run("missing branch without remote ref fails", func(t *testing.T) {
		require.NoError(t, r.Storer.SetReference(plumbing.NewHashReference(plumbing.NewRemoteReferenceName(RemoteName, "master"), hash)))
		err := g.Checkout(ctx, dir, "nope")
		require.Error(t, err)
		var ce *CommandError
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, "checkout", ce.Command)
	})

	t.Run("creates local branch from remote branch", func(t *testing.T) {
		require.NoError(t, r.Storer.SetReference(plumbing.NewHashReference(plumbing.NewRemoteReferenceName(RemoteName, "main"), hash)))

		require.NoError(t, g.Checkout(ctx, dir, "main"))
		branch, err := g.CurrentBranch(ctx, dir)
		require.NoError(t, err)
		assert.Equal(t, "main", branch)

		ref, err := r.Reference(plumbing.NewBranchReferenceName("main"), true)
		require.NoError(t, err)
		assert.Equal(t, hash, ref.Hash())
	})

	t.Run("switches to existing branch", func(t *testing.T) {
		require.NoError(t, g.Checkout(ctx, dir, "master"))
		branch, err := g.CurrentBranch(ctx, dir)
		require.NoError(t, err)
		assert.Equal(t, "master", branch)
	})
}

func TestCheckout_EmptyRemoteIsNoop(t *testing.T) {
	dir := t.TempDir()
	r := initRepo(t, dir)
	_, err := r.CreateRemote(originRemote())
	require.NoError(t, err)

	assert.NoError(t, NewGoGit(Options{}).Checkout(context.Background(), dir, "main"))
}

func TestAuth(t *testing.T) {
	g := NewGoGit(Options{Token: "tok", Username: "oauth2"})
	assert.Equal(t, &githttp.BasicAuth{Username: "oauth2", Password: "tok"}, g.auth("https://gitlab.com/org/a.git"))
	assert.Nil(t, g.auth("git@gitlab.com:org/a.git"))

	assert.Nil(t, NewGoGit(Options{}).auth("https://gitlab.com/org/a.git"))
}

func TestCloneFetchPull(t *testing.T) {
	requireGitBinary(t)

	remoteDir := t.TempDir()
	remote := initRepo(t, remoteDir)
	commitFile(t, remote, "README.md", "hello\n")

	dst := filepath.Join(t.TempDir(), "org", "a")
	g := NewGoGit(Options{})
	ctx := context.Background()

	require.False(t, g.Exists(dst))
	require.NoError(t, g.Clone(ctx, remoteDir, dst, 0))
	require.True(t, g.Exists(dst))

	branch, err := g.CurrentBranch(ctx, dst)
	require.NoError(t, err)
	assert.Equal(t, "master", branch)

	commitFile(t, remote, "CHANGELOG.md", "v2\n")

	require.NoError(t, g.Fetch(ctx, dst, 0))
	require.NoError(t, g.Pull(ctx, dst, "master", 0))
	assert.FileExists(t, filepath.Join(dst, "CHANGELOG.md"))

	// Nothing new: already up to date is not an error.
	require.NoError(t, g.Fetch(ctx, dst, 0))
	require.NoError(t, g.Pull(ctx, dst, "master", 0))
}

func TestClone_EmptyRemote(t *testing.T) {
	requireGitBinary(t)

	remoteDir := t.TempDir()
	initRepo(t, remoteDir)

	dst := filepath.Join(t.TempDir(), "empty")
	g := NewGoGit(Options{})
	require.NoError(t, g.Clone(context.Background(), remoteDir, dst, 0))

	r, err := git.PlainOpen(dst)
	require.NoError(t, err)
	remote, err := r.Remote(RemoteName)
	require.NoError(t, err)
	assert.Equal(t, []string{remoteDir}, remote.Config().URLs)
}

func TestClone_FailureIsCommandError(t *testing.T) {
	requireGitBinary(t)

	dst := filepath.Join(t.TempDir(), "x")
	err := NewGoGit(Options{}).Clone(context.Background(), filepath.Join(t.TempDir(), "missing"), dst, 0)
	require.Error(t, err)

	var ce *CommandError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "clone", ce.Command)
	assert.Equal(t, dst, ce.Path)
}
