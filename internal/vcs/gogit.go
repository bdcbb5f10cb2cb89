package vcs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

// RemoteName 是每个镜像跟踪的远程名。
const RemoteName = "origin"

// Options 配置 GoGit。
type Options struct {
	// Token 作为 http(s) 远程的 basic auth 密码，ssh 远程使用 ssh agent
	Token string
	// Username 与 Token 搭配，GitHub 用 "x-access-token"，GitLab 用 "oauth2"
	Username string
	// Insecure 跳过 TLS 校验
	Insecure bool
}

// GoGit 基于 go-git 实现 Client。
type GoGit struct {
	opts Options
}

var _ Client = (*GoGit)(nil)

// NewGoGit 返回基于 go-git 的 Client。
func NewGoGit(opts Options) *GoGit {
	return &GoGit{opts: opts}
}

func (g *GoGit) auth(url string) transport.AuthMethod {
	if g.opts.Token == "" {
		return nil
	}
	if !strings.HasPrefix(url, "https://") && !strings.HasPrefix(url, "http://") {
		return nil
	}
	user := g.opts.Username
	if user == "" {
		user = "git"
	}
	return &githttp.BasicAuth{Username: user, Password: g.opts.Token}
}

func (g *GoGit) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Clone 把 url 克隆到 path。远端为空时初始化一个配置了 origin 的仓库，
// 后续运行可以直接 pull。
func (g *GoGit) Clone(ctx context.Context, url, path string, depth int) error {
	_, err := git.PlainCloneContext(ctx, path, false, &git.CloneOptions{
		URL:             url,
		Auth:            g.auth(url),
		Depth:           depth,
		InsecureSkipTLS: g.opts.Insecure,
	})
	if errors.Is(err, transport.ErrEmptyRemoteRepository) {
		err = g.initEmpty(url, path)
	}
	return wrap("clone", path, err)
}

func (g *GoGit) initEmpty(url, path string) error {
	r, err := git.PlainInit(path, false)
	if err != nil {
		return err
	}
	_, err = r.CreateRemote(&gitconfig.RemoteConfig{Name: RemoteName, URLs: []string{url}})
	return err
}

func (g *GoGit) CurrentBranch(_ context.Context, path string) (string, error) {
	r, err := git.PlainOpen(path)
	if err != nil {
		return "", wrap("branch", path, err)
	}
	// 不解析 HEAD，未提交的分支也能拿到名字
	head, err := r.Storer.Reference(plumbing.HEAD)
	if err != nil {
		return "", wrap("branch", path, err)
	}
	if head.Type() != plumbing.SymbolicReference || !head.Target().IsBranch() {
		return "", nil
	}
	return head.Target().Short(), nil
}

func (g *GoGit) SetRemoteURL(_ context.Context, path, url string) error {
	r, err := git.PlainOpen(path)
	if err != nil {
		return wrap("set-url", path, err)
	}
	cfg, err := r.Config()
	if err != nil {
		return wrap("set-url", path, err)
	}

	if remote, ok := cfg.Remotes[RemoteName]; ok {
		if len(remote.URLs) == 1 && remote.URLs[0] == url {
			return nil
		}
		remote.URLs = []string{url}
	} else {
		cfg.Remotes[RemoteName] = &gitconfig.RemoteConfig{
			Name:  RemoteName,
			URLs:  []string{url},
			Fetch: []gitconfig.RefSpec{gitconfig.RefSpec(fmt.Sprintf(gitconfig.DefaultFetchRefSpec, RemoteName))},
		}
	}
	return wrap("set-url", path, r.Storer.SetConfig(cfg))
}

func (g *GoGit) remoteURL(r *git.Repository) (string, error) {
	remote, err := r.Remote(RemoteName)
	if err != nil {
		return "", err
	}
	if urls := remote.Config().URLs; len(urls) > 0 {
		return urls[0], nil
	}
	return "", fmt.Errorf("remote %s has no url", RemoteName)
}

func (g *GoGit) Fetch(ctx context.Context, path string, depth int) error {
	r, err := git.PlainOpen(path)
	if err != nil {
		return wrap("fetch", path, err)
	}
	url, err := g.remoteURL(r)
	if err != nil {
		return wrap("fetch", path, err)
	}

	err = r.FetchContext(ctx, &git.FetchOptions{
		RemoteName:      RemoteName,
		Auth:            g.auth(url),
		Depth:           depth,
		InsecureSkipTLS: g.opts.Insecure,
	})
	return wrap("fetch", path, ignoreUpToDate(err))
}

// Checkout 切换到 branch，本地不存在时基于远程跟踪分支创建。
// 远端没有任何分支（空仓库）时无需切换，直接返回成功。
func (g *GoGit) Checkout(_ context.Context, path, branch string) error {
	if branch == "" {
		return nil
	}
	r, err := git.PlainOpen(path)
	if err != nil {
		return wrap("checkout", path, err)
	}
	wt, err := r.Worktree()
	if err != nil {
		return wrap("checkout", path, err)
	}

	local := plumbing.NewBranchReferenceName(branch)
	if _, err := r.Reference(local, false); err == nil {
		return wrap("checkout", path, wt.Checkout(&git.CheckoutOptions{Branch: local}))
	} else if !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return wrap("checkout", path, err)
	}

	remoteRef, err := r.Reference(plumbing.NewRemoteReferenceName(RemoteName, branch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		empty, emptyErr := hasNoRemoteBranches(r)
		if emptyErr == nil && empty {
			return nil
		}
		return wrap("checkout", path, fmt.Errorf("branch %q not found on %s", branch, RemoteName))
	}
	if err != nil {
		return wrap("checkout", path, err)
	}

	err = wt.Checkout(&git.CheckoutOptions{Branch: local, Hash: remoteRef.Hash(), Create: true})
	if err != nil {
		return wrap("checkout", path, err)
	}
	err = r.CreateBranch(&gitconfig.Branch{Name: branch, Remote: RemoteName, Merge: local})
	if errors.Is(err, git.ErrBranchExists) {
		err = nil
	}
	return wrap("checkout", path, err)
}

func hasNoRemoteBranches(r *git.Repository) (bool, error) {
	refs, err := r.References()
	if err != nil {
		return false, err
	}
	defer refs.Close()

	found := false
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		if ref.Name().IsRemote() {
			found = true
		}
		return nil
	})
	return !found, err
}

func (g *GoGit) Pull(ctx context.Context, path, branch string, depth int) error {
	r, err := git.PlainOpen(path)
	if err != nil {
		return wrap("pull", path, err)
	}
	url, err := g.remoteURL(r)
	if err != nil {
		return wrap("pull", path, err)
	}
	wt, err := r.Worktree()
	if err != nil {
		return wrap("pull", path, err)
	}

	opts := &git.PullOptions{
		RemoteName:      RemoteName,
		Auth:            g.auth(url),
		Depth:           depth,
		InsecureSkipTLS: g.opts.Insecure,
	}
	if branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(branch)
	}
	return wrap("pull", path, ignoreUpToDate(wt.PullContext(ctx, opts)))
}

func ignoreUpToDate(err error) error {
	if errors.Is(err, git.NoErrAlreadyUpToDate) || errors.Is(err, transport.ErrEmptyRemoteRepository) {
		return nil
	}
	return err
}
