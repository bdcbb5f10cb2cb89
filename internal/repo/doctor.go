package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"git-backup/internal/vcs"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

const (
	serialWarnThreshold  = 50
	gitSizeWarnThreshold = int64(1 << 30) // 1GB
)

// ErrEmptyRepository is returned for mirrors of empty remotes: HEAD names a
// branch that has no commits yet.
var ErrEmptyRepository = errors.New("repository has no commits")

// CheckBranchReachability 检查仓库 HEAD 和指定分支是否可达（有提交）。
// 空仓库返回 ErrEmptyRepository。
func CheckBranchReachability(repoPath string, branch string) error {
	r, err := git.PlainOpen(repoPath)
	if err != nil {
		return fmt.Errorf("cannot open repo: %w", err)
	}

	headRef, err := r.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return ErrEmptyRepository
	}
	if err != nil {
		return fmt.Errorf("cannot resolve HEAD: %w", err)
	}
	if _, err := r.CommitObject(headRef.Hash()); err != nil {
		return fmt.Errorf("HEAD commit is unreachable: %w", err)
	}

	branch = strings.TrimSpace(branch)
	if branch == "" {
		return nil
	}

	branchRef, err := r.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return fmt.Errorf("branch %q not found", branch)
	}
	if _, err := r.CommitObject(branchRef.Hash()); err != nil {
		return fmt.Errorf("branch %q commit is unreachable: %w", branch, err)
	}

	return nil
}

// CheckPermissions 检查仓库读取权限（通过读取 .git/HEAD）。
func CheckPermissions(repoPath string) error {
	headPath := filepath.Join(repoPath, ".git", "HEAD")
	f, err := os.Open(headPath)
	if err != nil {
		return fmt.Errorf("cannot read .git/HEAD: %w", err)
	}
	_ = f.Close()
	return nil
}

// CheckRemote 检查 origin 是否配置了地址，同步时 fetch/pull 都依赖它。
func CheckRemote(repoPath string) error {
	r, err := git.PlainOpen(repoPath)
	if err != nil {
		return fmt.Errorf("cannot open repo: %w", err)
	}
	remote, err := r.Remote(vcs.RemoteName)
	if err != nil {
		return fmt.Errorf("remote %q: %w", vcs.RemoteName, err)
	}
	if len(remote.Config().URLs) == 0 {
		return fmt.Errorf("remote %q has no url", vcs.RemoteName)
	}
	return nil
}

// CheckPerformance 检查性能预警项：串行同步大量仓库、单个 .git 过大。
func CheckPerformance(repos []string, workers int) []string {
	warnings := make([]string, 0)

	if len(repos) > serialWarnThreshold && workers <= 1 {
		warnings = append(warnings, fmt.Sprintf("%d repos synced by a single worker, consider --workers", len(repos)))
	}

	for _, repoPath := range repos {
		size, err := getRepoSize(repoPath)
		if err != nil {
			continue
		}
		if size > gitSizeWarnThreshold {
			warnings = append(warnings, fmt.Sprintf("%s is large (%.1f GB), consider --depth", repoPath, float64(size)/float64(1<<30)))
		}
	}

	return warnings
}

func getRepoSize(repoPath string) (int64, error) {
	gitPath := filepath.Join(repoPath, ".git")
	var size int64

	err := filepath.WalkDir(gitPath, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		size += info.Size()
		return nil
	})
	if err != nil {
		return 0, err
	}

	return size, nil
}
