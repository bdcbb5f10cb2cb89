package mirror

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"git-backup/internal/provider"
	"git-backup/internal/vcs"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
)

// Result 是单个同步任务的结果。
type Result struct {
	Path      string
	LocalPath string
	Success   bool
	// UpToDate 表示过期检查判定无需任何网络操作。
	UpToDate bool
	Cloned   bool
	Err      error
	Duration time.Duration
}

// Options 配置 Scheduler。
type Options struct {
	// Root 镜像根目录
	Root string
	// Workers 并发任务上限，小于 1 按 1 处理
	Workers int
	// Depth > 0 时 clone/fetch/pull 使用浅克隆
	Depth int
	// OnResult 每个任务结束时调用一次，调用之间不会重叠
	OnResult func(Result)
	Log      logrus.FieldLogger
}

// Scheduler 在镜像根目录下克隆或更新仓库。
type Scheduler struct {
	vcs  vcs.Client
	opts Options
	log  logrus.FieldLogger
}

func NewScheduler(client vcs.Client, opts Options) *Scheduler {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scheduler{vcs: client, opts: opts, log: log}
}

// Run 同步所有仓库，每个仓库返回一个 Result，按 Path 排序。
// 单个任务失败或 panic 不影响其他任务。repos 的 Path 必须唯一。
func (s *Scheduler) Run(ctx context.Context, repos []provider.Repository) []Result {
	p := pool.NewWithResults[Result]().WithMaxGoroutines(s.opts.Workers)

	var mu sync.Mutex // 保护 OnResult 回调
	for _, repo := range repos {
		p.Go(func() Result {
			res := s.sync(ctx, repo)
			if s.opts.OnResult != nil {
				mu.Lock()
				s.opts.OnResult(res)
				mu.Unlock()
			}
			return res
		})
	}

	results := p.Wait()
	sort.Slice(results, func(i, j int) bool { return results[i].Path < results[j].Path })
	return results
}

func (s *Scheduler) sync(ctx context.Context, repo provider.Repository) (res Result) {
	start := time.Now()
	res = Result{Path: repo.Path}
	log := s.log.WithField("path", repo.Path)

	defer func() {
		if r := recover(); r != nil {
			res.Success = false
			res.UpToDate = false
			res.Err = fmt.Errorf("panic: %v", r)
			log.WithField("panic", r).Error("Unhandled error")
		}
		res.Duration = time.Since(start)
	}()

	err := s.update(ctx, repo, log, &res)
	if err != nil {
		res.Err = err
		var ce *vcs.CommandError
		if errors.As(err, &ce) {
			log.WithError(ce.Err).Errorf("Git error %s %q", repo.Path, ce.Command)
		} else {
			log.WithError(err).Error("Unhandled error")
		}
		return res
	}
	res.Success = true
	return res
}

func (s *Scheduler) update(ctx context.Context, repo provider.Repository, log logrus.FieldLogger, res *Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	local, err := LocalPath(s.opts.Root, repo.Path)
	if err != nil {
		return err
	}
	res.LocalPath = local

	if !s.vcs.Exists(local) {
		log.Info("Cloning")
		if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
			return err
		}
		if err := s.vcs.Clone(ctx, repo.CloneURL, local, s.opts.Depth); err != nil {
			return err
		}
		res.Cloned = true
		return stamp(local, repo.LastActivityAt)
	}

	branch, err := s.vcs.CurrentBranch(ctx, local)
	if err != nil {
		return err
	}

	fresh, err := unchanged(local, repo, branch)
	if err != nil {
		return err
	}
	if fresh {
		log.Info("Up to date")
		res.UpToDate = true
		return nil
	}

	log.Info("Updating")
	if err := s.vcs.SetRemoteURL(ctx, local, repo.CloneURL); err != nil {
		return err
	}
	if err := s.vcs.Fetch(ctx, local, s.opts.Depth); err != nil {
		return err
	}

	target := branch
	if repo.DefaultBranch != "" && repo.DefaultBranch != branch {
		log.WithField("branch", repo.DefaultBranch).Info("Switching branch")
		if err := s.vcs.Checkout(ctx, local, repo.DefaultBranch); err != nil {
			return err
		}
		target = repo.DefaultBranch
	}
	if err := s.vcs.Pull(ctx, local, target, s.opts.Depth); err != nil {
		return err
	}
	return stamp(local, repo.LastActivityAt)
}

// unchanged 判断本地镜像的同步水位是否等于远端当前活动时间，且位于默认分支。
func unchanged(local string, repo provider.Repository, branch string) (bool, error) {
	if repo.LastActivityAt == nil || branch != repo.DefaultBranch {
		return false, nil
	}
	st, err := os.Stat(local)
	if err != nil {
		return false, err
	}
	return st.ModTime().Unix() == repo.LastActivityAt.Unix(), nil
}

// stamp 把活动时间写成目录修改时间，作为 unchanged 读取的水位。
func stamp(local string, at *time.Time) error {
	if at == nil {
		return nil
	}
	if err := os.Chtimes(local, time.Time{}, *at); err != nil {
		return fmt.Errorf("stamp %s: %w", local, err)
	}
	return nil
}

// LocalPath 把仓库路径映射到镜像根目录下。
// 含空段、"." 或 ".." 的路径会被拒绝，任务不会写到 root 之外。
func LocalPath(root, path string) (string, error) {
	parts := strings.Split(path, "/")
	for _, part := range parts {
		if part == "" || part == "." || part == ".." || strings.ContainsRune(part, filepath.Separator) {
			return "", fmt.Errorf("invalid repository path %q", path)
		}
	}
	return filepath.Join(append([]string{root}, parts...)...), nil
}
