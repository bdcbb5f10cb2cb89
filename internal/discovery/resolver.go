package discovery

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"strings"

	"git-backup/internal/provider"

	"github.com/sirupsen/logrus"
)

// Resolver 发现根路径下的所有仓库。
type Resolver struct {
	api  provider.Discovery
	opts provider.ListOptions
	log  logrus.FieldLogger
}

// NewResolver 基于 api 创建 Resolver。opts 会传给每次项目列表请求，便于服务端过滤。
func NewResolver(api provider.Discovery, opts provider.ListOptions, log logrus.FieldLogger) *Resolver {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Resolver{api: api, opts: opts, log: log}
}

// Resolve 返回 root 下仓库的惰性序列。
//
// 依次把 root 当作项目、用户（owner）、组解析，组按广度优先遍历全部子组。
// 某一步返回 not found 时继续下一步；其他错误结束序列，
// 作为最后一个元素返回一次（Repository 为零值）。
//
// 只返回路径等于 root 或位于 root 之下的仓库，其他命名空间下的 fork 被丢弃。
// 同一路径可能通过多个步骤重复出现。
func (r *Resolver) Resolve(ctx context.Context, root string) iter.Seq2[provider.Repository, error] {
	return func(yield func(provider.Repository, error) bool) {
		root := strings.Trim(root, "/")
		log := r.log.WithField("root", root)

		found := 0
		stopped := false
		emit := func(repo provider.Repository) bool {
			if !InNamespace(root, repo.Path) {
				log.WithField("path", repo.Path).Debug("Skipping repository outside namespace")
				return true
			}
			found++
			if !yield(repo, nil) {
				stopped = true
				return false
			}
			return true
		}

		err := r.resolve(ctx, root, log, emit)
		if stopped {
			return
		}
		if err != nil {
			yield(provider.Repository{}, fmt.Errorf("resolve %s: %w", root, err))
			return
		}
		if found == 0 {
			log.Warn("No repositories found")
		}
	}
}

func (r *Resolver) resolve(ctx context.Context, root string, log logrus.FieldLogger, emit func(provider.Repository) bool) error {
	repo, err := r.api.LookupProject(ctx, root)
	switch {
	case err == nil:
		if !emit(repo) {
			return nil
		}
	case errors.Is(err, provider.ErrNotFound):
		log.Debug("Not a project")
	default:
		return err
	}

	stopped := false
	err = eachPage(ctx, func(ctx context.Context, cursor string) (provider.Page[provider.Repository], error) {
		return r.api.ListOwnerProjects(ctx, root, cursor, r.opts)
	}, func(repo provider.Repository) bool {
		stopped = !emit(repo)
		return !stopped
	})
	switch {
	case err == nil:
		if stopped {
			return nil
		}
	case errors.Is(err, provider.ErrNotFound):
		log.Debug("Not a user")
	default:
		return err
	}

	group, err := r.api.LookupGroup(ctx, root)
	switch {
	case err == nil:
		return r.walk(ctx, group, log, emit)
	case errors.Is(err, provider.ErrNotFound):
		log.Debug("Not a group")
		return nil
	default:
		return err
	}
}

// walk 广度优先列出 start 及其所有子组的项目。
// 同一个组即使被多个父组列出也只访问一次。
func (r *Resolver) walk(ctx context.Context, start provider.Group, log logrus.FieldLogger, emit func(provider.Repository) bool) error {
	visited := map[int64]struct{}{start.ID: {}}
	queue := []provider.Group{start}

	for len(queue) > 0 {
		group := queue[0]
		queue = queue[1:]
		glog := log.WithField("group", group.FullPath)

		stopped := false
		err := eachPage(ctx, func(ctx context.Context, cursor string) (provider.Page[provider.Repository], error) {
			return r.api.ListGroupProjects(ctx, group, cursor, r.opts)
		}, func(repo provider.Repository) bool {
			stopped = !emit(repo)
			return !stopped
		})
		if stopped {
			return nil
		}
		if err != nil {
			if !errors.Is(err, provider.ErrNotFound) {
				return err
			}
			glog.WithError(err).Warn("Group disappeared while listing projects")
			continue
		}

		err = eachPage(ctx, func(ctx context.Context, cursor string) (provider.Page[provider.Group], error) {
			return r.api.ListSubgroups(ctx, group, cursor)
		}, func(sub provider.Group) bool {
			if _, ok := visited[sub.ID]; ok {
				return true
			}
			visited[sub.ID] = struct{}{}
			queue = append(queue, sub)
			return true
		})
		if err != nil {
			if !errors.Is(err, provider.ErrNotFound) {
				return err
			}
			glog.WithError(err).Warn("Group disappeared while listing subgroups")
		}
	}
	return nil
}

// InNamespace 判断 path 是否等于 root 或位于 root 之下（忽略大小写）。
func InNamespace(root, path string) bool {
	root = strings.ToLower(strings.Trim(root, "/"))
	path = strings.ToLower(path)
	return path == root || strings.HasPrefix(path, root+"/")
}

// AllGroups 返回令牌可见的所有组的顶级路径段（小写、去重、排序）。
func AllGroups(ctx context.Context, api provider.Discovery) ([]string, error) {
	seen := make(map[string]struct{})
	err := eachPage(ctx, api.ListGroups, func(g provider.Group) bool {
		top, _, _ := strings.Cut(g.FullPath, "/")
		if top = strings.ToLower(top); top != "" {
			seen[top] = struct{}{}
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}

	groups := make([]string, 0, len(seen))
	for g := range seen {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups, nil
}
