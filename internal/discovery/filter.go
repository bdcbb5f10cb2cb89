package discovery

import (
	"strings"

	"git-backup/internal/provider"
)

// Prefixes 返回 path 的所有前缀路径，例如 "a/b/c" 得到 ["a", "a/b", "a/b/c"]。
func Prefixes(path string) []string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	out := make([]string, 0, len(parts))
	for i := range parts {
		out = append(out, strings.Join(parts[:i+1], "/"))
	}
	return out
}

// Filter 过滤被排除、已归档和 fork 的仓库。
type Filter struct {
	exclude map[string]struct{}
	opts    provider.ListOptions
}

// NewFilter 创建 Filter。exclude 可以是仓库路径或命名空间路径，
// 命名空间会排除其下所有仓库。
func NewFilter(exclude []string, opts provider.ListOptions) *Filter {
	f := &Filter{exclude: make(map[string]struct{}, len(exclude)), opts: opts}
	for _, ex := range exclude {
		ex = strings.Trim(strings.TrimSpace(ex), "/")
		if ex == "" {
			continue
		}
		f.exclude[ex] = struct{}{}
	}
	return f
}

// Excluded 判断 path 的任一前缀是否在排除集合中。
func (f *Filter) Excluded(path string) bool {
	if len(f.exclude) == 0 {
		return false
	}
	for _, p := range Prefixes(path) {
		if _, ok := f.exclude[p]; ok {
			return true
		}
	}
	return false
}

// Keep 判断 repo 是否需要同步。
func (f *Filter) Keep(repo provider.Repository) bool {
	return !f.Excluded(repo.Path) && !f.opts.Skip(repo)
}
