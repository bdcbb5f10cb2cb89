package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"git-backup/internal/config"
	"git-backup/internal/discovery"
	"git-backup/internal/provider"
)

// Mirror is a Git repository found below the mirror root.
type Mirror struct {
	// Path is absolute.
	Path string
	// Rel is the '/' separated repository path, e.g. "group/sub/project".
	Rel string
}

// ScanMirror 递归扫描镜像根目录，返回按 Rel 排序的仓库列表。
// depth < 0 表示不限制深度；excludes 与同步时的 --exclude 语义相同（路径前缀）。
// 找到仓库后不再向下扫描。
func ScanMirror(root string, depth int, excludes []string) ([]Mirror, error) {
	rootPath, err := config.ExpandPath(root)
	if err != nil {
		return nil, err
	}

	st, err := os.Stat(rootPath)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", rootPath)
	}

	s := &scanner{
		root:   rootPath,
		limit:  depth,
		filter: discovery.NewFilter(excludes, provider.ListOptions{}),
	}
	if err := s.scan(rootPath, 0); err != nil {
		return nil, err
	}

	sort.Slice(s.found, func(i, j int) bool { return s.found[i].Rel < s.found[j].Rel })
	return s.found, nil
}

type scanner struct {
	root   string
	limit  int
	filter *discovery.Filter
	found  []Mirror
}

func (s *scanner) scan(dir string, depth int) error {
	if dir != s.root {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			rel, err := filepath.Rel(s.root, dir)
			if err != nil {
				return err
			}
			s.found = append(s.found, Mirror{Path: dir, Rel: filepath.ToSlash(rel)})
			return nil
		}
	}

	if s.limit >= 0 && depth >= s.limit {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsPermission(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		// 跳过普通文件和符号链接
		if !entry.IsDir() || entry.Name() == ".git" {
			continue
		}

		child := filepath.Join(dir, entry.Name())
		rel, err := filepath.Rel(s.root, child)
		if err != nil {
			return err
		}
		if s.filter.Excluded(filepath.ToSlash(rel)) {
			continue
		}

		if err := s.scan(child, depth+1); err != nil {
			return err
		}
	}
	return nil
}
