package mirror

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"
)

// FindOrphans 返回 root 下既不是目标、也不是目标祖先目录的条目，已排序。
// 孤儿目录只报告一次，不再向下扫描。root 不存在时没有孤儿。
//
// targets 必须包含 root 下所有应存在仓库的本地路径，而不仅是同步成功的：
// 遗漏的路径会被当成孤儿，并在删除模式下被 HandleOrphans 删除。
func FindOrphans(root string, targets []string) ([]string, error) {
	root = filepath.Clean(root)

	wanted := make(map[string]struct{}, len(targets))
	ancestors := make(map[string]struct{})
	for _, t := range targets {
		t = filepath.Clean(t)
		wanted[t] = struct{}{}
		for dir := filepath.Dir(t); dir != root && dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			ancestors[dir] = struct{}{}
		}
	}

	var orphans []string
	stack := []string{root}
	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(dir)
		if err != nil {
			if dir == root && errors.Is(err, fs.ErrNotExist) {
				return nil, nil
			}
			return nil, fmt.Errorf("scan %s: %w", dir, err)
		}

		for _, entry := range entries {
			child := filepath.Join(dir, entry.Name())
			if _, ok := wanted[child]; ok {
				continue
			}
			if _, ok := ancestors[child]; ok {
				// 占住命名空间位置的普通文件既不下钻也不报告
				if entry.IsDir() {
					stack = append(stack, child)
				}
				continue
			}
			orphans = append(orphans, child)
		}
	}

	sort.Strings(orphans)
	return orphans, nil
}

// RemoveOrphans 递归删除所有路径。
func RemoveOrphans(paths []string) error {
	var errs []error
	for _, p := range paths {
		if err := os.RemoveAll(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HandleOrphans 以相对 root 的路径记录每个孤儿，remove 为 true 时删除。
func HandleOrphans(root string, orphans []string, remove bool, log logrus.FieldLogger) error {
	for _, p := range orphans {
		rel, err := filepath.Rel(root, p)
		if err != nil {
			rel = p
		}
		if remove {
			log.Warnf("Removing orphan %s", filepath.ToSlash(rel))
		} else {
			log.Warnf("Orphan %s", filepath.ToSlash(rel))
		}
	}
	if !remove {
		return nil
	}
	return RemoveOrphans(orphans)
}
