// Package vcs 定义同步所需的版本控制操作，并提供基于 go-git 的实现。
package vcs

import (
	"context"
	"fmt"
)

// Client 是同步任务需要的版本控制操作。操作仓库的方法失败时返回 *CommandError。
type Client interface {
	// Exists 判断 path 是否存在
	Exists(path string) bool
	// Clone 把 url 克隆到 path，depth > 0 时浅克隆
	Clone(ctx context.Context, url, path string, depth int) error
	// CurrentBranch 返回 HEAD 指向的分支，detached 时返回 ""
	CurrentBranch(ctx context.Context, path string) (string, error)
	// SetRemoteURL 把 origin 指向 url
	SetRemoteURL(ctx context.Context, path, url string) error
	Fetch(ctx context.Context, path string, depth int) error
	Checkout(ctx context.Context, path, branch string) error
	Pull(ctx context.Context, path, branch string, depth int) error
}

// CommandError 记录哪个仓库的哪个操作失败。
type CommandError struct {
	Command string
	Path    string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Command, e.Path, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

func wrap(command, path string, err error) error {
	if err == nil {
		return nil
	}
	return &CommandError{Command: command, Path: path, Err: err}
}
