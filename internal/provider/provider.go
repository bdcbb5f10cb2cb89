package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// 支持的平台名称
const (
	GitHub = "github"
	GitLab = "gitlab"
)

// 支持的克隆协议
const (
	ProtocolSSH   = "ssh"
	ProtocolHTTPS = "https"
)

// ErrNotFound 表示项目、用户或组不存在。不是致命错误，解析器会尝试下一种方式。
var ErrNotFound = errors.New("not found")

// ErrPaginationLoop 表示列表返回了已经访问过的 next 链接，包装在 TransportError 中。
var ErrPaginationLoop = errors.New("pagination link repeats")

// TransportError 表示 HTTP 或 API 失败，会中止当前根路径的发现。
type TransportError struct {
	Method     string
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Repository 描述一个待同步的远端仓库。
// Path 含完整命名空间，以 '/' 分隔，如 "group/sub/project"。
type Repository struct {
	Path           string
	CloneURL       string
	LastActivityAt *time.Time
	DefaultBranch  string
	Archived       bool
	Fork           bool
}

// Group 是命名空间容器（GitLab 组/子组，GitHub 组织）。
type Group struct {
	ID       int64
	FullPath string
}

// Page 是列表的一页。Next 是不透明游标，列表结束时为空。
type Page[T any] struct {
	Items []T
	Next  string
}

// ListOptions 随列表请求传给平台，便于服务端过滤。
type ListOptions struct {
	ExcludeArchived bool
	ExcludeForks    bool
}

// Skip 判断 repo 在当前选项下是否应被丢弃。
func (o ListOptions) Skip(repo Repository) bool {
	return (o.ExcludeArchived && repo.Archived) || (o.ExcludeForks && repo.Fork)
}

// Discovery 是托管平台提供给命名空间解析器的查询和列表接口。
// 列表方法接收上一页的 Page.Next 作为游标（第一页传 ""）。
type Discovery interface {
	LookupProject(ctx context.Context, path string) (Repository, error)
	ListOwnerProjects(ctx context.Context, owner, cursor string, opts ListOptions) (Page[Repository], error)
	LookupGroup(ctx context.Context, path string) (Group, error)
	ListSubgroups(ctx context.Context, group Group, cursor string) (Page[Group], error)
	ListGroupProjects(ctx context.Context, group Group, cursor string, opts ListOptions) (Page[Repository], error)
	ListGroups(ctx context.Context, cursor string) (Page[Group], error)
}

// Options 配置平台客户端。
type Options struct {
	// BaseURL 覆盖公共 API 地址（自建实例）
	BaseURL string
	// Token 随每个 API 请求发送
	Token string
	// Insecure 跳过 TLS 证书校验
	Insecure bool
	// Protocol 选择 ssh 或 https 克隆地址，默认 ssh
	Protocol string
	// Timeout 单个 API 请求超时，默认 30s
	Timeout time.Duration
}
