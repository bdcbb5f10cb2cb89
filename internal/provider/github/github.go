// Package github 基于 GitHub REST API 实现 provider.Discovery。
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"git-backup/internal/provider"
)

// DefaultBaseURL 是公共 GitHub API 地址。
const DefaultBaseURL = "https://api.github.com"

const perPage = "100"

// privateCursor 标记 owner 列表的第二阶段：认证用户的私有仓库。
const privateCursor = "private:"

// errInvalidPath 表示根路径超过两段，GitHub 没有嵌套命名空间。
var errInvalidPath = errors.New("invalid github path")

type repository struct {
	FullName      string     `json:"full_name"`
	SSHURL        string     `json:"ssh_url"`
	CloneURL      string     `json:"clone_url"`
	PushedAt      *time.Time `json:"pushed_at"`
	DefaultBranch string     `json:"default_branch"`
	Archived      bool       `json:"archived"`
	Fork          bool       `json:"fork"`
}

type organization struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

// Client 是 GitHub 发现客户端。
type Client struct {
	api      *provider.Client
	protocol string
	private  bool

	mu            sync.Mutex // 保护私有仓库缓存
	privateLoaded bool
	privateCache  []repository
}

var _ provider.Discovery = (*Client)(nil)

// New 创建 GitHub 客户端。BaseURL 为空时使用 api.github.com，
// GitHub Enterprise 使用 https://host/api/v3。
func New(opts provider.Options) (*Client, error) {
	base := opts.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}

	header := http.Header{}
	header.Set("Accept", "application/vnd.github+json")
	header.Set("X-GitHub-Api-Version", "2022-11-28")
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}

	api, err := provider.NewClient(base, header, opts)
	if err != nil {
		return nil, err
	}

	return &Client{
		api:      api,
		protocol: opts.Protocol,
		private:  opts.Token != "",
	}, nil
}

func splitPath(path string) (owner, name string, err error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch len(parts) {
	case 1:
		return parts[0], "", nil
	case 2:
		return parts[0], parts[1], nil
	default:
		return "", "", fmt.Errorf("%w: %s", errInvalidPath, path)
	}
}

// LookupProject 解析 "owner/name"。单段路径不是项目，返回 provider.ErrNotFound。
func (c *Client) LookupProject(ctx context.Context, path string) (provider.Repository, error) {
	owner, name, err := splitPath(path)
	if err != nil {
		return provider.Repository{}, err
	}
	if name == "" {
		return provider.Repository{}, fmt.Errorf("%s is not a repository: %w", path, provider.ErrNotFound)
	}

	var repo repository
	if _, err := c.api.Get(ctx, "repos/"+url.PathEscape(owner)+"/"+url.PathEscape(name), &repo); err != nil {
		return provider.Repository{}, err
	}
	return c.convert(repo), nil
}

// ListOwnerProjects 列出用户或组织的公开仓库，翻页结束后再返回认证用户
// 名下属于该 owner 的私有仓库（GitHub 只能通过 /user/repos 列出私有仓库）。
func (c *Client) ListOwnerProjects(ctx context.Context, owner, cursor string, opts provider.ListOptions) (provider.Page[provider.Repository], error) {
	if _, name, err := splitPath(owner); err != nil || name != "" {
		return provider.Page[provider.Repository]{}, fmt.Errorf("%s is not an owner: %w", owner, provider.ErrNotFound)
	}
	ownedBy := func(r repository) bool {
		top, _, _ := strings.Cut(r.FullName, "/")
		return strings.EqualFold(top, owner)
	}

	if cursor == privateCursor {
		private, err := c.privateRepos(ctx)
		if err != nil {
			return provider.Page[provider.Repository]{}, err
		}
		return c.page(private, opts, ownedBy), nil
	}

	ref := cursor
	if ref == "" {
		var err error
		ref, err = c.api.URL("users/"+url.PathEscape(owner)+"/repos", url.Values{
			"per_page": {perPage},
			"type":     {"owner"},
		})
		if err != nil {
			return provider.Page[provider.Repository]{}, err
		}
	}

	var repos []repository
	next, err := c.api.Get(ctx, ref, &repos)
	if err != nil {
		return provider.Page[provider.Repository]{}, err
	}

	page := c.page(repos, opts, ownedBy)
	page.Next = next
	if next == "" && c.private {
		page.Next = privateCursor
	}
	return page, nil
}

// privateRepos 拉取认证用户的全部私有仓库（跟随所有分页）。
// 结果在 Client 生命周期内缓存，多个 owner 根路径只请求一次；失败不缓存。
func (c *Client) privateRepos(ctx context.Context) ([]repository, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.privateLoaded {
		return c.privateCache, nil
	}

	ref, err := c.api.URL("user/repos", url.Values{
		"per_page":   {perPage},
		"visibility": {"private"},
	})
	if err != nil {
		return nil, err
	}

	var all []repository
	seen := make(map[string]struct{})
	for ref != "" {
		if _, ok := seen[ref]; ok {
			return nil, &provider.TransportError{Method: http.MethodGet, URL: ref, Err: provider.ErrPaginationLoop}
		}
		seen[ref] = struct{}{}

		var repos []repository
		next, err := c.api.Get(ctx, ref, &repos)
		if err != nil {
			return nil, err
		}
		all = append(all, repos...)
		ref = next
	}

	c.privateCache = all
	c.privateLoaded = true
	return all, nil
}

// LookupGroup 解析组织。
func (c *Client) LookupGroup(ctx context.Context, path string) (provider.Group, error) {
	if strings.Contains(strings.Trim(path, "/"), "/") {
		return provider.Group{}, fmt.Errorf("%s is not an organization: %w", path, provider.ErrNotFound)
	}

	var org organization
	if _, err := c.api.Get(ctx, "orgs/"+url.PathEscape(path), &org); err != nil {
		return provider.Group{}, err
	}
	return provider.Group{ID: org.ID, FullPath: org.Login}, nil
}

// ListSubgroups 总是返回空页，组织不能嵌套。
func (c *Client) ListSubgroups(context.Context, provider.Group, string) (provider.Page[provider.Group], error) {
	return provider.Page[provider.Group]{}, nil
}

// ListGroupProjects 列出令牌可见的组织全部仓库。
func (c *Client) ListGroupProjects(ctx context.Context, group provider.Group, cursor string, opts provider.ListOptions) (provider.Page[provider.Repository], error) {
	ref := cursor
	if ref == "" {
		var err error
		ref, err = c.api.URL("orgs/"+url.PathEscape(group.FullPath)+"/repos", url.Values{
			"per_page": {perPage},
			"type":     {"all"},
		})
		if err != nil {
			return provider.Page[provider.Repository]{}, err
		}
	}

	var repos []repository
	next, err := c.api.Get(ctx, ref, &repos)
	if err != nil {
		return provider.Page[provider.Repository]{}, err
	}
	page := c.page(repos, opts, nil)
	page.Next = next
	return page, nil
}

// ListGroups 列出认证用户所属的组织。
func (c *Client) ListGroups(ctx context.Context, cursor string) (provider.Page[provider.Group], error) {
	ref := cursor
	if ref == "" {
		var err error
		ref, err = c.api.URL("user/orgs", url.Values{"per_page": {perPage}})
		if err != nil {
			return provider.Page[provider.Group]{}, err
		}
	}

	var orgs []organization
	next, err := c.api.Get(ctx, ref, &orgs)
	if err != nil {
		return provider.Page[provider.Group]{}, err
	}

	page := provider.Page[provider.Group]{Next: next}
	for _, org := range orgs {
		page.Items = append(page.Items, provider.Group{ID: org.ID, FullPath: org.Login})
	}
	return page, nil
}

func (c *Client) page(repos []repository, opts provider.ListOptions, keep func(repository) bool) provider.Page[provider.Repository] {
	var page provider.Page[provider.Repository]
	for _, r := range repos {
		if keep != nil && !keep(r) {
			continue
		}
		repo := c.convert(r)
		if opts.Skip(repo) {
			continue
		}
		page.Items = append(page.Items, repo)
	}
	return page
}

func (c *Client) convert(r repository) provider.Repository {
	cloneURL := r.SSHURL
	if c.protocol == provider.ProtocolHTTPS {
		cloneURL = r.CloneURL
	}
	return provider.Repository{
		Path:           r.FullName,
		CloneURL:       cloneURL,
		LastActivityAt: r.PushedAt,
		DefaultBranch:  r.DefaultBranch,
		Archived:       r.Archived,
		Fork:           r.Fork,
	}
}
