// Package gitlab 基于 GitLab REST API (v4) 实现 provider.Discovery。
package gitlab

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"git-backup/internal/provider"
)

// DefaultBaseURL 是 gitlab.com。
const DefaultBaseURL = "https://gitlab.com"

const (
	apiPath = "api/v4"
	perPage = "100"
)

type project struct {
	ID                int64      `json:"id"`
	PathWithNamespace string     `json:"path_with_namespace"`
	SSHURLToRepo      string     `json:"ssh_url_to_repo"`
	HTTPURLToRepo     string     `json:"http_url_to_repo"`
	LastActivityAt    *time.Time `json:"last_activity_at"`
	DefaultBranch     string     `json:"default_branch"`
	Archived          bool       `json:"archived"`
	ForkedFromProject *struct {
		ID int64 `json:"id"`
	} `json:"forked_from_project"`
}

type group struct {
	ID       int64  `json:"id"`
	FullPath string `json:"full_path"`
}

type user struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Client 是 GitLab 发现客户端。
type Client struct {
	api      *provider.Client
	protocol string
}

var _ provider.Discovery = (*Client)(nil)

// New 创建 GitLab 客户端。BaseURL 是实例根地址
// （https://gitlab.example.com 或 https://host/gitlab），缺少 "/api/v4" 时自动追加。
func New(opts provider.Options) (*Client, error) {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if !strings.HasSuffix(base, "/"+apiPath) {
		base += "/" + apiPath
	}

	header := http.Header{}
	if opts.Token != "" {
		header.Set("PRIVATE-TOKEN", opts.Token)
	}

	api, err := provider.NewClient(base, header, opts)
	if err != nil {
		return nil, err
	}
	return &Client{api: api, protocol: opts.Protocol}, nil
}

// LookupProject 按完整路径解析项目。
func (c *Client) LookupProject(ctx context.Context, path string) (provider.Repository, error) {
	var p project
	if _, err := c.api.Get(ctx, "projects/"+url.PathEscape(strings.Trim(path, "/")), &p); err != nil {
		return provider.Repository{}, err
	}
	return c.convert(p), nil
}

// ListOwnerProjects 把 owner 当作用户名解析，列出其个人项目。
func (c *Client) ListOwnerProjects(ctx context.Context, owner, cursor string, opts provider.ListOptions) (provider.Page[provider.Repository], error) {
	ref := cursor
	if ref == "" {
		id, err := c.lookupUser(ctx, owner)
		if err != nil {
			return provider.Page[provider.Repository]{}, err
		}
		ref, err = c.api.URL("users/"+strconv.FormatInt(id, 10)+"/projects", projectQuery(opts))
		if err != nil {
			return provider.Page[provider.Repository]{}, err
		}
	}
	return c.listProjects(ctx, ref, opts)
}

func (c *Client) lookupUser(ctx context.Context, username string) (int64, error) {
	ref, err := c.api.URL("users", url.Values{"username": {username}})
	if err != nil {
		return 0, err
	}

	var users []user
	if _, err := c.api.Get(ctx, ref, &users); err != nil {
		return 0, err
	}
	for _, u := range users {
		if strings.EqualFold(u.Username, username) {
			return u.ID, nil
		}
	}
	return 0, fmt.Errorf("user %s: %w", username, provider.ErrNotFound)
}

// LookupGroup 按完整路径解析组或子组。
func (c *Client) LookupGroup(ctx context.Context, path string) (provider.Group, error) {
	ref, err := c.api.URL("groups/"+url.PathEscape(strings.Trim(path, "/")), url.Values{"with_projects": {"false"}})
	if err != nil {
		return provider.Group{}, err
	}

	var g group
	if _, err := c.api.Get(ctx, ref, &g); err != nil {
		return provider.Group{}, err
	}
	return provider.Group{ID: g.ID, FullPath: g.FullPath}, nil
}

// ListSubgroups 列出 g 的直接子组。
func (c *Client) ListSubgroups(ctx context.Context, g provider.Group, cursor string) (provider.Page[provider.Group], error) {
	ref := cursor
	if ref == "" {
		var err error
		ref, err = c.api.URL("groups/"+strconv.FormatInt(g.ID, 10)+"/subgroups", url.Values{
			"all_available": {"true"},
			"per_page":      {perPage},
		})
		if err != nil {
			return provider.Page[provider.Group]{}, err
		}
	}
	return c.listGroups(ctx, ref)
}

// ListGroupProjects 列出直接位于 g 下的项目。
func (c *Client) ListGroupProjects(ctx context.Context, g provider.Group, cursor string, opts provider.ListOptions) (provider.Page[provider.Repository], error) {
	ref := cursor
	if ref == "" {
		q := projectQuery(opts)
		q.Set("with_shared", "false")
		var err error
		ref, err = c.api.URL("groups/"+strconv.FormatInt(g.ID, 10)+"/projects", q)
		if err != nil {
			return provider.Page[provider.Repository]{}, err
		}
	}
	return c.listProjects(ctx, ref, opts)
}

// ListGroups 列出令牌可见的所有组。
func (c *Client) ListGroups(ctx context.Context, cursor string) (provider.Page[provider.Group], error) {
	ref := cursor
	if ref == "" {
		var err error
		ref, err = c.api.URL("groups", url.Values{
			"all_available": {"true"},
			"per_page":      {perPage},
		})
		if err != nil {
			return provider.Page[provider.Group]{}, err
		}
	}
	return c.listGroups(ctx, ref)
}

func projectQuery(opts provider.ListOptions) url.Values {
	q := url.Values{"per_page": {perPage}}
	if opts.ExcludeArchived {
		q.Set("archived", "false")
	}
	return q
}

func (c *Client) listProjects(ctx context.Context, ref string, opts provider.ListOptions) (provider.Page[provider.Repository], error) {
	var projects []project
	next, err := c.api.Get(ctx, ref, &projects)
	if err != nil {
		return provider.Page[provider.Repository]{}, err
	}

	page := provider.Page[provider.Repository]{Next: next}
	for _, p := range projects {
		repo := c.convert(p)
		if opts.Skip(repo) {
			continue
		}
		page.Items = append(page.Items, repo)
	}
	return page, nil
}

func (c *Client) listGroups(ctx context.Context, ref string) (provider.Page[provider.Group], error) {
	var groups []group
	next, err := c.api.Get(ctx, ref, &groups)
	if err != nil {
		return provider.Page[provider.Group]{}, err
	}

	page := provider.Page[provider.Group]{Next: next}
	for _, g := range groups {
		page.Items = append(page.Items, provider.Group{ID: g.ID, FullPath: g.FullPath})
	}
	return page, nil
}

func (c *Client) convert(p project) provider.Repository {
	cloneURL := p.SSHURLToRepo
	if c.protocol == provider.ProtocolHTTPS {
		cloneURL = p.HTTPURLToRepo
	}
	return provider.Repository{
		Path:           p.PathWithNamespace,
		CloneURL:       cloneURL,
		LastActivityAt: p.LastActivityAt,
		DefaultBranch:  p.DefaultBranch,
		Archived:       p.Archived,
		Fork:           p.ForkedFromProject != nil,
	}
}
