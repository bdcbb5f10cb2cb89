package discovery

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"git-backup/internal/provider"
)

// fakeAPI serves canned data. Listings are split into pages of pageSize
// items; the cursor is the index of the next item.
type fakeAPI struct {
	mu sync.Mutex

	projects      map[string]provider.Repository
	owners        map[string][]provider.Repository
	groups        map[string]provider.Group
	subgroups     map[int64][]provider.Group
	groupProjects map[int64][]provider.Repository
	visible       []provider.Group
	pageSize      int

	failGroupProjects map[int64]error
	calls             map[string]int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		projects:          map[string]provider.Repository{},
		owners:            map[string][]provider.Repository{},
		groups:            map[string]provider.Group{},
		subgroups:         map[int64][]provider.Group{},
		groupProjects:     map[int64][]provider.Repository{},
		failGroupProjects: map[int64]error{},
		calls:             map[string]int{},
		pageSize:          2,
	}
}

func (f *fakeAPI) count(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
}

func paginate[T any](items []T, cursor string, size int) (provider.Page[T], error) {
	start := 0
	if cursor != "" {
		var err error
		if start, err = strconv.Atoi(cursor); err != nil {
			return provider.Page[T]{}, err
		}
	}
	end := min(start+size, len(items))
	page := provider.Page[T]{Items: items[start:end]}
	if end < len(items) {
		page.Next = strconv.Itoa(end)
	}
	return page, nil
}

func (f *fakeAPI) LookupProject(_ context.Context, path string) (provider.Repository, error) {
	f.count("LookupProject")
	if repo, ok := f.projects[path]; ok {
		return repo, nil
	}
	return provider.Repository{}, fmt.Errorf("project %s: %w", path, provider.ErrNotFound)
}

func (f *fakeAPI) ListOwnerProjects(_ context.Context, owner, cursor string, opts provider.ListOptions) (provider.Page[provider.Repository], error) {
	f.count("ListOwnerProjects")
	repos, ok := f.owners[owner]
	if !ok {
		return provider.Page[provider.Repository]{}, fmt.Errorf("user %s: %w", owner, provider.ErrNotFound)
	}
	return paginate(repos, cursor, f.pageSize)
}

func (f *fakeAPI) LookupGroup(_ context.Context, path string) (provider.Group, error) {
	f.count("LookupGroup")
	if g, ok := f.groups[path]; ok {
		return g, nil
	}
	return provider.Group{}, fmt.Errorf("group %s: %w", path, provider.ErrNotFound)
}

func (f *fakeAPI) ListSubgroups(_ context.Context, g provider.Group, cursor string) (provider.Page[provider.Group], error) {
	f.count("ListSubgroups")
	return paginate(f.subgroups[g.ID], cursor, f.pageSize)
}

func (f *fakeAPI) ListGroupProjects(_ context.Context, g provider.Group, cursor string, _ provider.ListOptions) (provider.Page[provider.Repository], error) {
	f.count("ListGroupProjects")
	if err, ok := f.failGroupProjects[g.ID]; ok {
		return provider.Page[provider.Repository]{}, err
	}
	return paginate(f.groupProjects[g.ID], cursor, f.pageSize)
}

func (f *fakeAPI) ListGroups(_ context.Context, cursor string) (provider.Page[provider.Group], error) {
	f.count("ListGroups")
	return paginate(f.visible, cursor, f.pageSize)
}

func repos(paths ...string) []provider.Repository {
	out := make([]provider.Repository, 0, len(paths))
	for _, p := range paths {
		out = append(out, provider.Repository{Path: p, CloneURL: "git@example.com:" + p + ".git", DefaultBranch: "main"})
	}
	return out
}
