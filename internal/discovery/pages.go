package discovery

import (
	"context"

	"git-backup/internal/provider"
)

type lister[T any] func(ctx context.Context, cursor string) (provider.Page[T], error)

// eachPage 逐页读取 list 并对每个元素调用 fn，直到分页结束或 fn 返回 false。
// 游标重复出现时返回传输错误，避免死循环。
func eachPage[T any](ctx context.Context, list lister[T], fn func(T) bool) error {
	seen := make(map[string]struct{})
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := list(ctx, cursor)
		if err != nil {
			return err
		}
		for _, item := range page.Items {
			if !fn(item) {
				return nil
			}
		}

		if page.Next == "" {
			return nil
		}
		if _, ok := seen[page.Next]; ok {
			return &provider.TransportError{
				Method: "GET",
				URL:    page.Next,
				Err:    provider.ErrPaginationLoop,
			}
		}
		seen[page.Next] = struct{}{}
		cursor = page.Next
	}
}
