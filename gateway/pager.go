package gateway

import (
	"context"
	"fmt"
)

// DefaultPageSize is the number of rows requested per range query.
const DefaultPageSize = 1000

// RangeFunc returns the rows in the inclusive range [start, end].
type RangeFunc[T any] func(ctx context.Context, start, end int) ([]T, error)

// FetchAll requests successive ranges of pageSize rows until a page comes back
// short or empty and returns every row in arrival order. Ordering across pages
// is not guaranteed by the backend, so callers sort afterwards. The first page
// error aborts the whole aggregation.
func FetchAll[T any](ctx context.Context, pageSize int, fetch RangeFunc[T]) ([]T, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	var all []T
	for start := 0; ; start += pageSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := fetch(ctx, start, start+pageSize-1)
		if err != nil {
			return nil, fmt.Errorf("fetch rows %d-%d: %w", start, start+pageSize-1, err)
		}
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
		if len(page) < pageSize {
			break
		}
	}
	return all, nil
}
