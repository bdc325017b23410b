// Package pagination implements keyset iteration over the profile and vault
// entry tables. Offset pagination is unsafe here because the executor
// mutates the row status mid-scan: an offset shifts under a mutating filter
// and can skip rows, whereas a keyset cursor on ascending id is stable
// regardless of what the scan does to already-visited rows.
package pagination

import "context"

// DefaultPageSize is the default page size for profile iteration.
const DefaultPageSize = 200

// FetchPage fetches one page of T given the last-seen cursor and a page
// size, returning the rows in ascending id order; the next cursor is taken
// from the last row through IDOf.
type FetchPage[T any] func(ctx context.Context, after string, limit int) ([]T, error)

// IDOf extracts the ascending-order keyset cursor value from a row.
type IDOf[T any] func(T) string

// Iterate walks every page returned by fetch, starting from the empty
// cursor, calling visit once per row in ascending id order. It stops at the
// first page shorter than limit (end of data) or the first error from fetch
// or visit.
func Iterate[T any](ctx context.Context, limit int, fetch FetchPage[T], idOf IDOf[T], visit func(T) error) error {
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := fetch(ctx, cursor, limit)
		if err != nil {
			return err
		}
		for _, row := range page {
			if err := visit(row); err != nil {
				return err
			}
			cursor = idOf(row)
		}
		if len(page) < limit {
			return nil
		}
	}
}
