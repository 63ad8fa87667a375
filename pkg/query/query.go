// Package query composes high-level feed and notification filters into index
// range scans over store tables. Composition is a pure function of the
// options: the same options always yield the same cursor shape.
package query

import (
	"fmt"
	"math"

	"github.com/beakerbrowser/libfritter/pkg/store"
	"github.com/beakerbrowser/libfritter/pkg/urlutil"
)

// Options is the recognized filter configuration for list reads.
type Options struct {
	// Author scopes the scan to one origin's timeline via the composite
	// origin+createdAt index. Accepts an origin URL string or a record
	// handle.
	Author any
	// Authors post-filters records to a set of origins.
	Authors []string
	// RootPostsOnly post-filters out replies (posts with a threadParent).
	RootPostsOnly bool
	// After and Before bound createdAt, inclusive. Zero means unbounded.
	After  int64
	Before int64
	// Offset and Limit page the filtered result. Reverse flips iteration
	// direction before Offset and Limit apply, so offsets count from the
	// new end.
	Offset  int
	Limit   int
	Reverse bool
}

// Posts builds a cursor over the posts table. Resolution order: author
// timeline scan on the composite index, else a createdAt range scan, else a
// full ordered scan.
func Posts(tbl *store.Table, opts Options) *store.Query {
	var q *store.Query
	after := opts.After
	before := opts.Before
	if before == 0 {
		before = math.MaxInt64
	}
	if author := urlutil.ToURL(opts.Author); author != "" || isOriginRecord(opts.Author) {
		origin, err := urlutil.ToOrigin(opts.Author)
		if err != nil {
			return store.ErrorQuery(tbl, fmt.Errorf("author: %w", err))
		}
		q = tbl.Where(":origin+createdAt").Between([]any{origin, after}, []any{origin, before})
	} else if opts.After != 0 || opts.Before != 0 {
		q = tbl.Where("createdAt").Between(after, before)
	} else {
		q = tbl.OrderBy("createdAt")
	}
	if opts.RootPostsOnly || len(opts.Authors) > 0 {
		authors := originSet(opts.Authors)
		q = q.Filter(func(rec store.Record, doc map[string]any) bool {
			if opts.RootPostsOnly {
				if p, _ := doc["threadParent"].(string); p != "" {
					return false
				}
			}
			if len(authors) > 0 {
				if _, ok := authors[rec.Origin]; !ok {
					return false
				}
			}
			return true
		})
	}
	return paginate(q, opts)
}

// Replies builds a cursor over every post sharing a thread root, via the
// threadRoot index.
func Replies(tbl *store.Table, threadRootURL string, opts Options) *store.Query {
	return paginate(tbl.Where("threadRoot").Equals(threadRootURL), opts)
}

// Notifications builds a cursor over the notifications table ordered by
// createdAt, optionally bounded.
func Notifications(tbl *store.Table, opts Options) *store.Query {
	var q *store.Query
	if opts.After != 0 || opts.Before != 0 {
		before := opts.Before
		if before == 0 {
			before = math.MaxInt64
		}
		q = tbl.Where("createdAt").Between(opts.After, before)
	} else {
		q = tbl.OrderBy("createdAt")
	}
	return paginate(q, opts)
}

func paginate(q *store.Query, opts Options) *store.Query {
	if opts.Reverse {
		q = q.Reverse()
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	return q
}

// originSet normalizes an author filter to owning origins.
func originSet(authors []string) map[string]struct{} {
	if len(authors) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(authors))
	for _, a := range authors {
		if o, err := urlutil.ToOrigin(a); err == nil {
			out[o] = struct{}{}
		}
	}
	return out
}

func isOriginRecord(v any) bool {
	_, ok := v.(urlutil.OriginRecord)
	return ok
}
