package feed

import (
	"context"

	"github.com/beakerbrowser/libfritter/pkg/query"
	"github.com/beakerbrowser/libfritter/pkg/urlutil"
)

// GetThread resolves a post and reconstructs its thread as a navigable tree:
// every post sharing the thread root is fetched via the threadRoot index,
// enriched with author and vote tally, then re-parented under its declared
// threadParent. Replies whose parent is outside the fetched set are dropped
// from the tree rather than erroring. Returns nil when the post is absent.
func (a *API) GetThread(ctx context.Context, ref any, opts ThreadOptions) (*Post, error) {
	url := urlutil.ToURL(ref)
	rec, err := a.posts.Get(url)
	if err != nil || rec == nil {
		return nil, err
	}
	target, err := decodePost(rec)
	if err != nil {
		return nil, err
	}

	rootURL := target.ThreadRoot
	if rootURL == "" {
		rootURL = url
	}

	// fetch and enrich the full thread
	recs, err := a.RepliesQuery(rootURL, query.Options{}).ToArray()
	if err != nil {
		return nil, err
	}
	members, err := decodePosts(recs)
	if err != nil {
		return nil, err
	}
	if err := a.enrich(ctx, members, true, true, false); err != nil {
		return nil, err
	}

	byURL := make(map[string]*Post, len(members)+1)
	for _, p := range members {
		byURL[p.URL] = p
	}

	// the root has no threadRoot equal to itself, so it is never in the
	// index scan; fetch and enrich it separately
	root := byURL[rootURL]
	if root == nil {
		rootRec, err := a.posts.Get(rootURL)
		if err != nil {
			return nil, err
		}
		if rootRec != nil {
			root, err = decodePost(rootRec)
			if err != nil {
				return nil, err
			}
			if err := a.enrich(ctx, []*Post{root}, true, true, false); err != nil {
				return nil, err
			}
			byURL[root.URL] = root
		}
	}

	// an author allow-list never hides the requested post or the root
	var allowed map[string]struct{}
	if len(opts.Authors) > 0 {
		allowed = make(map[string]struct{}, len(opts.Authors)+2)
		for _, author := range opts.Authors {
			if o, err := urlutil.ToOrigin(author); err == nil {
				allowed[o] = struct{}{}
			}
		}
		if root != nil {
			allowed[root.Origin] = struct{}{}
		}
		allowed[target.Origin] = struct{}{}
	}

	// re-parent into a tree, deterministically ordered by creation time
	ordered := make([]*Post, 0, len(byURL))
	for _, p := range byURL {
		ordered = append(ordered, p)
	}
	sortPosts(ordered)
	for _, p := range ordered {
		if allowed != nil {
			if _, ok := allowed[p.Origin]; !ok {
				continue
			}
		}
		if p.ThreadParent == "" {
			continue
		}
		parent, ok := byURL[p.ThreadParent]
		if !ok || parent == p {
			// orphaned or self-referencing reply: not attached
			continue
		}
		parent.Replies = append(parent.Replies, p)
		p.ParentURL = parent.URL
		p.RootURL = rootURL
	}

	return byURL[url], nil
}
