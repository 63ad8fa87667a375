// Package feed implements the feed aggregation engine: post creation with
// monotonic sortable IDs, vote upserts keyed by (voter, subject), vote
// tabulation, paginated listing with parallel enrichment, and thread-tree
// reconstruction from the flat causally-linked post records.
package feed

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/beakerbrowser/libfritter/pkg/models"
	"github.com/beakerbrowser/libfritter/pkg/query"
	"github.com/beakerbrowser/libfritter/pkg/social"
	"github.com/beakerbrowser/libfritter/pkg/store"
	"github.com/beakerbrowser/libfritter/pkg/urlutil"
)

// enrichConcurrency bounds the parallel author/vote/reply lookups of one
// aggregate call.
const enrichConcurrency = 8

// Post is a stored post plus its record identity and optional enrichment.
type Post struct {
	models.Post
	URL    string
	Origin string

	// Author is the author's profile when fetched.
	Author *social.Profile
	// Votes is the tally over the post when counted.
	Votes *Tally
	// ReplyCount is the shallow reply count when counted.
	ReplyCount int

	// Replies, ParentURL and RootURL are populated by GetThread. The back
	// references are URLs resolved through the thread's post map, never
	// owning pointers.
	Replies   []*Post
	ParentURL string
	RootURL   string
}

// GetRecordURL returns the post record's URL.
func (p *Post) GetRecordURL() string { return p.URL }

// GetRecordOrigin returns the post's owning origin.
func (p *Post) GetRecordOrigin() string { return p.Origin }

// Vote is a stored vote plus its record identity.
type Vote struct {
	models.Vote
	URL    string
	Origin string
}

// GetRecordURL returns the vote record's URL.
func (v *Vote) GetRecordURL() string { return v.URL }

// GetRecordOrigin returns the voter's origin.
func (v *Vote) GetRecordOrigin() string { return v.Origin }

// Tally is the aggregate of all votes on one subject. Value is the algebraic
// sum of every vote value; Up and Down bucket only exact +1/-1 votes.
type Tally struct {
	Up       int      `json:"up"`
	Down     int      `json:"down"`
	Value    int      `json:"value"`
	UpVoters []string `json:"upVoters"`
}

// PostDraft is the author-supplied content of a new post. ThreadRoot and
// ThreadParent accept URL strings or record handles.
type PostDraft struct {
	Text         string
	ThreadRoot   any
	ThreadParent any
	Mentions     []models.Mention
}

// VoteDraft is a vote to cast. Subject accepts a URL string or a record
// handle.
type VoteDraft struct {
	Subject any
	Vote    int
}

// ListOptions extends the query composer options with enrichment switches.
type ListOptions struct {
	query.Options
	FetchAuthor  bool
	CountVotes   bool
	CountReplies bool
}

// ThreadOptions controls GetThread. Authors, when set, hides thread members
// outside the set; the requested post's author and the root author are always
// retained.
type ThreadOptions struct {
	Authors []string
}

// API is the feed engine over one store.
type API struct {
	posts  *store.Table
	votes  *store.Table
	social *social.API
}

// New builds the feed API over the store's posts and votes tables.
func New(s *store.Store, socialAPI *social.API) *API {
	return &API{posts: s.Table("posts"), votes: s.Table("votes"), social: socialAPI}
}

// Post mints and writes a new post record, returning its URL. The ID suffix
// is a monotonic base36 timestamp, so records sort by creation order even
// when minted within the same millisecond.
func (a *API) Post(author any, draft PostDraft) (string, error) {
	origin, err := urlutil.ToOrigin(author)
	if err != nil {
		return "", err
	}
	createdAt := time.Now().UnixMilli()
	url := fmt.Sprintf("%s/posts/%s.json", origin, newRecordID(createdAt))
	post := models.Post{
		Text:         draft.Text,
		CreatedAt:    createdAt,
		ThreadRoot:   urlutil.ToURL(draft.ThreadRoot),
		ThreadParent: urlutil.ToURL(draft.ThreadParent),
		Mentions:     draft.Mentions,
	}
	if err := a.posts.Put(url, post); err != nil {
		return "", err
	}
	return url, nil
}

// VoteFor upserts the voter's vote on a subject. The record key is derived
// from the normalized subject, so repeated votes replace rather than
// accumulate.
func (a *API) VoteFor(voter any, draft VoteDraft) (string, error) {
	origin, err := urlutil.ToOrigin(voter)
	if err != nil {
		return "", err
	}
	subject := urlutil.ToURL(draft.Subject)
	url := fmt.Sprintf("%s/votes/%s.json", origin, urlutil.Slug(subject))
	vote := models.Vote{
		Subject:   subject,
		Vote:      draft.Vote,
		CreatedAt: time.Now().UnixMilli(),
	}
	if err := a.votes.Put(url, vote); err != nil {
		return "", err
	}
	return url, nil
}

// PostsQuery composes the cursor ListPosts runs.
func (a *API) PostsQuery(opts query.Options) *store.Query {
	return query.Posts(a.posts, opts)
}

// RepliesQuery composes a cursor over the posts sharing a thread root.
func (a *API) RepliesQuery(threadRoot any, opts query.Options) *store.Query {
	return query.Replies(a.posts, urlutil.ToURL(threadRoot), opts)
}

// ListPosts runs the composed query and enriches each post in parallel.
// Enrichment failures fail the whole call; partial enrichment is never
// returned.
func (a *API) ListPosts(ctx context.Context, opts ListOptions) ([]*Post, error) {
	recs, err := a.PostsQuery(opts.Options).ToArray()
	if err != nil {
		return nil, err
	}
	posts, err := decodePosts(recs)
	if err != nil {
		return nil, err
	}
	if err := a.enrich(ctx, posts, opts.FetchAuthor, opts.CountVotes, opts.CountReplies); err != nil {
		return nil, err
	}
	return posts, nil
}

// CountPosts counts the posts matching the composed query.
func (a *API) CountPosts(opts query.Options) (int, error) {
	return a.PostsQuery(opts).Count()
}

// GetPost loads one post enriched with its author profile and vote tally, or
// nil when absent.
func (a *API) GetPost(ctx context.Context, ref any) (*Post, error) {
	rec, err := a.posts.Get(urlutil.ToURL(ref))
	if err != nil || rec == nil {
		return nil, err
	}
	post, err := decodePost(rec)
	if err != nil {
		return nil, err
	}
	if err := a.enrich(ctx, []*Post{post}, true, true, false); err != nil {
		return nil, err
	}
	return post, nil
}

// votesForQuery scans the subject index at the normalized subject, so any
// spelling of an equivalent URL sees the same votes.
func (a *API) votesForQuery(subject any) *store.Query {
	return a.votes.Where("subject").Equals(urlutil.Normalize(urlutil.ToURL(subject)))
}

// ListVotesFor returns every vote on a subject, one per voter.
func (a *API) ListVotesFor(subject any) ([]*Vote, error) {
	recs, err := a.votesForQuery(subject).ToArray()
	if err != nil {
		return nil, err
	}
	out := make([]*Vote, 0, len(recs))
	for i := range recs {
		var v Vote
		if err := recs[i].Decode(&v.Vote); err != nil {
			return nil, fmt.Errorf("decode vote %s: %w", recs[i].URL, err)
		}
		v.URL = recs[i].URL
		v.Origin = recs[i].Origin
		out = append(out, &v)
	}
	return out, nil
}

// CountVotesFor tabulates the votes on a subject. UpVoters lists the origin
// of every +1 voter in scan order.
func (a *API) CountVotesFor(subject any) (*Tally, error) {
	res := &Tally{UpVoters: []string{}}
	err := a.votesForQuery(subject).Each(func(rec store.Record) error {
		var v models.Vote
		if err := rec.Decode(&v); err != nil {
			return fmt.Errorf("decode vote %s: %w", rec.URL, err)
		}
		res.Value += v.Vote
		switch v.Vote {
		case 1:
			res.Up++
			res.UpVoters = append(res.UpVoters, rec.Origin)
		case -1:
			res.Down++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// enrich runs the requested lookups for a batch of posts concurrently.
// Author profiles are cached per origin within the call.
func (a *API) enrich(ctx context.Context, posts []*Post, fetchAuthor, countVotes, countReplies bool) error {
	if len(posts) == 0 || (!fetchAuthor && !countVotes && !countReplies) {
		return nil
	}
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(enrichConcurrency)

	var profiles sync.Map
	if fetchAuthor {
		origins := map[string]struct{}{}
		for _, p := range posts {
			origins[p.Origin] = struct{}{}
		}
		for origin := range origins {
			origin := origin
			g.Go(func() error {
				prof, err := a.social.GetProfile(origin)
				if err != nil {
					return err
				}
				if prof != nil {
					profiles.Store(origin, prof)
				}
				return nil
			})
		}
	}
	for _, p := range posts {
		p := p
		if countVotes {
			g.Go(func() error {
				tally, err := a.CountVotesFor(p.URL)
				if err != nil {
					return err
				}
				p.Votes = tally
				return nil
			})
		}
		if countReplies {
			g.Go(func() error {
				n, err := a.RepliesQuery(p.URL, query.Options{}).Count()
				if err != nil {
					return err
				}
				p.ReplyCount = n
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if fetchAuthor {
		for _, p := range posts {
			if prof, ok := profiles.Load(p.Origin); ok {
				p.Author = prof.(*social.Profile)
			}
		}
	}
	return nil
}

func decodePost(rec *store.Record) (*Post, error) {
	var p Post
	if err := rec.Decode(&p.Post); err != nil {
		return nil, fmt.Errorf("decode post %s: %w", rec.URL, err)
	}
	p.URL = rec.URL
	p.Origin = rec.Origin
	return &p, nil
}

func decodePosts(recs []store.Record) ([]*Post, error) {
	out := make([]*Post, 0, len(recs))
	for i := range recs {
		p, err := decodePost(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// sortPosts orders posts by creation time, tie-broken by URL, for
// deterministic tree output.
func sortPosts(posts []*Post) {
	sort.Slice(posts, func(i, j int) bool {
		if posts[i].CreatedAt != posts[j].CreatedAt {
			return posts[i].CreatedAt < posts[j].CreatedAt
		}
		return posts[i].URL < posts[j].URL
	})
}
