package notify

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/beakerbrowser/libfritter/pkg/feed"
	"github.com/beakerbrowser/libfritter/pkg/models"
	"github.com/beakerbrowser/libfritter/pkg/query"
	"github.com/beakerbrowser/libfritter/pkg/social"
	"github.com/beakerbrowser/libfritter/pkg/store"
	"github.com/beakerbrowser/libfritter/pkg/urlutil"
)

// enrichConcurrency bounds the parallel profile/post lookups of one list
// call.
const enrichConcurrency = 8

// Notification is a stored notification plus identity and optional
// enrichment. URL is the triggering record's URL.
type Notification struct {
	models.Notification
	URL string
	// Author is the acting origin's profile when fetched.
	Author *social.Profile
	// Post is the triggering post for reply notifications when fetched.
	Post *feed.Post
}

// GetRecordURL returns the notification's key, the triggering record URL.
func (n *Notification) GetRecordURL() string { return n.URL }

// ListOptions extends the composer options with enrichment switches.
type ListOptions struct {
	query.Options
	FetchAuthor bool
	FetchPost   bool
}

// API is the notification read side.
type API struct {
	notifications *store.Table
	social        *social.API
	feed          *feed.API
}

// NewAPI builds the notification read API.
func NewAPI(s *store.Store, socialAPI *social.API, feedAPI *feed.API) *API {
	return &API{notifications: s.Table("notifications"), social: socialAPI, feed: feedAPI}
}

// Query composes the cursor ListNotifications runs.
func (a *API) Query(opts query.Options) *store.Query {
	return query.Notifications(a.notifications, opts)
}

// ListNotifications returns notifications in createdAt order, optionally
// enriched with the acting origin's profile and the triggering post.
// Enrichment failures fail the whole call.
func (a *API) ListNotifications(ctx context.Context, opts ListOptions) ([]*Notification, error) {
	recs, err := a.Query(opts.Options).ToArray()
	if err != nil {
		return nil, err
	}
	out := make([]*Notification, 0, len(recs))
	for i := range recs {
		var n Notification
		if err := recs[i].Decode(&n.Notification); err != nil {
			return nil, fmt.Errorf("decode notification %s: %w", recs[i].URL, err)
		}
		n.URL = recs[i].URL
		if n.Origin == "" {
			n.Origin = recs[i].Origin
		}
		out = append(out, &n)
	}
	if !opts.FetchAuthor && !opts.FetchPost {
		return out, nil
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(enrichConcurrency)
	var profiles sync.Map
	if opts.FetchAuthor {
		origins := map[string]struct{}{}
		for _, n := range out {
			origins[a.actingOrigin(n)] = struct{}{}
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
	if opts.FetchPost {
		for _, n := range out {
			n := n
			if n.Type != models.NotificationReply {
				continue
			}
			g.Go(func() error {
				post, err := a.feed.GetPost(ctx, n.URL)
				if err != nil {
					return err
				}
				n.Post = post
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if opts.FetchAuthor {
		for _, n := range out {
			if prof, ok := profiles.Load(a.actingOrigin(n)); ok {
				n.Author = prof.(*social.Profile)
			}
		}
	}
	return out, nil
}

// CountNotifications counts notifications matching the options.
func (a *API) CountNotifications(opts query.Options) (int, error) {
	return a.Query(opts).Count()
}

// actingOrigin resolves who acted: the stored origin for vote and mention
// notifications, else the triggering record's owner.
func (a *API) actingOrigin(n *Notification) string {
	if n.Origin != "" {
		return n.Origin
	}
	if o, err := urlutil.ToOrigin(n.URL); err == nil {
		return o
	}
	return ""
}
