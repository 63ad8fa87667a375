// Package social implements the follow graph: profile upkeep, follow and
// unfollow mutations, follower lookups through the derived followUrls index,
// and friendship (mutual follow) computation.
package social

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/beakerbrowser/libfritter/pkg/logger"
	"github.com/beakerbrowser/libfritter/pkg/models"
	"github.com/beakerbrowser/libfritter/pkg/store"
	"github.com/beakerbrowser/libfritter/pkg/urlutil"
)

// ErrNoProfile is returned by Follow and Unfollow when the acting origin has
// no profile record yet; callers must SetProfile first.
var ErrNoProfile = errors.New("no profile record exists; call SetProfile first")

// friendCheckConcurrency bounds the follower fan-out in ListFriends.
const friendCheckConcurrency = 8

// Profile is a stored profile plus its record identity.
type Profile struct {
	models.Profile
	URL    string `json:"-"`
	Origin string `json:"-"`
}

// GetRecordURL returns the profile record's URL.
func (p *Profile) GetRecordURL() string { return p.URL }

// GetRecordOrigin returns the profile's owning origin.
func (p *Profile) GetRecordOrigin() string { return p.Origin }

// API is the social graph engine over one store.
type API struct {
	profiles *store.Table
}

// New builds the social API over the store's profiles table.
func New(s *store.Store) *API {
	return &API{profiles: s.Table("profiles")}
}

// ProfileURL returns the canonical profile record URL for an origin.
func ProfileURL(origin string) string {
	return origin + "/profile.json"
}

// GetProfile loads the profile owned by the given origin reference, or nil
// when none exists.
func (a *API) GetProfile(owner any) (*Profile, error) {
	origin, err := urlutil.ToOrigin(owner)
	if err != nil {
		return nil, err
	}
	rec, err := a.profiles.Get(ProfileURL(origin))
	if err != nil || rec == nil {
		return nil, err
	}
	return decodeProfile(rec)
}

// SetProfile writes the full profile for an origin. Unset fields are cleared:
// the record is replaced wholesale through the serialize projection.
func (a *API) SetProfile(owner any, profile models.Profile) error {
	origin, err := urlutil.ToOrigin(owner)
	if err != nil {
		return err
	}
	return a.profiles.Put(ProfileURL(origin), profile)
}

// SetAvatar records the avatar filename on the profile, preserving the other
// fields. Writing the image data itself is outside this layer.
func (a *API) SetAvatar(owner any, filename string) error {
	origin, err := urlutil.ToOrigin(owner)
	if err != nil {
		return err
	}
	return a.profiles.Upsert(ProfileURL(origin), map[string]any{"avatar": filename})
}

// Follow appends target to owner's follow list, deduplicated by URL. Returns
// ErrNoProfile when owner has no profile record.
func (a *API) Follow(owner, target any, name string) error {
	ownerOrigin, err := urlutil.ToOrigin(owner)
	if err != nil {
		return err
	}
	targetOrigin, err := urlutil.ToOrigin(target)
	if err != nil {
		return err
	}
	changed, err := a.profiles.UpdateWhere(":origin", ownerOrigin, func(doc map[string]any) map[string]any {
		follows, _ := doc["follows"].([]any)
		for _, f := range follows {
			if m, ok := f.(map[string]any); ok {
				if u, _ := m["url"].(string); u == targetOrigin {
					return doc
				}
			}
		}
		entry := map[string]any{"url": targetOrigin}
		if name != "" {
			entry["name"] = name
		}
		doc["follows"] = append(follows, entry)
		return doc
	})
	if err != nil {
		return err
	}
	if changed == 0 {
		return fmt.Errorf("follow %s: %w", targetOrigin, ErrNoProfile)
	}
	logger.Debug("followed", "owner", ownerOrigin, "target", targetOrigin)
	return nil
}

// Unfollow removes any follow entry matching target's URL. Returns
// ErrNoProfile when owner has no profile record.
func (a *API) Unfollow(owner, target any) error {
	ownerOrigin, err := urlutil.ToOrigin(owner)
	if err != nil {
		return err
	}
	targetOrigin, err := urlutil.ToOrigin(target)
	if err != nil {
		return err
	}
	changed, err := a.profiles.UpdateWhere(":origin", ownerOrigin, func(doc map[string]any) map[string]any {
		follows, _ := doc["follows"].([]any)
		kept := make([]any, 0, len(follows))
		for _, f := range follows {
			if m, ok := f.(map[string]any); ok {
				if u, _ := m["url"].(string); u == targetOrigin {
					continue
				}
			}
			kept = append(kept, f)
		}
		doc["follows"] = kept
		return doc
	})
	if err != nil {
		return err
	}
	if changed == 0 {
		return fmt.Errorf("unfollow %s: %w", targetOrigin, ErrNoProfile)
	}
	logger.Debug("unfollowed", "owner", ownerOrigin, "target", targetOrigin)
	return nil
}

func (a *API) followersQuery(target any) (*store.Query, error) {
	origin, err := urlutil.ToOrigin(target)
	if err != nil {
		return nil, err
	}
	return a.profiles.Where("followUrls").Equals(urlutil.Normalize(origin)), nil
}

// ListFollowers returns every profile whose follow list contains target.
// This is an index lookup on followUrls, not a scan of all profiles.
func (a *API) ListFollowers(target any) ([]*Profile, error) {
	q, err := a.followersQuery(target)
	if err != nil {
		return nil, err
	}
	recs, err := q.ToArray()
	if err != nil {
		return nil, err
	}
	out := make([]*Profile, 0, len(recs))
	for i := range recs {
		p, err := decodeProfile(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// CountFollowers counts profiles following target.
func (a *API) CountFollowers(target any) (int, error) {
	q, err := a.followersQuery(target)
	if err != nil {
		return 0, err
	}
	return q.Count()
}

// IsFollowing reports whether a's profile declares a follow of b.
func (a *API) IsFollowing(originA, originB any) (bool, error) {
	profile, err := a.GetProfile(originA)
	if err != nil {
		return false, err
	}
	if profile == nil {
		return false, nil
	}
	b, err := urlutil.ToOrigin(originB)
	if err != nil {
		return false, err
	}
	b = urlutil.Normalize(b)
	for _, u := range profile.FollowUrls {
		if u == b {
			return true, nil
		}
	}
	return false, nil
}

// ListFriends returns the followers of target that target follows back. The
// follow-back checks run concurrently, bounded, and any failure fails the
// whole call.
func (a *API) ListFriends(ctx context.Context, target any) ([]*Profile, error) {
	followers, err := a.ListFollowers(target)
	if err != nil {
		return nil, err
	}
	friends := make([]*Profile, len(followers))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(friendCheckConcurrency)
	var mu sync.Mutex
	for i, follower := range followers {
		i, follower := i, follower
		g.Go(func() error {
			ok, err := a.IsFollowing(target, follower.Origin)
			if err != nil {
				return err
			}
			if ok {
				mu.Lock()
				friends[i] = follower
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make([]*Profile, 0, len(followers))
	for _, f := range friends {
		if f != nil {
			out = append(out, f)
		}
	}
	return out, nil
}

// CountFriends counts target's friends.
func (a *API) CountFriends(ctx context.Context, target any) (int, error) {
	friends, err := a.ListFriends(ctx, target)
	if err != nil {
		return 0, err
	}
	return len(friends), nil
}

// IsFriendsWith reports mutual follow: a follows b and b follows a. Both
// lookups run independently and both must succeed.
func (a *API) IsFriendsWith(ctx context.Context, originA, originB any) (bool, error) {
	var ab, ba bool
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ab, err = a.IsFollowing(originA, originB)
		return err
	})
	g.Go(func() error {
		var err error
		ba, err = a.IsFollowing(originB, originA)
		return err
	})
	if err := g.Wait(); err != nil {
		return false, err
	}
	return ab && ba, nil
}

func decodeProfile(rec *store.Record) (*Profile, error) {
	var p Profile
	if err := rec.Decode(&p.Profile); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", rec.URL, err)
	}
	p.URL = rec.URL
	p.Origin = rec.Origin
	return &p, nil
}
