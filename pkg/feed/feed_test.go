package feed_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/beakerbrowser/libfritter"
	"github.com/beakerbrowser/libfritter/pkg/feed"
	"github.com/beakerbrowser/libfritter/pkg/models"
	"github.com/beakerbrowser/libfritter/pkg/query"
	"github.com/beakerbrowser/libfritter/pkg/social"
	"github.com/beakerbrowser/libfritter/pkg/store"
)

const (
	alice = "https://alice.com"
	bob   = "https://bob.com"
	carla = "https://carla.com"
)

type fixture struct {
	store  *store.Store
	social *social.API
	feed   *feed.API
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	libfritter.DefineTables(s)
	socialAPI := social.New(s)
	return &fixture{store: s, social: socialAPI, feed: feed.New(s, socialAPI)}
}

func (f *fixture) post(t *testing.T, author, text string, draft ...feed.PostDraft) string {
	t.Helper()
	d := feed.PostDraft{}
	if len(draft) > 0 {
		d = draft[0]
	}
	d.Text = text
	url, err := f.feed.Post(author, d)
	require.NoError(t, err)
	return url
}

func TestPostAndGetPost(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.social.SetProfile(alice, models.Profile{Name: "Alice"}))

	url := f.post(t, alice, "first!")
	require.Contains(t, url, alice+"/posts/")

	p, err := f.feed.GetPost(context.Background(), url)
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Equal(t, "first!", p.Text)
	require.Equal(t, alice, p.Origin)
	require.NotNil(t, p.Author)
	require.Equal(t, "Alice", p.Author.Name)
	require.NotNil(t, p.Votes)
	require.Equal(t, 0, p.Votes.Value)

	missing, err := f.feed.GetPost(context.Background(), alice+"/posts/nope.json")
	require.NoError(t, err)
	require.Nil(t, missing)
}

// A voter's second vote on the same subject replaces the first, even when
// the subject is spelled differently.
func TestVoteOverwrites(t *testing.T) {
	f := newFixture(t)
	subject := alice + "/posts/p1.json"

	url1, err := f.feed.VoteFor(bob, feed.VoteDraft{Subject: "HTTPS://Alice.com/posts/p1.json", Vote: 1})
	require.NoError(t, err)
	url2, err := f.feed.VoteFor(bob, feed.VoteDraft{Subject: subject, Vote: -1})
	require.NoError(t, err)
	require.Equal(t, url1, url2)

	votes, err := f.feed.ListVotesFor(subject)
	require.NoError(t, err)
	require.Len(t, votes, 1)
	require.Equal(t, -1, votes[0].Vote.Vote)
	require.Equal(t, bob, votes[0].Origin)
}

func TestCountVotesFor(t *testing.T) {
	f := newFixture(t)
	subject := alice + "/posts/p1.json"
	for _, voter := range []string{alice, bob, carla} {
		_, err := f.feed.VoteFor(voter, feed.VoteDraft{Subject: subject, Vote: 1})
		require.NoError(t, err)
	}
	tally, err := f.feed.CountVotesFor(subject)
	require.NoError(t, err)
	require.Equal(t, &feed.Tally{
		Up:       3,
		Down:     0,
		Value:    3,
		UpVoters: []string{alice, bob, carla},
	}, tally)

	// flipping one vote moves it between buckets
	_, err = f.feed.VoteFor(carla, feed.VoteDraft{Subject: subject, Vote: -1})
	require.NoError(t, err)
	tally, err = f.feed.CountVotesFor(subject)
	require.NoError(t, err)
	require.Equal(t, 2, tally.Up)
	require.Equal(t, 1, tally.Down)
	require.Equal(t, 1, tally.Value)
	require.Equal(t, []string{alice, bob}, tally.UpVoters)
}

func TestListPostsPagination(t *testing.T) {
	f := newFixture(t)
	for _, text := range []string{"First", "Second", "Third", "Fourth"} {
		f.post(t, alice, text)
	}
	posts, err := f.feed.ListPosts(context.Background(), feed.ListOptions{
		Options: query.Options{Reverse: true, Offset: 1, Limit: 1},
	})
	require.NoError(t, err)
	require.Len(t, posts, 1)
	require.Equal(t, "Third", posts[0].Text)

	n, err := f.feed.CountPosts(query.Options{})
	require.NoError(t, err)
	require.Equal(t, 4, n)
}

func TestListPostsByAuthor(t *testing.T) {
	f := newFixture(t)
	f.post(t, alice, "mine")
	f.post(t, bob, "theirs")

	posts, err := f.feed.ListPosts(context.Background(), feed.ListOptions{
		Options: query.Options{Author: alice},
	})
	require.NoError(t, err)
	require.Len(t, posts, 1)
	require.Equal(t, "mine", posts[0].Text)

	posts, err = f.feed.ListPosts(context.Background(), feed.ListOptions{
		Options: query.Options{Authors: []string{bob}},
	})
	require.NoError(t, err)
	require.Len(t, posts, 1)
	require.Equal(t, "theirs", posts[0].Text)
}

func TestListPostsRootPostsOnly(t *testing.T) {
	f := newFixture(t)
	root := f.post(t, alice, "root")
	f.post(t, bob, "reply", feed.PostDraft{ThreadParent: root})

	posts, err := f.feed.ListPosts(context.Background(), feed.ListOptions{
		Options: query.Options{RootPostsOnly: true},
	})
	require.NoError(t, err)
	require.Len(t, posts, 1)
	require.Equal(t, root, posts[0].URL)
}

func TestListPostsCountsReplies(t *testing.T) {
	f := newFixture(t)
	root := f.post(t, alice, "root")
	f.post(t, bob, "reply one", feed.PostDraft{ThreadParent: root})
	f.post(t, carla, "reply two", feed.PostDraft{ThreadParent: root})

	posts, err := f.feed.ListPosts(context.Background(), feed.ListOptions{
		Options:      query.Options{RootPostsOnly: true},
		CountReplies: true,
	})
	require.NoError(t, err)
	require.Len(t, posts, 1)
	require.Equal(t, 2, posts[0].ReplyCount)
}
