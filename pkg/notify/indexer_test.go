package notify_test

import (
	"context"
	"testing"
	"time"

	"github.com/beakerbrowser/libfritter"
	"github.com/beakerbrowser/libfritter/pkg/feed"
	"github.com/beakerbrowser/libfritter/pkg/models"
	"github.com/beakerbrowser/libfritter/pkg/notify"
	"github.com/beakerbrowser/libfritter/pkg/query"
	"github.com/beakerbrowser/libfritter/pkg/social"
	"github.com/beakerbrowser/libfritter/pkg/store"
)

const (
	alice = "https://alice.com"
	bob   = "https://bob.com"
)

type fixture struct {
	store   *store.Store
	social  *social.API
	feed    *feed.API
	api     *notify.API
	indexer *notify.Indexer

	posts <-chan store.Event
	votes <-chan store.Event
}

// newFixture builds a store with alice as the home user. The indexer is not
// started; tests drive its handlers with the real events the store emits, so
// delivery is deterministic.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	libfritter.DefineTables(s)
	socialAPI := social.New(s)
	feedAPI := feed.New(s, socialAPI)
	ix, err := notify.NewIndexer(s, alice)
	if err != nil {
		t.Fatalf("NewIndexer: %v", err)
	}
	return &fixture{
		store:   s,
		social:  socialAPI,
		feed:    feedAPI,
		api:     notify.NewAPI(s, socialAPI, feedAPI),
		indexer: ix,
		posts:   s.Subscribe("posts"),
		votes:   s.Subscribe("votes"),
	}
}

func (f *fixture) postEvent(t *testing.T, author string, draft feed.PostDraft) store.Event {
	t.Helper()
	if _, err := f.feed.Post(author, draft); err != nil {
		t.Fatalf("Post: %v", err)
	}
	return <-f.posts
}

func (f *fixture) voteEvent(t *testing.T, voter string, draft feed.VoteDraft) store.Event {
	t.Helper()
	if _, err := f.feed.VoteFor(voter, draft); err != nil {
		t.Fatalf("VoteFor: %v", err)
	}
	return <-f.votes
}

func (f *fixture) count(t *testing.T) int {
	t.Helper()
	n, err := f.api.CountNotifications(query.Options{})
	if err != nil {
		t.Fatalf("CountNotifications: %v", err)
	}
	return n
}

func (f *fixture) list(t *testing.T, opts notify.ListOptions) []*notify.Notification {
	t.Helper()
	out, err := f.api.ListNotifications(context.Background(), opts)
	if err != nil {
		t.Fatalf("ListNotifications: %v", err)
	}
	return out
}

func TestReplyNotification(t *testing.T) {
	f := newFixture(t)
	rootEv := f.postEvent(t, alice, feed.PostDraft{Text: "root"})
	replyEv := f.postEvent(t, bob, feed.PostDraft{Text: "reply", ThreadParent: rootEv.URL})

	if err := f.indexer.HandlePostEvent(rootEv); err != nil {
		t.Fatalf("HandlePostEvent(root): %v", err)
	}
	if err := f.indexer.HandlePostEvent(replyEv); err != nil {
		t.Fatalf("HandlePostEvent(reply): %v", err)
	}
	ns := f.list(t, notify.ListOptions{})
	if len(ns) != 1 {
		t.Fatalf("notifications = %+v", ns)
	}
	if ns[0].Type != models.NotificationReply || ns[0].URL != replyEv.URL {
		t.Fatalf("notification = %+v", ns[0])
	}

	// redelivering the same event never duplicates
	if err := f.indexer.HandlePostEvent(replyEv); err != nil {
		t.Fatalf("redelivered HandlePostEvent: %v", err)
	}
	if n := f.count(t); n != 1 {
		t.Fatalf("after redelivery: %d notifications", n)
	}
}

func TestMentionNotification(t *testing.T) {
	f := newFixture(t)
	ev := f.postEvent(t, bob, feed.PostDraft{
		Text:     "hey @alice",
		Mentions: []models.Mention{{URL: "HTTPS://Alice.com/", Name: "alice"}},
	})
	if err := f.indexer.HandlePostEvent(ev); err != nil {
		t.Fatalf("HandlePostEvent: %v", err)
	}
	ns := f.list(t, notify.ListOptions{})
	if len(ns) != 1 || ns[0].Type != models.NotificationMention {
		t.Fatalf("notifications = %+v", ns)
	}
	if ns[0].Origin != bob {
		t.Fatalf("acting origin = %q", ns[0].Origin)
	}
}

// A mixed-case home URL still matches the lowercase origins records carry.
func TestMixedCaseHomeUser(t *testing.T) {
	f := newFixture(t)
	ix, err := notify.NewIndexer(f.store, "HTTPS://Alice.com/profile.json")
	if err != nil {
		t.Fatalf("NewIndexer: %v", err)
	}
	rootEv := f.postEvent(t, alice, feed.PostDraft{Text: "root"})
	replyEv := f.postEvent(t, bob, feed.PostDraft{Text: "reply", ThreadParent: rootEv.URL})

	if err := ix.HandlePostEvent(rootEv); err != nil {
		t.Fatalf("HandlePostEvent(root): %v", err)
	}
	if err := ix.HandlePostEvent(replyEv); err != nil {
		t.Fatalf("HandlePostEvent(reply): %v", err)
	}
	if n := f.count(t); n != 1 {
		t.Fatalf("mixed-case home user got %d notifications", n)
	}
}

func TestSelfActivityNeverNotifies(t *testing.T) {
	f := newFixture(t)
	rootEv := f.postEvent(t, alice, feed.PostDraft{Text: "root"})
	selfReply := f.postEvent(t, alice, feed.PostDraft{Text: "me again", ThreadParent: rootEv.URL})
	selfVote := f.voteEvent(t, alice, feed.VoteDraft{Subject: rootEv.URL, Vote: 1})

	for _, ev := range []store.Event{rootEv, selfReply} {
		if err := f.indexer.HandlePostEvent(ev); err != nil {
			t.Fatalf("HandlePostEvent: %v", err)
		}
	}
	if err := f.indexer.HandleVoteEvent(selfVote); err != nil {
		t.Fatalf("HandleVoteEvent: %v", err)
	}
	if n := f.count(t); n != 0 {
		t.Fatalf("self activity produced %d notifications", n)
	}
}

// A like lives only while the vote is a current +1: retracting removes the
// notification, liking again recreates it.
func TestLikeRetractionAndRecreation(t *testing.T) {
	f := newFixture(t)
	rootEv := f.postEvent(t, alice, feed.PostDraft{Text: "root"})
	subject := rootEv.URL

	up := f.voteEvent(t, bob, feed.VoteDraft{Subject: subject, Vote: 1})
	if err := f.indexer.HandleVoteEvent(up); err != nil {
		t.Fatalf("HandleVoteEvent(+1): %v", err)
	}
	ns := f.list(t, notify.ListOptions{})
	if len(ns) != 1 || ns[0].Type != models.NotificationVote || ns[0].Vote != 1 {
		t.Fatalf("notifications = %+v", ns)
	}
	if ns[0].Subject != subject || ns[0].Origin != bob {
		t.Fatalf("notification = %+v", ns[0])
	}

	down := f.voteEvent(t, bob, feed.VoteDraft{Subject: subject, Vote: -1})
	if err := f.indexer.HandleVoteEvent(down); err != nil {
		t.Fatalf("HandleVoteEvent(-1): %v", err)
	}
	if n := f.count(t); n != 0 {
		t.Fatalf("retracted like left %d notifications", n)
	}

	again := f.voteEvent(t, bob, feed.VoteDraft{Subject: subject, Vote: 1})
	if err := f.indexer.HandleVoteEvent(again); err != nil {
		t.Fatalf("HandleVoteEvent(+1 again): %v", err)
	}
	if n := f.count(t); n != 1 {
		t.Fatalf("re-liked post has %d notifications", n)
	}
}

func TestVoteOnOtherUsersPostIgnored(t *testing.T) {
	f := newFixture(t)
	ev := f.voteEvent(t, bob, feed.VoteDraft{Subject: "https://carla.com/posts/1.json", Vote: 1})
	if err := f.indexer.HandleVoteEvent(ev); err != nil {
		t.Fatalf("HandleVoteEvent: %v", err)
	}
	if n := f.count(t); n != 0 {
		t.Fatalf("foreign vote produced %d notifications", n)
	}
}

func TestListNotificationsEnrichment(t *testing.T) {
	f := newFixture(t)
	if err := f.social.SetProfile(bob, models.Profile{Name: "Bob"}); err != nil {
		t.Fatalf("SetProfile: %v", err)
	}
	rootEv := f.postEvent(t, alice, feed.PostDraft{Text: "root"})
	replyEv := f.postEvent(t, bob, feed.PostDraft{Text: "reply", ThreadParent: rootEv.URL})
	if err := f.indexer.HandlePostEvent(replyEv); err != nil {
		t.Fatalf("HandlePostEvent: %v", err)
	}

	ns := f.list(t, notify.ListOptions{FetchAuthor: true, FetchPost: true})
	if len(ns) != 1 {
		t.Fatalf("notifications = %+v", ns)
	}
	n := ns[0]
	if n.Author == nil || n.Author.Name != "Bob" {
		t.Fatalf("author = %+v", n.Author)
	}
	if n.Post == nil || n.Post.Text != "reply" {
		t.Fatalf("post = %+v", n.Post)
	}
}

// The running indexer consumes store events end to end.
func TestIndexerEventLoop(t *testing.T) {
	f := newFixture(t)
	f.indexer.Start(context.Background())
	defer f.indexer.Stop()

	root, err := f.feed.Post(alice, feed.PostDraft{Text: "root"})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if _, err := f.feed.Post(bob, feed.PostDraft{Text: "reply", ThreadParent: root}); err != nil {
		t.Fatalf("Post: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.count(t) != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("reply never indexed; %d notifications", f.count(t))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestReindexPrimesExistingData(t *testing.T) {
	f := newFixture(t)
	root, err := f.feed.Post(alice, feed.PostDraft{Text: "root"})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if _, err := f.feed.Post(bob, feed.PostDraft{Text: "reply", ThreadParent: root}); err != nil {
		t.Fatalf("Post: %v", err)
	}

	// attach after the data exists, then replay
	f.indexer.Start(context.Background())
	defer f.indexer.Stop()
	if err := f.indexer.Reindex(); err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for f.count(t) != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("reindex never produced the reply notification; %d", f.count(t))
		}
		time.Sleep(10 * time.Millisecond)
	}
}
