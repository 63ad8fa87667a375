// Package notify maintains the derived notifications table: a single
// designated home user's view of replies, mentions and likes, kept up to
// date by consuming raw-table change events. Handlers are idempotent, so
// redelivered or replayed events never duplicate a notification.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/beakerbrowser/libfritter/pkg/logger"
	"github.com/beakerbrowser/libfritter/pkg/models"
	"github.com/beakerbrowser/libfritter/pkg/store"
	"github.com/beakerbrowser/libfritter/pkg/urlutil"
)

// Indexer consumes posts and votes change events and writes notification
// records keyed by the triggering record URL. Exactly one notification
// exists per trigger URL at any time, reflecting the latest known state.
type Indexer struct {
	store         *store.Store
	notifications *store.Table
	// userOrigin is the home user this indexer works for. It is fixed at
	// construction; the indexer's behavior is a pure function of it.
	userOrigin string

	cancel context.CancelFunc
	done   chan struct{}
}

// NewIndexer builds an indexer for the given home user origin.
func NewIndexer(s *store.Store, userURL string) (*Indexer, error) {
	origin, err := urlutil.ToOrigin(userURL)
	if err != nil {
		return nil, fmt.Errorf("home user: %w", err)
	}
	tbl := s.Table("notifications")
	if tbl == nil {
		return nil, fmt.Errorf("notifications table not defined")
	}
	return &Indexer{store: s, notifications: tbl, userOrigin: origin}, nil
}

// Start subscribes to the posts and votes tables and drains their events on
// one goroutine until the context is canceled or Stop is called. A handler
// failure for one event is logged and never stops the loop.
func (ix *Indexer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	ix.cancel = cancel
	ix.done = make(chan struct{})
	posts := ix.store.Subscribe("posts")
	votes := ix.store.Subscribe("votes")
	logger.Info("notification_indexer_started", "user", ix.userOrigin)
	go func() {
		defer close(ix.done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-posts:
				if !ok {
					return
				}
				if err := ix.HandlePostEvent(ev); err != nil {
					logger.Error("post_event_failed", "url", ev.URL, "err", err)
				}
			case ev, ok := <-votes:
				if !ok {
					return
				}
				if err := ix.HandleVoteEvent(ev); err != nil {
					logger.Error("vote_event_failed", "url", ev.URL, "err", err)
				}
			}
		}
	}()
}

// Stop halts the event loop and waits for it to drain.
func (ix *Indexer) Stop() {
	if ix.cancel == nil {
		return
	}
	ix.cancel()
	<-ix.done
	logger.Info("notification_indexer_stopped", "user", ix.userOrigin)
}

// Reindex replays every stored post and vote through the handlers, used
// after attaching to a store that already holds data.
func (ix *Indexer) Reindex() error {
	if err := ix.store.ReindexAll("posts"); err != nil {
		return err
	}
	return ix.store.ReindexAll("votes")
}

// HandlePostEvent indexes reply and mention notifications for a post
// mutation. Self-authored posts never notify.
func (ix *Indexer) HandlePostEvent(ev store.Event) error {
	if ev.Type == store.EventDel {
		return ix.notifications.Delete(ev.URL)
	}
	if ev.Origin == ix.userOrigin {
		return nil
	}
	var post models.Post
	if err := unmarshalEvent(ev, &post); err != nil {
		return err
	}
	indexed, err := ix.alreadyIndexed(ev.URL)
	if err != nil || indexed {
		return err
	}
	if ix.isReplyToUser(post) {
		return ix.put(ev.URL, models.Notification{
			Type:      models.NotificationReply,
			CreatedAt: post.CreatedAt,
		})
	}
	if ix.mentionsUser(post) {
		return ix.put(ev.URL, models.Notification{
			Type:      models.NotificationMention,
			Origin:    ev.Origin,
			CreatedAt: post.CreatedAt,
		})
	}
	return nil
}

// HandleVoteEvent indexes like notifications for a vote mutation. Only a
// current +1 on one of the home user's posts keeps a notification alive: a
// retracted or flipped vote removes it.
func (ix *Indexer) HandleVoteEvent(ev store.Event) error {
	if ev.Type == store.EventDel {
		return ix.notifications.Delete(ev.URL)
	}
	if ev.Origin == ix.userOrigin {
		return nil
	}
	var vote models.Vote
	if err := unmarshalEvent(ev, &vote); err != nil {
		return err
	}
	if !strings.HasPrefix(vote.Subject, ix.userOrigin+"/posts/") {
		return nil
	}
	if vote.Vote != 1 {
		return ix.notifications.Delete(ev.URL)
	}
	createdAt := vote.CreatedAt
	if createdAt == 0 {
		createdAt = time.Now().UnixMilli()
	}
	return ix.put(ev.URL, models.Notification{
		Type:      models.NotificationVote,
		Subject:   vote.Subject,
		Origin:    ev.Origin,
		Vote:      vote.Vote,
		CreatedAt: createdAt,
	})
}

func (ix *Indexer) isReplyToUser(post models.Post) bool {
	for _, link := range []string{post.ThreadRoot, post.ThreadParent} {
		if link == "" {
			continue
		}
		if origin, err := urlutil.ToOrigin(link); err == nil && origin == ix.userOrigin {
			return true
		}
	}
	return false
}

func (ix *Indexer) mentionsUser(post models.Post) bool {
	user := urlutil.Normalize(ix.userOrigin)
	for _, m := range post.Mentions {
		if urlutil.Normalize(m.URL) == user {
			return true
		}
	}
	return false
}

func (ix *Indexer) alreadyIndexed(url string) (bool, error) {
	rec, err := ix.notifications.Get(url)
	return rec != nil, err
}

func (ix *Indexer) put(url string, n models.Notification) error {
	if err := ix.notifications.Put(url, n); err != nil {
		return err
	}
	logger.Debug("notification_indexed", "type", n.Type, "url", url)
	return nil
}

func unmarshalEvent(ev store.Event, v any) error {
	if len(ev.Value) == 0 {
		return fmt.Errorf("event for %s carries no record", ev.URL)
	}
	rec := store.Record{URL: ev.URL, Origin: ev.Origin, Value: ev.Value}
	return rec.Decode(v)
}
