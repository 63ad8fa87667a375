// Package libfritter is a social feed layer over a replicated, file-backed
// record store: profiles, posts, votes, a follow graph, and a derived
// notifications view maintained reactively from raw-table change events.
package libfritter

import (
	"context"

	"github.com/beakerbrowser/libfritter/pkg/config"
	"github.com/beakerbrowser/libfritter/pkg/feed"
	"github.com/beakerbrowser/libfritter/pkg/logger"
	"github.com/beakerbrowser/libfritter/pkg/notify"
	"github.com/beakerbrowser/libfritter/pkg/schema"
	"github.com/beakerbrowser/libfritter/pkg/social"
	"github.com/beakerbrowser/libfritter/pkg/store"
)

// Options configures an instance.
type Options struct {
	// UserURL, when set, enables the notification indexer on behalf of this
	// home user origin.
	UserURL string
}

// Fritter is one open instance: the record store plus the social, feed and
// notification APIs over it.
type Fritter struct {
	Store         *store.Store
	Social        *social.API
	Feed          *feed.API
	Notifications *notify.API

	indexer *notify.Indexer
}

// Open opens (or creates) the store at dbPath, defines the record tables and
// wires the APIs. When a home user is configured the notification indexer is
// attached once the store is ready.
func Open(dbPath string, opts Options) (*Fritter, error) {
	s, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	DefineTables(s)

	socialAPI := social.New(s)
	feedAPI := feed.New(s, socialAPI)
	f := &Fritter{
		Store:         s,
		Social:        socialAPI,
		Feed:          feedAPI,
		Notifications: notify.NewAPI(s, socialAPI, feedAPI),
	}
	if opts.UserURL != "" {
		ix, err := notify.NewIndexer(s, opts.UserURL)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		ix.Start(context.Background())
		f.indexer = ix
	}
	return f, nil
}

// OpenFromConfig opens an instance from a loaded configuration: the store
// path and home user come from the config, and the logger is initialized at
// the configured level.
func OpenFromConfig(cfg config.Config) (*Fritter, error) {
	logger.InitWithLevel(cfg.Logging.Level)
	return Open(cfg.Storage.DBPath, Options{UserURL: cfg.User.URL})
}

// Close stops the indexer and closes the store.
func (f *Fritter) Close() error {
	if f.indexer != nil {
		f.indexer.Stop()
	}
	return f.Store.Close()
}

// DefineTables registers the four record tables with their file patterns,
// indexes and schema hooks.
func DefineTables(s *store.Store) {
	s.Define("profiles", store.TableSpec{
		FilePattern: "/profile.json",
		Index:       []string{"*followUrls"},
		Validate:    schema.ValidateProfile,
		Preprocess:  schema.PreprocessProfile,
		Serialize:   schema.SerializeProfile,
	})
	s.Define("posts", store.TableSpec{
		FilePattern: "/posts/*.json",
		Index:       []string{"createdAt", ":origin+createdAt", "threadRoot"},
		Validate:    schema.ValidatePost,
		Preprocess:  schema.PreprocessPost,
	})
	s.Define("votes", store.TableSpec{
		FilePattern: "/votes/*.json",
		Index:       []string{"subject"},
		Validate:    schema.ValidateVote,
		Preprocess:  schema.PreprocessVote,
	})
	s.Define("notifications", store.TableSpec{
		FilePattern: "/notifications/*.json",
		Index:       []string{"createdAt"},
		Validate:    schema.ValidateNotification,
	})
}
