// Package store implements the replicated-record store the social APIs sit
// on: named tables of JSON records backed by a single pebble keyspace, with
// declared secondary indexes, composite origin+field indexes, fluent range
// queries and post-commit change events.
//
// Records are keyed by their full URL; the owning origin of a record is
// derived from that URL. Writes from one process are serialized by a store
// wide write lock, which is the atomicity guarantee the social layer's
// read-modify-write operations rely on.
package store

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/beakerbrowser/libfritter/pkg/logger"
)

// ErrNotOpen is returned by operations against a closed store.
var ErrNotOpen = fmt.Errorf("store not opened; call store.Open first")

// EventType discriminates change events.
type EventType int

const (
	// EventPut is delivered after a record create or overwrite commits.
	EventPut EventType = iota
	// EventDel is delivered after a record delete commits.
	EventDel
)

// Event is a post-commit change notification for one record. Value carries
// the preprocessed record document for puts and is nil for deletes.
type Event struct {
	Type   EventType
	Table  string
	URL    string
	Origin string
	Value  json.RawMessage
}

// TableSpec declares a table: the per-origin file pattern its records map to,
// the secondary indexes to maintain, and the schema hooks run on every write.
//
// Index specs follow the conventions of the record layer:
//
//	"field"          index the field's value
//	"*field"         index each element of an array field
//	":origin+field"  composite index of owning origin plus field
//
// The ":origin" index is maintained implicitly for every table.
type TableSpec struct {
	FilePattern string
	Index       []string

	// Validate rejects malformed documents before any write.
	Validate func(doc map[string]any) error
	// Preprocess derives indexed fields and normalizes values in place. It
	// runs on every write and on every read, so derived fields are never
	// persisted stale.
	Preprocess func(doc map[string]any)
	// Serialize projects the author-controlled fields to persist, stripping
	// anything Preprocess derives. Nil means persist the document as-is.
	Serialize func(doc map[string]any) map[string]any
}

// Store is an open record store. Multiple stores may coexist (each owns its
// own pebble directory and metrics registry).
type Store struct {
	path string

	mu sync.RWMutex
	db *pebble.DB

	// writeMu serializes all mutations so read-modify-write sequences are
	// atomic with respect to other writers on this store.
	writeMu sync.Mutex

	tables map[string]*Table

	subMu sync.RWMutex
	subs  map[string][]chan Event

	metrics *storeMetrics
}

// Open opens (or creates) a store at the given path.
func Open(path string) (*Store, error) {
	logger.Info("opening_store", "path", path)
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("store_open_failed", "path", path, "err", err)
		return nil, err
	}
	s := &Store{
		path:    path,
		db:      db,
		tables:  make(map[string]*Table),
		subs:    make(map[string][]chan Event),
		metrics: newStoreMetrics(),
	}
	logger.Info("store_opened", "path", path)
	return s, nil
}

// Close closes the store and all event subscriptions.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return err
	}
	s.db = nil
	s.subMu.Lock()
	for _, chans := range s.subs {
		for _, ch := range chans {
			close(ch)
		}
	}
	s.subs = make(map[string][]chan Event)
	s.subMu.Unlock()
	logger.Info("store_closed", "path", s.path)
	return nil
}

// Ready reports whether the store is opened and usable.
func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db != nil
}

// Define registers a table. Tables must be defined before use; redefining a
// name replaces the previous spec.
func (s *Store) Define(name string, spec TableSpec) *Table {
	t := &Table{store: s, name: name, spec: spec}
	s.tables[name] = t
	logger.Debug("table_defined", "table", name, "file_pattern", spec.FilePattern, "indexes", spec.Index)
	return t
}

// Table returns a previously defined table, or nil.
func (s *Store) Table(name string) *Table {
	return s.tables[name]
}

// Subscribe returns a channel of change events for one table. Events are
// delivered after commit; a subscriber that falls behind loses events (the
// indexing layer tolerates redelivery and gaps by re-checking store state),
// so writers are never blocked by a slow consumer.
func (s *Store) Subscribe(table string) <-chan Event {
	ch := make(chan Event, 128)
	s.subMu.Lock()
	s.subs[table] = append(s.subs[table], ch)
	s.subMu.Unlock()
	return ch
}

func (s *Store) emit(ev Event) {
	s.metrics.events.WithLabelValues(ev.Table).Inc()
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, ch := range s.subs[ev.Table] {
		select {
		case ch <- ev:
		default:
			logger.Warn("event_dropped", "table", ev.Table, "url", ev.URL)
		}
	}
}

// ReindexAll replays a put event for every record of a table. Used to prime
// reactive consumers attached after data already exists, mirroring an index
// rebuild. Consumers must therefore be idempotent.
func (s *Store) ReindexAll(table string) error {
	t := s.tables[table]
	if t == nil {
		return fmt.Errorf("unknown table: %s", table)
	}
	recs, err := t.scanAll()
	if err != nil {
		return err
	}
	for _, r := range recs {
		s.emit(Event{Type: EventPut, Table: table, URL: r.URL, Origin: r.Origin, Value: r.Value})
	}
	logger.Info("table_reindexed", "table", table, "records", len(recs))
	return nil
}
