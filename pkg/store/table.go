package store

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/beakerbrowser/libfritter/pkg/logger"
	"github.com/beakerbrowser/libfritter/pkg/urlutil"
)

// Record is one stored record plus its identity. Value holds the record's
// preprocessed document, with derived index fields populated.
type Record struct {
	URL    string
	Origin string
	Value  json.RawMessage
}

// GetRecordURL returns the record's own URL.
func (r Record) GetRecordURL() string { return r.URL }

// GetRecordOrigin returns the owning origin the record was stored under.
func (r Record) GetRecordOrigin() string { return r.Origin }

// Decode unmarshals the record document into v.
func (r Record) Decode(v any) error { return json.Unmarshal(r.Value, v) }

// Table is one named record table of a Store.
type Table struct {
	store *Store
	name  string
	spec  TableSpec
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Put validates, preprocesses, indexes and writes a full record at url,
// overwriting any previous record. The change event is emitted after commit.
func (t *Table) Put(url string, record any) error {
	t.store.writeMu.Lock()
	defer t.store.writeMu.Unlock()
	return t.putLocked(url, record)
}

func (t *Table) putLocked(url string, record any) error {
	db := t.store.dbHandle()
	if db == nil {
		return ErrNotOpen
	}
	origin, err := urlutil.ToOrigin(url)
	if err != nil {
		return fmt.Errorf("invalid record url %q: %w", url, err)
	}
	doc, err := toDoc(record)
	if err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}
	if t.spec.Validate != nil {
		if err := t.spec.Validate(doc); err != nil {
			return err
		}
	}
	if t.spec.Preprocess != nil {
		t.spec.Preprocess(doc)
	}

	entries, err := t.indexEntries(url, origin, doc)
	if err != nil {
		return fmt.Errorf("indexing %s: %w", url, err)
	}

	stored := doc
	if t.spec.Serialize != nil {
		stored = t.spec.Serialize(doc)
	}
	value, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	batch := db.NewBatch()
	// drop index entries of the record being overwritten
	old, err := t.loadDoc(db, url)
	if err != nil {
		return err
	}
	if old != nil {
		oldEntries, err := t.indexEntries(url, origin, old)
		if err == nil {
			for _, k := range oldEntries {
				_ = batch.Delete(k, nil)
			}
		}
	}
	_ = batch.Set(recKey(t.name, url), value, nil)
	for _, k := range entries {
		_ = batch.Set(k, nil, nil)
	}
	if err := db.Apply(batch, pebble.Sync); err != nil {
		logger.Error("record_put_failed", "table", t.name, "url", url, "err", err)
		return err
	}
	t.store.metrics.puts.WithLabelValues(t.name).Inc()
	logger.Debug("record_put", "table", t.name, "url", url, "origin", origin)

	evValue, _ := json.Marshal(doc)
	t.store.emit(Event{Type: EventPut, Table: t.name, URL: url, Origin: origin, Value: evValue})
	return nil
}

// Upsert merges the given partial document over any existing record at url
// (creating the record when absent) and writes the result through Put
// semantics.
func (t *Table) Upsert(url string, partial any) error {
	t.store.writeMu.Lock()
	defer t.store.writeMu.Unlock()
	db := t.store.dbHandle()
	if db == nil {
		return ErrNotOpen
	}
	patch, err := toDoc(partial)
	if err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}
	doc, err := t.loadDoc(db, url)
	if err != nil {
		return err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	for k, v := range patch {
		doc[k] = v
	}
	return t.putLocked(url, doc)
}

// Get returns the record at url, or nil when absent.
func (t *Table) Get(url string) (*Record, error) {
	db := t.store.dbHandle()
	if db == nil {
		return nil, ErrNotOpen
	}
	return t.loadRecord(db, url)
}

// Delete removes the record at url along with its index entries. Deleting an
// absent record is a no-op.
func (t *Table) Delete(url string) error {
	t.store.writeMu.Lock()
	defer t.store.writeMu.Unlock()
	db := t.store.dbHandle()
	if db == nil {
		return ErrNotOpen
	}
	doc, err := t.loadDoc(db, url)
	if err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	origin, err := urlutil.ToOrigin(url)
	if err != nil {
		return fmt.Errorf("invalid record url %q: %w", url, err)
	}
	batch := db.NewBatch()
	if entries, err := t.indexEntries(url, origin, doc); err == nil {
		for _, k := range entries {
			_ = batch.Delete(k, nil)
		}
	}
	_ = batch.Delete(recKey(t.name, url), nil)
	if err := db.Apply(batch, pebble.Sync); err != nil {
		logger.Error("record_delete_failed", "table", t.name, "url", url, "err", err)
		return err
	}
	t.store.metrics.deletes.WithLabelValues(t.name).Inc()
	logger.Debug("record_deleted", "table", t.name, "url", url)
	t.store.emit(Event{Type: EventDel, Table: t.name, URL: url, Origin: origin})
	return nil
}

// UpdateWhere applies fn to every record matching an index value and writes
// the results back, all under the store write lock. It returns the number of
// records updated; zero means no record matched.
func (t *Table) UpdateWhere(index string, value any, fn func(doc map[string]any) map[string]any) (int, error) {
	t.store.writeMu.Lock()
	defer t.store.writeMu.Unlock()
	recs, err := t.Where(index).Equals(value).ToArray()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range recs {
		var doc map[string]any
		if err := r.Decode(&doc); err != nil {
			return n, fmt.Errorf("decode %s: %w", r.URL, err)
		}
		updated := fn(doc)
		if updated == nil {
			continue
		}
		if err := t.putLocked(r.URL, updated); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// indexEntries computes every index entry key for a preprocessed document,
// including the implicit ":origin" index.
func (t *Table) indexEntries(url, origin string, doc map[string]any) ([][]byte, error) {
	specs := append([]string{":origin"}, t.spec.Index...)
	var out [][]byte
	for _, raw := range specs {
		spec := parseIndexSpec(raw)
		switch {
		case spec.field == "" && !spec.originComposite:
			out = append(out, idxKey(t.name, spec.name, []byte(origin), url))
		case spec.originComposite:
			v, ok := doc[spec.field]
			if !ok || v == nil {
				continue
			}
			enc, err := encodeIndexValue([]any{origin, v})
			if err != nil {
				return nil, fmt.Errorf("index %s: %w", spec.name, err)
			}
			out = append(out, idxKey(t.name, spec.name, enc, url))
		case spec.multi:
			arr, ok := doc[spec.field].([]any)
			if !ok {
				continue
			}
			for _, e := range arr {
				enc, err := encodeIndexValue(e)
				if err != nil {
					return nil, fmt.Errorf("index %s: %w", spec.name, err)
				}
				out = append(out, idxKey(t.name, spec.name, enc, url))
			}
		default:
			v, ok := doc[spec.field]
			if !ok || v == nil {
				continue
			}
			enc, err := encodeIndexValue(v)
			if err != nil {
				return nil, fmt.Errorf("index %s: %w", spec.name, err)
			}
			out = append(out, idxKey(t.name, spec.name, enc, url))
		}
	}
	return out, nil
}

// loadDoc reads and preprocesses the stored document at url; nil when absent.
func (t *Table) loadDoc(db *pebble.DB, url string) (map[string]any, error) {
	v, closer, err := db.Get(recKey(t.name, url))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	var doc map[string]any
	if err := json.Unmarshal(v, &doc); err != nil {
		return nil, fmt.Errorf("corrupt record at %s: %w", url, err)
	}
	if t.spec.Preprocess != nil {
		t.spec.Preprocess(doc)
	}
	return doc, nil
}

func (t *Table) loadRecord(db *pebble.DB, url string) (*Record, error) {
	doc, err := t.loadDoc(db, url)
	if err != nil || doc == nil {
		return nil, err
	}
	origin, err := urlutil.ToOrigin(url)
	if err != nil {
		return nil, err
	}
	value, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return &Record{URL: url, Origin: origin, Value: value}, nil
}

// scanAll returns every record of the table in URL order.
func (t *Table) scanAll() ([]Record, error) {
	db := t.store.dbHandle()
	if db == nil {
		return nil, ErrNotOpen
	}
	prefix := recPrefix(t.name)
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []Record
	for iter.First(); iter.Valid(); iter.Next() {
		url := string(iter.Key()[len(prefix):])
		rec, err := t.loadRecord(db, url)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			out = append(out, *rec)
		}
	}
	return out, iter.Error()
}

func (s *Store) dbHandle() *pebble.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

func toDoc(v any) (map[string]any, error) {
	if m, ok := v.(map[string]any); ok {
		// round-trip anyway so callers keep ownership of their map
		b, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}
		var out map[string]any
		return out, json.Unmarshal(b, &out)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("record must encode to a JSON object: %w", err)
	}
	return out, nil
}
