package store

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// Filter is a post-scan predicate. It receives the record and its decoded
// document; returning false drops the record from the result.
type Filter func(rec Record, doc map[string]any) bool

// Query is a lazy cursor over one table index. A Query is a pure description
// of its inputs: each terminal call (ToArray, Count, Each) opens a fresh
// iterator, so queries are restartable.
type Query struct {
	t      *Table
	lower  []byte
	upper  []byte
	filter []Filter
	offset int
	limit  int
	rev    bool
	err    error
}

// ErrorQuery returns a query whose terminal calls all fail with err. Callers
// building a query from unvalidated input use it to defer the error to the
// usual error-return path.
func ErrorQuery(t *Table, err error) *Query {
	return &Query{t: t, err: err}
}

// WhereClause names an index pending its range constraint.
type WhereClause struct {
	t     *Table
	index string
}

// Where starts a query against a declared index (or the implicit ":origin"
// index).
func (t *Table) Where(index string) *WhereClause {
	return &WhereClause{t: t, index: index}
}

// OrderBy returns a query over an entire index in ascending value order. The
// field must be declared as an index; records missing the field do not appear.
func (t *Table) OrderBy(field string) *Query {
	name, err := t.resolveIndex(field)
	if err != nil {
		return &Query{t: t, err: err}
	}
	p := idxPrefix(t.name, name)
	return &Query{t: t, lower: p, upper: prefixUpperBound(p)}
}

// resolveIndex maps an index reference to its declared spec name. A
// multi-entry index declared "*field" may be referenced as either "*field"
// or plain "field".
func (t *Table) resolveIndex(index string) (string, error) {
	if index == ":origin" {
		return index, nil
	}
	for _, s := range t.spec.Index {
		if s == index || s == "*"+index {
			return s, nil
		}
	}
	return "", fmt.Errorf("table %s has no index %q", t.name, index)
}

// Equals constrains the query to entries whose index value equals v exactly.
func (w *WhereClause) Equals(v any) *Query {
	name, err := w.t.resolveIndex(w.index)
	if err != nil {
		return &Query{t: w.t, err: err}
	}
	enc, err := encodeIndexValue(v)
	if err != nil {
		return &Query{t: w.t, err: err}
	}
	p := idxPrefix(w.t.name, name)
	lower := make([]byte, 0, len(p)+len(enc)+1)
	lower = append(lower, p...)
	lower = append(lower, enc...)
	lower = append(lower, keySep)
	return &Query{t: w.t, lower: lower, upper: upperBoundInclusive(p, enc)}
}

// Between constrains the query to index values in [lo, hi], both inclusive.
// Composite indexes take []any bounds, e.g. Between([]any{origin, 0},
// []any{origin, t}).
func (w *WhereClause) Between(lo, hi any) *Query {
	name, err := w.t.resolveIndex(w.index)
	if err != nil {
		return &Query{t: w.t, err: err}
	}
	encLo, err := encodeIndexValue(lo)
	if err != nil {
		return &Query{t: w.t, err: err}
	}
	encHi, err := encodeIndexValue(hi)
	if err != nil {
		return &Query{t: w.t, err: err}
	}
	p := idxPrefix(w.t.name, name)
	lower := append(append([]byte(nil), p...), encLo...)
	return &Query{t: w.t, lower: lower, upper: upperBoundInclusive(p, encHi)}
}

// Filter appends a post-scan predicate.
func (q *Query) Filter(f Filter) *Query {
	q.filter = append(q.filter, f)
	return q
}

// Offset skips the first n matching records. Offsets count from the end the
// iteration starts at, so Reverse changes which end they apply to.
func (q *Query) Offset(n int) *Query {
	q.offset = n
	return q
}

// Limit caps the number of returned records.
func (q *Query) Limit(n int) *Query {
	q.limit = n
	return q
}

// Reverse flips iteration direction. It applies before Offset and Limit.
func (q *Query) Reverse() *Query {
	q.rev = !q.rev
	return q
}

// Each visits every matching record in iteration order. Returning an error
// from fn aborts the scan.
func (q *Query) Each(fn func(rec Record) error) error {
	return q.each(fn)
}

// ToArray materializes the matching records.
func (q *Query) ToArray() ([]Record, error) {
	var out []Record
	err := q.Each(func(rec Record) error {
		out = append(out, rec)
		return nil
	})
	return out, err
}

// Count returns the number of matching records.
func (q *Query) Count() (int, error) {
	n := 0
	err := q.Each(func(Record) error {
		n++
		return nil
	})
	return n, err
}

func (q *Query) each(fn func(rec Record) error) error {
	if q.err != nil {
		return q.err
	}
	db := q.t.store.dbHandle()
	if db == nil {
		return ErrNotOpen
	}
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: q.lower,
		UpperBound: q.upper,
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	advance := iter.Next
	valid := iter.First
	if q.rev {
		advance = iter.Prev
		valid = iter.Last
	}

	skipped, emitted := 0, 0
	for ok := valid(); ok; ok = advance() {
		url := urlFromIdxKey(iter.Key())
		if url == "" {
			continue
		}
		rec, err := q.t.loadRecord(db, url)
		if err != nil {
			return err
		}
		if rec == nil {
			// index entry outlived its record; skip
			continue
		}
		if len(q.filter) > 0 {
			var doc map[string]any
			if err := json.Unmarshal(rec.Value, &doc); err != nil {
				return fmt.Errorf("decode %s: %w", url, err)
			}
			keep := true
			for _, f := range q.filter {
				if !f(*rec, doc) {
					keep = false
					break
				}
			}
			if !keep {
				continue
			}
		}
		if skipped < q.offset {
			skipped++
			continue
		}
		if err := fn(*rec); err != nil {
			return err
		}
		emitted++
		if q.limit > 0 && emitted >= q.limit {
			break
		}
	}
	return iter.Error()
}
