package store

import (
	"fmt"
	"math"
	"strings"
)

// Keyspace layout, one pebble DB per store:
//
//	rec:<table>:<url>                      -> serialized record JSON
//	idx:<table>:<index>:<enc>\x00<url>     -> (empty)
//
// Index keys embed the encoded index value followed by the record URL, so a
// prefix scan over one encoded value visits every matching record and entries
// with equal values tie-break by URL. Numeric values are zero-padded decimal
// so byte order equals numeric order; composite values join their segments
// with 0x00. URLs never contain 0x00, so the URL is always the segment after
// the final separator.

const keySep = byte(0x00)

func recKey(table, url string) []byte {
	return []byte("rec:" + table + ":" + url)
}

func recPrefix(table string) []byte {
	return []byte("rec:" + table + ":")
}

func idxPrefix(table, index string) []byte {
	return []byte("idx:" + table + ":" + index + ":")
}

func idxKey(table, index string, enc []byte, url string) []byte {
	p := idxPrefix(table, index)
	out := make([]byte, 0, len(p)+len(enc)+1+len(url))
	out = append(out, p...)
	out = append(out, enc...)
	out = append(out, keySep)
	out = append(out, url...)
	return out
}

// urlFromIdxKey recovers the record URL from a full index entry key.
func urlFromIdxKey(key []byte) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == keySep {
			return string(key[i+1:])
		}
	}
	return ""
}

// encodeIndexValue encodes a single index value. Numbers sort numerically,
// strings sort lexically, and slices become composite keys.
func encodeIndexValue(v any) ([]byte, error) {
	switch t := v.(type) {
	case string:
		return []byte(t), nil
	case float64:
		return encodeNumber(t), nil
	case int:
		return encodeInt(int64(t)), nil
	case int64:
		return encodeInt(t), nil
	case []any:
		var parts [][]byte
		for _, e := range t {
			p, err := encodeIndexValue(e)
			if err != nil {
				return nil, err
			}
			parts = append(parts, p)
		}
		return joinParts(parts), nil
	default:
		return nil, fmt.Errorf("unindexable value of type %T", v)
	}
}

// encodeNumber renders a number as zero-padded decimal, clamped to
// [0, math.MaxInt64]; record timestamps are always non-negative.
// float64(MaxInt64) rounds up to 2^63, which overflows the conversion back
// to int64, so the upper clamp must be >= and saturate.
func encodeNumber(f float64) []byte {
	if f >= math.MaxInt64 {
		return encodeInt(math.MaxInt64)
	}
	return encodeInt(int64(f))
}

func encodeInt(n int64) []byte {
	if n < 0 {
		n = 0
	}
	return []byte(fmt.Sprintf("%020d", n))
}

func joinParts(parts [][]byte) []byte {
	var out []byte
	for i, p := range parts {
		if i > 0 {
			out = append(out, keySep)
		}
		out = append(out, p...)
	}
	return out
}

// upperBoundInclusive widens an encoded value into an iterator upper bound
// that still includes every entry carrying that exact value.
func upperBoundInclusive(prefix, enc []byte) []byte {
	out := make([]byte, 0, len(prefix)+len(enc)+2)
	out = append(out, prefix...)
	out = append(out, enc...)
	out = append(out, keySep, 0xff)
	return out
}

// prefixUpperBound returns the smallest key greater than every key with the
// given prefix.
func prefixUpperBound(prefix []byte) []byte {
	out := append([]byte(nil), prefix...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] < 0xff {
			out[i]++
			return out[:i+1]
		}
	}
	return nil
}

// parseIndexSpec splits an index spec string into its parts.
type indexSpec struct {
	name string // the spec string as declared, used in key prefixes
	// multi marks a "*field" spec: index each element of an array field.
	multi bool
	// originComposite marks a ":origin+field" spec.
	originComposite bool
	field           string // underlying document field ("" for ":origin")
}

func parseIndexSpec(spec string) indexSpec {
	out := indexSpec{name: spec}
	switch {
	case spec == ":origin":
		// implicit owner-origin index
	case strings.HasPrefix(spec, ":origin+"):
		out.originComposite = true
		out.field = strings.TrimPrefix(spec, ":origin+")
	case strings.HasPrefix(spec, "*"):
		out.multi = true
		out.field = strings.TrimPrefix(spec, "*")
	default:
		out.field = spec
	}
	return out
}
