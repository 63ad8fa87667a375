// Package urlutil holds the URL coercion and normalization helpers shared by
// the social, feed and notification APIs. Every subject or origin comparison
// in the library goes through these functions so that equivalent spellings of
// the same URL collide.
package urlutil

import (
	"fmt"
	"net/url"
	"strings"
)

// URLRecord is anything that knows its own record URL. Store records and the
// enriched feed/social wrappers implement it.
type URLRecord interface {
	GetRecordURL() string
}

// OriginRecord is anything that knows its owning origin.
type OriginRecord interface {
	GetRecordOrigin() string
}

// ToURL collapses the accepted input shapes for a record reference into a
// plain URL string. Precedence: record handle, then raw string. Returns ""
// for nil or unrecognized inputs.
func ToURL(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case URLRecord:
		return t.GetRecordURL()
	}
	// a loose document carrying a url field
	if m, ok := v.(map[string]any); ok {
		if s, ok := m["url"].(string); ok {
			return s
		}
	}
	return ""
}

// ToOrigin resolves an input to its owning origin: scheme://host with path,
// query and fragment stripped. Accepts the same shapes as ToURL plus records
// exposing GetRecordOrigin directly.
func ToOrigin(v any) (string, error) {
	if r, ok := v.(OriginRecord); ok {
		return r.GetRecordOrigin(), nil
	}
	s := ToURL(v)
	if s == "" {
		return "", fmt.Errorf("not a valid origin reference: %v", v)
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Hostname() == "" {
		return "", fmt.Errorf("not a valid origin reference: %q", s)
	}
	// lowercase like Normalize, so origins from mixed-case spellings collide
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Hostname()), nil
}

// Normalize canonicalizes a URL so that equivalent spellings compare equal:
// the fragment is dropped, a bare "/" path collapses to no path, and the
// scheme and host are lowercased. Invalid URLs are returned unchanged.
func Normalize(v string) string {
	u, err := url.Parse(v)
	if err != nil || u.Scheme == "" {
		return v
	}
	path := u.Path
	if path == "/" {
		path = ""
	}
	out := strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Hostname()) + path
	if u.RawQuery != "" {
		out += "?" + u.RawQuery
	}
	return out
}

// Slug converts a URL into a deterministic filename-safe token. The URL is
// normalized first so equivalent subjects map to the same slug (and thus the
// same vote file). Characters outside [a-zA-Z0-9._-] are rewritten.
func Slug(v any) string {
	s := Normalize(ToURL(v))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		case r == '/':
			b.WriteByte('!')
		default:
			// drop scheme separators and other noise
		}
	}
	return b.String()
}
