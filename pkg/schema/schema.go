// Package schema declares the shape rules and index derivations for the four
// record kinds. Validation runs before any write and never leaves a record
// partially applied; preprocessing derives index fields and normalizes URLs
// on both the write and read paths; serialization projects only the
// author-controlled fields so derived values are never persisted.
package schema

import (
	"fmt"

	"github.com/beakerbrowser/libfritter/pkg/urlutil"
)

// ValidationError reports a single field failing shape or type checks.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid record: %s %s", e.Field, e.Reason)
}

func fail(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func optString(doc map[string]any, field string) error {
	if v, ok := doc[field]; ok && v != nil {
		if _, ok := v.(string); !ok {
			return fail(field, "must be a string")
		}
	}
	return nil
}

func reqString(doc map[string]any, field string) error {
	v, ok := doc[field]
	if !ok || v == nil {
		return fail(field, "is required")
	}
	if s, ok := v.(string); !ok || s == "" {
		return fail(field, "must be a non-empty string")
	}
	return nil
}

func isNumber(v any) bool {
	switch v.(type) {
	case float64, int, int64:
		return true
	}
	return false
}

// urlList checks an optional array-of-{url, name?} field.
func urlList(doc map[string]any, field string) error {
	v, ok := doc[field]
	if !ok || v == nil {
		return nil
	}
	arr, ok := v.([]any)
	if !ok {
		return fail(field, "must be an array")
	}
	for i, e := range arr {
		m, ok := e.(map[string]any)
		if !ok {
			return fail(fmt.Sprintf("%s[%d]", field, i), "must be an object")
		}
		u, ok := m["url"].(string)
		if !ok || u == "" {
			return fail(fmt.Sprintf("%s[%d].url", field, i), "must be a non-empty string")
		}
		if n, ok := m["name"]; ok && n != nil {
			if _, ok := n.(string); !ok {
				return fail(fmt.Sprintf("%s[%d].name", field, i), "must be a string")
			}
		}
	}
	return nil
}

// ValidateProfile checks a profile document. followUrls is derived and never
// accepted from the caller; it is silently recomputed, not validated.
func ValidateProfile(doc map[string]any) error {
	for _, f := range []string{"name", "bio", "avatar"} {
		if err := optString(doc, f); err != nil {
			return err
		}
	}
	return urlList(doc, "follows")
}

// PreprocessProfile recomputes the followUrls projection of follows. The
// invariant is that followUrls is always exactly the normalized URL set of
// the declared follow list.
func PreprocessProfile(doc map[string]any) {
	arr, _ := doc["follows"].([]any)
	if arr == nil {
		arr = []any{}
		doc["follows"] = arr
	}
	urls := make([]any, 0, len(arr))
	for _, e := range arr {
		if m, ok := e.(map[string]any); ok {
			if u, ok := m["url"].(string); ok {
				urls = append(urls, urlutil.Normalize(u))
			}
		}
	}
	doc["followUrls"] = urls
}

// SerializeProfile strips the derived followUrls field before persistence.
func SerializeProfile(doc map[string]any) map[string]any {
	out := map[string]any{
		"follows": doc["follows"],
	}
	for _, f := range []string{"name", "bio", "avatar"} {
		if v, ok := doc[f]; ok && v != nil {
			out[f] = v
		}
	}
	return out
}

// ValidatePost checks a post document. text and createdAt are required;
// thread links and mentions are optional.
func ValidatePost(doc map[string]any) error {
	if err := reqString(doc, "text"); err != nil {
		return err
	}
	v, ok := doc["createdAt"]
	if !ok || v == nil {
		return fail("createdAt", "is required")
	}
	if !isNumber(v) {
		return fail("createdAt", "must be a number")
	}
	for _, f := range []string{"threadRoot", "threadParent"} {
		if err := optString(doc, f); err != nil {
			return err
		}
	}
	return urlList(doc, "mentions")
}

// PreprocessPost fills threadRoot for replies that declared only their
// immediate parent: a post carrying threadParent without threadRoot treats
// the parent as the thread root. Thread links are record URLs minted by the
// store and are kept verbatim.
func PreprocessPost(doc map[string]any) {
	root, _ := doc["threadRoot"].(string)
	parent, _ := doc["threadParent"].(string)
	if root == "" && parent != "" {
		doc["threadRoot"] = parent
	}
}

// ValidateVote checks a vote document: subject required, vote exactly -1, 0
// or 1, createdAt numeric when present.
func ValidateVote(doc map[string]any) error {
	if err := reqString(doc, "subject"); err != nil {
		return err
	}
	v, ok := doc["vote"]
	if !ok || !isNumber(v) {
		return fail("vote", "must be -1, 0 or 1")
	}
	switch n := toFloat(v); n {
	case -1, 0, 1:
	default:
		return fail("vote", "must be -1, 0 or 1")
	}
	if c, ok := doc["createdAt"]; ok && c != nil && !isNumber(c) {
		return fail("createdAt", "must be a number")
	}
	return nil
}

// PreprocessVote normalizes the subject URL so equivalent spellings collide
// in the subject index.
func PreprocessVote(doc map[string]any) {
	if s, ok := doc["subject"].(string); ok {
		doc["subject"] = urlutil.Normalize(s)
	}
}

// ValidateNotification checks a derived notification document. Only the
// indexer writes these.
func ValidateNotification(doc map[string]any) error {
	t, _ := doc["type"].(string)
	switch t {
	case "reply", "mention", "vote":
	default:
		return fail("type", "must be reply, mention or vote")
	}
	v, ok := doc["createdAt"]
	if !ok || !isNumber(v) {
		return fail("createdAt", "must be a number")
	}
	return nil
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}
