package models

// Mention is a declared reference to another user inside a post.
type Mention struct {
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
}

// Post is a single feed entry stored at /posts/<id>.json. Posts are immutable
// once written; replies link back to their thread via ThreadRoot and
// ThreadParent.
type Post struct {
	Text string `json:"text"`
	// CreatedAt is a millisecond timestamp; post IDs are minted so records
	// sort by creation order even within the same millisecond.
	CreatedAt int64 `json:"createdAt"`
	// ThreadRoot is the URL of the top-most ancestor of the thread, not
	// necessarily the immediate parent. Empty on root posts.
	ThreadRoot string `json:"threadRoot,omitempty"`
	// ThreadParent is the URL of the immediate parent post.
	ThreadParent string    `json:"threadParent,omitempty"`
	Mentions     []Mention `json:"mentions,omitempty"`
}
