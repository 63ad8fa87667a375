package models

// Follow is one entry of a profile's declared follow list.
type Follow struct {
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
}

// Profile is the per-origin user record stored at /profile.json.
type Profile struct {
	Name    string   `json:"name,omitempty"`
	Bio     string   `json:"bio,omitempty"`
	Avatar  string   `json:"avatar,omitempty"`
	Follows []Follow `json:"follows"`
	// FollowUrls is derived at index time: the normalized URL projection of
	// Follows. It is never accepted from callers and never persisted.
	FollowUrls []string `json:"followUrls,omitempty"`
}
