package models

// Vote is one origin's vote on a subject URL, stored at
// /votes/<slug(subject)>.json so a later vote on the same subject overwrites
// the earlier one.
type Vote struct {
	// Subject is stored normalized so equivalent URLs collide.
	Subject string `json:"subject"`
	// Vote is -1, 0 or 1.
	Vote      int   `json:"vote"`
	CreatedAt int64 `json:"createdAt,omitempty"`
}
