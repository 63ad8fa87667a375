package models

// Notification kinds.
const (
	NotificationReply   = "reply"
	NotificationMention = "mention"
	NotificationVote    = "vote"
)

// Notification is a derived record maintained by the notification indexer,
// never authored directly. It is keyed by the URL of the triggering record,
// so re-indexing the same event is a no-op.
type Notification struct {
	Type string `json:"type"`
	// Subject is the URL the triggering record points at (the voted-on post
	// for vote notifications).
	Subject string `json:"subject,omitempty"`
	// Origin is the acting origin (the voter for vote notifications).
	Origin    string `json:"origin,omitempty"`
	Vote      int    `json:"vote,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}
