// Package search keeps an external full-text index of channel posts up to
// date. Querying the index is not served by this module.
package search

// PostRecord is the data we index for a post.
type PostRecord struct {
	ID        string `json:"id"`
	ChannelID string `json:"channelId"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	AuthorID  string `json:"authorId"`
}

// Backend pushes records into a search index.
type Backend interface {
	Healthy() bool
	IndexPosts(posts []PostRecord) error
	DeletePost(id string) error
}
