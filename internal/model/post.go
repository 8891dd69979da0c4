package model

import "time"

// Post is the read-only view of a platform status the bot works with.
// Field values are normalized by the platform client; the core never
// touches the wire format.
type Post struct {
	ID             string    `json:"id"`
	AuthorID       string    `json:"author_id"`
	AuthorUsername string    `json:"author_username,omitempty"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
	LikeCount      int       `json:"like_count"`
	IsOriginal     bool      `json:"is_original"` // false for replies and retweets
	Language       string    `json:"language,omitempty"`
}

// Account is the authenticated identity the bot posts as.
type Account struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}
