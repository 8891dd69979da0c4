// Package platform defines the social-platform contract consumed by the
// engine. Implementations classify every failure into the gate's error
// taxonomy so callers can route calls through the shared retry policy.
package platform

import (
	"context"

	"github.com/ilikepancakes-ink/twittwebot/internal/model"
)

// Client is the outbound surface of the bot. All calls are expected to be
// wrapped in gate retries by the caller; implementations only classify.
type Client interface {
	// Me returns the authenticated account. Implementations cache it.
	Me(ctx context.Context) (model.Account, error)

	// RecentPosts fetches the newest original-and-otherwise posts of one
	// account, newest first, up to limit.
	RecentPosts(ctx context.Context, username string, limit int) ([]model.Post, error)

	// SearchPosts searches recent public posts matching any keyword,
	// optionally narrowed to one language.
	SearchPosts(ctx context.Context, keywords []string, language string, limit int) ([]model.Post, error)

	// MentionsSince fetches mentions newer than the cursor and returns the
	// next cursor. An empty cursor means "from the platform's default
	// lookback". The returned cursor equals the input when nothing new
	// arrived.
	MentionsSince(ctx context.Context, cursor string, limit int) ([]model.Post, string, error)

	// ThreadRoot resolves the id of the post that started the conversation
	// containing postID.
	ThreadRoot(ctx context.Context, postID string) (string, error)

	// CreatePost publishes a standalone post.
	CreatePost(ctx context.Context, text string) (model.Post, error)

	// Reply publishes a reply to parentID.
	Reply(ctx context.Context, parentID, text string) (model.Post, error)

	Like(ctx context.Context, postID string) error
	Retweet(ctx context.Context, postID string) error
}
