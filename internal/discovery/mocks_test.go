package discovery_test

import (
	"context"

	"github.com/ilikepancakes-ink/twittwebot/internal/model"
)

type mockPlatform struct {
	meFn            func(ctx context.Context) (model.Account, error)
	recentPostsFn   func(ctx context.Context, username string, limit int) ([]model.Post, error)
	searchPostsFn   func(ctx context.Context, keywords []string, language string, limit int) ([]model.Post, error)
	mentionsSinceFn func(ctx context.Context, cursor string, limit int) ([]model.Post, string, error)
	threadRootFn    func(ctx context.Context, postID string) (string, error)
	createPostFn    func(ctx context.Context, text string) (model.Post, error)
	replyFn         func(ctx context.Context, parentID, text string) (model.Post, error)
	likeFn          func(ctx context.Context, postID string) error
	retweetFn       func(ctx context.Context, postID string) error
}

func (m *mockPlatform) Me(ctx context.Context) (model.Account, error) {
	if m.meFn != nil {
		return m.meFn(ctx)
	}
	return model.Account{ID: "900", Username: "twittwebot"}, nil
}

func (m *mockPlatform) RecentPosts(ctx context.Context, username string, limit int) ([]model.Post, error) {
	if m.recentPostsFn != nil {
		return m.recentPostsFn(ctx, username, limit)
	}
	return nil, nil
}

func (m *mockPlatform) SearchPosts(ctx context.Context, keywords []string, language string, limit int) ([]model.Post, error) {
	if m.searchPostsFn != nil {
		return m.searchPostsFn(ctx, keywords, language, limit)
	}
	return nil, nil
}

func (m *mockPlatform) MentionsSince(ctx context.Context, cursor string, limit int) ([]model.Post, string, error) {
	if m.mentionsSinceFn != nil {
		return m.mentionsSinceFn(ctx, cursor, limit)
	}
	return nil, cursor, nil
}

func (m *mockPlatform) ThreadRoot(ctx context.Context, postID string) (string, error) {
	if m.threadRootFn != nil {
		return m.threadRootFn(ctx, postID)
	}
	return postID, nil
}

func (m *mockPlatform) CreatePost(ctx context.Context, text string) (model.Post, error) {
	if m.createPostFn != nil {
		return m.createPostFn(ctx, text)
	}
	return model.Post{ID: "created", Text: text}, nil
}

func (m *mockPlatform) Reply(ctx context.Context, parentID, text string) (model.Post, error) {
	if m.replyFn != nil {
		return m.replyFn(ctx, parentID, text)
	}
	return model.Post{ID: "replied", Text: text}, nil
}

func (m *mockPlatform) Like(ctx context.Context, postID string) error {
	if m.likeFn != nil {
		return m.likeFn(ctx, postID)
	}
	return nil
}

func (m *mockPlatform) Retweet(ctx context.Context, postID string) error {
	if m.retweetFn != nil {
		return m.retweetFn(ctx, postID)
	}
	return nil
}
