package bot_test

import (
	"context"

	"github.com/ilikepancakes-ink/twittwebot/internal/model"
)

type mockPlatform struct {
	mentionsFn   func(ctx context.Context, cursor string, limit int) ([]model.Post, string, error)
	threadRootFn func(ctx context.Context, postID string) (string, error)
	createFn     func(ctx context.Context, text string) (model.Post, error)
	replyFn      func(ctx context.Context, parentID, text string) (model.Post, error)

	createCalls int
	replyCalls  int
	replies     []string // parent ids, in order
}

func (m *mockPlatform) Me(context.Context) (model.Account, error) {
	return model.Account{ID: "900", Username: "twittwebot"}, nil
}

func (m *mockPlatform) RecentPosts(context.Context, string, int) ([]model.Post, error) {
	return nil, nil
}

func (m *mockPlatform) SearchPosts(context.Context, []string, string, int) ([]model.Post, error) {
	return nil, nil
}

func (m *mockPlatform) MentionsSince(ctx context.Context, cursor string, limit int) ([]model.Post, string, error) {
	if m.mentionsFn != nil {
		return m.mentionsFn(ctx, cursor, limit)
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
	m.createCalls++
	if m.createFn != nil {
		return m.createFn(ctx, text)
	}
	return model.Post{ID: "created", Text: text, AuthorID: "900"}, nil
}

func (m *mockPlatform) Reply(ctx context.Context, parentID, text string) (model.Post, error) {
	m.replyCalls++
	m.replies = append(m.replies, parentID)
	if m.replyFn != nil {
		return m.replyFn(ctx, parentID, text)
	}
	return model.Post{ID: "reply-" + parentID, Text: text, AuthorID: "900"}, nil
}

func (m *mockPlatform) Like(context.Context, string) error { return nil }

func (m *mockPlatform) Retweet(context.Context, string) error { return nil }

type mockGenerator struct {
	standaloneFn     func(ctx context.Context) (string, error)
	replyFn          func(ctx context.Context, thread []model.ThreadMessage) (string, error)
	conversationalFn func(ctx context.Context, post model.Post) (string, error)

	standaloneCalls     int
	replyCalls          int
	conversationalCalls int
	lastTranscript      []model.ThreadMessage
}

func (m *mockGenerator) Standalone(ctx context.Context) (string, error) {
	m.standaloneCalls++
	if m.standaloneFn != nil {
		return m.standaloneFn(ctx)
	}
	return "fresh take on technology", nil
}

func (m *mockGenerator) Reply(ctx context.Context, thread []model.ThreadMessage) (string, error) {
	m.replyCalls++
	m.lastTranscript = thread
	if m.replyFn != nil {
		return m.replyFn(ctx, thread)
	}
	return "continuing the thought", nil
}

func (m *mockGenerator) Conversational(ctx context.Context, post model.Post) (string, error) {
	m.conversationalCalls++
	if m.conversationalFn != nil {
		return m.conversationalFn(ctx, post)
	}
	return "thanks for the mention!", nil
}

type mockDiscoverer struct {
	discoverFn func(ctx context.Context) ([]model.Post, error)
	calls      int
}

func (m *mockDiscoverer) Discover(ctx context.Context) ([]model.Post, error) {
	m.calls++
	if m.discoverFn != nil {
		return m.discoverFn(ctx)
	}
	return nil, nil
}

type mockEngager struct {
	engageFn func(ctx context.Context, candidates []model.Post) error
	batches  [][]model.Post
}

func (m *mockEngager) Engage(ctx context.Context, candidates []model.Post) error {
	m.batches = append(m.batches, candidates)
	if m.engageFn != nil {
		return m.engageFn(ctx, candidates)
	}
	return nil
}
