// Package conversation tracks the reply threads the bot participates in
// and rations its reply budget per thread.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ilikepancakes-ink/twittwebot/internal/model"
	"github.com/ilikepancakes-ink/twittwebot/internal/store"
)

// ErrThreadTerminated is returned when a bot reply is recorded against a
// thread that already spent its reply budget.
var ErrThreadTerminated = errors.New("thread terminated")

// Tracker owns all thread mutations. The mention and popular-post tasks
// can run concurrently, so every read-modify-write sequence serializes
// through one mutex regardless of the backing store.
type Tracker struct {
	mu       sync.Mutex
	threads  store.ThreadStore
	maxDepth int
	enabled  bool
}

func NewTracker(threads store.ThreadStore, maxDepth int, trackChains bool) *Tracker {
	if maxDepth < 1 {
		maxDepth = 1
	}
	return &Tracker{
		threads:  threads,
		maxDepth: maxDepth,
		enabled:  trackChains,
	}
}

// Enabled reports whether reply-chain tracking is switched on. When off,
// no threads are ever started and mentions get context-free replies.
func (t *Tracker) Enabled() bool { return t.enabled }

// StartThread begins tracking a conversation rooted at the candidate post
// the bot just replied to. Starting an already-tracked root is a no-op.
func (t *Tracker) StartThread(ctx context.Context, root, botReply model.ThreadMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, err := t.threads.Get(ctx, root.PostID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("start thread: %w", err)
	}

	botReply.BotAuthored = true
	now := time.Now().UTC()
	thread := &model.ConversationThread{
		RootID:    root.PostID,
		Messages:  []model.ThreadMessage{root, botReply},
		Depth:     1,
		State:     model.ThreadStateActive,
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := t.threads.Put(ctx, thread); err != nil {
		return fmt.Errorf("start thread: %w", err)
	}

	slog.InfoContext(ctx, "tracking new thread", "root_id", root.PostID)
	return nil
}

// ObserveReply appends an incoming reply to its tracked thread. Replies to
// untracked roots are ignored; replies to terminated threads are logged
// and dropped so the transcript stays within the reply budget's bound.
func (t *Tracker) ObserveReply(ctx context.Context, rootID string, incoming model.ThreadMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	thread, err := t.threads.Get(ctx, rootID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("observe reply: %w", err)
	}

	if thread.State == model.ThreadStateTerminated {
		slog.DebugContext(ctx, "reply on terminated thread ignored", "root_id", rootID, "post_id", incoming.PostID)
		return nil
	}

	incoming.BotAuthored = false
	thread.Messages = append(thread.Messages, incoming)
	thread.UpdatedAt = time.Now().UTC()
	if err := t.threads.Put(ctx, thread); err != nil {
		return fmt.Errorf("observe reply: %w", err)
	}
	return nil
}

// ShouldRespond reports whether the bot may spend another reply on the
// thread rooted at rootID.
func (t *Tracker) ShouldRespond(ctx context.Context, rootID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	thread, err := t.threads.Get(ctx, rootID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("should respond: %w", err)
	}
	return thread.State == model.ThreadStateActive && thread.Depth < t.maxDepth, nil
}

// RecordBotReply appends the bot's reply and charges it against the
// thread's depth budget, terminating the thread when the budget is spent.
func (t *Tracker) RecordBotReply(ctx context.Context, rootID string, reply model.ThreadMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	thread, err := t.threads.Get(ctx, rootID)
	if err != nil {
		return fmt.Errorf("record bot reply: %w", err)
	}
	if thread.State != model.ThreadStateActive || thread.Depth >= t.maxDepth {
		return ErrThreadTerminated
	}

	reply.BotAuthored = true
	thread.Messages = append(thread.Messages, reply)
	thread.Depth++
	thread.UpdatedAt = time.Now().UTC()
	if thread.Depth >= t.maxDepth {
		thread.State = model.ThreadStateTerminated
		slog.InfoContext(ctx, "thread reached reply depth limit", "root_id", rootID, "depth", thread.Depth)
	}

	if err := t.threads.Put(ctx, thread); err != nil {
		return fmt.Errorf("record bot reply: %w", err)
	}
	return nil
}

// BuildContext returns the thread transcript in chronological order for
// prompt assembly. At most 2*maxDepth messages accrue per thread.
func (t *Tracker) BuildContext(ctx context.Context, rootID string) ([]model.ThreadMessage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	thread, err := t.threads.Get(ctx, rootID)
	if err != nil {
		return nil, fmt.Errorf("build context: %w", err)
	}
	return thread.Messages, nil
}

// Threads lists summaries of every tracked thread for the ops surface.
func (t *Tracker) Threads(ctx context.Context) ([]model.ThreadSummary, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.threads.List(ctx)
}

// Thread returns one tracked thread in full, store.ErrNotFound when absent.
func (t *Tracker) Thread(ctx context.Context, rootID string) (*model.ConversationThread, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.threads.Get(ctx, rootID)
}
