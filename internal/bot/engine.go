// Package bot holds the bodies of the three scheduled tasks: standalone
// posting, mention handling, and the popular-post scan. The engine wires
// discovery, policy, conversation tracking and the ledger together; the
// scheduler decides when each body runs.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ilikepancakes-ink/twittwebot/common/logger"
	"github.com/ilikepancakes-ink/twittwebot/core/config"
	"github.com/ilikepancakes-ink/twittwebot/internal/conversation"
	"github.com/ilikepancakes-ink/twittwebot/internal/gate"
	"github.com/ilikepancakes-ink/twittwebot/internal/metrics"
	"github.com/ilikepancakes-ink/twittwebot/internal/model"
	"github.com/ilikepancakes-ink/twittwebot/internal/platform"
	"github.com/ilikepancakes-ink/twittwebot/internal/store"
)

// mentionFetchLimit is the page size for one mention poll.
const mentionFetchLimit = 50

// Discoverer is the slice of candidate discovery the engine needs.
type Discoverer interface {
	Discover(ctx context.Context) ([]model.Post, error)
}

// Engager applies the interaction policy to a candidate batch.
type Engager interface {
	Engage(ctx context.Context, candidates []model.Post) error
}

// Generator is the content generation surface used by the task bodies.
type Generator interface {
	Standalone(ctx context.Context) (string, error)
	Reply(ctx context.Context, thread []model.ThreadMessage) (string, error)
	Conversational(ctx context.Context, post model.Post) (string, error)
}

// Deps carries the collaborators the engine is constructed with.
type Deps struct {
	Client    platform.Client
	Gate      *gate.Gate
	Ledger    store.Ledger
	Cursors   store.CursorStore
	Tracker   *conversation.Tracker
	Finder    Discoverer
	Policy    Engager
	Generator Generator
	Metrics   *metrics.Metrics
	Self      model.Account
}

// Engine implements the task bodies. It holds no state of its own beyond
// the bot's identity; everything mutable lives behind the ledger, tracker
// and cursor store contracts.
type Engine struct {
	client    platform.Client
	gate      *gate.Gate
	ledger    store.Ledger
	cursors   store.CursorStore
	tracker   *conversation.Tracker
	finder    Discoverer
	policy    Engager
	generator Generator
	metrics   *metrics.Metrics
	cfg       config.BotConfig
	self      model.Account
}

func NewEngine(cfg config.BotConfig, deps Deps) *Engine {
	return &Engine{
		client:    deps.Client,
		gate:      deps.Gate,
		ledger:    deps.Ledger,
		cursors:   deps.Cursors,
		tracker:   deps.Tracker,
		finder:    deps.Finder,
		policy:    deps.Policy,
		generator: deps.Generator,
		metrics:   deps.Metrics,
		cfg:       cfg,
		self:      deps.Self,
	}
}

// PostOnce generates one standalone post and publishes it.
func (e *Engine) PostOnce(ctx context.Context) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "twittwebot.bot.post"})

	text, err := gate.Do(ctx, e.gate, "generate post", func(ctx context.Context) (string, error) {
		return e.generator.Standalone(ctx)
	})
	if err != nil {
		return fmt.Errorf("generating post: %w", err)
	}

	post, err := gate.Do(ctx, e.gate, "create post", func(ctx context.Context) (model.Post, error) {
		return e.client.CreatePost(ctx, text)
	})
	if err != nil {
		return fmt.Errorf("publishing post: %w", err)
	}

	slog.InfoContext(ctx, "published standalone post",
		"post_id", post.ID,
		"text", logger.Truncate(text, 80))
	return nil
}

// CheckMentions fetches mentions newer than the stored cursor and handles
// each one. The cursor only advances when the fetch itself succeeded;
// per-mention failures are logged and skipped so one bad mention cannot
// block the stream.
func (e *Engine) CheckMentions(ctx context.Context) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "twittwebot.bot.mentions"})

	cursor, err := e.cursors.Get(ctx, store.CursorMentions)
	if err != nil {
		return fmt.Errorf("loading mention cursor: %w", err)
	}

	type mentionPage struct {
		posts []model.Post
		next  string
	}
	page, err := gate.Do(ctx, e.gate, "fetch mentions", func(ctx context.Context) (mentionPage, error) {
		posts, next, err := e.client.MentionsSince(ctx, cursor, mentionFetchLimit)
		return mentionPage{posts: posts, next: next}, err
	})
	if err != nil {
		return fmt.Errorf("fetching mentions: %w", err)
	}

	var handled, failed int
	for _, mention := range page.posts {
		if err := ctx.Err(); err != nil {
			return err
		}
		mctx := logger.WithLogFields(ctx, logger.LogFields{
			MentionID: logger.Ptr(mention.ID),
			PostID:    logger.Ptr(mention.ID),
		})
		if merr := e.handleMention(mctx, mention); merr != nil {
			failed++
			slog.ErrorContext(mctx, "mention handling failed", "error", merr)
			continue
		}
		handled++
	}

	if page.next != cursor {
		if err := e.cursors.Set(ctx, store.CursorMentions, page.next); err != nil {
			return fmt.Errorf("advancing mention cursor: %w", err)
		}
	}

	e.refreshThreadGauge(ctx)
	if len(page.posts) > 0 {
		slog.InfoContext(ctx, "mention pass complete",
			"fetched", len(page.posts),
			"handled", handled,
			"failed", failed)
	}
	return nil
}

// handleMention routes one mention. Tracked roots get their transcript
// updated and, budget permitting, a contextual reply; untracked roots get
// a context-free reply only when chain tracking is off.
func (e *Engine) handleMention(ctx context.Context, mention model.Post) error {
	if mention.AuthorID == e.self.ID {
		slog.DebugContext(ctx, "skipping self-authored mention")
		return nil
	}

	rootID, err := gate.Do(ctx, e.gate, "thread root", func(ctx context.Context) (string, error) {
		return e.client.ThreadRoot(ctx, mention.ID)
	})
	if err != nil {
		return fmt.Errorf("resolving thread root: %w", err)
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{ThreadRootID: logger.Ptr(rootID)})

	if !e.tracker.Enabled() {
		return e.conversationalReply(ctx, mention)
	}

	if _, err := e.tracker.Thread(ctx, rootID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Tracking is on but the bot never started this conversation.
			slog.DebugContext(ctx, "mention on untracked root ignored")
			return nil
		}
		return fmt.Errorf("loading thread: %w", err)
	}

	if err := e.tracker.ObserveReply(ctx, rootID, model.MessageFromPost(mention, false)); err != nil {
		return fmt.Errorf("observing reply: %w", err)
	}

	if !e.cfg.ReplyToReplies {
		return nil
	}

	should, err := e.tracker.ShouldRespond(ctx, rootID)
	if err != nil {
		return fmt.Errorf("checking reply budget: %w", err)
	}
	if !should {
		slog.DebugContext(ctx, "thread reply budget spent, not responding")
		return nil
	}

	done, err := e.ledger.HasInteracted(ctx, mention.ID, model.InteractionReply)
	if err != nil {
		return fmt.Errorf("ledger lookup: %w", err)
	}
	if done {
		slog.DebugContext(ctx, "mention already answered, skipping")
		return nil
	}

	transcript, err := e.tracker.BuildContext(ctx, rootID)
	if err != nil {
		return fmt.Errorf("building context: %w", err)
	}

	text, err := gate.Do(ctx, e.gate, "generate thread reply", func(ctx context.Context) (string, error) {
		return e.generator.Reply(ctx, transcript)
	})
	if err != nil {
		e.noteReplyFailure(ctx, mention.ID, err)
		return fmt.Errorf("generating thread reply: %w", err)
	}

	reply, err := gate.Do(ctx, e.gate, "post reply", func(ctx context.Context) (model.Post, error) {
		return e.client.Reply(ctx, mention.ID, text)
	})
	if err != nil {
		e.noteReplyFailure(ctx, mention.ID, err)
		return fmt.Errorf("posting thread reply: %w", err)
	}

	if err := e.tracker.RecordBotReply(ctx, rootID, model.MessageFromPost(reply, true)); err != nil {
		slog.ErrorContext(ctx, "failed to record bot reply", "error", err)
	}
	e.record(ctx, mention.ID, model.InteractionReply)
	e.metrics.InteractionObserved(string(model.InteractionReply), metrics.OutcomeOK)
	slog.InfoContext(ctx, "replied in tracked thread", "reply_id", reply.ID)
	return nil
}

// conversationalReply answers a mention without thread context, used when
// reply-chain tracking is disabled. Ledger-guarded so a cursor reset after
// a restart cannot produce a second answer to the same mention.
func (e *Engine) conversationalReply(ctx context.Context, mention model.Post) error {
	done, err := e.ledger.HasInteracted(ctx, mention.ID, model.InteractionReply)
	if err != nil {
		return fmt.Errorf("ledger lookup: %w", err)
	}
	if done {
		slog.DebugContext(ctx, "mention already answered, skipping")
		return nil
	}

	text, err := gate.Do(ctx, e.gate, "generate reply", func(ctx context.Context) (string, error) {
		return e.generator.Conversational(ctx, mention)
	})
	if err != nil {
		e.noteReplyFailure(ctx, mention.ID, err)
		return fmt.Errorf("generating reply: %w", err)
	}

	reply, err := gate.Do(ctx, e.gate, "post reply", func(ctx context.Context) (model.Post, error) {
		return e.client.Reply(ctx, mention.ID, text)
	})
	if err != nil {
		e.noteReplyFailure(ctx, mention.ID, err)
		return fmt.Errorf("posting reply: %w", err)
	}

	e.record(ctx, mention.ID, model.InteractionReply)
	e.metrics.InteractionObserved(string(model.InteractionReply), metrics.OutcomeOK)
	slog.InfoContext(ctx, "answered mention", "reply_id", reply.ID)
	return nil
}

// ScanPopular runs one discovery scan and hands the candidates to the
// policy engine.
func (e *Engine) ScanPopular(ctx context.Context) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "twittwebot.bot.popular"})

	candidates, err := e.finder.Discover(ctx)
	if err != nil {
		return fmt.Errorf("discovering candidates: %w", err)
	}
	if len(candidates) == 0 {
		slog.DebugContext(ctx, "no candidates this scan")
		return nil
	}

	if err := e.policy.Engage(ctx, candidates); err != nil {
		return fmt.Errorf("engaging candidates: %w", err)
	}

	e.refreshThreadGauge(ctx)
	return nil
}

func (e *Engine) record(ctx context.Context, postID string, t model.InteractionType) {
	if err := e.ledger.Record(ctx, postID, t); err != nil {
		slog.ErrorContext(ctx, "failed to record interaction", "type", t, "error", err)
	}
}

// noteReplyFailure counts the failed attempt and pins permanent failures
// in the ledger so they are not re-attempted on the next poll. Transient
// failures stay unrecorded and may be retried once the platform recovers.
func (e *Engine) noteReplyFailure(ctx context.Context, postID string, err error) {
	e.metrics.InteractionObserved(string(model.InteractionReply), metrics.OutcomeError)
	if gate.Classify(err) == gate.KindPermanent {
		e.record(ctx, postID, model.InteractionReply)
	}
}

func (e *Engine) refreshThreadGauge(ctx context.Context) {
	threads, err := e.tracker.Threads(ctx)
	if err != nil {
		return
	}
	e.metrics.SetTrackedThreads(len(threads))
}
