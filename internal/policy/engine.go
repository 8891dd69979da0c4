// Package policy decides which interactions each discovered candidate
// receives, guarding against duplicates through the interaction ledger.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/ilikepancakes-ink/twittwebot/common/logger"
	"github.com/ilikepancakes-ink/twittwebot/core/config"
	"github.com/ilikepancakes-ink/twittwebot/internal/conversation"
	"github.com/ilikepancakes-ink/twittwebot/internal/gate"
	"github.com/ilikepancakes-ink/twittwebot/internal/metrics"
	"github.com/ilikepancakes-ink/twittwebot/internal/model"
	"github.com/ilikepancakes-ink/twittwebot/internal/platform"
	"github.com/ilikepancakes-ink/twittwebot/internal/store"
)

// Generator is the slice of the content generator the engine needs:
// context-free replies to single posts. Defined here so tests can fake it
// without the full generator.
type Generator interface {
	Conversational(ctx context.Context, post model.Post) (string, error)
}

// Rand is the injected random source for the reply-chance draw.
// *math/rand.Rand satisfies it.
type Rand interface {
	Float64() float64
}

// Engine applies the configured interaction types to ranked candidates.
// It runs on the popular-post task's goroutine only, so the random source
// needs no locking.
type Engine struct {
	client    platform.Client
	gate      *gate.Gate
	ledger    store.Ledger
	tracker   *conversation.Tracker
	generator Generator
	metrics   *metrics.Metrics
	cfg       config.BotConfig

	rng   Rand
	sleep func(ctx context.Context, d time.Duration) error
}

func NewEngine(client platform.Client, g *gate.Gate, ledger store.Ledger, tracker *conversation.Tracker, generator Generator, cfg config.BotConfig, m *metrics.Metrics) *Engine {
	return &Engine{
		client:    client,
		gate:      g,
		ledger:    ledger,
		tracker:   tracker,
		generator: generator,
		metrics:   m,
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:     sleepContext,
	}
}

// Engage walks the candidates in ranked order and applies each configured
// interaction type at most once per post. Failures on one candidate never
// abort the rest; only context cancellation stops the pass early.
func (e *Engine) Engage(ctx context.Context, candidates []model.Post) error {
	var applied, failed int

	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		ctx := logger.WithLogFields(ctx, logger.LogFields{PostID: logger.Ptr(candidate.ID)})

		for _, t := range e.cfg.Interactions {
			attempted, err := e.apply(ctx, candidate, t)
			switch {
			case err != nil:
				failed++
				e.metrics.InteractionObserved(string(t), metrics.OutcomeError)
				slog.ErrorContext(ctx, "interaction failed", "type", t, "error", err)
			case attempted:
				applied++
				e.metrics.InteractionObserved(string(t), metrics.OutcomeOK)
			default:
				e.metrics.InteractionObserved(string(t), metrics.OutcomeSkipped)
			}
			if attempted {
				if serr := e.sleep(ctx, e.cfg.InteractionDelay); serr != nil {
					return serr
				}
			}
		}
	}

	slog.InfoContext(ctx, "engagement pass complete",
		"candidates", len(candidates),
		"applied", applied,
		"failed", failed)
	return nil
}

// apply runs one interaction type against one post. The returned bool
// reports whether an outbound attempt happened (as opposed to a ledger or
// chance skip), which is what the inter-interaction delay paces.
func (e *Engine) apply(ctx context.Context, post model.Post, t model.InteractionType) (bool, error) {
	done, err := e.ledger.HasInteracted(ctx, post.ID, t)
	if err != nil {
		return false, fmt.Errorf("ledger lookup: %w", err)
	}
	if done {
		slog.DebugContext(ctx, "already interacted, skipping", "type", t)
		return false, nil
	}

	switch t {
	case model.InteractionLike:
		return true, e.like(ctx, post)
	case model.InteractionRetweet:
		return true, e.retweet(ctx, post)
	case model.InteractionReply:
		return e.maybeReply(ctx, post)
	default:
		return false, fmt.Errorf("unknown interaction type %q", t)
	}
}

func (e *Engine) like(ctx context.Context, post model.Post) error {
	err := gate.Run(ctx, e.gate, "like", func(ctx context.Context) error {
		return e.client.Like(ctx, post.ID)
	})
	if err != nil {
		e.recordIfPermanent(ctx, post.ID, model.InteractionLike, err)
		return err
	}
	e.record(ctx, post.ID, model.InteractionLike)
	slog.InfoContext(ctx, "liked post")
	return nil
}

func (e *Engine) retweet(ctx context.Context, post model.Post) error {
	err := gate.Run(ctx, e.gate, "retweet", func(ctx context.Context) error {
		return e.client.Retweet(ctx, post.ID)
	})
	if err != nil {
		e.recordIfPermanent(ctx, post.ID, model.InteractionRetweet, err)
		return err
	}
	e.record(ctx, post.ID, model.InteractionRetweet)
	slog.InfoContext(ctx, "retweeted post")
	return nil
}

func (e *Engine) maybeReply(ctx context.Context, post model.Post) (bool, error) {
	if !e.cfg.ReplyToAll && e.rng.Float64() >= e.cfg.ReplyChance {
		slog.DebugContext(ctx, "reply skipped by chance")
		return false, nil
	}

	text, err := gate.Do(ctx, e.gate, "generate reply", func(ctx context.Context) (string, error) {
		return e.generator.Conversational(ctx, post)
	})
	if err != nil {
		e.recordIfPermanent(ctx, post.ID, model.InteractionReply, err)
		return true, err
	}

	reply, err := gate.Do(ctx, e.gate, "post reply", func(ctx context.Context) (model.Post, error) {
		return e.client.Reply(ctx, post.ID, text)
	})
	if err != nil {
		e.recordIfPermanent(ctx, post.ID, model.InteractionReply, err)
		return true, err
	}

	e.record(ctx, post.ID, model.InteractionReply)
	slog.InfoContext(ctx, "replied to post", "reply_id", reply.ID)

	if e.tracker.Enabled() {
		root := model.MessageFromPost(post, false)
		botReply := model.MessageFromPost(reply, true)
		if err := e.tracker.StartThread(ctx, root, botReply); err != nil {
			slog.ErrorContext(ctx, "failed to start thread", "error", err)
		}
	}
	return true, nil
}

func (e *Engine) record(ctx context.Context, postID string, t model.InteractionType) {
	// The interaction already happened remotely; a failed write can at
	// worst allow one duplicate attempt on a later scan.
	if err := e.ledger.Record(ctx, postID, t); err != nil {
		slog.ErrorContext(ctx, "failed to record interaction", "type", t, "error", err)
	}
}

// recordIfPermanent pins permanently failed attempts in the ledger so they
// are not re-attempted on every scan. Transient failures stay unrecorded
// and may be retried by a later pass.
func (e *Engine) recordIfPermanent(ctx context.Context, postID string, t model.InteractionType, err error) {
	if gate.Classify(err) == gate.KindPermanent {
		e.record(ctx, postID, t)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
