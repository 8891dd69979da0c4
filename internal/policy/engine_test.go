package policy

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ilikepancakes-ink/twittwebot/core/config"
	"github.com/ilikepancakes-ink/twittwebot/internal/conversation"
	"github.com/ilikepancakes-ink/twittwebot/internal/gate"
	"github.com/ilikepancakes-ink/twittwebot/internal/model"
	"github.com/ilikepancakes-ink/twittwebot/internal/store"
)

func candidate(id string, likes int) model.Post {
	return model.Post{
		ID:         id,
		AuthorID:   "author-" + id,
		Text:       "candidate " + id,
		CreatedAt:  time.Now().Add(-time.Hour),
		LikeCount:  likes,
		IsOriginal: true,
		Language:   "en",
	}
}

var _ = Describe("Engine", func() {
	var (
		ctx       context.Context
		client    *mockPlatform
		generator *mockGenerator
		ledger    *store.MemoryLedger
		tracker   *conversation.Tracker
		cfg       config.BotConfig
		sleeps    []time.Duration
	)

	newEngine := func() *Engine {
		e := NewEngine(client, gate.New(gate.Config{MaxAttempts: 1, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond}), ledger, tracker, generator, cfg, nil)
		e.sleep = func(_ context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return nil
		}
		e.rng = fixedRand{0.99}
		return e
	}

	BeforeEach(func() {
		ctx = context.Background()
		client = &mockPlatform{}
		generator = &mockGenerator{}
		ledger = store.NewMemoryLedger(0)
		tracker = conversation.NewTracker(store.NewMemoryThreadStore(), 3, true)
		sleeps = nil
		cfg = config.BotConfig{
			Interactions:     []model.InteractionType{model.InteractionLike, model.InteractionRetweet},
			ReplyToAll:       false,
			ReplyChance:      0.3,
			InteractionDelay: 5 * time.Second,
		}
	})

	It("applies likes and retweets to every new candidate", func() {
		err := newEngine().Engage(ctx, []model.Post{candidate("1", 100), candidate("2", 50)})
		Expect(err).NotTo(HaveOccurred())
		Expect(client.likeCalls).To(Equal(2))
		Expect(client.retweetCalls).To(Equal(2))

		for _, id := range []string{"1", "2"} {
			has, lerr := ledger.HasInteracted(ctx, id, model.InteractionLike)
			Expect(lerr).NotTo(HaveOccurred())
			Expect(has).To(BeTrue())
			has, lerr = ledger.HasInteracted(ctx, id, model.InteractionRetweet)
			Expect(lerr).NotTo(HaveOccurred())
			Expect(has).To(BeTrue())
		}
	})

	It("skips interactions already in the ledger without calling the platform", func() {
		Expect(ledger.Record(ctx, "1", model.InteractionLike)).To(Succeed())

		err := newEngine().Engage(ctx, []model.Post{candidate("1", 100)})
		Expect(err).NotTo(HaveOccurred())
		Expect(client.likeCalls).To(Equal(0))
		Expect(client.retweetCalls).To(Equal(1))
	})

	It("isolates per-candidate failures", func() {
		client.likeFn = func(_ context.Context, postID string) error {
			if postID == "1" {
				return gate.Permanent(errors.New("tweet deleted"))
			}
			return nil
		}

		err := newEngine().Engage(ctx, []model.Post{candidate("1", 100), candidate("2", 50)})
		Expect(err).NotTo(HaveOccurred())
		Expect(client.likeCalls).To(Equal(2))

		has, lerr := ledger.HasInteracted(ctx, "2", model.InteractionLike)
		Expect(lerr).NotTo(HaveOccurred())
		Expect(has).To(BeTrue())
	})

	Describe("replies", func() {
		BeforeEach(func() {
			cfg.Interactions = []model.InteractionType{model.InteractionReply}
		})

		It("replies to every candidate exactly once when replyToAll is set", func() {
			cfg.ReplyToAll = true
			engine := newEngine()
			candidates := []model.Post{candidate("1", 100), candidate("2", 50), candidate("3", 10)}

			Expect(engine.Engage(ctx, candidates)).To(Succeed())
			Expect(generator.calls).To(Equal(3))
			Expect(client.replyCalls).To(Equal(3))

			// A second pass over the same candidates adds nothing.
			Expect(engine.Engage(ctx, candidates)).To(Succeed())
			Expect(client.replyCalls).To(Equal(3))
		})

		It("draws the reply chance when replyToAll is off", func() {
			engine := newEngine()
			engine.rng = fixedRand{0.95}
			Expect(engine.Engage(ctx, []model.Post{candidate("1", 100)})).To(Succeed())
			Expect(client.replyCalls).To(Equal(0))

			engine = newEngine()
			engine.rng = fixedRand{0.05}
			Expect(engine.Engage(ctx, []model.Post{candidate("2", 100)})).To(Succeed())
			Expect(client.replyCalls).To(Equal(1))
		})

		It("converges on the configured reply chance over many candidates", func() {
			engine := newEngine()
			engine.rng = rand.New(rand.NewSource(1))

			candidates := make([]model.Post, 10000)
			for i := range candidates {
				candidates[i] = candidate(fmt.Sprintf("c%d", i), 10)
			}
			Expect(engine.Engage(ctx, candidates)).To(Succeed())

			fraction := float64(client.replyCalls) / float64(len(candidates))
			Expect(fraction).To(BeNumerically("~", 0.3, 0.02))
		})

		It("starts tracking the thread for successful replies", func() {
			cfg.ReplyToAll = true
			Expect(newEngine().Engage(ctx, []model.Post{candidate("1", 100)})).To(Succeed())

			thread, err := tracker.Thread(ctx, "1")
			Expect(err).NotTo(HaveOccurred())
			Expect(thread.Depth).To(Equal(1))
			Expect(thread.Messages).To(HaveLen(2))
			Expect(thread.Messages[0].PostID).To(Equal("1"))
			Expect(thread.Messages[1].BotAuthored).To(BeTrue())
		})

		It("does not track threads when chain tracking is disabled", func() {
			cfg.ReplyToAll = true
			tracker = conversation.NewTracker(store.NewMemoryThreadStore(), 3, false)
			Expect(newEngine().Engage(ctx, []model.Post{candidate("1", 100)})).To(Succeed())

			_, err := tracker.Thread(ctx, "1")
			Expect(errors.Is(err, store.ErrNotFound)).To(BeTrue())
		})

		It("pins permanently failed replies so they are not re-attempted", func() {
			cfg.ReplyToAll = true
			client.replyFn = func(context.Context, string, string) (model.Post, error) {
				return model.Post{}, gate.Permanent(errors.New("400 invalid content"))
			}
			engine := newEngine()
			candidates := []model.Post{candidate("1", 100)}

			Expect(engine.Engage(ctx, candidates)).To(Succeed())
			Expect(client.replyCalls).To(Equal(1))

			Expect(engine.Engage(ctx, candidates)).To(Succeed())
			Expect(client.replyCalls).To(Equal(1), "permanent failure must not be re-attempted")
		})

		It("leaves transient failures unrecorded for a later pass", func() {
			cfg.ReplyToAll = true
			client.replyFn = func(context.Context, string, string) (model.Post, error) {
				return model.Post{}, gate.Transient(errors.New("connection reset"))
			}
			engine := newEngine()
			candidates := []model.Post{candidate("1", 100)}

			Expect(engine.Engage(ctx, candidates)).To(Succeed())
			Expect(engine.Engage(ctx, candidates)).To(Succeed())
			Expect(client.replyCalls).To(Equal(2), "transient failure may be retried next pass")
		})
	})

	Describe("pacing", func() {
		It("waits the inter-interaction delay after each attempt", func() {
			Expect(newEngine().Engage(ctx, []model.Post{candidate("1", 100)})).To(Succeed())
			Expect(sleeps).To(Equal([]time.Duration{5 * time.Second, 5 * time.Second}))
		})

		It("does not wait after ledger or chance skips", func() {
			Expect(ledger.Record(ctx, "1", model.InteractionLike)).To(Succeed())
			Expect(ledger.Record(ctx, "1", model.InteractionRetweet)).To(Succeed())

			cfg.Interactions = append(cfg.Interactions, model.InteractionReply)
			engine := newEngine()
			engine.rng = fixedRand{0.99}

			Expect(engine.Engage(ctx, []model.Post{candidate("1", 100)})).To(Succeed())
			Expect(sleeps).To(BeEmpty())
		})
	})

	It("stops early when the context is cancelled", func() {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		err := newEngine().Engage(cancelled, []model.Post{candidate("1", 100)})
		Expect(errors.Is(err, context.Canceled)).To(BeTrue())
		Expect(client.likeCalls).To(Equal(0))
	})
})
