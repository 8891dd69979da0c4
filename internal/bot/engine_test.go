package bot_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ilikepancakes-ink/twittwebot/core/config"
	"github.com/ilikepancakes-ink/twittwebot/internal/bot"
	"github.com/ilikepancakes-ink/twittwebot/internal/conversation"
	"github.com/ilikepancakes-ink/twittwebot/internal/gate"
	"github.com/ilikepancakes-ink/twittwebot/internal/model"
	"github.com/ilikepancakes-ink/twittwebot/internal/store"
)

func mention(id, authorID string) model.Post {
	return model.Post{
		ID:             id,
		AuthorID:       authorID,
		AuthorUsername: "user-" + authorID,
		Text:           "@twittwebot what about " + id,
		CreatedAt:      time.Now().Add(-time.Minute),
	}
}

var _ = Describe("Engine", func() {
	var (
		ctx     context.Context
		client  *mockPlatform
		gen     *mockGenerator
		finder  *mockDiscoverer
		policy  *mockEngager
		ledger  *store.MemoryLedger
		cursors *store.MemoryCursorStore
		threads *store.MemoryThreadStore
		tracker *conversation.Tracker
		cfg     config.BotConfig
	)

	newEngine := func() *bot.Engine {
		return bot.NewEngine(cfg, bot.Deps{
			Client:    client,
			Gate:      gate.New(gate.Config{MaxAttempts: 1, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond}),
			Ledger:    ledger,
			Cursors:   cursors,
			Tracker:   tracker,
			Finder:    finder,
			Policy:    policy,
			Generator: gen,
			Self:      model.Account{ID: "900", Username: "twittwebot"},
		})
	}

	// seedThread starts tracking a conversation the bot opened by replying
	// to rootID, leaving it at depth 1 with two messages.
	seedThread := func(rootID string) {
		root := model.ThreadMessage{
			PostID:    rootID,
			AuthorID:  "42",
			Text:      "original post",
			Timestamp: time.Now().Add(-time.Hour),
		}
		opener := model.ThreadMessage{
			PostID:   "bot-" + rootID,
			AuthorID: "900",
			Text:     "bot opener",
		}
		Expect(tracker.StartThread(ctx, root, opener)).To(Succeed())
	}

	BeforeEach(func() {
		ctx = context.Background()
		client = &mockPlatform{}
		gen = &mockGenerator{}
		finder = &mockDiscoverer{}
		policy = &mockEngager{}
		ledger = store.NewMemoryLedger(0)
		cursors = store.NewMemoryCursorStore()
		threads = store.NewMemoryThreadStore()
		tracker = conversation.NewTracker(threads, 3, true)
		cfg = config.BotConfig{
			TrackReplyChains: true,
			ReplyToReplies:   true,
			MaxReplyDepth:    3,
		}
	})

	Describe("PostOnce", func() {
		It("publishes one generated post", func() {
			gen.standaloneFn = func(context.Context) (string, error) { return "hot take", nil }
			var published string
			client.createFn = func(_ context.Context, text string) (model.Post, error) {
				published = text
				return model.Post{ID: "p-1", Text: text}, nil
			}

			Expect(newEngine().PostOnce(ctx)).To(Succeed())
			Expect(gen.standaloneCalls).To(Equal(1))
			Expect(client.createCalls).To(Equal(1))
			Expect(published).To(Equal("hot take"))
		})

		It("does not publish when generation fails", func() {
			gen.standaloneFn = func(context.Context) (string, error) {
				return "", gate.Permanent(errors.New("model refused"))
			}

			err := newEngine().PostOnce(ctx)
			Expect(err).To(MatchError(ContainSubstring("generating post")))
			Expect(client.createCalls).To(BeZero())
		})

		It("surfaces publish failures", func() {
			client.createFn = func(context.Context, string) (model.Post, error) {
				return model.Post{}, gate.Permanent(errors.New("duplicate status"))
			}

			err := newEngine().PostOnce(ctx)
			Expect(err).To(MatchError(ContainSubstring("publishing post")))
		})
	})

	Describe("CheckMentions", func() {
		It("passes the stored cursor to the fetch and advances it on success", func() {
			Expect(cursors.Set(ctx, store.CursorMentions, "1700")).To(Succeed())
			var gotCursor string
			client.mentionsFn = func(_ context.Context, cursor string, _ int) ([]model.Post, string, error) {
				gotCursor = cursor
				return nil, "1800", nil
			}

			Expect(newEngine().CheckMentions(ctx)).To(Succeed())
			Expect(gotCursor).To(Equal("1700"))

			cur, err := cursors.Get(ctx, store.CursorMentions)
			Expect(err).NotTo(HaveOccurred())
			Expect(cur).To(Equal("1800"))
		})

		It("keeps the cursor when the fetch fails", func() {
			Expect(cursors.Set(ctx, store.CursorMentions, "1700")).To(Succeed())
			client.mentionsFn = func(context.Context, string, int) ([]model.Post, string, error) {
				return nil, "", gate.Permanent(errors.New("401"))
			}

			err := newEngine().CheckMentions(ctx)
			Expect(err).To(MatchError(ContainSubstring("fetching mentions")))

			cur, gerr := cursors.Get(ctx, store.CursorMentions)
			Expect(gerr).NotTo(HaveOccurred())
			Expect(cur).To(Equal("1700"))
		})

		It("skips mentions the bot authored itself", func() {
			client.mentionsFn = func(context.Context, string, int) ([]model.Post, string, error) {
				return []model.Post{mention("m-1", "900")}, "1800", nil
			}

			Expect(newEngine().CheckMentions(ctx)).To(Succeed())
			Expect(client.replyCalls).To(BeZero())
			Expect(gen.replyCalls).To(BeZero())
			Expect(gen.conversationalCalls).To(BeZero())

			cur, err := cursors.Get(ctx, store.CursorMentions)
			Expect(err).NotTo(HaveOccurred())
			Expect(cur).To(Equal("1800"))
		})

		Context("with reply-chain tracking on", func() {
			It("ignores mentions on conversations the bot never started", func() {
				client.mentionsFn = func(context.Context, string, int) ([]model.Post, string, error) {
					return []model.Post{mention("m-1", "42")}, "1800", nil
				}
				client.threadRootFn = func(context.Context, string) (string, error) {
					return "stranger-root", nil
				}

				Expect(newEngine().CheckMentions(ctx)).To(Succeed())
				Expect(gen.replyCalls).To(BeZero())
				Expect(gen.conversationalCalls).To(BeZero())
				Expect(client.replyCalls).To(BeZero())
			})

			It("answers a tracked mention with the thread transcript", func() {
				seedThread("root-1")
				client.mentionsFn = func(context.Context, string, int) ([]model.Post, string, error) {
					return []model.Post{mention("m-1", "42")}, "1800", nil
				}
				client.threadRootFn = func(context.Context, string) (string, error) { return "root-1", nil }
				gen.replyFn = func(_ context.Context, thread []model.ThreadMessage) (string, error) {
					return "picking up the thread", nil
				}

				Expect(newEngine().CheckMentions(ctx)).To(Succeed())

				Expect(client.replies).To(Equal([]string{"m-1"}))
				Expect(gen.lastTranscript).To(HaveLen(3))
				Expect(gen.lastTranscript[0].PostID).To(Equal("root-1"))
				Expect(gen.lastTranscript[2].PostID).To(Equal("m-1"))
				Expect(gen.lastTranscript[2].BotAuthored).To(BeFalse())

				has, err := ledger.HasInteracted(ctx, "m-1", model.InteractionReply)
				Expect(err).NotTo(HaveOccurred())
				Expect(has).To(BeTrue())

				thread, err := tracker.Thread(ctx, "root-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(thread.Depth).To(Equal(2))
				Expect(thread.State).To(Equal(model.ThreadStateActive))
				Expect(thread.Messages).To(HaveLen(4))
				Expect(thread.Messages[3].BotAuthored).To(BeTrue())
			})

			It("only records the reply when answering replies is off", func() {
				cfg.ReplyToReplies = false
				seedThread("root-1")
				client.mentionsFn = func(context.Context, string, int) ([]model.Post, string, error) {
					return []model.Post{mention("m-1", "42")}, "1800", nil
				}
				client.threadRootFn = func(context.Context, string) (string, error) { return "root-1", nil }

				Expect(newEngine().CheckMentions(ctx)).To(Succeed())
				Expect(client.replyCalls).To(BeZero())
				Expect(gen.replyCalls).To(BeZero())

				thread, err := tracker.Thread(ctx, "root-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(thread.Messages).To(HaveLen(3))
				Expect(thread.Depth).To(Equal(1))
			})

			It("stops answering once the thread's reply budget is spent", func() {
				tracker = conversation.NewTracker(threads, 1, true)
				seedThread("root-1")
				client.mentionsFn = func(context.Context, string, int) ([]model.Post, string, error) {
					return []model.Post{mention("m-1", "42")}, "1800", nil
				}
				client.threadRootFn = func(context.Context, string) (string, error) { return "root-1", nil }

				Expect(newEngine().CheckMentions(ctx)).To(Succeed())
				Expect(client.replyCalls).To(BeZero())
				Expect(gen.replyCalls).To(BeZero())

				thread, err := tracker.Thread(ctx, "root-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(thread.Messages).To(HaveLen(3))
			})

			It("does not answer the same mention twice", func() {
				seedThread("root-1")
				Expect(ledger.Record(ctx, "m-1", model.InteractionReply)).To(Succeed())
				client.mentionsFn = func(context.Context, string, int) ([]model.Post, string, error) {
					return []model.Post{mention("m-1", "42")}, "1800", nil
				}
				client.threadRootFn = func(context.Context, string) (string, error) { return "root-1", nil }

				Expect(newEngine().CheckMentions(ctx)).To(Succeed())
				Expect(gen.replyCalls).To(BeZero())
				Expect(client.replyCalls).To(BeZero())
			})

			It("keeps handling the batch when one mention fails", func() {
				seedThread("root-1")
				client.mentionsFn = func(context.Context, string, int) ([]model.Post, string, error) {
					return []model.Post{mention("m-1", "42"), mention("m-2", "43")}, "1800", nil
				}
				client.threadRootFn = func(_ context.Context, postID string) (string, error) {
					if postID == "m-1" {
						return "", gate.Permanent(errors.New("deleted"))
					}
					return "root-1", nil
				}

				Expect(newEngine().CheckMentions(ctx)).To(Succeed())
				Expect(client.replies).To(Equal([]string{"m-2"}))

				cur, err := cursors.Get(ctx, store.CursorMentions)
				Expect(err).NotTo(HaveOccurred())
				Expect(cur).To(Equal("1800"))
			})

			It("pins permanently failed replies so they are not retried", func() {
				seedThread("root-1")
				client.mentionsFn = func(context.Context, string, int) ([]model.Post, string, error) {
					return []model.Post{mention("m-1", "42")}, "1800", nil
				}
				client.threadRootFn = func(context.Context, string) (string, error) { return "root-1", nil }
				client.replyFn = func(context.Context, string, string) (model.Post, error) {
					return model.Post{}, gate.Permanent(errors.New("403 forbidden"))
				}

				Expect(newEngine().CheckMentions(ctx)).To(Succeed())

				has, err := ledger.HasInteracted(ctx, "m-1", model.InteractionReply)
				Expect(err).NotTo(HaveOccurred())
				Expect(has).To(BeTrue())
			})

			It("leaves transient reply failures retryable", func() {
				seedThread("root-1")
				client.mentionsFn = func(context.Context, string, int) ([]model.Post, string, error) {
					return []model.Post{mention("m-1", "42")}, "1800", nil
				}
				client.threadRootFn = func(context.Context, string) (string, error) { return "root-1", nil }
				client.replyFn = func(context.Context, string, string) (model.Post, error) {
					return model.Post{}, gate.Transient(errors.New("503"))
				}

				Expect(newEngine().CheckMentions(ctx)).To(Succeed())

				has, err := ledger.HasInteracted(ctx, "m-1", model.InteractionReply)
				Expect(err).NotTo(HaveOccurred())
				Expect(has).To(BeFalse())
			})
		})

		Context("with reply-chain tracking off", func() {
			BeforeEach(func() {
				tracker = conversation.NewTracker(threads, 3, false)
				cfg.TrackReplyChains = false
			})

			It("answers every mention without thread context, exactly once", func() {
				client.mentionsFn = func(context.Context, string, int) ([]model.Post, string, error) {
					return []model.Post{mention("m-1", "42")}, "1800", nil
				}

				engine := newEngine()
				Expect(engine.CheckMentions(ctx)).To(Succeed())
				Expect(gen.conversationalCalls).To(Equal(1))
				Expect(client.replies).To(Equal([]string{"m-1"}))

				// A cursor reset must not produce a second answer.
				Expect(cursors.Set(ctx, store.CursorMentions, "")).To(Succeed())
				Expect(engine.CheckMentions(ctx)).To(Succeed())
				Expect(gen.conversationalCalls).To(Equal(1))
				Expect(client.replyCalls).To(Equal(1))
			})
		})
	})

	Describe("ScanPopular", func() {
		It("hands discovered candidates to the policy", func() {
			batch := []model.Post{mention("c-1", "7"), mention("c-2", "8")}
			finder.discoverFn = func(context.Context) ([]model.Post, error) { return batch, nil }

			Expect(newEngine().ScanPopular(ctx)).To(Succeed())
			Expect(policy.batches).To(HaveLen(1))
			Expect(policy.batches[0]).To(Equal(batch))
		})

		It("skips engagement when discovery finds nothing", func() {
			Expect(newEngine().ScanPopular(ctx)).To(Succeed())
			Expect(finder.calls).To(Equal(1))
			Expect(policy.batches).To(BeEmpty())
		})

		It("surfaces discovery failures", func() {
			finder.discoverFn = func(context.Context) ([]model.Post, error) {
				return nil, errors.New("search exploded")
			}

			err := newEngine().ScanPopular(ctx)
			Expect(err).To(MatchError(ContainSubstring("discovering candidates")))
			Expect(policy.batches).To(BeEmpty())
		})
	})
})
