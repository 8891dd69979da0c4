package conversation_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ilikepancakes-ink/twittwebot/internal/conversation"
	"github.com/ilikepancakes-ink/twittwebot/internal/model"
	"github.com/ilikepancakes-ink/twittwebot/internal/store"
)

func msg(postID, authorID, text string) model.ThreadMessage {
	return model.ThreadMessage{
		PostID:    postID,
		AuthorID:  authorID,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
}

var _ = Describe("Tracker", func() {
	var (
		ctx     context.Context
		threads *store.MemoryThreadStore
		tracker *conversation.Tracker
	)

	BeforeEach(func() {
		ctx = context.Background()
		threads = store.NewMemoryThreadStore()
		tracker = conversation.NewTracker(threads, 3, true)
	})

	Describe("StartThread", func() {
		It("creates an active thread with the root and the bot reply", func() {
			err := tracker.StartThread(ctx, msg("root-1", "alice", "interesting take"), msg("bot-1", "bot", "thanks!"))
			Expect(err).NotTo(HaveOccurred())

			thread, err := threads.Get(ctx, "root-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(thread.State).To(Equal(model.ThreadStateActive))
			Expect(thread.Depth).To(Equal(1))
			Expect(thread.Messages).To(HaveLen(2))
			Expect(thread.Messages[0].PostID).To(Equal("root-1"))
			Expect(thread.Messages[1].BotAuthored).To(BeTrue())
		})

		It("is idempotent for an already-tracked root", func() {
			Expect(tracker.StartThread(ctx, msg("root-1", "alice", "hi"), msg("bot-1", "bot", "hello"))).To(Succeed())
			Expect(tracker.StartThread(ctx, msg("root-1", "alice", "hi"), msg("bot-2", "bot", "hello again"))).To(Succeed())

			thread, err := threads.Get(ctx, "root-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(thread.Messages).To(HaveLen(2))
			Expect(thread.Messages[1].PostID).To(Equal("bot-1"))
		})
	})

	Describe("ObserveReply", func() {
		It("ignores replies on untracked roots without creating a thread", func() {
			Expect(tracker.ObserveReply(ctx, "unknown", msg("reply-1", "bob", "hey bot"))).To(Succeed())

			_, err := threads.Get(ctx, "unknown")
			Expect(errors.Is(err, store.ErrNotFound)).To(BeTrue())
		})

		It("appends incoming replies as non-bot messages", func() {
			Expect(tracker.StartThread(ctx, msg("root-1", "alice", "hi"), msg("bot-1", "bot", "hello"))).To(Succeed())
			Expect(tracker.ObserveReply(ctx, "root-1", msg("reply-1", "alice", "how are you?"))).To(Succeed())

			thread, err := threads.Get(ctx, "root-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(thread.Messages).To(HaveLen(3))
			Expect(thread.Messages[2].BotAuthored).To(BeFalse())
			Expect(thread.Depth).To(Equal(1), "observing a user reply never consumes reply budget")
		})
	})

	Describe("ShouldRespond", func() {
		It("is false for untracked roots", func() {
			ok, err := tracker.ShouldRespond(ctx, "unknown")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("is true while the thread is active and under the depth limit", func() {
			Expect(tracker.StartThread(ctx, msg("root-1", "alice", "hi"), msg("bot-1", "bot", "hello"))).To(Succeed())

			ok, err := tracker.ShouldRespond(ctx, "root-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		})
	})

	Describe("RecordBotReply", func() {
		It("increments depth and keeps the thread active under the limit", func() {
			Expect(tracker.StartThread(ctx, msg("root-1", "alice", "hi"), msg("bot-1", "bot", "hello"))).To(Succeed())
			Expect(tracker.RecordBotReply(ctx, "root-1", msg("bot-2", "bot", "more"))).To(Succeed())

			thread, err := threads.Get(ctx, "root-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(thread.Depth).To(Equal(2))
			Expect(thread.State).To(Equal(model.ThreadStateActive))
			Expect(thread.Messages[2].BotAuthored).To(BeTrue())
		})

		It("terminates the thread when the depth limit is reached", func() {
			Expect(tracker.StartThread(ctx, msg("root-1", "alice", "hi"), msg("bot-1", "bot", "hello"))).To(Succeed())
			Expect(tracker.RecordBotReply(ctx, "root-1", msg("bot-2", "bot", "two"))).To(Succeed())
			Expect(tracker.RecordBotReply(ctx, "root-1", msg("bot-3", "bot", "three"))).To(Succeed())

			thread, err := threads.Get(ctx, "root-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(thread.Depth).To(Equal(3))
			Expect(thread.State).To(Equal(model.ThreadStateTerminated))

			ok, err := tracker.ShouldRespond(ctx, "root-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("refuses replies on terminated threads so depth never exceeds the limit", func() {
			tracker = conversation.NewTracker(threads, 1, true)
			Expect(tracker.StartThread(ctx, msg("root-1", "alice", "hi"), msg("bot-1", "bot", "hello"))).To(Succeed())

			err := tracker.RecordBotReply(ctx, "root-1", msg("bot-2", "bot", "over budget"))
			Expect(errors.Is(err, conversation.ErrThreadTerminated)).To(BeTrue())

			thread, err := threads.Get(ctx, "root-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(thread.Depth).To(Equal(1))
		})

		It("returns the store error for unknown roots", func() {
			err := tracker.RecordBotReply(ctx, "unknown", msg("bot-1", "bot", "hello"))
			Expect(errors.Is(err, store.ErrNotFound)).To(BeTrue())
		})
	})

	Describe("BuildContext", func() {
		It("returns the transcript in chronological order", func() {
			Expect(tracker.StartThread(ctx, msg("root-1", "alice", "first"), msg("bot-1", "bot", "second"))).To(Succeed())
			Expect(tracker.ObserveReply(ctx, "root-1", msg("reply-1", "alice", "third"))).To(Succeed())
			Expect(tracker.RecordBotReply(ctx, "root-1", msg("bot-2", "bot", "fourth"))).To(Succeed())

			messages, err := tracker.BuildContext(ctx, "root-1")
			Expect(err).NotTo(HaveOccurred())

			texts := make([]string, len(messages))
			for i, m := range messages {
				texts[i] = m.Text
			}
			Expect(texts).To(Equal([]string{"first", "second", "third", "fourth"}))
		})
	})

	Describe("a full conversation", func() {
		It("walks a two-turn exchange to termination", func() {
			tracker = conversation.NewTracker(threads, 2, true)

			// Bot replies to alice's post, thread starts at depth 1.
			Expect(tracker.StartThread(ctx, msg("R", "alice", "root post"), msg("B1", "bot", "first reply"))).To(Succeed())

			// Alice replies back; the bot still has budget.
			Expect(tracker.ObserveReply(ctx, "R", msg("U1", "alice", "user reply"))).To(Succeed())
			ok, err := tracker.ShouldRespond(ctx, "R")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())

			// Second bot reply exhausts the budget.
			Expect(tracker.RecordBotReply(ctx, "R", msg("B2", "bot", "second reply"))).To(Succeed())
			thread, err := threads.Get(ctx, "R")
			Expect(err).NotTo(HaveOccurred())
			Expect(thread.Depth).To(Equal(2))
			Expect(thread.State).To(Equal(model.ThreadStateTerminated))

			// Further replies are observed nowhere and answered never.
			before := len(thread.Messages)
			Expect(tracker.ObserveReply(ctx, "R", msg("U2", "alice", "anyone home?"))).To(Succeed())
			thread, err = threads.Get(ctx, "R")
			Expect(err).NotTo(HaveOccurred())
			Expect(thread.Messages).To(HaveLen(before))

			ok, err = tracker.ShouldRespond(ctx, "R")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})
	})

	Describe("ops accessors", func() {
		It("lists tracked thread summaries", func() {
			Expect(tracker.StartThread(ctx, msg("root-1", "alice", "hi"), msg("bot-1", "bot", "hello"))).To(Succeed())
			Expect(tracker.StartThread(ctx, msg("root-2", "bob", "yo"), msg("bot-2", "bot", "hey"))).To(Succeed())

			summaries, err := tracker.Threads(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(summaries).To(HaveLen(2))
		})

		It("fetches one thread by root id", func() {
			Expect(tracker.StartThread(ctx, msg("root-1", "alice", "hi"), msg("bot-1", "bot", "hello"))).To(Succeed())

			thread, err := tracker.Thread(ctx, "root-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(thread.RootID).To(Equal("root-1"))

			_, err = tracker.Thread(ctx, "missing")
			Expect(errors.Is(err, store.ErrNotFound)).To(BeTrue())
		})
	})
})
