package discovery_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ilikepancakes-ink/twittwebot/core/config"
	"github.com/ilikepancakes-ink/twittwebot/internal/discovery"
	"github.com/ilikepancakes-ink/twittwebot/internal/gate"
	"github.com/ilikepancakes-ink/twittwebot/internal/model"
)

func post(id string, likes int, age time.Duration) model.Post {
	return model.Post{
		ID:         id,
		AuthorID:   "author-" + id,
		Text:       "post " + id,
		CreatedAt:  time.Now().Add(-age),
		LikeCount:  likes,
		IsOriginal: true,
		Language:   "en",
	}
}

func ids(posts []model.Post) []string {
	out := make([]string, len(posts))
	for i, p := range posts {
		out[i] = p.ID
	}
	return out
}

var _ = Describe("Finder", func() {
	var (
		ctx      context.Context
		client   *mockPlatform
		g        *gate.Gate
		cfg      config.BotConfig
		fetched  []model.Post
		fetchErr error
	)

	BeforeEach(func() {
		ctx = context.Background()
		fetched = nil
		fetchErr = nil
		client = &mockPlatform{
			recentPostsFn: func(context.Context, string, int) ([]model.Post, error) {
				return fetched, fetchErr
			},
			searchPostsFn: func(context.Context, []string, string, int) ([]model.Post, error) {
				return fetched, fetchErr
			},
		}
		g = gate.New(gate.Config{MaxAttempts: 1, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond})
		cfg = config.BotConfig{
			SearchMode:    config.SearchModeAccount,
			TargetAccount: "nasa",
			MinLikes:      0,
			MaxAge:        24 * time.Hour,
			MaxCandidates: 10,
		}
	})

	It("fetches the configured account in account mode", func() {
		var gotUsername string
		client.recentPostsFn = func(_ context.Context, username string, _ int) ([]model.Post, error) {
			gotUsername = username
			return nil, nil
		}

		_, err := discovery.NewFinder(client, g, cfg).Discover(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(gotUsername).To(Equal("nasa"))
	})

	It("excludes replies and retweets regardless of popularity", func() {
		reply := post("reply", 10000, time.Hour)
		reply.IsOriginal = false
		fetched = []model.Post{reply, post("keeper", 5, time.Hour)}

		candidates, err := discovery.NewFinder(client, g, cfg).Discover(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(ids(candidates)).To(Equal([]string{"keeper"}))
	})

	It("excludes posts older than the age limit", func() {
		fetched = []model.Post{
			post("stale", 500, 25*time.Hour),
			post("fresh", 5, time.Hour),
		}

		candidates, err := discovery.NewFinder(client, g, cfg).Discover(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(ids(candidates)).To(Equal([]string{"fresh"}))
	})

	It("excludes posts below the likes threshold", func() {
		cfg.MinLikes = 1000
		fetched = []model.Post{
			post("almost", 999, time.Hour),
			post("popular", 1000, time.Hour),
		}

		candidates, err := discovery.NewFinder(client, g, cfg).Discover(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(ids(candidates)).To(Equal([]string{"popular"}))
	})

	It("ranks by likes descending with newer posts first on ties", func() {
		fetched = []model.Post{
			post("a", 50, 3*time.Hour),
			post("b", 200, 5*time.Hour),
			post("c", 200, 2*time.Hour),
			post("d", 10, time.Hour),
		}

		candidates, err := discovery.NewFinder(client, g, cfg).Discover(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(ids(candidates)).To(Equal([]string{"c", "b", "a", "d"}))
	})

	It("caps the candidate list", func() {
		cfg.MaxCandidates = 2
		fetched = []model.Post{
			post("a", 300, time.Hour),
			post("b", 200, time.Hour),
			post("c", 100, time.Hour),
		}

		candidates, err := discovery.NewFinder(client, g, cfg).Discover(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(ids(candidates)).To(Equal([]string{"a", "b"}))
	})

	Context("keyword mode", func() {
		BeforeEach(func() {
			cfg.SearchMode = config.SearchModeKeyword
			cfg.Keywords = []string{"golang", "gophers"}
			cfg.SearchLanguage = "en"
		})

		It("searches with the configured keywords and language", func() {
			var gotKeywords []string
			var gotLanguage string
			client.searchPostsFn = func(_ context.Context, keywords []string, language string, _ int) ([]model.Post, error) {
				gotKeywords = keywords
				gotLanguage = language
				return nil, nil
			}

			_, err := discovery.NewFinder(client, g, cfg).Discover(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(gotKeywords).To(Equal([]string{"golang", "gophers"}))
			Expect(gotLanguage).To(Equal("en"))
		})

		It("excludes posts in other languages", func() {
			other := post("dansk", 50, time.Hour)
			other.Language = "da"
			fetched = []model.Post{other, post("english", 5, time.Hour)}

			candidates, err := discovery.NewFinder(client, g, cfg).Discover(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(candidates)).To(Equal([]string{"english"}))
		})
	})

	It("does not filter by language in account mode", func() {
		cfg.SearchLanguage = "en"
		other := post("dansk", 50, time.Hour)
		other.Language = "da"
		fetched = []model.Post{other}

		candidates, err := discovery.NewFinder(client, g, cfg).Discover(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(ids(candidates)).To(Equal([]string{"dansk"}))
	})

	It("treats an empty scan as a normal outcome", func() {
		candidates, err := discovery.NewFinder(client, g, cfg).Discover(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(candidates).To(BeEmpty())
	})

	It("surfaces platform failures", func() {
		fetchErr = gate.Permanent(errors.New("401 unauthorized"))

		_, err := discovery.NewFinder(client, g, cfg).Discover(ctx)
		Expect(err).To(HaveOccurred())
	})
})
