// Package discovery finds candidate posts worth engaging with and ranks
// them deterministically.
package discovery

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/ilikepancakes-ink/twittwebot/core/config"
	"github.com/ilikepancakes-ink/twittwebot/internal/gate"
	"github.com/ilikepancakes-ink/twittwebot/internal/model"
	"github.com/ilikepancakes-ink/twittwebot/internal/platform"
)

// fetchLimit is the raw page size requested from the platform; the filter
// pipeline and candidate cap narrow it down afterwards.
const fetchLimit = 100

// Finder queries the platform in account or keyword mode, applies the
// filter pipeline, and returns a ranked, capped candidate list.
type Finder struct {
	client platform.Client
	gate   *gate.Gate
	cfg    config.BotConfig
}

func NewFinder(client platform.Client, g *gate.Gate, cfg config.BotConfig) *Finder {
	return &Finder{
		client: client,
		gate:   g,
		cfg:    cfg,
	}
}

// Discover runs one scan. An empty candidate list is a normal outcome.
func (f *Finder) Discover(ctx context.Context) ([]model.Post, error) {
	var (
		posts []model.Post
		err   error
	)
	switch f.cfg.SearchMode {
	case config.SearchModeKeyword:
		posts, err = gate.Do(ctx, f.gate, "search posts", func(ctx context.Context) ([]model.Post, error) {
			return f.client.SearchPosts(ctx, f.cfg.Keywords, f.cfg.SearchLanguage, fetchLimit)
		})
	default:
		posts, err = gate.Do(ctx, f.gate, "recent posts", func(ctx context.Context) ([]model.Post, error) {
			return f.client.RecentPosts(ctx, f.cfg.TargetAccount, fetchLimit)
		})
	}
	if err != nil {
		return nil, err
	}

	candidates := f.filter(posts)
	rank(candidates)
	if f.cfg.MaxCandidates > 0 && len(candidates) > f.cfg.MaxCandidates {
		candidates = candidates[:f.cfg.MaxCandidates]
	}

	slog.DebugContext(ctx, "scan complete",
		"mode", f.cfg.SearchMode,
		"fetched", len(posts),
		"candidates", len(candidates))
	return candidates, nil
}

// filter applies the pipeline in order: originality, age, popularity, and
// (keyword mode) language.
func (f *Finder) filter(posts []model.Post) []model.Post {
	cutoff := time.Now().Add(-f.cfg.MaxAge)
	languageBound := f.cfg.SearchMode == config.SearchModeKeyword && f.cfg.SearchLanguage != ""

	var out []model.Post
	for _, post := range posts {
		if !post.IsOriginal {
			continue
		}
		if f.cfg.MaxAge > 0 && post.CreatedAt.Before(cutoff) {
			continue
		}
		if post.LikeCount < f.cfg.MinLikes {
			continue
		}
		if languageBound && post.Language != f.cfg.SearchLanguage {
			continue
		}
		out = append(out, post)
	}
	return out
}

// rank orders candidates by likes descending, newest first on ties. The
// sort is stable so equal posts keep their fetch order.
func rank(posts []model.Post) {
	sort.SliceStable(posts, func(i, j int) bool {
		if posts[i].LikeCount != posts[j].LikeCount {
			return posts[i].LikeCount > posts[j].LikeCount
		}
		return posts[i].CreatedAt.After(posts[j].CreatedAt)
	})
}
