// Package topic merges seeds into canonical topics and records every spelling
// as an alias.
package topic

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/filmradar/internal/store"
	"github.com/elonfeng/filmradar/pkg/match"
)

// Alias confidence by how the seed reached its topic.
const (
	confidenceExternal = 1.0
	confidenceTitle    = 0.5
)

// Store opens topic write batches.
type Store interface {
	WithTopicBatch(ctx context.Context, fn func(*store.TopicBatch) error) error
}

// Stats summarizes one Resolve call.
type Stats struct {
	Seeds  int `json:"seeds"`
	Topics int `json:"topics"`
	ByID   int `json:"by_external_id"`
	Failed int `json:"failed"`
}

// Resolver links seeds to topics.
type Resolver struct {
	store   Store
	workers int
	logger  zerolog.Logger
}

// NewResolver creates a new Resolver running at most workers batches at once.
func NewResolver(s Store, workers int, logger zerolog.Logger) *Resolver {
	if workers <= 0 {
		workers = 2
	}
	return &Resolver{store: s, workers: workers, logger: logger}
}

// Resolve links every seed to a topic and returns a copy of seeds with TopicID
// set. Seeds sharing an external ID are handled in order by one worker, so the
// first creates the topic and the rest find it by ID. Seeds that collide on
// normalized title converge through the topic upsert.
//
// A seed whose batch fails is rolled back, logged and left without a topic;
// only cancellation aborts the call.
func (r *Resolver) Resolve(ctx context.Context, seeds []store.Seed) ([]store.Seed, Stats, error) {
	out := make([]store.Seed, len(seeds))
	copy(out, seeds)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	byID := make([]bool, len(out))
	for _, group := range groupByExternalID(out) {
		group := group
		g.Go(func() error {
			for _, idx := range group {
				topicID, viaID, err := r.resolveOne(gctx, out[idx])
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					r.logger.Warn().Err(err).Int64("seed_id", out[idx].ID).Str("keyword", out[idx].Keyword).Msg("topic resolution failed, seed left unresolved")
					out[idx].TopicID = nil
					continue
				}
				out[idx].TopicID = &topicID
				byID[idx] = viaID
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, Stats{}, fmt.Errorf("resolve topics: %w", err)
	}

	stats := Stats{Seeds: len(out)}
	topics := make(map[int64]bool)
	for i, s := range out {
		if s.TopicID == nil {
			stats.Failed++
			continue
		}
		topics[*s.TopicID] = true
		if byID[i] {
			stats.ByID++
		}
	}
	stats.Topics = len(topics)
	return out, stats, nil
}

// groupByExternalID returns seed indexes grouped by external ID in first
// appearance order; seeds without one are singleton groups.
func groupByExternalID(seeds []store.Seed) [][]int {
	var groups [][]int
	pos := make(map[int64]int)
	for i, s := range seeds {
		if s.ExternalID == nil {
			groups = append(groups, []int{i})
			continue
		}
		if g, ok := pos[*s.ExternalID]; ok {
			groups[g] = append(groups[g], i)
			continue
		}
		pos[*s.ExternalID] = len(groups)
		groups = append(groups, []int{i})
	}
	return groups
}

func (r *Resolver) resolveOne(ctx context.Context, seed store.Seed) (int64, bool, error) {
	norm := match.Normalize(seed.Keyword)
	if norm == "" {
		norm = strings.ToLower(strings.TrimSpace(seed.Keyword))
	}

	var topicID int64
	var viaID bool
	err := r.store.WithTopicBatch(ctx, func(b *store.TopicBatch) error {
		var topic *store.Topic
		confidence := confidenceTitle
		if seed.ExternalID != nil {
			found, err := b.TopicByExternalID(ctx, seed.MediaType, *seed.ExternalID)
			if err != nil {
				return err
			}
			topic = found
			confidence = confidenceExternal
			viaID = found != nil
		}
		if topic == nil {
			upserted, err := b.UpsertTopic(ctx, store.TopicInput{
				MediaType:       seed.MediaType,
				ExternalID:      seed.ExternalID,
				Year:            seed.Year,
				CanonicalTitle:  strings.TrimSpace(seed.Keyword),
				NormalizedTitle: norm,
			})
			if err != nil {
				return err
			}
			topic = upserted
		}

		if err := b.LinkSeed(ctx, seed.ID, topic.ID); err != nil {
			return err
		}
		if err := b.UpsertAlias(ctx, store.AliasInput{
			TopicID:         topic.ID,
			Alias:           seed.Keyword,
			NormalizedAlias: norm,
			Source:          seed.Source,
			Confidence:      confidence,
		}); err != nil {
			return err
		}
		topicID = topic.ID
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("seed %d (%q): %w", seed.ID, seed.Keyword, err)
	}
	r.logger.Debug().Int64("seed_id", seed.ID).Int64("topic_id", topicID).Bool("by_external_id", viaID).Msg("seed linked")
	return topicID, viaID, nil
}
