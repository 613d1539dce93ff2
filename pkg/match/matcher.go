package match

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/filmradar/internal/metrics"
	"github.com/elonfeng/filmradar/internal/store"
	"github.com/elonfeng/filmradar/pkg/source"
)

// DefaultThreshold is the minimum score for a match to be accepted.
const DefaultThreshold = 60.0

// Writer persists accepted matches.
type Writer interface {
	SetSeedExternalIDs(ctx context.Context, matches []store.SeedMatch) error
}

// Config controls the matcher.
type Config struct {
	Workers   int
	Threshold float64
}

// Stats summarizes one Match call.
type Stats struct {
	Attempted int `json:"attempted"`
	Accepted  int `json:"accepted"`
	Rejected  int `json:"rejected"`
	Empty     int `json:"empty"`
}

// Matcher resolves unmatched seeds to external IDs.
type Matcher struct {
	search    source.MetadataSearcher
	store     Writer
	cache     *Cache[[]source.SearchResult]
	rec       source.Recorder
	workers   int
	threshold float64
	logger    zerolog.Logger
}

// NewMatcher creates a new Matcher. cache and rec may be nil.
func NewMatcher(search source.MetadataSearcher, w Writer, cache *Cache[[]source.SearchResult], rec source.Recorder, cfg Config, logger zerolog.Logger) *Matcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if rec == nil {
		rec = source.NopRecorder{}
	}
	return &Matcher{
		search:    search,
		store:     w,
		cache:     cache,
		rec:       rec,
		workers:   cfg.Workers,
		threshold: cfg.Threshold,
		logger:    logger,
	}
}

type outcome struct {
	externalID int64
	score      float64
	accepted   bool
	empty      bool
}

// Match searches for every seed without an external ID and persists accepted
// matches in one batch. The returned slice is a copy of seeds with accepted
// external IDs filled in. Search failures and low scores leave a seed
// unresolved; only the persistence step can fail.
func (m *Matcher) Match(ctx context.Context, seeds []store.Seed) ([]store.Seed, Stats, error) {
	out := make([]store.Seed, len(seeds))
	copy(out, seeds)

	var pending []int
	for i, s := range out {
		if s.ExternalID == nil {
			pending = append(pending, i)
		}
	}

	var stats Stats
	if len(pending) == 0 {
		return out, stats, nil
	}

	results := make([]outcome, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)
	for slot, idx := range pending {
		slot, idx := slot, idx
		g.Go(func() error {
			results[slot] = m.matchOne(gctx, out[idx])
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, stats, err
	}

	var matches []store.SeedMatch
	for slot, idx := range pending {
		r := results[slot]
		stats.Attempted++
		switch {
		case r.accepted:
			stats.Accepted++
			id := r.externalID
			out[idx].ExternalID = &id
			matches = append(matches, store.SeedMatch{SeedID: out[idx].ID, ExternalID: id})
		case r.empty:
			stats.Empty++
		default:
			stats.Rejected++
		}
	}

	if err := m.store.SetSeedExternalIDs(ctx, matches); err != nil {
		return nil, stats, fmt.Errorf("persist matches: %w", err)
	}
	return out, stats, nil
}

func (m *Matcher) matchOne(ctx context.Context, seed store.Seed) outcome {
	year := 0
	if seed.Year != nil {
		year = *seed.Year
	}

	candidates := m.lookup(ctx, seed.Keyword, year)
	if len(candidates) == 0 && year > 0 {
		candidates = m.lookup(ctx, seed.Keyword, 0)
	}
	if len(candidates) == 0 {
		metrics.MatchOutcomes.WithLabelValues("empty").Inc()
		return outcome{empty: true}
	}

	best := outcome{score: -1 << 31}
	for _, c := range candidates {
		if s := Score(seed.Keyword, year, c); s > best.score {
			best = outcome{externalID: c.ID, score: s}
		}
	}
	if best.score < m.threshold {
		metrics.MatchOutcomes.WithLabelValues("rejected").Inc()
		m.logger.Debug().Str("keyword", seed.Keyword).Float64("score", best.score).Msg("match rejected")
		return outcome{score: best.score}
	}

	metrics.MatchOutcomes.WithLabelValues("accepted").Inc()
	best.accepted = true
	return best
}

// lookup runs one search, consulting the cache first. Failures yield nil and
// are not cached.
func (m *Matcher) lookup(ctx context.Context, title string, year int) []source.SearchResult {
	key := Normalize(title) + "|" + strconv.Itoa(year)
	if m.cache != nil {
		if hit, ok := m.cache.Get(key); ok {
			return hit
		}
	}

	results, err := m.search.SearchByTitle(ctx, title, year)
	req := map[string]any{"title": title, "year": year}
	if err != nil {
		m.rec.Record(ctx, source.SourceTMDB, "search_by_title", req, map[string]any{"error": err.Error()})
		m.logger.Warn().Err(err).Str("source", string(source.SourceTMDB)).Str("keyword", title).Msg("metadata search failed")
		return nil
	}
	m.rec.Record(ctx, source.SourceTMDB, "search_by_title", req, results)

	if m.cache != nil {
		m.cache.Add(key, results)
	}
	return results
}
