// Package signal gathers the secondary trend signals (web mentions, search
// interest, video totals) for the best-ranked seeds of a run.
package signal

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/filmradar/internal/store"
	"github.com/elonfeng/filmradar/pkg/source"
)

// DefaultCategories are the mention categories queried per keyword.
var DefaultCategories = []string{"blog", "cafearticle", "news"}

// Config controls collection.
type Config struct {
	TopK          int
	Workers       int
	Categories    []string
	InterestBatch int
	InterestDays  int
	VideoSuffix   string
}

// Values are the secondary signals of one seed. Seeds outside the top-K, and
// any call that failed, keep zero values.
type Values struct {
	Mentions      map[string]int64 `json:"mentions,omitempty"`
	MentionsTotal int64            `json:"mentions_total"`
	Interest      float64          `json:"interest"`
	VideoTotal    int64            `json:"video_total"`
	VideoItems    int              `json:"video_items"`
}

// Any reports whether any secondary signal is nonzero.
func (v Values) Any() bool {
	return v.MentionsTotal > 0 || v.Interest > 0 || v.VideoTotal > 0 || v.VideoItems > 0
}

// Stats counts degraded calls per family.
type Stats struct {
	Selected        int `json:"selected"`
	MentionFailures int `json:"mention_failures"`
	InterestFailed  int `json:"interest_batches_failed"`
	VideoFailures   int `json:"video_failures"`
}

// Result maps seed IDs to their collected values.
type Result struct {
	BySeed map[int64]Values
	Stats  Stats
}

// Collector fans out to the three signal services. Any of them may be nil,
// which zero-fills that family.
type Collector struct {
	mentions source.MentionCounter
	interest source.InterestService
	video    source.VideoSearcher
	rec      source.Recorder
	cfg      Config
	logger   zerolog.Logger
}

// NewCollector creates a new Collector.
func NewCollector(mentions source.MentionCounter, interest source.InterestService, video source.VideoSearcher, rec source.Recorder, cfg Config, logger zerolog.Logger) *Collector {
	if cfg.TopK <= 0 {
		cfg.TopK = 20
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = DefaultCategories
	}
	if cfg.InterestBatch <= 0 || cfg.InterestBatch > source.MaxKeywordGroups {
		cfg.InterestBatch = source.MaxKeywordGroups
	}
	if cfg.InterestDays <= 0 {
		cfg.InterestDays = 7
	}
	if cfg.VideoSuffix == "" {
		cfg.VideoSuffix = "trailer"
	}
	if rec == nil {
		rec = source.NopRecorder{}
	}
	return &Collector{
		mentions: usable(mentions),
		interest: usable(interest),
		video:    usable(video),
		rec:      rec,
		cfg:      cfg,
		logger:   logger,
	}
}

type availability interface {
	Available() bool
}

// usable returns nil for services that report missing credentials.
func usable[T any](svc T) T {
	var zero T
	if a, ok := any(svc).(availability); ok && !a.Available() {
		return zero
	}
	return svc
}

// Collect gathers signals for the TopK seeds by primary rank. It never fails;
// every failure is logged and zero-filled.
func (c *Collector) Collect(ctx context.Context, date time.Time, seeds []store.Seed) Result {
	selected := TopK(seeds, c.cfg.TopK)
	res := Result{BySeed: make(map[int64]Values, len(seeds))}
	for _, s := range seeds {
		res.BySeed[s.ID] = Values{}
	}
	res.Stats.Selected = len(selected)
	if len(selected) == 0 {
		return res
	}

	keywords := make([]string, len(selected))
	for i, s := range selected {
		keywords[i] = s.Keyword
	}
	vals := make([]Values, len(selected))

	var mu sync.Mutex
	fail := func(counter *int, n int) {
		mu.Lock()
		*counter += n
		mu.Unlock()
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		c.collectMentions(ctx, keywords, vals, func(n int) { fail(&res.Stats.MentionFailures, n) })
	}()
	go func() {
		defer wg.Done()
		c.collectInterest(ctx, date, keywords, vals, func(n int) { fail(&res.Stats.InterestFailed, n) })
	}()
	go func() {
		defer wg.Done()
		c.collectVideo(ctx, keywords, vals, func(n int) { fail(&res.Stats.VideoFailures, n) })
	}()
	wg.Wait()

	for i, s := range selected {
		res.BySeed[s.ID] = vals[i]
	}
	return res
}

// TopK returns up to k seeds ordered by primary rank; unranked seeds sort last
// and ties keep input order.
func TopK(seeds []store.Seed, k int) []store.Seed {
	sorted := make([]store.Seed, len(seeds))
	copy(sorted, seeds)
	sort.SliceStable(sorted, func(i, j int) bool {
		return store.RankOrder(sorted[i].Rank) < store.RankOrder(sorted[j].Rank)
	})
	if len(sorted) > k {
		sorted = sorted[:k]
	}
	return sorted
}

func (c *Collector) collectMentions(ctx context.Context, keywords []string, vals []Values, failed func(int)) {
	if c.mentions == nil {
		c.logger.Info().Msg("mention counter not configured, zero-filling")
		return
	}

	g := new(errgroup.Group)
	g.SetLimit(c.cfg.Workers)
	for i, kw := range keywords {
		i, kw := i, kw
		g.Go(func() error {
			counts := make([]int64, len(c.cfg.Categories))
			errs := make([]error, len(c.cfg.Categories))
			var wg sync.WaitGroup
			for j, cat := range c.cfg.Categories {
				j, cat := j, cat
				wg.Add(1)
				go func() {
					defer wg.Done()
					counts[j], errs[j] = c.mentions.CountMentions(ctx, cat, kw)
				}()
			}
			wg.Wait()

			perCat := make(map[string]int64, len(counts))
			var total int64
			snapshot := make(map[string]any, len(counts))
			for j, cat := range c.cfg.Categories {
				if errs[j] != nil {
					failed(1)
					c.logger.Warn().Err(errs[j]).Str("source", "mentions").Str("category", cat).Str("keyword", kw).Msg("mention count failed, using zero")
					snapshot[cat] = map[string]any{"error": errs[j].Error()}
					perCat[cat] = 0
					continue
				}
				n := max(0, counts[j])
				perCat[cat] = n
				total += n
				snapshot[cat] = n
			}
			vals[i].Mentions = perCat
			vals[i].MentionsTotal = total
			c.rec.Record(ctx, source.SourceMentions, "count_mentions",
				map[string]any{"keyword": kw, "categories": c.cfg.Categories}, snapshot)
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Collector) collectInterest(ctx context.Context, date time.Time, keywords []string, vals []Values, failed func(int)) {
	if c.interest == nil {
		c.logger.Info().Msg("interest service not configured, zero-filling")
		return
	}

	end := date
	start := date.AddDate(0, 0, -(c.cfg.InterestDays - 1))

	g := new(errgroup.Group)
	g.SetLimit(c.cfg.Workers)
	for lo := 0; lo < len(keywords); lo += c.cfg.InterestBatch {
		lo := lo
		hi := min(lo+c.cfg.InterestBatch, len(keywords))
		g.Go(func() error {
			batch := keywords[lo:hi]
			req := map[string]any{
				"start":    start.Format("2006-01-02"),
				"end":      end.Format("2006-01-02"),
				"keywords": batch,
			}
			ratios, err := c.interest.InterestRatio(ctx, start, end, batch)
			if err != nil {
				failed(1)
				c.logger.Warn().Err(err).Str("source", string(source.SourceDataLab)).Strs("batch", batch).Msg("interest batch failed, zero-filling")
				c.rec.Record(ctx, source.SourceDataLab, "interest_ratio", req, map[string]any{"error": err.Error()})
				return nil
			}
			c.rec.Record(ctx, source.SourceDataLab, "interest_ratio", req, ratios)
			for i := lo; i < hi; i++ {
				vals[i].Interest = max(0, lookupRatio(ratios, keywords[i]))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// lookupRatio finds keyword in ratios, tolerating services that echo group
// names with different spacing or case.
func lookupRatio(ratios map[string]float64, keyword string) float64 {
	if v, ok := ratios[keyword]; ok {
		return v
	}
	for k, v := range ratios {
		if strings.EqualFold(strings.TrimSpace(k), strings.TrimSpace(keyword)) {
			return v
		}
	}
	return 0
}

func (c *Collector) collectVideo(ctx context.Context, keywords []string, vals []Values, failed func(int)) {
	if c.video == nil {
		c.logger.Info().Msg("video search not configured, zero-filling")
		return
	}

	g := new(errgroup.Group)
	g.SetLimit(c.cfg.Workers)
	for i, kw := range keywords {
		i, kw := i, kw
		g.Go(func() error {
			query := strings.TrimSpace(kw + " " + c.cfg.VideoSuffix)
			res, err := c.video.SearchVideos(ctx, query)
			if err != nil {
				failed(1)
				c.logger.Warn().Err(err).Str("source", string(source.SourceYouTube)).Str("keyword", kw).Msg("video search failed, using zero")
				c.rec.Record(ctx, source.SourceYouTube, "search_videos", map[string]any{"q": query}, map[string]any{"error": err.Error()})
				return nil
			}
			c.rec.Record(ctx, source.SourceYouTube, "search_videos", map[string]any{"q": query}, res)
			vals[i].VideoTotal = max(0, res.TotalResults)
			vals[i].VideoItems = len(res.Items)
			return nil
		})
	}
	_ = g.Wait()
}
