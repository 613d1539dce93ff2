// Package trend folds seed signals up to topics and ranks them with a
// coverage-adaptive weighted z-score composite.
package trend

import (
	"sort"

	"github.com/elonfeng/filmradar/internal/store"
	"github.com/elonfeng/filmradar/pkg/signal"
)

// TopicSignals are the folded signals of one topic: each value is the best
// observed across the topic's seeds.
type TopicSignals struct {
	TopicID    int64
	Title      string
	Rank       int
	Audience   int64
	Mentions   int64
	Categories map[string]int64
	Interest   float64
	VideoTotal int64
	VideoItems int
	SeedIDs    []int64
}

// HasExternal reports whether any secondary signal is nonzero.
func (t TopicSignals) HasExternal() bool {
	return t.Mentions > 0 || t.Interest > 0 || t.VideoTotal > 0 || t.VideoItems > 0
}

// Aggregate groups seeds by topic. Seeds without a topic are skipped. Topics
// are returned in order of their best-ranked seed; the title is that seed's
// keyword.
func Aggregate(seeds []store.Seed, signals map[int64]signal.Values) []TopicSignals {
	ordered := make([]store.Seed, len(seeds))
	copy(ordered, seeds)
	sort.SliceStable(ordered, func(i, j int) bool {
		return store.RankOrder(ordered[i].Rank) < store.RankOrder(ordered[j].Rank)
	})

	index := make(map[int64]int)
	var out []TopicSignals
	for _, s := range ordered {
		if s.TopicID == nil {
			continue
		}
		v := signals[s.ID]

		idx, ok := index[*s.TopicID]
		if !ok {
			index[*s.TopicID] = len(out)
			out = append(out, TopicSignals{
				TopicID:    *s.TopicID,
				Title:      s.Keyword,
				Rank:       s.Rank,
				Audience:   s.Audience,
				Mentions:   v.MentionsTotal,
				Categories: copyCounts(v.Mentions),
				Interest:   v.Interest,
				VideoTotal: v.VideoTotal,
				VideoItems: v.VideoItems,
				SeedIDs:    []int64{s.ID},
			})
			continue
		}

		t := &out[idx]
		if store.RankOrder(s.Rank) < store.RankOrder(t.Rank) {
			t.Rank = s.Rank
		}
		t.Audience = max(t.Audience, s.Audience)
		if v.MentionsTotal > t.Mentions {
			t.Mentions = v.MentionsTotal
			t.Categories = copyCounts(v.Mentions)
		}
		t.Interest = max(t.Interest, v.Interest)
		t.VideoTotal = max(t.VideoTotal, v.VideoTotal)
		t.VideoItems = max(t.VideoItems, v.VideoItems)
		t.SeedIDs = append(t.SeedIDs, s.ID)
	}
	return out
}

func copyCounts(m map[string]int64) map[string]int64 {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
