package trend

import (
	"sort"

	"github.com/elonfeng/filmradar/internal/store"
)

// RankFallback orders seeds by the primary-rank transform alone, with no
// z-scoring and no external signal. It is used when no seed reached a topic.
func RankFallback(seeds []store.Seed, algoVersion string) []store.FallbackScore {
	ordered := make([]store.Seed, len(seeds))
	copy(ordered, seeds)
	sort.SliceStable(ordered, func(i, j int) bool {
		return store.RankOrder(ordered[i].Rank) < store.RankOrder(ordered[j].Rank)
	})

	out := make([]store.FallbackScore, 0, len(ordered))
	for i, s := range ordered {
		value := PrimaryValue(s.Rank)
		out = append(out, store.FallbackScore{
			SeedID:      s.ID,
			AlgoVersion: algoVersion,
			Rank:        i + 1,
			Score:       value,
			Breakdown: store.Payload{
				"algo_version": algoVersion,
				"fallback":     true,
				"keyword":      s.Keyword,
				"primary": store.Payload{
					"rank":     s.Rank,
					"audience": s.Audience,
					"value":    value,
				},
			},
		})
	}
	return out
}
