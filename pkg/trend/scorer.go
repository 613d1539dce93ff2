package trend

import (
	"math"
	"sort"

	"github.com/elonfeng/filmradar/internal/store"
	"github.com/elonfeng/filmradar/pkg/source"
)

// Weights is the composite weight vector. It always sums to 1.
type Weights struct {
	Primary  float64 `json:"primary"`
	Mentions float64 `json:"mentions"`
	Interest float64 `json:"interest"`
	Video    float64 `json:"video"`
}

// Sum returns the total weight.
func (w Weights) Sum() float64 {
	return w.Primary + w.Mentions + w.Interest + w.Video
}

func (w Weights) payload() store.Payload {
	return store.Payload{
		"primary":  w.Primary,
		"mentions": w.Mentions,
		"interest": w.Interest,
		"video":    w.Video,
	}
}

// WeightPolicy picks the primary weight by external coverage and splits the
// remainder across the external families by their base ratios.
type WeightPolicy struct {
	CoverageThreshold   float64
	HighCoveragePrimary float64
	LowCoveragePrimary  float64
	MentionsRatio       float64
	InterestRatio       float64
	VideoRatio          float64
}

// DefaultPolicy returns the stock weight policy.
func DefaultPolicy() WeightPolicy {
	return WeightPolicy{
		CoverageThreshold:   0.6,
		HighCoveragePrimary: 0.12,
		LowCoveragePrimary:  0.18,
		MentionsRatio:       0.35,
		InterestRatio:       0.40,
		VideoRatio:          0.25,
	}
}

// Resolve returns the weights for a coverage in [0, 1].
func (p WeightPolicy) Resolve(coverage float64) Weights {
	primary := p.LowCoveragePrimary
	if coverage >= p.CoverageThreshold {
		primary = p.HighCoveragePrimary
	}
	primary = math.Min(math.Max(primary, 0), 1)

	ratioSum := p.MentionsRatio + p.InterestRatio + p.VideoRatio
	if ratioSum <= 0 {
		return Weights{Primary: 1}
	}
	rest := 1 - primary
	w := Weights{
		Primary:  primary,
		Mentions: rest * p.MentionsRatio / ratioSum,
		Interest: rest * p.InterestRatio / ratioSum,
	}
	// Video takes the exact remainder so the vector sums to 1.
	w.Video = 1 - w.Primary - w.Mentions - w.Interest
	return w
}

// Entry is one ranked topic.
type Entry struct {
	TopicID   int64
	Title     string
	Rank      int
	Score     float64
	Breakdown store.Payload
	Metrics   []store.Metric
}

// Ranking is the output of one scoring pass.
type Ranking struct {
	Entries  []Entry
	Weights  Weights
	Coverage float64
}

// Scorer ranks topics.
type Scorer struct {
	policy      WeightPolicy
	clamp       float64
	algoVersion string
}

// NewScorer creates a new Scorer. The primary z-score is clamped to
// [-clamp, clamp].
func NewScorer(policy WeightPolicy, clamp float64, algoVersion string) *Scorer {
	if clamp <= 0 {
		clamp = 0.7
	}
	if algoVersion == "" {
		algoVersion = "v1"
	}
	return &Scorer{policy: policy, clamp: clamp, algoVersion: algoVersion}
}

// AlgoVersion returns the version tag written with every score.
func (s *Scorer) AlgoVersion() string { return s.algoVersion }

// PrimaryValue transforms a chart rank so that better ranks give larger values.
// An unranked seed gets 0, below every ranked one.
func PrimaryValue(rank int) float64 {
	if rank <= 0 {
		return 0
	}
	return 1 / math.Sqrt(float64(rank))
}

func logCount(x float64) float64 {
	return math.Log10(math.Max(0, x) + 1)
}

// zScores returns population z-scores with the standard deviation floored at 1.
func zScores(xs []float64) []float64 {
	out := make([]float64, len(xs))
	if len(xs) == 0 {
		return out
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		sq += (x - mean) * (x - mean)
	}
	std := math.Max(math.Sqrt(sq/float64(len(xs))), 1)
	for i, x := range xs {
		out[i] = (x - mean) / std
	}
	return out
}

// Rank scores topics and orders them by composite score, descending. Ties keep
// input order.
func (s *Scorer) Rank(topics []TopicSignals) Ranking {
	n := len(topics)
	if n == 0 {
		return Ranking{Weights: s.policy.Resolve(0)}
	}

	primary := make([]float64, n)
	mentions := make([]float64, n)
	interest := make([]float64, n)
	video := make([]float64, n)
	covered := 0
	for i, t := range topics {
		primary[i] = PrimaryValue(t.Rank)
		mentions[i] = logCount(float64(t.Mentions))
		interest[i] = t.Interest
		video[i] = logCount(float64(t.VideoTotal))
		if t.HasExternal() {
			covered++
		}
	}
	coverage := float64(covered) / float64(n)
	w := s.policy.Resolve(coverage)

	zPrimary := zScores(primary)
	zMentions := zScores(mentions)
	zInterest := zScores(interest)
	zVideo := zScores(video)

	entries := make([]Entry, n)
	for i, t := range topics {
		zp := math.Max(-s.clamp, math.Min(s.clamp, zPrimary[i]))
		score := w.Primary*zp + w.Mentions*zMentions[i] + w.Interest*zInterest[i] + w.Video*zVideo[i]

		entries[i] = Entry{
			TopicID: t.TopicID,
			Title:   t.Title,
			Score:   score,
			Breakdown: store.Payload{
				"algo_version": s.algoVersion,
				"fallback":     false,
				"coverage":     coverage,
				"weights":      w.payload(),
				"seed_ids":     t.SeedIDs,
				"primary": store.Payload{
					"rank":      t.Rank,
					"audience":  t.Audience,
					"value":     primary[i],
					"z":         zPrimary[i],
					"z_clamped": zp,
				},
				"mentions": store.Payload{
					"raw":        t.Mentions,
					"log":        mentions[i],
					"z":          zMentions[i],
					"categories": t.Categories,
				},
				"interest": store.Payload{
					"raw": t.Interest,
					"z":   zInterest[i],
				},
				"video": store.Payload{
					"raw":   t.VideoTotal,
					"items": t.VideoItems,
					"log":   video[i],
					"z":     zVideo[i],
				},
			},
			Metrics: []store.Metric{
				metric(t.TopicID, source.SourceKOBIS, "rank", float64(t.Rank), primary[i], zp, store.Payload{"z_raw": zPrimary[i]}),
				metric(t.TopicID, source.SourceKOBIS, "audience", float64(t.Audience), math.NaN(), math.NaN(), nil),
				metric(t.TopicID, source.SourceMentions, "mentions", float64(t.Mentions), mentions[i], zMentions[i], categoriesPayload(t.Categories)),
				metric(t.TopicID, source.SourceDataLab, "interest", t.Interest, math.NaN(), zInterest[i], nil),
				metric(t.TopicID, source.SourceYouTube, "video_total", float64(t.VideoTotal), video[i], zVideo[i], store.Payload{"items": t.VideoItems}),
			},
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return Ranking{Entries: entries, Weights: w, Coverage: coverage}
}

// metric builds a metric row; NaN log/z values are stored as NULL.
func metric(topicID int64, src source.SourceType, name string, value, logValue, z float64, raw store.Payload) store.Metric {
	m := store.Metric{
		TopicID: topicID,
		Source:  string(src),
		Name:    name,
		Value:   value,
		Raw:     raw,
	}
	if !math.IsNaN(logValue) {
		m.LogValue = &logValue
	}
	if !math.IsNaN(z) {
		m.ZScore = &z
	}
	return m
}

func categoriesPayload(c map[string]int64) store.Payload {
	if len(c) == 0 {
		return nil
	}
	p := make(store.Payload, len(c))
	for k, v := range c {
		p[k] = v
	}
	return p
}
