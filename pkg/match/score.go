package match

import (
	"math"
	"strings"

	"github.com/elonfeng/filmradar/pkg/source"
)

// Score rates how well a search result matches a keyword and optional year
// (0 for none). Scores of DefaultThreshold or more are accepted.
func Score(keyword string, year int, c source.SearchResult) float64 {
	k := Normalize(keyword)
	var score float64

	switch titleMatch(Normalize(c.Title), k) {
	case exact:
		score += 120
	case partial:
		score += 70
	}
	if titleMatch(Normalize(c.AltTitle), k) != none {
		score += 40
	}

	if cy := c.Year(); year > 0 && cy > 0 {
		diff := cy - year
		if diff < 0 {
			diff = -diff
		}
		switch {
		case diff == 0:
			score += 35
		case diff == 1:
			score += 15
		case diff >= 3:
			score -= 15
		}
	}

	score += c.Popularity * 0.05
	score += math.Log10(float64(max(0, c.VoteCount))+1) * 3
	return score
}

type similarity int

const (
	none similarity = iota
	partial
	exact
)

func titleMatch(a, b string) similarity {
	if a == "" || b == "" {
		return none
	}
	if a == b {
		return exact
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return partial
	}
	return none
}
