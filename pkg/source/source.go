package source

import (
	"context"
	"strings"
	"time"
)

// SourceType identifies which external service a signal came from.
// SourceMentions tags values summed over several mention categories, which may
// be served by different services.
type SourceType string

const (
	SourceKOBIS    SourceType = "kobis"
	SourceTMDB     SourceType = "tmdb"
	SourceNaver    SourceType = "naver_search"
	SourceDataLab  SourceType = "naver_datalab"
	SourceYouTube  SourceType = "youtube"
	SourceRSS      SourceType = "rss"
	SourceMentions SourceType = "mentions"
	SourceFallback SourceType = "fallback"
)

// ChartEntry is one row of a daily box office chart.
type ChartEntry struct {
	Rank        int    `json:"rank"`
	Name        string `json:"name"`
	Code        string `json:"code"`
	OpenDate    string `json:"open_date"`
	AudienceAcc int64  `json:"audience_acc"`
}

// ChartSource is the primary signal: a shallow daily top-N chart.
type ChartSource interface {
	Name() SourceType
	FetchDailyTop(ctx context.Context, date time.Time, size int) ([]ChartEntry, error)
}

// SearchResult is one candidate returned by the metadata search service.
type SearchResult struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	AltTitle    string  `json:"alt_title,omitempty"`
	Popularity  float64 `json:"popularity"`
	VoteCount   int     `json:"vote_count"`
	ReleaseDate string  `json:"release_date"`
}

// Year returns the release year, or 0 when the release date is unknown.
func (r SearchResult) Year() int {
	return ParseYear(r.ReleaseDate)
}

// MetadataSearcher resolves a title (optionally with a year; 0 means none)
// to canonical candidates.
type MetadataSearcher interface {
	SearchByTitle(ctx context.Context, title string, year int) ([]SearchResult, error)
}

// MentionCounter returns the number of documents in one content category
// that mention query.
type MentionCounter interface {
	CountMentions(ctx context.Context, category, query string) (int64, error)
}

// InterestService returns the last-period relative interest per keyword over
// the [start, end] window.
type InterestService interface {
	InterestRatio(ctx context.Context, start, end time.Time, keywords []string) (map[string]float64, error)
}

// VideoResult is the outcome of one video search.
type VideoResult struct {
	TotalResults int64    `json:"total_results"`
	Items        []string `json:"items"`
}

// VideoSearcher searches a video platform.
type VideoSearcher interface {
	SearchVideos(ctx context.Context, query string) (VideoResult, error)
}

// Recorder receives an audit copy of every outbound call batch. Implementations
// must not fail the caller.
type Recorder interface {
	Record(ctx context.Context, src SourceType, endpoint string, request, response any)
}

// NopRecorder discards snapshots.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, SourceType, string, any, any) {}

// ParseYear extracts the year from an ISO-formatted date (YYYY-MM-DD).
// Anything else yields 0.
func ParseYear(date string) int {
	date = strings.TrimSpace(date)
	if date == "" {
		return 0
	}
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return 0
	}
	return t.Year()
}
