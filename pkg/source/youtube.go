package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// YouTube searches YouTube and reports how many videos match a query.
type YouTube struct {
	api     *apiClient
	apiKey  string
	baseURL string
}

// NewYouTube creates a new video search client.
func NewYouTube(apiKey string, opts ClientOptions) *YouTube {
	base := opts.BaseURL
	if base == "" {
		base = "https://www.googleapis.com/youtube/v3"
	}
	return &YouTube{
		api:     newAPIClient(SourceYouTube, opts),
		apiKey:  apiKey,
		baseURL: base,
	}
}

// Available reports whether credentials are configured.
func (y *YouTube) Available() bool { return y.apiKey != "" }

func (y *YouTube) SearchVideos(ctx context.Context, query string) (VideoResult, error) {
	if y.apiKey == "" {
		return VideoResult{}, fmt.Errorf("youtube: API key required (set YOUTUBE_API_KEY)")
	}

	params := url.Values{}
	params.Set("part", "snippet")
	params.Set("q", query)
	params.Set("type", "video")
	params.Set("maxResults", "25")
	params.Set("key", y.apiKey)

	reqURL := y.baseURL + "/search?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return VideoResult{}, fmt.Errorf("create youtube search request: %w", err)
	}

	var result ytSearchResult
	if err := y.api.doJSON(ctx, req, &result); err != nil {
		return VideoResult{}, err
	}

	out := VideoResult{TotalResults: result.PageInfo.TotalResults}
	for _, item := range result.Items {
		if item.ID.VideoID == "" {
			continue
		}
		out.Items = append(out.Items, item.ID.VideoID)
	}
	return out, nil
}

type ytSearchResult struct {
	PageInfo struct {
		TotalResults   int64 `json:"totalResults"`
		ResultsPerPage int   `json:"resultsPerPage"`
	} `json:"pageInfo"`
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title        string `json:"title"`
			ChannelTitle string `json:"channelTitle"`
		} `json:"snippet"`
	} `json:"items"`
}
