package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// TMDB searches The Movie Database for canonical movie identities.
type TMDB struct {
	api      *apiClient
	apiKey   string
	baseURL  string
	language string
}

// NewTMDB creates a new metadata search client.
func NewTMDB(apiKey, language string, opts ClientOptions) *TMDB {
	base := opts.BaseURL
	if base == "" {
		base = "https://api.themoviedb.org/3"
	}
	if language == "" {
		language = "ko-KR"
	}
	return &TMDB{
		api:      newAPIClient(SourceTMDB, opts),
		apiKey:   apiKey,
		baseURL:  strings.TrimRight(base, "/"),
		language: language,
	}
}

// Available reports whether credentials are configured.
func (t *TMDB) Available() bool { return t.apiKey != "" }

func (t *TMDB) SearchByTitle(ctx context.Context, title string, year int) ([]SearchResult, error) {
	if t.apiKey == "" {
		return nil, fmt.Errorf("tmdb: API key required (set TMDB_API_KEY)")
	}

	params := url.Values{}
	params.Set("query", title)
	params.Set("language", t.language)
	params.Set("include_adult", "false")
	if year > 0 {
		params.Set("year", strconv.Itoa(year))
	}

	reqURL := t.baseURL + "/search/movie?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create tmdb request: %w", err)
	}
	// v4 read tokens are sent as bearer, v3 keys as a query param.
	if strings.HasPrefix(t.apiKey, "eyJ") {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	} else {
		q := req.URL.Query()
		q.Set("api_key", t.apiKey)
		req.URL.RawQuery = q.Encode()
	}
	req.Header.Set("Accept", "application/json")

	var result tmdbSearchResult
	if err := t.api.doJSON(ctx, req, &result); err != nil {
		return nil, err
	}

	out := make([]SearchResult, 0, len(result.Results))
	for _, m := range result.Results {
		alt := m.OriginalTitle
		if alt == m.Title {
			alt = ""
		}
		out = append(out, SearchResult{
			ID:          m.ID,
			Title:       m.Title,
			AltTitle:    alt,
			Popularity:  m.Popularity,
			VoteCount:   m.VoteCount,
			ReleaseDate: m.ReleaseDate,
		})
	}
	return out, nil
}

type tmdbSearchResult struct {
	Page         int         `json:"page"`
	TotalResults int         `json:"total_results"`
	Results      []tmdbMovie `json:"results"`
}

type tmdbMovie struct {
	ID            int64   `json:"id"`
	Title         string  `json:"title"`
	OriginalTitle string  `json:"original_title"`
	Popularity    float64 `json:"popularity"`
	VoteCount     int     `json:"vote_count"`
	ReleaseDate   string  `json:"release_date"`
}
