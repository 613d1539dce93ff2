package source

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// NaverSearch counts documents per content category (blog, cafearticle, news)
// using the Naver open search API.
type NaverSearch struct {
	api          *apiClient
	clientID     string
	clientSecret string
	baseURL      string
}

// NewNaverSearch creates a new mention counter.
func NewNaverSearch(clientID, clientSecret string, opts ClientOptions) *NaverSearch {
	base := opts.BaseURL
	if base == "" {
		base = "https://openapi.naver.com/v1/search"
	}
	return &NaverSearch{
		api:          newAPIClient(SourceNaver, opts),
		clientID:     clientID,
		clientSecret: clientSecret,
		baseURL:      strings.TrimRight(base, "/"),
	}
}

// Available reports whether credentials are configured.
func (n *NaverSearch) Available() bool {
	return n.clientID != "" && n.clientSecret != ""
}

func (n *NaverSearch) CountMentions(ctx context.Context, category, query string) (int64, error) {
	if !n.Available() {
		return 0, fmt.Errorf("naver: client id/secret required (set NAVER_CLIENT_ID, NAVER_CLIENT_SECRET)")
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("display", "1")

	reqURL := fmt.Sprintf("%s/%s.json?%s", n.baseURL, url.PathEscape(category), params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, fmt.Errorf("create naver request: %w", err)
	}
	setNaverHeaders(req, n.clientID, n.clientSecret)

	var result struct {
		Total int64 `json:"total"`
	}
	if err := n.api.doJSON(ctx, req, &result); err != nil {
		return 0, err
	}
	return result.Total, nil
}

// DataLab reads relative search interest from the Naver DataLab search trend API.
// It shares credentials with NaverSearch.
type DataLab struct {
	api          *apiClient
	clientID     string
	clientSecret string
	endpoint     string
}

// NewDataLab creates a new interest ratio client.
func NewDataLab(clientID, clientSecret string, opts ClientOptions) *DataLab {
	endpoint := opts.BaseURL
	if endpoint == "" {
		endpoint = "https://openapi.naver.com/v1/datalab/search"
	}
	return &DataLab{
		api:          newAPIClient(SourceDataLab, opts),
		clientID:     clientID,
		clientSecret: clientSecret,
		endpoint:     endpoint,
	}
}

// Available reports whether credentials are configured.
func (d *DataLab) Available() bool {
	return d.clientID != "" && d.clientSecret != ""
}

// MaxKeywordGroups is the DataLab per-request limit.
const MaxKeywordGroups = 5

func (d *DataLab) InterestRatio(ctx context.Context, start, end time.Time, keywords []string) (map[string]float64, error) {
	if !d.Available() {
		return nil, fmt.Errorf("datalab: client id/secret required (set NAVER_CLIENT_ID, NAVER_CLIENT_SECRET)")
	}
	if len(keywords) > MaxKeywordGroups {
		return nil, fmt.Errorf("datalab: at most %d keywords per request, got %d", MaxKeywordGroups, len(keywords))
	}

	groups := make([]dataLabGroup, 0, len(keywords))
	for _, kw := range keywords {
		groups = append(groups, dataLabGroup{GroupName: kw, Keywords: []string{kw}})
	}
	payload := dataLabRequest{
		StartDate:     start.Format("2006-01-02"),
		EndDate:       end.Format("2006-01-02"),
		TimeUnit:      "date",
		KeywordGroups: groups,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal datalab payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create datalab request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	setNaverHeaders(req, d.clientID, d.clientSecret)

	var result dataLabResponse
	if err := d.api.doJSON(ctx, req, &result); err != nil {
		return nil, err
	}

	ratios := make(map[string]float64, len(keywords))
	for _, r := range result.Results {
		if len(r.Data) == 0 {
			ratios[r.Title] = 0
			continue
		}
		ratios[r.Title] = r.Data[len(r.Data)-1].Ratio
	}
	return ratios, nil
}

func setNaverHeaders(req *http.Request, id, secret string) {
	req.Header.Set("X-Naver-Client-Id", id)
	req.Header.Set("X-Naver-Client-Secret", secret)
}

type dataLabRequest struct {
	StartDate     string         `json:"startDate"`
	EndDate       string         `json:"endDate"`
	TimeUnit      string         `json:"timeUnit"`
	KeywordGroups []dataLabGroup `json:"keywordGroups"`
}

type dataLabGroup struct {
	GroupName string   `json:"groupName"`
	Keywords  []string `json:"keywords"`
}

type dataLabResponse struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	Results   []struct {
		Title string `json:"title"`
		Data  []struct {
			Period string  `json:"period"`
			Ratio  float64 `json:"ratio"`
		} `json:"data"`
	} `json:"results"`
}
