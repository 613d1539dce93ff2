package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// KOBIS fetches the Korean Film Council daily box office.
type KOBIS struct {
	api     *apiClient
	apiKey  string
	baseURL string
}

// NewKOBIS creates a new daily box office client.
func NewKOBIS(apiKey string, opts ClientOptions) *KOBIS {
	base := opts.BaseURL
	if base == "" {
		base = "https://www.kobis.or.kr/kobisopenapi/webservice/rest/boxoffice"
	}
	return &KOBIS{
		api:     newAPIClient(SourceKOBIS, opts),
		apiKey:  apiKey,
		baseURL: strings.TrimRight(base, "/"),
	}
}

func (k *KOBIS) Name() SourceType { return SourceKOBIS }

func (k *KOBIS) FetchDailyTop(ctx context.Context, date time.Time, size int) ([]ChartEntry, error) {
	if k.apiKey == "" {
		return nil, fmt.Errorf("kobis: API key required (set KOBIS_API_KEY)")
	}
	if size <= 0 {
		size = 10
	}

	params := url.Values{}
	params.Set("key", k.apiKey)
	params.Set("targetDt", date.Format("20060102"))
	params.Set("itemPerPage", strconv.Itoa(size))

	reqURL := k.baseURL + "/searchDailyBoxOfficeList.json?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create kobis request: %w", err)
	}

	var result kobisResponse
	if err := k.api.doJSON(ctx, req, &result); err != nil {
		return nil, err
	}
	if result.FaultInfo != nil {
		return nil, fmt.Errorf("kobis fault %s: %s", result.FaultInfo.ErrorCode, result.FaultInfo.Message)
	}

	entries := make([]ChartEntry, 0, len(result.BoxOfficeResult.DailyBoxOfficeList))
	for _, row := range result.BoxOfficeResult.DailyBoxOfficeList {
		rank, err := strconv.Atoi(strings.TrimSpace(row.Rank))
		if err != nil {
			continue
		}
		audience, _ := strconv.ParseInt(strings.TrimSpace(row.AudiAcc), 10, 64)
		entries = append(entries, ChartEntry{
			Rank:        rank,
			Name:        strings.TrimSpace(row.MovieNm),
			Code:        strings.TrimSpace(row.MovieCd),
			OpenDate:    strings.TrimSpace(row.OpenDt),
			AudienceAcc: audience,
		})
	}
	return entries, nil
}

type kobisResponse struct {
	BoxOfficeResult struct {
		BoxofficeType      string     `json:"boxofficeType"`
		ShowRange          string     `json:"showRange"`
		DailyBoxOfficeList []kobisRow `json:"dailyBoxOfficeList"`
	} `json:"boxOfficeResult"`
	FaultInfo *struct {
		Message   string `json:"message"`
		ErrorCode string `json:"errorCode"`
	} `json:"faultInfo"`
}

type kobisRow struct {
	Rank    string `json:"rank"`
	MovieCd string `json:"movieCd"`
	MovieNm string `json:"movieNm"`
	OpenDt  string `json:"openDt"`
	AudiAcc string `json:"audiAcc"`
}
