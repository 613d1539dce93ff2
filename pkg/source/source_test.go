package source

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestParseYear(t *testing.T) {
	t.Parallel()

	cases := map[string]int{
		"2019-05-30":   2019,
		" 2024-01-02 ": 2024,
		"2019":         0,
		"20190530":     0,
		"":             0,
		"2019-13-01":   0,
	}
	for in, want := range cases {
		if got := ParseYear(in); got != want {
			t.Errorf("ParseYear(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestKOBIS_FetchDailyTop(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("targetDt"); got != "20261017" {
			t.Errorf("unexpected targetDt %q", got)
		}
		if got := r.URL.Query().Get("itemPerPage"); got != "10" {
			t.Errorf("unexpected itemPerPage %q", got)
		}
		io.WriteString(w, `{"boxOfficeResult":{"boxofficeType":"daily","dailyBoxOfficeList":[
			{"rank":"1","movieCd":"20190001","movieNm":"기생충","openDt":"2019-05-30","audiAcc":"10000"},
			{"rank":"x","movieCd":"bad","movieNm":"broken","openDt":"","audiAcc":"0"},
			{"rank":"2","movieCd":"20190002","movieNm":" Other ","openDt":"","audiAcc":"12"}]}}`)
	}))
	defer srv.Close()

	k := NewKOBIS("key", ClientOptions{BaseURL: srv.URL})
	entries, err := k.FetchDailyTop(context.Background(), time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC), 10)
	if err != nil {
		t.Fatalf("FetchDailyTop: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries (bad rank skipped), got %d", len(entries))
	}
	if entries[0].Code != "20190001" || entries[0].AudienceAcc != 10000 || entries[0].OpenDate != "2019-05-30" {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].Name != "Other" {
		t.Fatalf("expected trimmed name, got %q", entries[1].Name)
	}
}

func TestKOBIS_Fault(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"faultInfo":{"message":"invalid key","errorCode":"320010"}}`)
	}))
	defer srv.Close()

	k := NewKOBIS("key", ClientOptions{BaseURL: srv.URL})
	if _, err := k.FetchDailyTop(context.Background(), time.Now(), 10); err == nil {
		t.Fatalf("expected fault to surface as error")
	}
}

func TestKOBIS_MissingKey(t *testing.T) {
	t.Parallel()

	k := NewKOBIS("", ClientOptions{})
	if _, err := k.FetchDailyTop(context.Background(), time.Now(), 10); err == nil {
		t.Fatalf("expected error without API key")
	}
}

func TestTMDB_SearchByTitle(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("query") != "기생충" || q.Get("year") != "2019" || q.Get("api_key") != "k3" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		io.WriteString(w, `{"page":1,"total_results":1,"results":[
			{"id":496243,"title":"기생충","original_title":"Parasite","popularity":40.5,"vote_count":17000,"release_date":"2019-05-30"},
			{"id":7,"title":"Same","original_title":"Same","popularity":1,"vote_count":0,"release_date":""}]}`)
	}))
	defer srv.Close()

	c := NewTMDB("k3", "ko-KR", ClientOptions{BaseURL: srv.URL})
	results, err := c.SearchByTitle(context.Background(), "기생충", 2019)
	if err != nil {
		t.Fatalf("SearchByTitle: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != 496243 || results[0].AltTitle != "Parasite" || results[0].Year() != 2019 {
		t.Fatalf("unexpected result: %+v", results[0])
	}
	if results[1].AltTitle != "" {
		t.Fatalf("alt title equal to title should be dropped, got %q", results[1].AltTitle)
	}
}

func TestNaverSearch_CountMentions(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Naver-Client-Id") != "id" || r.Header.Get("X-Naver-Client-Secret") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if !strings.HasSuffix(r.URL.Path, "/blog.json") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		io.WriteString(w, `{"total":1234,"items":[]}`)
	}))
	defer srv.Close()

	n := NewNaverSearch("id", "secret", ClientOptions{BaseURL: srv.URL})
	total, err := n.CountMentions(context.Background(), "blog", "기생충")
	if err != nil {
		t.Fatalf("CountMentions: %v", err)
	}
	if total != 1234 {
		t.Fatalf("expected 1234, got %d", total)
	}
}

func TestNaverSearch_StatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	n := NewNaverSearch("id", "secret", ClientOptions{BaseURL: srv.URL})
	if _, err := n.CountMentions(context.Background(), "news", "x"); err == nil {
		t.Fatalf("expected error on non-200 status")
	}
}

func TestDataLab_InterestRatio(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"timeUnit":"date"`) {
			t.Errorf("unexpected body %s", body)
		}
		io.WriteString(w, `{"results":[
			{"title":"a","data":[{"period":"2026-10-16","ratio":10},{"period":"2026-10-17","ratio":42.5}]},
			{"title":"b","data":[]}]}`)
	}))
	defer srv.Close()

	d := NewDataLab("id", "secret", ClientOptions{BaseURL: srv.URL})
	end := time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)
	ratios, err := d.InterestRatio(context.Background(), end.AddDate(0, 0, -6), end, []string{"a", "b"})
	if err != nil {
		t.Fatalf("InterestRatio: %v", err)
	}
	if ratios["a"] != 42.5 {
		t.Fatalf("expected last period ratio 42.5, got %v", ratios["a"])
	}
	if v, ok := ratios["b"]; !ok || v != 0 {
		t.Fatalf("expected zero for empty series, got %v (present=%v)", v, ok)
	}
}

func TestDataLab_TooManyKeywords(t *testing.T) {
	t.Parallel()

	d := NewDataLab("id", "secret", ClientOptions{BaseURL: "http://127.0.0.1:1"})
	_, err := d.InterestRatio(context.Background(), time.Now(), time.Now(), []string{"1", "2", "3", "4", "5", "6"})
	if err == nil {
		t.Fatalf("expected batch size error")
	}
}

func TestYouTube_SearchVideos(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "기생충 trailer" {
			t.Errorf("unexpected q %q", r.URL.Query().Get("q"))
		}
		io.WriteString(w, `{"pageInfo":{"totalResults":1000000,"resultsPerPage":25},"items":[
			{"id":{"videoId":"abc"}},{"id":{"channelId":"chan"}},{"id":{"videoId":"def"}}]}`)
	}))
	defer srv.Close()

	y := NewYouTube("key", ClientOptions{BaseURL: srv.URL})
	res, err := y.SearchVideos(context.Background(), "기생충 trailer")
	if err != nil {
		t.Fatalf("SearchVideos: %v", err)
	}
	if res.TotalResults != 1000000 || len(res.Items) != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

const testFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Film News</title>
<item><title>Parasite wins again</title><description>Bong's parasite</description><guid>1</guid></item>
<item><title>Unrelated</title><description>nothing here</description><guid>2</guid></item>
<item><title>PARASITE box office</title><description></description><guid>3</guid></item>
</channel></rss>`

func TestFeeds_CountMentions(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/rss+xml")
		io.WriteString(w, testFeed)
	}))
	defer srv.Close()

	f := NewFeeds([]RSSFeed{{Name: "test", URL: srv.URL}}, time.Second)
	n, err := f.CountMentions(context.Background(), CategoryFeeds, "Parasite")
	if err != nil {
		t.Fatalf("CountMentions: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 matching entries, got %d", n)
	}

	if _, err := f.CountMentions(context.Background(), CategoryFeeds, "other"); err != nil {
		t.Fatalf("CountMentions: %v", err)
	}
	if n := hits.Load(); n != 1 {
		t.Fatalf("expected feeds to be fetched once, got %d fetches", n)
	}

	if _, err := f.CountMentions(context.Background(), "blog", "x"); err == nil {
		t.Fatalf("expected error for unsupported category")
	}
}

type fixedCounter int64

func (c fixedCounter) CountMentions(context.Context, string, string) (int64, error) {
	return int64(c), nil
}

func TestCategoryRouter(t *testing.T) {
	t.Parallel()

	r := CategoryRouter{"blog": fixedCounter(3), "news": fixedCounter(5)}
	if n, err := r.CountMentions(context.Background(), "news", "x"); err != nil || n != 5 {
		t.Fatalf("unexpected news count %d err=%v", n, err)
	}
	if _, err := r.CountMentions(context.Background(), "cafearticle", "x"); err == nil {
		t.Fatalf("expected error for unrouted category")
	}
}
