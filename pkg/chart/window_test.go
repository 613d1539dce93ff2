package chart

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/elonfeng/filmradar/pkg/source"
)

type fakeChart struct {
	days  map[string][]source.ChartEntry
	fail  map[string]error
	calls []string
}

func (f *fakeChart) Name() source.SourceType { return source.SourceKOBIS }

func (f *fakeChart) FetchDailyTop(_ context.Context, date time.Time, _ int) ([]source.ChartEntry, error) {
	key := date.Format("2006-01-02")
	f.calls = append(f.calls, key)
	if err := f.fail[key]; err != nil {
		return nil, err
	}
	return f.days[key], nil
}

type countingRecorder struct{ n int }

func (r *countingRecorder) Record(context.Context, source.SourceType, string, any, any) { r.n++ }

var day0 = time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)

func TestCollectMergesBestRepresentative(t *testing.T) {
	src := &fakeChart{days: map[string][]source.ChartEntry{
		"2026-10-17": {{Rank: 1, Name: "Movie A", Code: "A", AudienceAcc: 1000}},
		"2026-10-16": {
			{Rank: 2, Name: "Movie A", Code: "A", OpenDate: "2026-10-01", AudienceAcc: 800},
			{Rank: 1, Name: "Movie B", Code: "B", AudienceAcc: 50},
		},
	}}
	rec := &countingRecorder{}
	c := NewCollector(src, rec, zerolog.Nop())

	res, err := c.Collect(context.Background(), Options{Date: day0, Days: 2, PageSize: 10, Cap: 10})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if res.Unique != 2 || res.Selected != 2 {
		t.Fatalf("unexpected counts unique=%d selected=%d", res.Unique, res.Selected)
	}
	a := res.Candidates[0]
	if a.Code != "A" || a.Rank != 1 || a.Audience != 1000 {
		t.Fatalf("expected merged A rank=1 audience=1000, got %+v", a)
	}
	if a.OpenDate != "2026-10-01" {
		t.Fatalf("expected empty open date filled, got %q", a.OpenDate)
	}
	if rec.n != 2 {
		t.Fatalf("expected one snapshot per day, got %d", rec.n)
	}
}

func TestCollectSortsByRankThenAudience(t *testing.T) {
	src := &fakeChart{days: map[string][]source.ChartEntry{
		"2026-10-17": {{Rank: 2, Code: "X", Name: "X", AudienceAcc: 10}},
		"2026-10-16": {
			{Rank: 2, Code: "Y", Name: "Y", AudienceAcc: 99},
			{Rank: 1, Code: "Z", Name: "Z", AudienceAcc: 1},
		},
	}}
	res, err := NewCollector(src, nil, zerolog.Nop()).Collect(context.Background(), Options{Date: day0, Days: 2, Cap: 10})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var got []string
	for _, c := range res.Candidates {
		got = append(got, c.Code)
	}
	want := []string{"Z", "Y", "X"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestCollectStopsAtCap(t *testing.T) {
	src := &fakeChart{days: map[string][]source.ChartEntry{
		"2026-10-17": {
			{Rank: 1, Code: "A", Name: "A"},
			{Rank: 2, Code: "B", Name: "B"},
			{Rank: 3, Code: "C", Name: "C"},
		},
		"2026-10-16": {{Rank: 1, Code: "D", Name: "D"}},
	}}
	res, err := NewCollector(src, nil, zerolog.Nop()).Collect(context.Background(), Options{Date: day0, Days: 7, Cap: 2})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(src.calls) != 1 {
		t.Fatalf("expected a single day fetch once the cap was reached, got %v", src.calls)
	}
	if len(res.Candidates) != 2 || res.Unique != 3 || res.Selected != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestCollectFirstDayFailureIsFatal(t *testing.T) {
	src := &fakeChart{fail: map[string]error{"2026-10-17": errors.New("timeout")}}
	_, err := NewCollector(src, nil, zerolog.Nop()).Collect(context.Background(), Options{Date: day0, Days: 3, Cap: 10})
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
	if len(src.calls) != 1 {
		t.Fatalf("expected to stop after first day, got %v", src.calls)
	}
}

func TestCollectLaterDayFailureIsTolerated(t *testing.T) {
	src := &fakeChart{
		days: map[string][]source.ChartEntry{
			"2026-10-17": {{Rank: 1, Code: "A", Name: "A"}},
			"2026-10-15": {{Rank: 1, Code: "B", Name: "B"}},
		},
		fail: map[string]error{"2026-10-16": errors.New("502")},
	}
	res, err := NewCollector(src, nil, zerolog.Nop()).Collect(context.Background(), Options{Date: day0, Days: 3, Cap: 10})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(res.Candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(res.Candidates))
	}
	if len(res.DayCounts) != 3 || res.DayCounts[1].Error == "" || res.DayCounts[1].Count != 0 {
		t.Fatalf("expected failed day recorded as empty, got %+v", res.DayCounts)
	}
}

func TestCollectEmptyWindowIsFatal(t *testing.T) {
	src := &fakeChart{}
	_, err := NewCollector(src, nil, zerolog.Nop()).Collect(context.Background(), Options{Date: day0, Days: 7, Cap: 10})
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
	if len(src.calls) != 7 {
		t.Fatalf("expected whole window scanned, got %d calls", len(src.calls))
	}
}
