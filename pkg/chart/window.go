// Package chart builds the candidate pool for a run from a shallow daily
// top-N chart by walking a multi-day window backwards.
package chart

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/elonfeng/filmradar/pkg/source"
)

// ErrSourceUnavailable means the primary chart produced nothing usable; the
// run cannot continue.
var ErrSourceUnavailable = errors.New("primary chart source unavailable")

// Options controls one window walk.
type Options struct {
	Date     time.Time
	Days     int
	PageSize int
	Cap      int
}

// Candidate is the best representative of one chart item across the window.
type Candidate struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	OpenDate string `json:"open_date"`
	Rank     int    `json:"rank"`
	Audience int64  `json:"audience"`
}

// DayCount records what one day of the window contributed.
type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
	Error string `json:"error,omitempty"`
}

// Result is the outcome of a window walk.
type Result struct {
	Candidates []Candidate
	DayCounts  []DayCount
	Unique     int
	Selected   int
}

// Collector walks the chart window.
type Collector struct {
	src    source.ChartSource
	rec    source.Recorder
	logger zerolog.Logger
}

// NewCollector creates a new Collector. rec may be nil.
func NewCollector(src source.ChartSource, rec source.Recorder, logger zerolog.Logger) *Collector {
	if rec == nil {
		rec = source.NopRecorder{}
	}
	return &Collector{src: src, rec: rec, logger: logger}
}

// Collect fetches Days daily charts ending at Date, newest first, stopping as
// soon as Cap unique items are known. A failed first day or an empty window
// returns ErrSourceUnavailable; failures on later days count as empty days.
func (c *Collector) Collect(ctx context.Context, opts Options) (*Result, error) {
	days := opts.Days
	if days <= 0 {
		days = 1
	}
	limit := opts.Cap
	if limit <= 0 {
		limit = 30
	}

	index := make(map[string]int)
	var merged []Candidate
	res := &Result{}

	for i := 0; i < days; i++ {
		if len(merged) >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		day := opts.Date.AddDate(0, 0, -i)
		dayKey := day.Format("2006-01-02")
		entries, err := c.src.FetchDailyTop(ctx, day, opts.PageSize)
		c.record(ctx, dayKey, opts.PageSize, entries, err)
		if err != nil {
			if i == 0 {
				return nil, fmt.Errorf("%w: fetch %s: %v", ErrSourceUnavailable, dayKey, err)
			}
			c.logger.Warn().Err(err).Str("source", string(c.src.Name())).Str("day", dayKey).Msg("chart day failed, treating as empty")
			res.DayCounts = append(res.DayCounts, DayCount{Date: dayKey, Error: err.Error()})
			continue
		}

		res.DayCounts = append(res.DayCounts, DayCount{Date: dayKey, Count: len(entries)})
		for _, e := range entries {
			key := strings.TrimSpace(e.Code)
			if key == "" {
				key = "name:" + strings.TrimSpace(e.Name)
			}
			if idx, ok := index[key]; ok {
				merged[idx] = fold(merged[idx], e)
				continue
			}
			index[key] = len(merged)
			merged = append(merged, Candidate{
				Code:     e.Code,
				Name:     e.Name,
				OpenDate: e.OpenDate,
				Rank:     e.Rank,
				Audience: e.AudienceAcc,
			})
		}
	}

	res.Unique = len(merged)
	if len(merged) == 0 {
		return nil, fmt.Errorf("%w: no candidates in %d-day window ending %s",
			ErrSourceUnavailable, days, opts.Date.Format("2006-01-02"))
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Rank != merged[j].Rank {
			return merged[i].Rank < merged[j].Rank
		}
		return merged[i].Audience > merged[j].Audience
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	res.Candidates = merged
	res.Selected = len(merged)
	return res, nil
}

// fold merges a later observation into the incumbent: best rank, largest
// audience, and name/open date only where the incumbent has none.
func fold(cur Candidate, e source.ChartEntry) Candidate {
	if e.Rank > 0 && (cur.Rank <= 0 || e.Rank < cur.Rank) {
		cur.Rank = e.Rank
	}
	if e.AudienceAcc > cur.Audience {
		cur.Audience = e.AudienceAcc
	}
	if cur.Name == "" {
		cur.Name = e.Name
	}
	if cur.OpenDate == "" {
		cur.OpenDate = e.OpenDate
	}
	return cur
}

func (c *Collector) record(ctx context.Context, day string, size int, entries []source.ChartEntry, err error) {
	req := map[string]any{"date": day, "size": size}
	var resp any = entries
	if err != nil {
		resp = map[string]any{"error": err.Error()}
	}
	c.rec.Record(ctx, c.src.Name(), "daily_top", req, resp)
}
