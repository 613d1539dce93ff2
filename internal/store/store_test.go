package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "filmradar.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

func TestUpsertSeedsPreservesLinks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	seeds, err := s.UpsertSeeds(ctx, []SeedInput{
		{Keyword: "기생충", Source: "kobis", MediaType: "movie", Year: intPtr(2019), Rank: 3, Audience: 100, Raw: Payload{"code": "A"}},
		{Keyword: "Other", Source: "kobis", MediaType: "movie", Rank: 5},
	})
	if err != nil {
		t.Fatalf("UpsertSeeds: %v", err)
	}
	if len(seeds) != 2 || seeds[0].ID == 0 || seeds[0].Raw.String("code") != "A" {
		t.Fatalf("unexpected seeds: %+v", seeds)
	}
	if seeds[1].Year != nil {
		t.Fatalf("expected nil year, got %v", *seeds[1].Year)
	}

	if err := s.SetSeedExternalIDs(ctx, []SeedMatch{{SeedID: seeds[0].ID, ExternalID: 496243}}); err != nil {
		t.Fatalf("SetSeedExternalIDs: %v", err)
	}
	err = s.WithTopicBatch(ctx, func(b *TopicBatch) error {
		topic, err := b.UpsertTopic(ctx, TopicInput{MediaType: "movie", CanonicalTitle: "기생충", NormalizedTitle: "기생충"})
		if err != nil {
			return err
		}
		return b.LinkSeed(ctx, seeds[0].ID, topic.ID)
	})
	if err != nil {
		t.Fatalf("WithTopicBatch: %v", err)
	}

	again, err := s.UpsertSeeds(ctx, []SeedInput{
		{Keyword: "기생충", Source: "kobis", MediaType: "movie", Year: intPtr(2019), Rank: 1, Audience: 200},
	})
	if err != nil {
		t.Fatalf("UpsertSeeds again: %v", err)
	}
	got := again[0]
	if got.ID != seeds[0].ID {
		t.Fatalf("expected same seed id %d, got %d", seeds[0].ID, got.ID)
	}
	if got.Rank != 1 || got.Audience != 200 {
		t.Fatalf("expected mutable fields refreshed, got rank=%d audience=%d", got.Rank, got.Audience)
	}
	if got.ExternalID == nil || *got.ExternalID != 496243 {
		t.Fatalf("expected external id preserved, got %v", got.ExternalID)
	}
	if got.TopicID == nil {
		t.Fatalf("expected topic id preserved")
	}
}

func TestUpsertTopicMergesOnNormalizedTitle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var first, second *Topic
	err := s.WithTopicBatch(ctx, func(b *TopicBatch) error {
		var err error
		first, err = b.UpsertTopic(ctx, TopicInput{MediaType: "movie", CanonicalTitle: "parasite", NormalizedTitle: "parasite"})
		return err
	})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	err = s.WithTopicBatch(ctx, func(b *TopicBatch) error {
		var err error
		second, err = b.UpsertTopic(ctx, TopicInput{
			MediaType:       "movie",
			ExternalID:      int64Ptr(496243),
			Year:            intPtr(2019),
			CanonicalTitle:  "Parasite",
			NormalizedTitle: "parasite",
		})
		return err
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected one topic, got ids %d and %d", first.ID, second.ID)
	}
	if second.CanonicalTitle != "Parasite" || second.ExternalID == nil || *second.ExternalID != 496243 {
		t.Fatalf("expected opportunistic update, got %+v", second)
	}

	// A later seed without an external id must not clear it.
	err = s.WithTopicBatch(ctx, func(b *TopicBatch) error {
		_, err := b.UpsertTopic(ctx, TopicInput{MediaType: "movie", CanonicalTitle: "Parasite", NormalizedTitle: "parasite"})
		return err
	})
	if err != nil {
		t.Fatalf("third upsert: %v", err)
	}
	topic, err := s.GetTopic(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetTopic: %v", err)
	}
	if topic.ExternalID == nil || *topic.ExternalID != 496243 || topic.Year == nil || *topic.Year != 2019 {
		t.Fatalf("expected external id and year kept, got %+v", topic)
	}

	err = s.WithTopicBatch(ctx, func(b *TopicBatch) error {
		found, err := b.TopicByExternalID(ctx, "movie", 496243)
		if err != nil {
			return err
		}
		if found == nil || found.ID != first.ID {
			t.Errorf("TopicByExternalID = %+v, want id %d", found, first.ID)
		}
		missing, err := b.TopicByExternalID(ctx, "movie", 1)
		if err != nil {
			return err
		}
		if missing != nil {
			t.Errorf("expected nil for unknown external id, got %+v", missing)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
}

func TestUpsertAliasIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var topicID int64
	err := s.WithTopicBatch(ctx, func(b *TopicBatch) error {
		topic, err := b.UpsertTopic(ctx, TopicInput{MediaType: "movie", CanonicalTitle: "기생충", NormalizedTitle: "기생충"})
		if err != nil {
			return err
		}
		topicID = topic.ID
		for _, conf := range []float64{0.5, 1, 0.2} {
			if err := b.UpsertAlias(ctx, AliasInput{TopicID: topic.ID, Alias: "기생충", NormalizedAlias: "기생충", Source: "kobis", Confidence: conf}); err != nil {
				return err
			}
		}
		return b.UpsertAlias(ctx, AliasInput{TopicID: topic.ID, Alias: "Parasite", NormalizedAlias: "parasite", Source: "kobis", Confidence: 1})
	})
	if err != nil {
		t.Fatalf("WithTopicBatch: %v", err)
	}

	aliases, err := s.ListAliases(ctx, topicID)
	if err != nil {
		t.Fatalf("ListAliases: %v", err)
	}
	if len(aliases) != 2 {
		t.Fatalf("expected 2 aliases, got %d", len(aliases))
	}
	if aliases[0].Confidence != 1 {
		t.Fatalf("expected max confidence kept, got %v", aliases[0].Confidence)
	}
}

func TestTopicBatchRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	boom := errors.New("boom")
	err := s.WithTopicBatch(ctx, func(b *TopicBatch) error {
		if _, err := b.UpsertTopic(ctx, TopicInput{MediaType: "movie", CanonicalTitle: "x", NormalizedTitle: "x"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	topics, err := s.ListTopics(ctx, "movie")
	if err != nil {
		t.Fatalf("ListTopics: %v", err)
	}
	if len(topics) != 0 {
		t.Fatalf("expected rollback, found %d topics", len(topics))
	}
}

func seedTopics(t *testing.T, s *SQLiteStore, titles ...string) []int64 {
	t.Helper()
	ctx := context.Background()
	var ids []int64
	err := s.WithTopicBatch(ctx, func(b *TopicBatch) error {
		for _, title := range titles {
			topic, err := b.UpsertTopic(ctx, TopicInput{MediaType: "movie", CanonicalTitle: title, NormalizedTitle: strings.ToLower(title)})
			if err != nil {
				return err
			}
			ids = append(ids, topic.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed topics: %v", err)
	}
	return ids
}

func TestSaveScoresReplacesStaleRows(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ids := seedTopics(t, s, "A", "B", "C")
	const date = "2026-10-17"

	z := 0.5
	first := []Score{
		{TopicID: ids[0], Rank: 1, Score: 1.5, Breakdown: Payload{"coverage": 0.5}},
		{TopicID: ids[1], Rank: 2, Score: 0.5},
		{TopicID: ids[2], Rank: 3, Score: -1},
	}
	metrics := []Metric{
		{TopicID: ids[0], Source: "kobis", Name: "rank", Value: 1, ZScore: &z},
		{TopicID: ids[2], Source: "kobis", Name: "rank", Value: 5},
	}
	if err := s.SaveScores(ctx, date, "v1", metrics, first); err != nil {
		t.Fatalf("SaveScores: %v", err)
	}

	second := []Score{
		{TopicID: ids[1], Rank: 1, Score: 2},
		{TopicID: ids[0], Rank: 2, Score: 1},
	}
	if err := s.SaveScores(ctx, date, "v1", metrics[:1], second); err != nil {
		t.Fatalf("SaveScores again: %v", err)
	}

	ranked, err := s.ListScores(ctx, date, "v1", 10)
	if err != nil {
		t.Fatalf("ListScores: %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("expected stale topic removed, got %d rows", len(ranked))
	}
	if ranked[0].TopicID != ids[1] || ranked[0].CanonicalTitle != "B" {
		t.Fatalf("unexpected first row: %+v", ranked[0])
	}

	got, err := s.ListMetrics(ctx, ids[2], date)
	if err != nil {
		t.Fatalf("ListMetrics: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected stale metrics removed, got %d", len(got))
	}
	got, err = s.ListMetrics(ctx, ids[0], date)
	if err != nil {
		t.Fatalf("ListMetrics: %v", err)
	}
	if len(got) != 1 || got[0].ZScore == nil || *got[0].ZScore != 0.5 {
		t.Fatalf("unexpected metrics: %+v", got)
	}

	latest, err := s.LatestScoreDate(ctx, "v1")
	if err != nil {
		t.Fatalf("LatestScoreDate: %v", err)
	}
	if latest != date {
		t.Fatalf("expected latest %s, got %q", date, latest)
	}
}

func TestFallbackScoresReplaceRanking(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ids := seedTopics(t, s, "A")
	const date = "2026-10-17"

	if err := s.SaveScores(ctx, date, "v1", nil, []Score{{TopicID: ids[0], Rank: 1, Score: 1}}); err != nil {
		t.Fatalf("SaveScores: %v", err)
	}
	seeds, err := s.UpsertSeeds(ctx, []SeedInput{{Keyword: "Lonely", Source: "kobis", MediaType: "movie", Rank: 2}})
	if err != nil {
		t.Fatalf("UpsertSeeds: %v", err)
	}
	err = s.SaveFallbackScores(ctx, date, "v1", []FallbackScore{
		{SeedID: seeds[0].ID, Rank: 1, Score: 0.7, Breakdown: Payload{"fallback": true}},
	})
	if err != nil {
		t.Fatalf("SaveFallbackScores: %v", err)
	}

	ranked, err := s.ListScores(ctx, date, "v1", 10)
	if err != nil {
		t.Fatalf("ListScores: %v", err)
	}
	if len(ranked) != 0 {
		t.Fatalf("expected topic scores cleared, got %d", len(ranked))
	}
	fb, err := s.ListFallbackScores(ctx, date, "v1", 10)
	if err != nil {
		t.Fatalf("ListFallbackScores: %v", err)
	}
	if len(fb) != 1 || fb[0].Keyword != "Lonely" || !fb[0].Breakdown.Bool("fallback") {
		t.Fatalf("unexpected fallback rows: %+v", fb)
	}
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	run, err := s.StartRun(ctx, "2026-10-17", "KR")
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if run.Status != RunRunning || run.Attempts != 1 || run.UUID == "" {
		t.Fatalf("unexpected run: %+v", run)
	}

	if err := s.FinishRun(ctx, run.ID, Payload{"topics": 3}); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	got, err := s.GetRun(ctx, "2026-10-17", "KR")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != RunSuccess || got.FinishedAt == nil || got.Meta.Int("topics") != 3 {
		t.Fatalf("unexpected finished run: %+v", got)
	}

	again, err := s.StartRun(ctx, "2026-10-17", "KR")
	if err != nil {
		t.Fatalf("StartRun again: %v", err)
	}
	if again.ID != run.ID || again.UUID != run.UUID || again.Attempts != 2 {
		t.Fatalf("expected transition of the same row, got %+v", again)
	}
	if again.FinishedAt != nil || again.Status != RunRunning {
		t.Fatalf("expected reset to running, got %+v", again)
	}

	long := strings.Repeat("x", 5000)
	if err := s.FailRun(ctx, run.ID, long, nil); err != nil {
		t.Fatalf("FailRun: %v", err)
	}
	got, err = s.GetRun(ctx, "2026-10-17", "KR")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != RunFailed || got.Error == nil || len(*got.Error) != maxRunErrorLength {
		t.Fatalf("expected truncated failure, got status=%s err=%v", got.Status, got.Error)
	}

	if _, err := s.GetRun(ctx, "2026-10-18", "KR"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	runs, err := s.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
}

func TestTruncateErrorKeepsValidUTF8(t *testing.T) {
	t.Parallel()

	msg := strings.Repeat("가", 2000) // 3 bytes each
	got := truncateError(msg)
	if len(got) > maxRunErrorLength {
		t.Fatalf("expected at most %d bytes, got %d", maxRunErrorLength, len(got))
	}
	if !strings.HasSuffix(got, "가") {
		t.Fatalf("expected cut on a rune boundary")
	}
}

func TestSnapshots(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	run, err := s.StartRun(ctx, "2026-10-17", "KR")
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	req := map[string]any{"date": "20261017"}
	resp := []map[string]any{{"rank": 1}}
	if err := s.AddSnapshot(ctx, run.ID, "kobis", "daily_box_office", req, resp); err != nil {
		t.Fatalf("AddSnapshot: %v", err)
	}
	snaps, err := s.ListSnapshots(ctx, run.ID)
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(snaps) != 1 || snaps[0].Request != `{"date":"20261017"}` || snaps[0].Response != `[{"rank":1}]` {
		t.Fatalf("unexpected snapshots: %+v", snaps)
	}
}

func TestPayloadAccessors(t *testing.T) {
	t.Parallel()

	var p Payload
	if err := p.Scan(`{"n":3,"f":1.5,"s":"x","b":true,"m":{"k":2}}`); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if p.Int("n") != 3 || p.Float("f") != 1.5 || p.String("s") != "x" || !p.Bool("b") || p.Map("m").Int("k") != 2 {
		t.Fatalf("unexpected accessors on %+v", p)
	}
	if p.Float("missing") != 0 || p.Map("missing") != nil {
		t.Fatalf("expected zero values for missing keys")
	}

	var empty Payload
	v, err := empty.Value()
	if err != nil || v != "{}" {
		t.Fatalf("expected {} for nil payload, got %v err=%v", v, err)
	}
}
