package topic

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/elonfeng/filmradar/internal/store"
)

func newStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "topic.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func register(t *testing.T, s *store.SQLiteStore, keywords ...string) []store.Seed {
	t.Helper()
	var inputs []store.SeedInput
	for i, k := range keywords {
		inputs = append(inputs, store.SeedInput{Keyword: k, Source: "kobis", MediaType: "movie", Rank: i + 1})
	}
	seeds, err := s.UpsertSeeds(context.Background(), inputs)
	if err != nil {
		t.Fatalf("UpsertSeeds: %v", err)
	}
	return seeds
}

func ext(v int64) *int64 { return &v }

func TestResolveMergesByExternalID(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seeds := register(t, s, "기생충", "Parasite")
	seeds[0].ExternalID = ext(496243)
	seeds[1].ExternalID = ext(496243)

	out, stats, err := NewResolver(s, 2, zerolog.Nop()).Resolve(ctx, seeds)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if *out[0].TopicID != *out[1].TopicID {
		t.Fatalf("expected one topic, got %d and %d", *out[0].TopicID, *out[1].TopicID)
	}
	if stats.Topics != 1 || stats.ByID != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	aliases, err := s.ListAliases(ctx, *out[0].TopicID)
	if err != nil {
		t.Fatalf("ListAliases: %v", err)
	}
	if len(aliases) != 2 {
		t.Fatalf("expected 2 aliases, got %d", len(aliases))
	}
	topic, err := s.GetTopic(ctx, *out[0].TopicID)
	if err != nil {
		t.Fatalf("GetTopic: %v", err)
	}
	if topic.CanonicalTitle != "기생충" || topic.ExternalID == nil || *topic.ExternalID != 496243 {
		t.Fatalf("unexpected topic: %+v", topic)
	}

	stored, err := s.GetSeed(ctx, seeds[1].ID)
	if err != nil {
		t.Fatalf("GetSeed: %v", err)
	}
	if stored.TopicID == nil || *stored.TopicID != topic.ID {
		t.Fatalf("expected seed link persisted, got %v", stored.TopicID)
	}
}

func TestResolveMergesByNormalizedTitle(t *testing.T) {
	ctx := context.Background()
	for _, order := range [][]string{
		{"Spider-Man: No Way Home", "spider man  no way home"},
		{"spider man  no way home", "Spider-Man: No Way Home"},
	} {
		s := newStore(t)
		seeds := register(t, s, order...)
		out, stats, err := NewResolver(s, 4, zerolog.Nop()).Resolve(ctx, seeds)
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if *out[0].TopicID != *out[1].TopicID || stats.Topics != 1 {
			t.Fatalf("order %v: expected one topic, got %+v", order, stats)
		}
		topics, err := s.ListTopics(ctx, "movie")
		if err != nil {
			t.Fatalf("ListTopics: %v", err)
		}
		if len(topics) != 1 {
			t.Fatalf("order %v: expected 1 topic row, got %d", order, len(topics))
		}
	}
}

func TestResolveExternalIDWinsOverTitle(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	r := NewResolver(s, 2, zerolog.Nop())

	first := register(t, s, "기생충")
	first[0].ExternalID = ext(496243)
	if _, _, err := r.Resolve(ctx, first); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	// A later run sees a differently spelled seed that matched the same ID.
	later := register(t, s, "PARASITE (2019)")
	later[0].ExternalID = ext(496243)
	out, _, err := r.Resolve(ctx, later)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	topics, err := s.ListTopics(ctx, "movie")
	if err != nil {
		t.Fatalf("ListTopics: %v", err)
	}
	if len(topics) != 1 || *out[0].TopicID != topics[0].ID {
		t.Fatalf("expected link to the existing topic, got %d topics", len(topics))
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	r := NewResolver(s, 3, zerolog.Nop())
	seeds := register(t, s, "A", "B", "C")

	first, _, err := r.Resolve(ctx, seeds)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	second, _, err := r.Resolve(ctx, seeds)
	if err != nil {
		t.Fatalf("Resolve again: %v", err)
	}
	for i := range first {
		if *first[i].TopicID != *second[i].TopicID {
			t.Fatalf("seed %d moved from topic %d to %d", i, *first[i].TopicID, *second[i].TopicID)
		}
	}
}

type flakyStore struct {
	*store.SQLiteStore
	calls  int
	failAt map[int]bool
}

func (f *flakyStore) WithTopicBatch(ctx context.Context, fn func(*store.TopicBatch) error) error {
	f.calls++
	if f.failAt[f.calls] {
		return errors.New("disk I/O error")
	}
	return f.SQLiteStore.WithTopicBatch(ctx, fn)
}

func TestResolveLeavesFailedSeedUnresolved(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seeds := register(t, s, "A", "B")

	flaky := &flakyStore{SQLiteStore: s, failAt: map[int]bool{1: true}}
	out, stats, err := NewResolver(flaky, 1, zerolog.Nop()).Resolve(ctx, seeds)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if stats.Failed != 1 || stats.Topics != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if out[0].TopicID != nil || out[1].TopicID == nil {
		t.Fatalf("expected first seed unresolved and second linked")
	}
}
