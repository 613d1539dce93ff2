package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Topic is the deduplicated canonical title that scores are keyed by.
type Topic struct {
	ID              int64     `db:"id" json:"id"`
	MediaType       string    `db:"media_type" json:"media_type"`
	ExternalID      *int64    `db:"external_id" json:"external_id,omitempty"`
	Year            *int      `db:"year" json:"year,omitempty"`
	CanonicalTitle  string    `db:"canonical_title" json:"canonical_title"`
	NormalizedTitle string    `db:"normalized_title" json:"normalized_title"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// TopicAlias is one spelling ever linked to a topic.
type TopicAlias struct {
	ID              int64     `db:"id" json:"id"`
	TopicID         int64     `db:"topic_id" json:"topic_id"`
	Alias           string    `db:"alias" json:"alias"`
	NormalizedAlias string    `db:"normalized_alias" json:"normalized_alias"`
	Source          string    `db:"source" json:"source"`
	Confidence      float64   `db:"confidence" json:"confidence"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// TopicInput is the data a seed contributes to its topic.
type TopicInput struct {
	MediaType       string
	ExternalID      *int64
	Year            *int
	CanonicalTitle  string
	NormalizedTitle string
}

// AliasInput records a spelling for a topic.
type AliasInput struct {
	TopicID         int64
	Alias           string
	NormalizedAlias string
	Source          string
	Confidence      float64
}

const (
	topicColumns = `id, media_type, external_id, year, canonical_title, normalized_title, created_at, updated_at`
	aliasColumns = `id, topic_id, alias, normalized_alias, source, confidence, created_at`
)

// TopicBatch groups the topic, alias and seed-link writes of one seed so they
// commit together.
type TopicBatch struct {
	tx  *sqlx.Tx
	now time.Time
}

// WithTopicBatch runs fn in a transaction.
func (s *SQLiteStore) WithTopicBatch(ctx context.Context, fn func(*TopicBatch) error) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		return fn(&TopicBatch{tx: tx, now: now()})
	})
}

// TopicByExternalID returns the oldest topic carrying externalID, or nil.
func (b *TopicBatch) TopicByExternalID(ctx context.Context, mediaType string, externalID int64) (*Topic, error) {
	var t Topic
	err := b.tx.GetContext(ctx, &t,
		"SELECT "+topicColumns+" FROM topics WHERE media_type = ? AND external_id = ? ORDER BY id LIMIT 1",
		mediaType, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("topic by external id %d: %w", externalID, err)
	}
	return &t, nil
}

// UpsertTopic creates the topic for (media_type, normalized_title) or refreshes
// its title, and fills external_id/year when the input carries them.
func (b *TopicBatch) UpsertTopic(ctx context.Context, in TopicInput) (*Topic, error) {
	var t Topic
	err := b.tx.QueryRowxContext(ctx, `
		INSERT INTO topics (media_type, external_id, year, canonical_title, normalized_title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(media_type, normalized_title) DO UPDATE SET
			external_id = COALESCE(excluded.external_id, topics.external_id),
			year = COALESCE(excluded.year, topics.year),
			canonical_title = excluded.canonical_title,
			updated_at = excluded.updated_at
		RETURNING `+topicColumns,
		in.MediaType, in.ExternalID, in.Year, in.CanonicalTitle, in.NormalizedTitle, b.now, b.now,
	).StructScan(&t)
	if err != nil {
		return nil, fmt.Errorf("upsert topic %q: %w", in.NormalizedTitle, err)
	}
	return &t, nil
}

// UpsertAlias records a spelling; repeated spellings keep the highest confidence.
func (b *TopicBatch) UpsertAlias(ctx context.Context, in AliasInput) error {
	_, err := b.tx.ExecContext(ctx, `
		INSERT INTO topic_aliases (topic_id, alias, normalized_alias, source, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(topic_id, normalized_alias) DO UPDATE SET
			confidence = MAX(topic_aliases.confidence, excluded.confidence)
	`, in.TopicID, in.Alias, in.NormalizedAlias, in.Source, in.Confidence, b.now)
	if err != nil {
		return fmt.Errorf("upsert alias %q for topic %d: %w", in.NormalizedAlias, in.TopicID, err)
	}
	return nil
}

// LinkSeed points a seed at its topic.
func (b *TopicBatch) LinkSeed(ctx context.Context, seedID, topicID int64) error {
	if _, err := b.tx.ExecContext(ctx,
		"UPDATE seeds SET topic_id = ?, updated_at = ? WHERE id = ?",
		topicID, b.now, seedID); err != nil {
		return fmt.Errorf("link seed %d to topic %d: %w", seedID, topicID, err)
	}
	return nil
}

func (s *SQLiteStore) GetTopic(ctx context.Context, id int64) (*Topic, error) {
	var t Topic
	err := s.db.GetContext(ctx, &t, "SELECT "+topicColumns+" FROM topics WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get topic %d: %w", id, err)
	}
	return &t, nil
}

func (s *SQLiteStore) ListTopics(ctx context.Context, mediaType string) ([]Topic, error) {
	var topics []Topic
	err := s.db.SelectContext(ctx, &topics,
		"SELECT "+topicColumns+" FROM topics WHERE media_type = ? ORDER BY id", mediaType)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	return topics, nil
}

func (s *SQLiteStore) ListAliases(ctx context.Context, topicID int64) ([]TopicAlias, error) {
	var aliases []TopicAlias
	err := s.db.SelectContext(ctx, &aliases,
		"SELECT "+aliasColumns+" FROM topic_aliases WHERE topic_id = ? ORDER BY id", topicID)
	if err != nil {
		return nil, fmt.Errorf("list aliases for topic %d: %w", topicID, err)
	}
	return aliases, nil
}
