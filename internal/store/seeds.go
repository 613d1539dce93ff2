package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jmoiron/sqlx"
)

// Seed is one source-specific observation of a candidate title.
type Seed struct {
	ID         int64     `db:"id" json:"id"`
	Keyword    string    `db:"keyword" json:"keyword"`
	Source     string    `db:"source" json:"source"`
	MediaType  string    `db:"media_type" json:"media_type"`
	Year       *int      `db:"year" json:"year,omitempty"`
	ExternalID *int64    `db:"external_id" json:"external_id,omitempty"`
	TopicID    *int64    `db:"topic_id" json:"topic_id,omitempty"`
	Rank       int       `db:"rank" json:"rank"`
	Audience   int64     `db:"audience" json:"audience"`
	Raw        Payload   `db:"raw" json:"raw"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// RankOrder maps a chart rank to a sort key. Unranked seeds (rank <= 0) sort
// after every ranked one.
func RankOrder(rank int) int {
	if rank <= 0 {
		return math.MaxInt
	}
	return rank
}

// SeedInput carries the mutable fields written for a seed on every run.
type SeedInput struct {
	Keyword   string
	Source    string
	MediaType string
	Year      *int
	Rank      int
	Audience  int64
	Raw       Payload
}

// SeedMatch assigns an external canonical ID to a seed.
type SeedMatch struct {
	SeedID     int64
	ExternalID int64
}

const seedColumns = `id, keyword, source, media_type, year, external_id, topic_id, rank, audience, raw, created_at, updated_at`

// UpsertSeeds writes all seeds in one transaction. Existing rows keep their
// external_id and topic_id; only the observation fields are refreshed.
func (s *SQLiteStore) UpsertSeeds(ctx context.Context, seeds []SeedInput) ([]Seed, error) {
	out := make([]Seed, 0, len(seeds))
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		ts := now()
		for _, in := range seeds {
			var seed Seed
			err := tx.QueryRowxContext(ctx, `
				INSERT INTO seeds (keyword, source, media_type, year, rank, audience, raw, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(keyword, source, media_type) DO UPDATE SET
					year = excluded.year,
					rank = excluded.rank,
					audience = excluded.audience,
					raw = excluded.raw,
					updated_at = excluded.updated_at
				RETURNING `+seedColumns,
				in.Keyword, in.Source, in.MediaType, in.Year, in.Rank, in.Audience, in.Raw, ts, ts,
			).StructScan(&seed)
			if err != nil {
				return fmt.Errorf("upsert seed %q: %w", in.Keyword, err)
			}
			out = append(out, seed)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetSeedExternalIDs persists matcher results for a whole run in one transaction.
func (s *SQLiteStore) SetSeedExternalIDs(ctx context.Context, matches []SeedMatch) error {
	if len(matches) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		ts := now()
		for _, m := range matches {
			if _, err := tx.ExecContext(ctx,
				"UPDATE seeds SET external_id = ?, updated_at = ? WHERE id = ?",
				m.ExternalID, ts, m.SeedID); err != nil {
				return fmt.Errorf("set external id for seed %d: %w", m.SeedID, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) GetSeed(ctx context.Context, id int64) (*Seed, error) {
	var seed Seed
	err := s.db.GetContext(ctx, &seed, "SELECT "+seedColumns+" FROM seeds WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get seed %d: %w", id, err)
	}
	return &seed, nil
}
