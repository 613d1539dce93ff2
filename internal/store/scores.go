package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Metric is one signal value of a topic on a date.
type Metric struct {
	ID       int64    `db:"id" json:"-"`
	TopicID  int64    `db:"topic_id" json:"topic_id"`
	Date     string   `db:"date" json:"date"`
	Source   string   `db:"source" json:"source"`
	Name     string   `db:"metric_name" json:"metric_name"`
	Value    float64  `db:"value" json:"value"`
	LogValue *float64 `db:"log_value" json:"log_value,omitempty"`
	ZScore   *float64 `db:"z_score" json:"z_score,omitempty"`
	Raw      Payload  `db:"raw" json:"raw,omitempty"`
}

// Score is the ranked output for a topic.
type Score struct {
	ID          int64   `db:"id" json:"-"`
	TopicID     int64   `db:"topic_id" json:"topic_id"`
	Date        string  `db:"date" json:"date"`
	AlgoVersion string  `db:"algo_version" json:"algo_version"`
	Rank        int     `db:"rank" json:"rank"`
	Score       float64 `db:"score" json:"score"`
	Breakdown   Payload `db:"breakdown" json:"breakdown"`
}

// FallbackScore is the seed-level ranking written when no topic could be scored.
type FallbackScore struct {
	ID          int64   `db:"id" json:"-"`
	SeedID      int64   `db:"seed_id" json:"seed_id"`
	Date        string  `db:"date" json:"date"`
	AlgoVersion string  `db:"algo_version" json:"algo_version"`
	Rank        int     `db:"rank" json:"rank"`
	Score       float64 `db:"score" json:"score"`
	Breakdown   Payload `db:"breakdown" json:"breakdown"`
}

// RankedTopic is a score row joined with its topic's display fields.
type RankedTopic struct {
	ID             int64   `db:"id" json:"-"`
	TopicID        int64   `db:"topic_id" json:"topic_id"`
	Date           string  `db:"date" json:"date"`
	AlgoVersion    string  `db:"algo_version" json:"algo_version"`
	Rank           int     `db:"rank" json:"rank"`
	Score          float64 `db:"score" json:"score"`
	Breakdown      Payload `db:"breakdown" json:"breakdown"`
	CanonicalTitle string  `db:"canonical_title" json:"title"`
	ExternalID     *int64  `db:"external_id" json:"external_id,omitempty"`
}

// RankedSeed is a fallback score joined with its seed keyword.
type RankedSeed struct {
	FallbackScore
	Keyword string `db:"keyword" json:"keyword"`
}

const metricColumns = `id, topic_id, date, source, metric_name, value, log_value, z_score, raw`

// SaveScores writes a run's metrics and scores in one transaction. Score rows
// for the same date and algorithm whose topic is not part of this run are
// removed, as is any fallback ranking for the date, so the stored ranking is
// exactly the latest run's output.
func (s *SQLiteStore) SaveScores(ctx context.Context, date, algoVersion string, metrics []Metric, scores []Score) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, m := range metrics {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO metrics (topic_id, date, source, metric_name, value, log_value, z_score, raw)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(topic_id, date, source, metric_name) DO UPDATE SET
					value = excluded.value,
					log_value = excluded.log_value,
					z_score = excluded.z_score,
					raw = excluded.raw
			`, m.TopicID, date, m.Source, m.Name, m.Value, m.LogValue, m.ZScore, m.Raw)
			if err != nil {
				return fmt.Errorf("upsert metric %s/%s for topic %d: %w", m.Source, m.Name, m.TopicID, err)
			}
		}

		topicIDs := make([]int64, 0, len(scores))
		for _, sc := range scores {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO scores (topic_id, date, algo_version, rank, score, breakdown)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(topic_id, date, algo_version) DO UPDATE SET
					rank = excluded.rank,
					score = excluded.score,
					breakdown = excluded.breakdown
			`, sc.TopicID, date, algoVersion, sc.Rank, sc.Score, sc.Breakdown)
			if err != nil {
				return fmt.Errorf("upsert score for topic %d: %w", sc.TopicID, err)
			}
			topicIDs = append(topicIDs, sc.TopicID)
		}

		if err := deleteStale(ctx, tx,
			"DELETE FROM scores WHERE date = ? AND algo_version = ?",
			"topic_id", topicIDs, date, algoVersion); err != nil {
			return fmt.Errorf("delete stale scores: %w", err)
		}
		if err := deleteStale(ctx, tx,
			"DELETE FROM metrics WHERE date = ?",
			"topic_id", topicIDs, date); err != nil {
			return fmt.Errorf("delete stale metrics: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM fallback_scores WHERE date = ? AND algo_version = ?", date, algoVersion); err != nil {
			return fmt.Errorf("clear fallback scores: %w", err)
		}
		return nil
	})
}

// SaveFallbackScores replaces the ranking for date with a seed-level one.
func (s *SQLiteStore) SaveFallbackScores(ctx context.Context, date, algoVersion string, scores []FallbackScore) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM fallback_scores WHERE date = ? AND algo_version = ?", date, algoVersion); err != nil {
			return fmt.Errorf("clear fallback scores: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM scores WHERE date = ? AND algo_version = ?", date, algoVersion); err != nil {
			return fmt.Errorf("clear scores: %w", err)
		}
		for _, sc := range scores {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO fallback_scores (seed_id, date, algo_version, rank, score, breakdown)
				VALUES (?, ?, ?, ?, ?, ?)
			`, sc.SeedID, date, algoVersion, sc.Rank, sc.Score, sc.Breakdown)
			if err != nil {
				return fmt.Errorf("insert fallback score for seed %d: %w", sc.SeedID, err)
			}
		}
		return nil
	})
}

// deleteStale runs base, restricted to rows whose column is not in keep.
func deleteStale(ctx context.Context, tx *sqlx.Tx, base, column string, keep []int64, args ...any) error {
	if len(keep) == 0 {
		_, err := tx.ExecContext(ctx, base, args...)
		return err
	}
	query, inArgs, err := sqlx.In(base+" AND "+column+" NOT IN (?)", append(args, keep)...)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(query), inArgs...)
	return err
}

func (s *SQLiteStore) ListScores(ctx context.Context, date, algoVersion string, limit int) ([]RankedTopic, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []RankedTopic
	err := s.db.SelectContext(ctx, &out, `
		SELECT s.id, s.topic_id, s.date, s.algo_version, s.rank, s.score, s.breakdown,
			t.canonical_title, t.external_id
		FROM scores s
		JOIN topics t ON t.id = s.topic_id
		WHERE s.date = ? AND s.algo_version = ?
		ORDER BY s.rank
		LIMIT ?
	`, date, algoVersion, limit)
	if err != nil {
		return nil, fmt.Errorf("list scores for %s: %w", date, err)
	}
	return out, nil
}

func (s *SQLiteStore) ListFallbackScores(ctx context.Context, date, algoVersion string, limit int) ([]RankedSeed, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []RankedSeed
	err := s.db.SelectContext(ctx, &out, `
		SELECT f.id, f.seed_id, f.date, f.algo_version, f.rank, f.score, f.breakdown, sd.keyword
		FROM fallback_scores f
		JOIN seeds sd ON sd.id = f.seed_id
		WHERE f.date = ? AND f.algo_version = ?
		ORDER BY f.rank
		LIMIT ?
	`, date, algoVersion, limit)
	if err != nil {
		return nil, fmt.Errorf("list fallback scores for %s: %w", date, err)
	}
	return out, nil
}

func (s *SQLiteStore) ListMetrics(ctx context.Context, topicID int64, date string) ([]Metric, error) {
	var out []Metric
	err := s.db.SelectContext(ctx, &out,
		"SELECT "+metricColumns+" FROM metrics WHERE topic_id = ? AND date = ? ORDER BY source, metric_name",
		topicID, date)
	if err != nil {
		return nil, fmt.Errorf("list metrics for topic %d: %w", topicID, err)
	}
	return out, nil
}

// LatestScoreDate returns the most recent date with stored scores or fallback
// scores, or "" when nothing has been ranked yet.
func (s *SQLiteStore) LatestScoreDate(ctx context.Context, algoVersion string) (string, error) {
	var date sql.NullString
	err := s.db.GetContext(ctx, &date, `
		SELECT MAX(date) FROM (
			SELECT date FROM scores WHERE algo_version = ?
			UNION ALL
			SELECT date FROM fallback_scores WHERE algo_version = ?
		)
	`, algoVersion, algoVersion)
	if err != nil {
		return "", fmt.Errorf("latest score date: %w", err)
	}
	return date.String, nil
}
