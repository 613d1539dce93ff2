package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("not found")

// Store is the persistence interface.
type Store interface {
	UpsertSeeds(ctx context.Context, seeds []SeedInput) ([]Seed, error)
	SetSeedExternalIDs(ctx context.Context, matches []SeedMatch) error
	GetSeed(ctx context.Context, id int64) (*Seed, error)

	WithTopicBatch(ctx context.Context, fn func(*TopicBatch) error) error
	GetTopic(ctx context.Context, id int64) (*Topic, error)
	ListTopics(ctx context.Context, mediaType string) ([]Topic, error)
	ListAliases(ctx context.Context, topicID int64) ([]TopicAlias, error)

	SaveScores(ctx context.Context, date, algoVersion string, metrics []Metric, scores []Score) error
	SaveFallbackScores(ctx context.Context, date, algoVersion string, scores []FallbackScore) error
	ListScores(ctx context.Context, date, algoVersion string, limit int) ([]RankedTopic, error)
	ListFallbackScores(ctx context.Context, date, algoVersion string, limit int) ([]RankedSeed, error)
	ListMetrics(ctx context.Context, topicID int64, date string) ([]Metric, error)
	LatestScoreDate(ctx context.Context, algoVersion string) (string, error)

	StartRun(ctx context.Context, date, region string) (*IngestRun, error)
	FinishRun(ctx context.Context, runID int64, meta Payload) error
	FailRun(ctx context.Context, runID int64, errMsg string, meta Payload) error
	GetRun(ctx context.Context, date, region string) (*IngestRun, error)
	ListRuns(ctx context.Context, limit int) ([]IngestRun, error)

	AddSnapshot(ctx context.Context, runID int64, source, endpoint string, request, response any) error
	ListSnapshots(ctx context.Context, runID int64) ([]Snapshot, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ Store = (*SQLiteStore)(nil)

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer at a time; concurrent workers queue on the pool instead of
	// hitting SQLITE_BUSY mid-transaction.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, committing only if fn succeeds.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func now() time.Time {
	return time.Now().UTC()
}
