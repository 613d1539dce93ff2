package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/elonfeng/filmradar/pkg/ingest"
)

// Runner executes one ingestion.
type Runner interface {
	Run(ctx context.Context, date time.Time, region string) (*ingest.Report, error)
}

// Scheduler runs the daily ingestion periodically.
type Scheduler struct {
	runner     Runner
	interval   time.Duration
	offsetDays int
	region     string
	now        func() time.Time
	logger     zerolog.Logger
}

// New creates a new scheduler. Each tick ingests the chart for today minus
// offsetDays.
func New(r Runner, interval time.Duration, offsetDays int, region string, logger zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if offsetDays < 0 {
		offsetDays = 0
	}
	return &Scheduler{
		runner:     r,
		interval:   interval,
		offsetDays: offsetDays,
		region:     region,
		now:        time.Now,
		logger:     logger,
	}
}

// Run starts the scheduler loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run immediately on start.
	s.logger.Info().Msg("scheduler: initial ingestion")
	s.tick(ctx)

	s.logger.Info().Dur("interval", s.interval).Msg("scheduler: running")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler: stopped")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Target returns the chart date a tick at t ingests.
func (s *Scheduler) Target(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location()).AddDate(0, 0, -s.offsetDays)
}

func (s *Scheduler) tick(ctx context.Context) {
	date := s.Target(s.now())
	logger := s.logger.With().Str("date", date.Format("2006-01-02")).Str("region", s.region).Logger()

	report, err := s.runner.Run(ctx, date, s.region)
	switch {
	case errors.Is(err, ingest.ErrRunInProgress):
		logger.Warn().Msg("scheduler: previous run still in progress, skipping")
	case err != nil:
		logger.Error().Err(err).Msg("scheduler: ingestion failed")
	default:
		logger.Info().
			Str("run_id", report.UUID).
			Bool("fallback", report.Fallback).
			Int("ranked", len(report.Top)).
			Msg("scheduler: ingestion finished")
	}
}
