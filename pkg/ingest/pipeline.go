// Package ingest runs one ingestion for a (date, region): chart window, seeds,
// entity matching, topic resolution, secondary signals, scoring and
// persistence, recording the run lifecycle and an audit trail.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/elonfeng/filmradar/internal/metrics"
	"github.com/elonfeng/filmradar/internal/store"
	"github.com/elonfeng/filmradar/pkg/chart"
	"github.com/elonfeng/filmradar/pkg/match"
	"github.com/elonfeng/filmradar/pkg/seed"
	"github.com/elonfeng/filmradar/pkg/signal"
	"github.com/elonfeng/filmradar/pkg/source"
	"github.com/elonfeng/filmradar/pkg/topic"
	"github.com/elonfeng/filmradar/pkg/trend"
)

// Run stages, in execution order.
const (
	StageCollecting = "collecting_candidates"
	StageSeeds      = "resolving_seeds"
	StageMatching   = "matching_entities"
	StageTopics     = "resolving_topics"
	StageSignals    = "collecting_external_metrics"
	StageAggregate  = "aggregating"
	StageScoring    = "scoring"
	StagePersisting = "persisting"
)

// Store is the persistence the pipeline needs.
type Store interface {
	seed.Writer
	match.Writer
	topic.Store
	SnapshotWriter

	SaveScores(ctx context.Context, date, algoVersion string, metrics []store.Metric, scores []store.Score) error
	SaveFallbackScores(ctx context.Context, date, algoVersion string, scores []store.FallbackScore) error
	StartRun(ctx context.Context, date, region string) (*store.IngestRun, error)
	FinishRun(ctx context.Context, runID int64, meta store.Payload) error
	FailRun(ctx context.Context, runID int64, errMsg string, meta store.Payload) error
}

// Notifier is told about every finished run.
type Notifier interface {
	Notify(ctx context.Context, report *Report) error
}

// Deps are the pipeline's collaborators. Chart is required; the secondary
// services may be nil.
type Deps struct {
	Store    Store
	Chart    source.ChartSource
	Metadata source.MetadataSearcher
	Mentions source.MentionCounter
	Interest source.InterestService
	Video    source.VideoSearcher
	Cache    *match.Cache[[]source.SearchResult]
	Notifier Notifier
}

// Options are the tunables of a run.
type Options struct {
	MediaType      string
	WindowDays     int
	PageSize       int
	CandidateCap   int
	TopK           int
	MatchWorkers   int
	TopicWorkers   int
	SignalWorkers  int
	MatchThreshold float64
	InterestBatch  int
	InterestDays   int
	Categories     []string
	VideoSuffix    string
	Policy         trend.WeightPolicy
	PrimaryClamp   float64
	AlgoVersion    string
	ReportTopN     int
}

// Entry is one line of a run report's ranking.
type Entry struct {
	Rank  int     `json:"rank"`
	Title string  `json:"title"`
	Score float64 `json:"score"`
}

// Report describes a finished run.
type Report struct {
	RunID    int64         `json:"run_id"`
	UUID     string        `json:"uuid"`
	Date     string        `json:"date"`
	Region   string        `json:"region"`
	Status   string        `json:"status"`
	Stage    string        `json:"stage"`
	Error    string        `json:"error,omitempty"`
	Fallback bool          `json:"fallback"`
	Coverage float64       `json:"coverage"`
	Weights  trend.Weights `json:"weights"`
	Top      []Entry       `json:"top"`
	Duration time.Duration `json:"duration"`
}

// Pipeline runs ingestions. It is safe for concurrent use; concurrent runs for
// the same (date, region) are refused with ErrRunInProgress.
type Pipeline struct {
	store    Store
	chart    *chart.Collector
	seeds    *seed.Registry
	matcher  *match.Matcher
	resolver *topic.Resolver
	signals  *signal.Collector
	scorer   *trend.Scorer
	notifier Notifier
	locks    *keyedLock
	opts     Options
	logger   zerolog.Logger
}

// New creates a new Pipeline.
func New(deps Deps, opts Options, logger zerolog.Logger) *Pipeline {
	if opts.MediaType == "" {
		opts.MediaType = "movie"
	}
	if opts.AlgoVersion == "" {
		opts.AlgoVersion = "v1"
	}
	if opts.ReportTopN <= 0 {
		opts.ReportTopN = 10
	}
	if opts.Policy == (trend.WeightPolicy{}) {
		opts.Policy = trend.DefaultPolicy()
	}

	rec := snapshotRecorder{store: deps.Store, logger: logger}
	p := &Pipeline{
		store:    deps.Store,
		chart:    chart.NewCollector(deps.Chart, rec, logger),
		seeds:    seed.NewRegistry(deps.Store, deps.Chart.Name(), opts.MediaType, logger),
		resolver: topic.NewResolver(deps.Store, opts.TopicWorkers, logger),
		signals: signal.NewCollector(deps.Mentions, deps.Interest, deps.Video, rec, signal.Config{
			TopK:          opts.TopK,
			Workers:       opts.SignalWorkers,
			Categories:    opts.Categories,
			InterestBatch: opts.InterestBatch,
			InterestDays:  opts.InterestDays,
			VideoSuffix:   opts.VideoSuffix,
		}, logger),
		scorer:   trend.NewScorer(opts.Policy, opts.PrimaryClamp, opts.AlgoVersion),
		notifier: deps.Notifier,
		locks:    newKeyedLock(),
		opts:     opts,
		logger:   logger,
	}
	if deps.Metadata != nil {
		p.matcher = match.NewMatcher(deps.Metadata, deps.Store, deps.Cache, rec, match.Config{
			Workers:   opts.MatchWorkers,
			Threshold: opts.MatchThreshold,
		}, logger)
	}
	return p
}

// Run executes one ingestion for date and region. The IngestRun row ends in
// "success" or "failed"; on failure the error is returned together with the
// report. Partial progress committed by earlier stages stays in place.
func (p *Pipeline) Run(ctx context.Context, date time.Time, region string) (*Report, error) {
	day := date.Format("2006-01-02")
	key := day + "/" + region
	if !p.locks.tryLock(key) {
		return nil, fmt.Errorf("%w: %s", ErrRunInProgress, key)
	}
	defer p.locks.unlock(key)

	started := time.Now()
	run, err := p.store.StartRun(ctx, day, region)
	if err != nil {
		return nil, err
	}

	logger := p.logger.With().
		Str("run_id", run.UUID).
		Str("date", day).
		Str("region", region).
		Logger()
	ctx = withRunID(ctx, run.ID)

	report := &Report{RunID: run.ID, UUID: run.UUID, Date: day, Region: region}
	meta := store.Payload{"attempt": run.Attempts, "algo_version": p.opts.AlgoVersion}

	runErr := p.execute(ctx, logger, date, meta, report)
	report.Duration = time.Since(started)
	meta["duration_ms"] = report.Duration.Milliseconds()
	metrics.IngestRunDuration.Observe(report.Duration.Seconds())

	// The lifecycle update must land even if ctx was cancelled mid-run.
	finishCtx := context.WithoutCancel(ctx)
	if runErr == nil {
		if err := p.store.FinishRun(finishCtx, run.ID, meta); err != nil {
			report.Stage = StagePersisting
			meta["stage"] = StagePersisting
			runErr = fmt.Errorf("finish run: %w", err)
		}
	}
	if runErr != nil {
		report.Status = store.RunFailed
		report.Error = runErr.Error()
		if err := p.store.FailRun(finishCtx, run.ID, runErr.Error(), meta); err != nil {
			logger.Error().Err(err).Msg("could not mark run failed")
		}
		metrics.IngestRuns.WithLabelValues(store.RunFailed).Inc()
		logger.Error().Err(runErr).Str("stage", report.Stage).Msg("ingest run failed")
		p.notify(finishCtx, logger, report)
		return report, runErr
	}

	report.Status = store.RunSuccess
	metrics.IngestRuns.WithLabelValues(store.RunSuccess).Inc()
	logger.Info().
		Bool("fallback", report.Fallback).
		Float64("coverage", report.Coverage).
		Dur("duration", report.Duration).
		Msg("ingest run finished")
	p.notify(finishCtx, logger, report)
	return report, nil
}

func (p *Pipeline) execute(ctx context.Context, logger zerolog.Logger, date time.Time, meta store.Payload, report *Report) error {
	stage := func(name string) {
		report.Stage = name
		meta["stage"] = name
		logger.Info().Str("stage", name).Msg("stage started")
	}

	stage(StageCollecting)
	window, err := p.chart.Collect(ctx, chart.Options{
		Date:     date,
		Days:     p.opts.WindowDays,
		PageSize: p.opts.PageSize,
		Cap:      p.opts.CandidateCap,
	})
	if err != nil {
		return err
	}
	meta["window"] = store.Payload{
		"days":     window.DayCounts,
		"unique":   window.Unique,
		"selected": window.Selected,
	}

	stage(StageSeeds)
	seeds, err := p.seeds.Register(ctx, window.Candidates)
	if err != nil {
		return err
	}
	meta["seeds"] = len(seeds)

	stage(StageMatching)
	if p.matcher != nil {
		var stats match.Stats
		seeds, stats, err = p.matcher.Match(ctx, seeds)
		if err != nil {
			return err
		}
		meta["match"] = stats
	} else {
		logger.Info().Msg("metadata search not configured, skipping entity matching")
	}

	stage(StageTopics)
	seeds, topicStats, err := p.resolver.Resolve(ctx, seeds)
	if err != nil {
		return err
	}
	meta["topics"] = topicStats

	stage(StageSignals)
	collected := p.signals.Collect(ctx, date, seeds)
	meta["signals"] = collected.Stats

	stage(StageAggregate)
	groups := trend.Aggregate(seeds, collected.BySeed)
	meta["groups"] = len(groups)

	day := date.Format("2006-01-02")
	if len(groups) == 0 {
		stage(StageScoring)
		logger.Warn().Int("seeds", len(seeds)).Msg("no topic groups, falling back to seed ranking")
		fallback := trend.RankFallback(seeds, p.opts.AlgoVersion)

		stage(StagePersisting)
		if err := p.store.SaveFallbackScores(ctx, day, p.opts.AlgoVersion, fallback); err != nil {
			return err
		}
		report.Fallback = true
		meta["fallback"] = true
		byID := make(map[int64]string, len(seeds))
		for _, s := range seeds {
			byID[s.ID] = s.Keyword
		}
		for _, f := range fallback {
			if len(report.Top) >= p.opts.ReportTopN {
				break
			}
			report.Top = append(report.Top, Entry{Rank: f.Rank, Title: byID[f.SeedID], Score: f.Score})
		}
		return nil
	}

	stage(StageScoring)
	ranking := p.scorer.Rank(groups)
	report.Coverage = ranking.Coverage
	report.Weights = ranking.Weights
	meta["coverage"] = ranking.Coverage
	meta["weights"] = ranking.Weights
	meta["fallback"] = false

	stage(StagePersisting)
	var rows []store.Metric
	scores := make([]store.Score, 0, len(ranking.Entries))
	for _, e := range ranking.Entries {
		rows = append(rows, e.Metrics...)
		scores = append(scores, store.Score{
			TopicID:     e.TopicID,
			AlgoVersion: p.opts.AlgoVersion,
			Rank:        e.Rank,
			Score:       e.Score,
			Breakdown:   e.Breakdown,
		})
		if len(report.Top) < p.opts.ReportTopN {
			report.Top = append(report.Top, Entry{Rank: e.Rank, Title: e.Title, Score: e.Score})
		}
	}
	if err := p.store.SaveScores(ctx, day, p.opts.AlgoVersion, rows, scores); err != nil {
		return err
	}
	meta["scored"] = len(scores)
	return nil
}

func (p *Pipeline) notify(ctx context.Context, logger zerolog.Logger, report *Report) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.Notify(ctx, report); err != nil {
		logger.Warn().Err(err).Msg("run notification failed")
	}
}

// IsSourceUnavailable reports whether err means the primary chart was down.
func IsSourceUnavailable(err error) bool {
	return errors.Is(err, chart.ErrSourceUnavailable)
}
