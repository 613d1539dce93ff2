package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/filmradar/internal/config"
	"github.com/elonfeng/filmradar/internal/logging"
	"github.com/elonfeng/filmradar/internal/scheduler"
	"github.com/elonfeng/filmradar/internal/store"
	"github.com/elonfeng/filmradar/pkg/alert"
	"github.com/elonfeng/filmradar/pkg/ingest"
	"github.com/elonfeng/filmradar/pkg/match"
	"github.com/elonfeng/filmradar/pkg/server"
	"github.com/elonfeng/filmradar/pkg/source"
	"github.com/elonfeng/filmradar/pkg/trend"
)

// app bundles what every command needs.
type app struct {
	cfg    *config.Config
	db     *store.SQLiteStore
	logger zerolog.Logger
}

func setup() (*app, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &app{cfg: cfg, db: db, logger: logger}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

func (a *app) clientOptions(baseURL string) source.ClientOptions {
	return source.ClientOptions{
		BaseURL:        baseURL,
		Timeout:        a.cfg.Pipeline.ParseRequestTimeout(),
		RequestsPerSec: a.cfg.Pipeline.RequestsPerSec,
	}
}

// buildDeps wires the external collaborators from config. Disabled or
// credential-less services stay nil and their signal family is zero-filled.
// The returned categories are the mention categories some counter serves.
func (a *app) buildDeps() (ingest.Deps, []string) {
	src := a.cfg.Sources
	deps := ingest.Deps{
		Store:    a.db,
		Chart:    source.NewKOBIS(src.Chart.APIKey, a.clientOptions(src.Chart.BaseURL)),
		Cache:    match.NewCache[[]source.SearchResult](a.cfg.Cache.Size, a.cfg.Cache.ParseTTL()),
		Notifier: buildAlertManager(a.cfg),
	}

	if src.Metadata.Enabled {
		if tmdb := source.NewTMDB(src.Metadata.APIKey, src.Metadata.Language, a.clientOptions(src.Metadata.BaseURL)); tmdb.Available() {
			deps.Metadata = tmdb
		} else {
			a.logger.Warn().Msg("metadata search enabled without api key, entity matching disabled")
		}
	}

	router := source.CategoryRouter{}
	var categories []string
	if src.Mentions.Enabled {
		naver := source.NewNaverSearch(src.Mentions.ClientID, src.Mentions.ClientSecret, a.clientOptions(src.Mentions.BaseURL))
		if naver.Available() {
			for _, c := range src.Mentions.Categories {
				router[c] = naver
				categories = append(categories, c)
			}
		}
	}
	if src.Feeds.Enabled && len(src.Feeds.Feeds) > 0 {
		feeds := make([]source.RSSFeed, len(src.Feeds.Feeds))
		for i, f := range src.Feeds.Feeds {
			feeds[i] = source.RSSFeed{Name: f.Name, URL: f.URL}
		}
		router[source.CategoryFeeds] = source.NewFeeds(feeds, a.cfg.Pipeline.ParseRequestTimeout())
		categories = append(categories, source.CategoryFeeds)
	}
	if len(router) > 0 {
		deps.Mentions = router
	}

	if src.Interest.Enabled {
		deps.Interest = source.NewDataLab(src.Mentions.ClientID, src.Mentions.ClientSecret, a.clientOptions(src.Interest.BaseURL))
	}
	if src.Video.Enabled {
		deps.Video = source.NewYouTube(src.Video.APIKey, a.clientOptions(""))
	}

	return deps, categories
}

func (a *app) pipelineOptions() ingest.Options {
	p, s := a.cfg.Pipeline, a.cfg.Scoring
	return ingest.Options{
		MediaType:      p.MediaType,
		WindowDays:     p.WindowDays,
		PageSize:       p.PageSize,
		CandidateCap:   p.CandidateCap,
		TopK:           p.TopK,
		MatchWorkers:   p.MatchWorkers,
		TopicWorkers:   p.TopicWorkers,
		SignalWorkers:  p.SignalWorkers,
		MatchThreshold: p.MatchThreshold,
		InterestBatch:  p.InterestBatch,
		InterestDays:   p.InterestDays,
		VideoSuffix:    a.cfg.Sources.Video.QuerySuffix,
		Policy: trend.WeightPolicy{
			CoverageThreshold:   s.CoverageThreshold,
			HighCoveragePrimary: s.HighCoveragePrimary,
			LowCoveragePrimary:  s.LowCoveragePrimary,
			MentionsRatio:       s.MentionsRatio,
			InterestRatio:       s.InterestRatio,
			VideoRatio:          s.VideoRatio,
		},
		PrimaryClamp: s.PrimaryClamp,
		AlgoVersion:  s.AlgoVersion,
		ReportTopN:   a.cfg.Alerts.TopN,
	}
}

func (a *app) buildPipeline() *ingest.Pipeline {
	deps, categories := a.buildDeps()
	opts := a.pipelineOptions()
	opts.Categories = categories
	return ingest.New(deps, opts, a.logger)
}

func buildAlertManager(cfg *config.Config) *alert.Manager {
	var notifiers []alert.Notifier

	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(cfg.Alerts.Slack.WebhookURL))
	}
	if cfg.Alerts.Discord.Enabled && cfg.Alerts.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(cfg.Alerts.Discord.WebhookURL))
	}
	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Secret))
	}

	return alert.NewManager(notifiers, cfg.Alerts.TopN)
}

func (a *app) buildServer(port int, runner server.Runner) *server.Server {
	if port == 0 {
		port = a.cfg.Server.Port
	}
	return server.New(a.db, runner, server.Options{
		Port:           port,
		AlgoVersion:    a.cfg.Scoring.AlgoVersion,
		DefaultRegion:  a.cfg.Schedule.Region,
		DateOffsetDays: a.cfg.Schedule.DateOffsetDays,
	}, a.logger)
}

func runIngest(ctx context.Context, date, region string, jsonOutput bool) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	day := time.Now().AddDate(0, 0, -a.cfg.Schedule.DateOffsetDays)
	if date != "" {
		day, err = time.Parse("2006-01-02", date)
		if err != nil {
			return fmt.Errorf("parse --date: %w", err)
		}
	}
	if region == "" {
		region = a.cfg.Schedule.Region
	}

	report, runErr := a.buildPipeline().Run(ctx, day, region)
	if report == nil {
		return runErr
	}

	if jsonOutput {
		if err := printJSON(report); err != nil {
			return err
		}
		return runErr
	}

	fmt.Fprintf(os.Stderr, "run %s %s/%s: %s (fallback: %t, coverage: %.2f, took %s)\n",
		report.UUID, report.Date, report.Region, report.Status, report.Fallback, report.Coverage,
		report.Duration.Round(time.Millisecond))
	if runErr != nil {
		return runErr
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tSCORE\tTITLE")
	for _, e := range report.Top {
		fmt.Fprintf(w, "%d\t%.3f\t%s\n", e.Rank, e.Score, e.Title)
	}
	return w.Flush()
}

func runScores(ctx context.Context, date string, limit int, jsonOutput bool) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	algo := a.cfg.Scoring.AlgoVersion
	if date == "" {
		date, err = a.db.LatestScoreDate(ctx, algo)
		if err != nil {
			return err
		}
		if date == "" {
			fmt.Println("no scores found (try running an ingestion first: filmradar ingest)")
			return nil
		}
	}

	scores, err := a.db.ListScores(ctx, date, algo, limit)
	if err != nil {
		return fmt.Errorf("list scores: %w", err)
	}
	if len(scores) == 0 {
		return printFallback(ctx, a, date, limit, jsonOutput)
	}

	if jsonOutput {
		return printJSON(scores)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "DATE %s\n", date)
	fmt.Fprintln(w, "RANK\tSCORE\tTITLE\tTMDB ID")
	for _, s := range scores {
		id := "-"
		if s.ExternalID != nil {
			id = fmt.Sprint(*s.ExternalID)
		}
		fmt.Fprintf(w, "%d\t%.3f\t%s\t%s\n", s.Rank, s.Score, s.CanonicalTitle, id)
	}
	return w.Flush()
}

func printFallback(ctx context.Context, a *app, date string, limit int, jsonOutput bool) error {
	seeds, err := a.db.ListFallbackScores(ctx, date, a.cfg.Scoring.AlgoVersion, limit)
	if err != nil {
		return fmt.Errorf("list fallback scores: %w", err)
	}
	if jsonOutput {
		return printJSON(seeds)
	}
	if len(seeds) == 0 {
		fmt.Printf("no scores for %s\n", date)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "DATE %s (chart only)\n", date)
	fmt.Fprintln(w, "RANK\tSCORE\tKEYWORD")
	for _, s := range seeds {
		fmt.Fprintf(w, "%d\t%.3f\t%s\n", s.Rank, s.Score, s.Keyword)
	}
	return w.Flush()
}

func runRuns(ctx context.Context, limit int, jsonOutput bool) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	runs, err := a.db.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(runs)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tREGION\tSTATUS\tATTEMPTS\tSTARTED\tERROR")
	for _, r := range runs {
		msg := ""
		if r.Error != nil {
			msg = *r.Error
			if len(msg) > 60 {
				msg = msg[:60] + "..."
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			r.Date, r.Region, r.Status, r.Attempts, r.StartedAt.Format(time.RFC3339), msg)
	}
	return w.Flush()
}

func runServe(ctx context.Context, port int) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	return a.buildServer(port, a.buildPipeline()).ListenAndServe(ctx)
}

func runDaemon(ctx context.Context, port int) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	pipeline := a.buildPipeline()
	sched := scheduler.New(pipeline,
		a.cfg.Schedule.ParseIngestInterval(),
		a.cfg.Schedule.DateOffsetDays,
		a.cfg.Schedule.Region,
		a.logger,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sched.Run(gctx); err != nil && gctx.Err() == nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.buildServer(port, pipeline).ListenAndServe(gctx)
	})

	err = g.Wait()
	a.logger.Info().Msg("shutting down")
	return err
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
