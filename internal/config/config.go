package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Sources  SourcesConfig  `yaml:"sources"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Scoring  ScoringConfig  `yaml:"scoring"`
	Cache    CacheConfig    `yaml:"cache"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Server   ServerConfig   `yaml:"server"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig configures the zerolog logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// ScheduleConfig configures the daily ingestion trigger.
type ScheduleConfig struct {
	IngestInterval string `yaml:"ingest_interval"`
	// DateOffsetDays is how many days before today the scheduled run targets.
	// Box office charts are published for the previous day.
	DateOffsetDays int    `yaml:"date_offset_days"`
	Region         string `yaml:"region"`
}

// ParseIngestInterval returns the ingest interval as time.Duration.
func (s ScheduleConfig) ParseIngestInterval() time.Duration {
	d, err := time.ParseDuration(s.IngestInterval)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// SourcesConfig holds configuration for all external collaborators.
type SourcesConfig struct {
	Chart    ChartConfig    `yaml:"chart"`
	Metadata MetadataConfig `yaml:"metadata"`
	Mentions MentionsConfig `yaml:"mentions"`
	Interest InterestConfig `yaml:"interest"`
	Video    VideoConfig    `yaml:"video"`
	Feeds    FeedsConfig    `yaml:"feeds"`
}

// ChartConfig for the KOBIS daily box office.
type ChartConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// MetadataConfig for TMDB movie search.
type MetadataConfig struct {
	Enabled  bool   `yaml:"enabled"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Language string `yaml:"language"`
}

// MentionsConfig for Naver search mention counts.
type MentionsConfig struct {
	Enabled      bool     `yaml:"enabled"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	BaseURL      string   `yaml:"base_url"`
	Categories   []string `yaml:"categories"`
}

// InterestConfig for Naver DataLab search trend ratios.
type InterestConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
}

// VideoConfig for YouTube search totals.
type VideoConfig struct {
	Enabled     bool   `yaml:"enabled"`
	APIKey      string `yaml:"api_key"`
	QuerySuffix string `yaml:"query_suffix"`
}

// FeedsConfig lists RSS feeds counted as the "feeds" mention category.
type FeedsConfig struct {
	Enabled bool       `yaml:"enabled"`
	Feeds   []FeedItem `yaml:"feeds"`
}

// FeedItem is a single RSS feed entry.
type FeedItem struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// PipelineConfig holds the ingestion knobs.
type PipelineConfig struct {
	MediaType      string  `yaml:"media_type"`
	WindowDays     int     `yaml:"window_days"`
	PageSize       int     `yaml:"page_size"`
	CandidateCap   int     `yaml:"candidate_cap"`
	TopK           int     `yaml:"top_k"`
	MatchWorkers   int     `yaml:"match_workers"`
	TopicWorkers   int     `yaml:"topic_workers"`
	SignalWorkers  int     `yaml:"signal_workers"`
	MatchThreshold float64 `yaml:"match_threshold"`
	InterestBatch  int     `yaml:"interest_batch"`
	InterestDays   int     `yaml:"interest_days"`
	RequestTimeout string  `yaml:"request_timeout"`
	RequestsPerSec float64 `yaml:"requests_per_sec"`
}

// ParseRequestTimeout returns the per-call timeout as time.Duration.
func (p PipelineConfig) ParseRequestTimeout() time.Duration {
	d, err := time.ParseDuration(p.RequestTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// ScoringConfig configures the composite score weight policy.
type ScoringConfig struct {
	AlgoVersion         string  `yaml:"algo_version"`
	CoverageThreshold   float64 `yaml:"coverage_threshold"`
	HighCoveragePrimary float64 `yaml:"high_coverage_primary"`
	LowCoveragePrimary  float64 `yaml:"low_coverage_primary"`
	MentionsRatio       float64 `yaml:"mentions_ratio"`
	InterestRatio       float64 `yaml:"interest_ratio"`
	VideoRatio          float64 `yaml:"video_ratio"`
	PrimaryClamp        float64 `yaml:"primary_clamp"`
}

// CacheConfig configures the metadata lookup cache.
type CacheConfig struct {
	Size int    `yaml:"size"`
	TTL  string `yaml:"ttl"`
}

// ParseTTL returns the cache TTL as time.Duration.
func (c CacheConfig) ParseTTL() time.Duration {
	d, err := time.ParseDuration(c.TTL)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// AlertsConfig configures alert destinations.
type AlertsConfig struct {
	TopN    int           `yaml:"top_n"`
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// SlackConfig for Slack webhook alerts.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// DiscordConfig for Discord webhook alerts.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./filmradar.db"},
		Log:      LogConfig{Level: "info", Format: "json"},
		Schedule: ScheduleConfig{
			IngestInterval: "24h",
			DateOffsetDays: 1,
			Region:         "KR",
		},
		Sources: SourcesConfig{
			Chart: ChartConfig{
				BaseURL: "https://www.kobis.or.kr/kobisopenapi/webservice/rest/boxoffice",
			},
			Metadata: MetadataConfig{
				Enabled:  true,
				BaseURL:  "https://api.themoviedb.org/3",
				Language: "ko-KR",
			},
			Mentions: MentionsConfig{
				Enabled:    true,
				BaseURL:    "https://openapi.naver.com/v1/search",
				Categories: []string{"blog", "cafearticle", "news"},
			},
			Interest: InterestConfig{
				Enabled: true,
				BaseURL: "https://openapi.naver.com/v1/datalab/search",
			},
			Video: VideoConfig{
				Enabled:     true,
				QuerySuffix: "trailer",
			},
		},
		Pipeline: PipelineConfig{
			MediaType:      "movie",
			WindowDays:     7,
			PageSize:       10,
			CandidateCap:   30,
			TopK:           20,
			MatchWorkers:   2,
			TopicWorkers:   2,
			SignalWorkers:  3,
			MatchThreshold: 60,
			InterestBatch:  5,
			InterestDays:   7,
			RequestTimeout: "10s",
			RequestsPerSec: 5,
		},
		Scoring: ScoringConfig{
			AlgoVersion:         "v1",
			CoverageThreshold:   0.6,
			HighCoveragePrimary: 0.12,
			LowCoveragePrimary:  0.18,
			MentionsRatio:       0.35,
			InterestRatio:       0.40,
			VideoRatio:          0.25,
			PrimaryClamp:        0.7,
		},
		Cache: CacheConfig{
			Size: 2048,
			TTL:  "24h",
		},
		Alerts: AlertsConfig{TopN: 5},
		Server: ServerConfig{Port: 8080},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	p := c.Pipeline
	if p.WindowDays < 1 {
		return fmt.Errorf("pipeline.window_days must be >= 1")
	}
	if p.PageSize < 1 {
		return fmt.Errorf("pipeline.page_size must be >= 1")
	}
	if p.CandidateCap < 1 {
		return fmt.Errorf("pipeline.candidate_cap must be >= 1")
	}
	if p.TopK < 1 {
		return fmt.Errorf("pipeline.top_k must be >= 1")
	}
	if p.MatchWorkers < 1 || p.TopicWorkers < 1 || p.SignalWorkers < 1 {
		return fmt.Errorf("pipeline worker widths must be >= 1")
	}
	if p.InterestBatch < 1 {
		return fmt.Errorf("pipeline.interest_batch must be >= 1")
	}
	if p.MediaType == "" {
		return fmt.Errorf("pipeline.media_type is required")
	}

	s := c.Scoring
	if s.AlgoVersion == "" {
		return fmt.Errorf("scoring.algo_version is required")
	}
	if s.CoverageThreshold < 0 || s.CoverageThreshold > 1 {
		return fmt.Errorf("scoring.coverage_threshold must be within [0,1]")
	}
	for name, w := range map[string]float64{
		"high_coverage_primary": s.HighCoveragePrimary,
		"low_coverage_primary":  s.LowCoveragePrimary,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("scoring.%s must be within [0,1]", name)
		}
	}
	if s.MentionsRatio < 0 || s.InterestRatio < 0 || s.VideoRatio < 0 {
		return fmt.Errorf("scoring external ratios must be >= 0")
	}
	if s.MentionsRatio+s.InterestRatio+s.VideoRatio == 0 {
		return fmt.Errorf("scoring external ratios must not all be zero")
	}
	if s.PrimaryClamp <= 0 {
		return fmt.Errorf("scoring.primary_clamp must be > 0")
	}
	if c.Schedule.Region == "" {
		return fmt.Errorf("schedule.region is required")
	}
	return nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FILMRADAR_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("KOBIS_API_KEY"); v != "" {
		cfg.Sources.Chart.APIKey = v
	}
	if v := os.Getenv("TMDB_API_KEY"); v != "" {
		cfg.Sources.Metadata.APIKey = v
	}
	if v := os.Getenv("NAVER_CLIENT_ID"); v != "" {
		cfg.Sources.Mentions.ClientID = v
	}
	if v := os.Getenv("NAVER_CLIENT_SECRET"); v != "" {
		cfg.Sources.Mentions.ClientSecret = v
	}
	if v := os.Getenv("YOUTUBE_API_KEY"); v != "" {
		cfg.Sources.Video.APIKey = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Discord.WebhookURL = v
		cfg.Alerts.Discord.Enabled = true
	}
}
