package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/elonfeng/filmradar/internal/store"
	"github.com/elonfeng/filmradar/pkg/ingest"
)

// Reader is the read side of the store the API serves from.
type Reader interface {
	ListScores(ctx context.Context, date, algoVersion string, limit int) ([]store.RankedTopic, error)
	ListFallbackScores(ctx context.Context, date, algoVersion string, limit int) ([]store.RankedSeed, error)
	ListMetrics(ctx context.Context, topicID int64, date string) ([]store.Metric, error)
	LatestScoreDate(ctx context.Context, algoVersion string) (string, error)
	GetTopic(ctx context.Context, id int64) (*store.Topic, error)
	ListAliases(ctx context.Context, topicID int64) ([]store.TopicAlias, error)
	GetRun(ctx context.Context, date, region string) (*store.IngestRun, error)
	ListRuns(ctx context.Context, limit int) ([]store.IngestRun, error)
	ListSnapshots(ctx context.Context, runID int64) ([]store.Snapshot, error)
}

// Runner triggers an ingestion.
type Runner interface {
	Run(ctx context.Context, date time.Time, region string) (*ingest.Report, error)
}

// Options configures the server. DateOffsetDays picks the default ingest date
// as today minus that many days.
type Options struct {
	Port           int
	AlgoVersion    string
	DefaultRegion  string
	DateOffsetDays int
}

// Server provides the HTTP API.
type Server struct {
	store  Reader
	runner Runner
	opts   Options
	now    func() time.Time
	logger zerolog.Logger
}

// New creates a new HTTP server. runner may be nil, which disables the ingest
// endpoint.
func New(s Reader, runner Runner, opts Options, logger zerolog.Logger) *Server {
	if opts.Port == 0 {
		opts.Port = 8080
	}
	if opts.AlgoVersion == "" {
		opts.AlgoVersion = "v1"
	}
	if opts.DefaultRegion == "" {
		opts.DefaultRegion = "KR"
	}
	return &Server{store: s, runner: runner, opts: opts, now: time.Now, logger: logger}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/scores", s.handleScores)
		r.Get("/topics/{id}", s.handleTopic)
		r.Get("/topics/{id}/aliases", s.handleAliases)
		r.Get("/topics/{id}/metrics", s.handleTopicMetrics)
		r.Get("/runs", s.handleRuns)
		r.Get("/runs/{date}/{region}", s.handleRun)
		r.Post("/ingest", s.handleIngest)
	})
	return r
}

// ListenAndServe starts the HTTP server and shuts it down when ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.opts.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", srv.Addr).Msg("filmradar server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleScores serves the ranking for a date, defaulting to the latest ranked
// date. When the date was ranked by the fallback path the seed ranking is
// returned instead.
func (s *Server) handleScores(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	limit := queryInt(q.Get("limit"), 50)

	date := q.Get("date")
	if date != "" {
		if _, err := time.Parse("2006-01-02", date); err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
	} else {
		latest, err := s.store.LatestScoreDate(ctx, s.opts.AlgoVersion)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if latest == "" {
			writeJSON(w, http.StatusOK, map[string]any{"data": []any{}, "count": 0})
			return
		}
		date = latest
	}

	scores, err := s.store.ListScores(ctx, date, s.opts.AlgoVersion, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(scores) > 0 {
		writeJSON(w, http.StatusOK, map[string]any{
			"date":     date,
			"fallback": false,
			"data":     scores,
			"count":    len(scores),
		})
		return
	}

	seeds, err := s.store.ListFallbackScores(ctx, date, s.opts.AlgoVersion, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"date":     date,
		"fallback": len(seeds) > 0,
		"data":     seeds,
		"count":    len(seeds),
	})
}

func (s *Server) handleTopic(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	topic, err := s.store.GetTopic(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "topic not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	aliases, err := s.store.ListAliases(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":    topic,
		"aliases": aliases,
	})
}

func (s *Server) handleAliases(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	aliases, err := s.store.ListAliases(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  aliases,
		"count": len(aliases),
	})
}

func (s *Server) handleTopicMetrics(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	date := r.URL.Query().Get("date")
	if date == "" {
		writeError(w, http.StatusBadRequest, "date is required")
		return
	}
	metrics, err := s.store.ListMetrics(r.Context(), id, date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  metrics,
		"count": len(metrics),
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context(), queryInt(r.URL.Query().Get("limit"), 30))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  runs,
		"count": len(runs),
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "date"), chi.URLParam(r, "region"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]any{"data": run}
	if r.URL.Query().Get("snapshots") == "true" {
		snaps, err := s.store.ListSnapshots(r.Context(), run.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp["snapshots"] = snaps
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "ingestion is not configured")
		return
	}

	q := r.URL.Query()
	y, m, d := s.now().Date()
	date := time.Date(y, m, d, 0, 0, 0, 0, time.Local).AddDate(0, 0, -s.opts.DateOffsetDays)
	if v := q.Get("date"); v != "" {
		d, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		date = d
	}
	region := q.Get("region")
	if region == "" {
		region = s.opts.DefaultRegion
	}

	// A client hanging up must not abort a run that already holds the lock.
	report, err := s.runner.Run(context.WithoutCancel(r.Context()), date, region)
	switch {
	case errors.Is(err, ingest.ErrRunInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case ingest.IsSourceUnavailable(err):
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "report": report})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "report": report})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"data": report})
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func queryInt(v string, def int) int {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return min(n, 500)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
