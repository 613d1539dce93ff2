package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/elonfeng/filmradar/internal/metrics"
)

const maxResponseBytes = 4 << 20

// ClientOptions are shared by every HTTP-backed collaborator.
type ClientOptions struct {
	BaseURL        string
	Timeout        time.Duration
	RequestsPerSec float64
	// HTTPClient overrides the default client (tests point it at httptest servers).
	HTTPClient *http.Client
}

// apiClient wraps outbound calls with a rate limiter and a circuit breaker so a
// misbehaving service fails fast instead of eating the run's time budget.
type apiClient struct {
	name    SourceType
	client  *http.Client
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[[]byte]
}

func newAPIClient(name SourceType, opts ClientOptions) *apiClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	if opts.RequestsPerSec > 0 {
		limit = rate.Limit(opts.RequestsPerSec)
	}

	cbName := string(name)
	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0)

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, _, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &apiClient{
		name:    name,
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		cb:      cb,
	}
}

// doJSON executes req and decodes a 200 response body into out.
func (c *apiClient) doJSON(ctx context.Context, req *http.Request, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		metrics.SourceRequests.WithLabelValues(string(c.name), "rejected").Inc()
		return fmt.Errorf("%s rate limit: %w", c.name, err)
	}

	body, err := c.cb.Execute(func() ([]byte, error) {
		resp, err := c.client.Do(req.WithContext(ctx))
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(data), 200))
		}
		return data, nil
	})
	if err != nil {
		outcome := "error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			outcome = "rejected"
		}
		metrics.SourceRequests.WithLabelValues(string(c.name), outcome).Inc()
		return fmt.Errorf("%s request: %w", c.name, err)
	}

	metrics.SourceRequests.WithLabelValues(string(c.name), "ok").Inc()
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", c.name, err)
	}
	return nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
