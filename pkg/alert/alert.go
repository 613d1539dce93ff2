package alert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/elonfeng/filmradar/internal/store"
	"github.com/elonfeng/filmradar/pkg/ingest"
)

// Notification is the data sent to alert destinations.
type Notification struct {
	Title    string         `json:"title"`
	RunID    string         `json:"run_id"`
	Date     string         `json:"date"`
	Region   string         `json:"region"`
	Status   string         `json:"status"`
	Error    string         `json:"error,omitempty"`
	Fallback bool           `json:"fallback"`
	Coverage float64        `json:"coverage"`
	Entries  []ingest.Entry `json:"entries"`
}

// Failed reports whether the run failed.
func (n *Notification) Failed() bool {
	return n.Status == store.RunFailed
}

// Notifier delivers alerts to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Manager broadcasts run reports to all registered notifiers.
type Manager struct {
	notifiers []Notifier
	topN      int
}

// NewManager creates a new alert manager. Success alerts carry at most topN
// entries.
func NewManager(notifiers []Notifier, topN int) *Manager {
	if topN <= 0 {
		topN = 5
	}
	return &Manager{notifiers: notifiers, topN: topN}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return len(m.notifiers) > 0
}

var _ ingest.Notifier = (*Manager)(nil)

// Notify turns a run report into a notification and broadcasts it.
func (m *Manager) Notify(ctx context.Context, r *ingest.Report) error {
	if !m.HasNotifiers() {
		return nil
	}
	return m.Broadcast(ctx, m.notification(r))
}

func (m *Manager) notification(r *ingest.Report) *Notification {
	n := &Notification{
		RunID:    r.UUID,
		Date:     r.Date,
		Region:   r.Region,
		Status:   r.Status,
		Error:    r.Error,
		Fallback: r.Fallback,
		Coverage: r.Coverage,
	}
	switch {
	case n.Failed():
		n.Title = fmt.Sprintf("Ingest failed for %s (%s)", r.Date, r.Region)
	case r.Fallback:
		n.Title = fmt.Sprintf("Trending titles for %s (%s, chart only)", r.Date, r.Region)
	default:
		n.Title = fmt.Sprintf("Trending titles for %s (%s)", r.Date, r.Region)
	}
	if !n.Failed() {
		entries := r.Top
		if len(entries) > m.topN {
			entries = entries[:m.topN]
		}
		n.Entries = entries
	}
	return n
}

// Broadcast sends a notification to all registered notifiers.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// postJSON marshals payload and posts it to url. headers may add or override
// request headers after the body is known.
func postJSON(ctx context.Context, client *http.Client, url string, payload any, headers func(body []byte, h http.Header)) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if headers != nil {
		headers(body, req.Header)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
