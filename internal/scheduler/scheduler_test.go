package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/elonfeng/filmradar/pkg/ingest"
)

type fakeRunner struct {
	mu    sync.Mutex
	dates []string
	err   error
	ran   chan struct{}
}

func (f *fakeRunner) Run(_ context.Context, date time.Time, region string) (*ingest.Report, error) {
	f.mu.Lock()
	f.dates = append(f.dates, date.Format("2006-01-02")+"/"+region)
	f.mu.Unlock()
	if f.ran != nil {
		select {
		case f.ran <- struct{}{}:
		default:
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &ingest.Report{UUID: "u"}, nil
}

func TestTargetAppliesOffset(t *testing.T) {
	s := New(&fakeRunner{}, time.Hour, 1, "KR", zerolog.Nop())
	at := time.Date(2026, 10, 18, 3, 30, 0, 0, time.UTC)
	if got := s.Target(at).Format("2006-01-02"); got != "2026-10-17" {
		t.Fatalf("expected 2026-10-17, got %s", got)
	}

	s = New(&fakeRunner{}, time.Hour, -3, "KR", zerolog.Nop())
	if got := s.Target(at).Format("2006-01-02"); got != "2026-10-18" {
		t.Fatalf("negative offset should clamp to today, got %s", got)
	}
}

func TestRunIngestsOnStart(t *testing.T) {
	r := &fakeRunner{ran: make(chan struct{}, 1)}
	s := New(r, time.Hour, 1, "KR", zerolog.Nop())
	s.now = func() time.Time { return time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	<-r.ran
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.dates) != 1 || r.dates[0] != "2026-10-17/KR" {
		t.Fatalf("unexpected runs: %v", r.dates)
	}
}

func TestTickSurvivesRunnerErrors(t *testing.T) {
	for _, err := range []error{ingest.ErrRunInProgress, errors.New("chart down")} {
		r := &fakeRunner{err: err}
		s := New(r, time.Hour, 0, "KR", zerolog.Nop())
		s.tick(context.Background())
		if len(r.dates) != 1 {
			t.Fatalf("expected one attempt, got %d", len(r.dates))
		}
	}
}
