package ingest

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/elonfeng/filmradar/pkg/source"
)

// SnapshotWriter appends audit records.
type SnapshotWriter interface {
	AddSnapshot(ctx context.Context, runID int64, source, endpoint string, request, response any) error
}

type runIDKey struct{}

func withRunID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

func runIDFrom(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(runIDKey{}).(int64)
	return id, ok
}

// snapshotRecorder writes one snapshot per external call batch for the run
// carried in the context. Write failures are logged and dropped.
type snapshotRecorder struct {
	store  SnapshotWriter
	logger zerolog.Logger
}

var _ source.Recorder = snapshotRecorder{}

func (r snapshotRecorder) Record(ctx context.Context, src source.SourceType, endpoint string, request, response any) {
	runID, ok := runIDFrom(ctx)
	if !ok {
		return
	}
	if err := r.store.AddSnapshot(context.WithoutCancel(ctx), runID, string(src), endpoint, request, response); err != nil {
		r.logger.Warn().Err(err).Str("source", string(src)).Str("endpoint", endpoint).Msg("snapshot write failed")
	}
}
