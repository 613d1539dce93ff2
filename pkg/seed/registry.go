// Package seed records each window candidate as a durable per-source seed.
package seed

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/elonfeng/filmradar/internal/store"
	"github.com/elonfeng/filmradar/pkg/chart"
	"github.com/elonfeng/filmradar/pkg/source"
)

// Writer persists seeds.
type Writer interface {
	UpsertSeeds(ctx context.Context, seeds []store.SeedInput) ([]store.Seed, error)
}

// Registry turns chart candidates into seed rows.
type Registry struct {
	store     Writer
	source    source.SourceType
	mediaType string
	logger    zerolog.Logger
}

// NewRegistry creates a new Registry for seeds observed on src.
func NewRegistry(w Writer, src source.SourceType, mediaType string, logger zerolog.Logger) *Registry {
	return &Registry{store: w, source: src, mediaType: mediaType, logger: logger}
}

// Register upserts one seed per candidate with a non-blank name, in candidate
// order. Already-resolved external and topic links survive the upsert.
func (r *Registry) Register(ctx context.Context, candidates []chart.Candidate) ([]store.Seed, error) {
	inputs := make([]store.SeedInput, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		keyword := strings.TrimSpace(c.Name)
		if keyword == "" {
			r.logger.Debug().Str("code", c.Code).Msg("skipping candidate without name")
			continue
		}
		// Two chart codes can share a title; the better-ranked one comes first.
		if seen[keyword] {
			continue
		}
		seen[keyword] = true

		var year *int
		if y := source.ParseYear(c.OpenDate); y > 0 {
			year = &y
		}
		inputs = append(inputs, store.SeedInput{
			Keyword:   keyword,
			Source:    string(r.source),
			MediaType: r.mediaType,
			Year:      year,
			Rank:      c.Rank,
			Audience:  c.Audience,
			Raw: store.Payload{
				"code":      c.Code,
				"name":      c.Name,
				"open_date": c.OpenDate,
			},
		})
	}

	seeds, err := r.store.UpsertSeeds(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("register seeds: %w", err)
	}
	return seeds, nil
}
