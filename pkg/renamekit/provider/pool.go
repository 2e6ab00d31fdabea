package provider

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/renamekit/renamekit/pkg/renamekit/core"
	"github.com/renamekit/renamekit/pkg/renamekit/query"
)

// Pool populates the cache from a Provider with a bounded number of
// workers. It never runs on the caller's planning path; build/preview read
// only from the cache while the pool fills it concurrently.
type Pool struct {
	provider Provider
	queries  *query.Manager
	workers  int
	logger   zerolog.Logger
}

// NewPool creates a pool with the given concurrency. workers <= 0 selects a
// small default.
func NewPool(p Provider, q *query.Manager, workers int, logger zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	return &Pool{
		provider: p,
		queries:  q,
		workers:  workers,
		logger:   logger.With().Str("component", "pool").Logger(),
	}
}

// Populate fetches the requested fields for every record and writes them
// through the cache. Cancellation is cooperative: the token is checked
// between files, and a cancelled task leaves no half-written entries. The
// first provider failure is returned after in-flight work drains; files
// that failed simply stay absent from the cache.
func (p *Pool) Populate(ctx context.Context, records []core.FileRecord, fields []string) error {
	if len(records) == 0 {
		return nil
	}

	p.logger.Debug().
		Int("files", len(records)).
		Int("workers", p.workers).
		Msg("starting cache population")

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for _, rec := range records {
		rec := rec
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := p.queries.Populate(ctx, rec, fields, p.provider); err != nil {
				p.logger.Warn().Err(err).Str("path", rec.Path).Msg("population failed")
				return err
			}
			return nil
		})
	}

	err := g.Wait()
	p.logger.Debug().Err(err).Msg("cache population finished")
	return err
}
