package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/macroecon/internal/fetch"
	"github.com/aristath/macroecon/internal/series"
)

// DefaultWarmTimeout bounds one warm run across all trees.
const DefaultWarmTimeout = 30 * time.Minute

// TreeBuilder builds named trees.
type TreeBuilder interface {
	Build(name string) (*series.Node, error)
}

// TreeFetcher resolves every sourced node of a tree.
type TreeFetcher interface {
	FetchTree(ctx context.Context, root *series.Node, opts fetch.Options) (map[string]fetch.Result, error)
}

// WarmCacheJob fetches every sourced node of the configured trees so that
// later reads are served from the cache store. It only ever adds entries.
type WarmCacheJob struct {
	log     zerolog.Logger
	trees   []string
	builder TreeBuilder
	fetcher TreeFetcher
	timeout time.Duration
}

// NewWarmCacheJob creates a warm job for the named trees.
func NewWarmCacheJob(trees []string, builder TreeBuilder, fetcher TreeFetcher, log zerolog.Logger) *WarmCacheJob {
	return &WarmCacheJob{
		log:     log.With().Str("job", "warm_cache").Logger(),
		trees:   trees,
		builder: builder,
		fetcher: fetcher,
		timeout: DefaultWarmTimeout,
	}
}

// SetTimeout overrides DefaultWarmTimeout.
func (j *WarmCacheJob) SetTimeout(d time.Duration) {
	j.timeout = d
}

// Name returns the job name
func (j *WarmCacheJob) Name() string {
	return "warm_cache"
}

// Run warms every tree in turn. A failing tree does not stop the others;
// failures are joined into the returned error.
func (j *WarmCacheJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	return j.RunContext(ctx)
}

// RunContext is Run under a caller-supplied context.
func (j *WarmCacheJob) RunContext(ctx context.Context) error {
	start := time.Now()
	var errs []error
	fetched := 0

	for _, name := range j.trees {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		root, err := j.builder.Build(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		results, err := j.fetcher.FetchTree(ctx, root, fetch.Options{})
		fetched += len(results)
		if err != nil {
			j.log.Warn().Err(err).Str("tree", name).Int("fetched", len(results)).Msg("Tree warmed with failures")
			errs = append(errs, fmt.Errorf("warm %s: %w", name, err))
			continue
		}
		j.log.Debug().Str("tree", name).Int("fetched", len(results)).Msg("Tree warmed")
	}

	j.log.Info().
		Int("trees", len(j.trees)).
		Int("series", fetched).
		Int("failed", len(errs)).
		Dur("duration", time.Since(start)).
		Msg("Cache warm completed")

	return errors.Join(errs...)
}
