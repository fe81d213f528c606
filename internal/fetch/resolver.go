// Package fetch resolves tree nodes to data by trying their sources
// against the configured provider clients in order.
package fetch

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/macroecon/internal/cache"
	"github.com/aristath/macroecon/internal/domain"
	"github.com/aristath/macroecon/internal/series"
	"github.com/aristath/macroecon/internal/timeseries"
)

// ErrNoSource is returned when a node has no source any registered
// provider can serve.
var ErrNoSource = errors.New("no source for any configured provider")

// ErrUnknownProvider is returned when a caller pins a provider that is not registered.
var ErrUnknownProvider = errors.New("provider not configured")

// Ref pairs a node with one of its sources.
type Ref struct {
	Node   *series.Node
	Source series.Source
}

// Collect returns every (node, source) pair under root for provider, in
// pre-order. An empty provider matches every source.
func Collect(root *series.Node, provider string) []Ref {
	var refs []Ref
	root.Each(func(n *series.Node) bool {
		for _, src := range n.Sources {
			if provider == "" || src.Provider == provider {
				refs = append(refs, Ref{Node: n, Source: src})
			}
		}
		return true
	})
	return refs
}

// Resolver fetches node data through provider clients in priority order.
type Resolver struct {
	order    []string
	fetchers map[string]domain.SeriesFetcher
	log      zerolog.Logger
}

// NewResolver creates a resolver. order lists provider names by priority;
// fetchers whose provider is missing from order are tried last in the
// order given.
func NewResolver(order []string, log zerolog.Logger, fetchers ...domain.SeriesFetcher) *Resolver {
	r := &Resolver{
		fetchers: make(map[string]domain.SeriesFetcher, len(fetchers)),
		log:      log.With().Str("service", "resolver").Logger(),
	}
	for _, f := range fetchers {
		r.fetchers[f.Provider()] = f
	}

	seen := make(map[string]bool)
	for _, p := range order {
		if _, ok := r.fetchers[p]; ok && !seen[p] {
			r.order = append(r.order, p)
			seen[p] = true
		}
	}
	for _, f := range fetchers {
		if !seen[f.Provider()] {
			r.order = append(r.order, f.Provider())
			seen[f.Provider()] = true
		}
	}
	return r
}

// Providers returns the provider names in the order they are tried.
func (r *Resolver) Providers() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Options narrows a resolution.
type Options struct {
	Start string
	End   string
	// Provider pins resolution to one provider when set.
	Provider string
}

// Resolve fetches the data of node. Providers are tried in order and,
// within a provider, the node's sources in declared order; the first
// success wins. When every attempt fails the errors are joined. A corrupt
// cache entry stops resolution instead of falling through to another source.
func (r *Resolver) Resolve(ctx context.Context, node *series.Node, opts Options) (*timeseries.Frame, series.Source, error) {
	providers := r.order
	if opts.Provider != "" {
		if _, ok := r.fetchers[opts.Provider]; !ok {
			return nil, series.Source{}, fmt.Errorf("%w: %s", ErrUnknownProvider, opts.Provider)
		}
		providers = []string{opts.Provider}
	}

	var errs []error
	tried := 0
	for _, p := range providers {
		fetcher := r.fetchers[p]
		for _, src := range node.Sources {
			if src.Provider != p {
				continue
			}
			tried++

			frame, err := fetcher.FetchSeries(ctx, src.SeriesID, domain.FetchOptions{
				Start:  opts.Start,
				End:    opts.End,
				Params: src.Params(),
			})
			if err == nil {
				return frame, src, nil
			}
			if ctx.Err() != nil {
				return nil, series.Source{}, ctx.Err()
			}
			if errors.Is(err, cache.ErrCorruptEntry) {
				return nil, series.Source{}, fmt.Errorf("resolve %s: %s: %w", node.Code, src.String(), err)
			}

			r.log.Warn().
				Err(err).
				Str("node", node.Code).
				Str("source", src.String()).
				Msg("Source failed, trying next")
			errs = append(errs, fmt.Errorf("%s: %w", src.String(), err))
		}
	}

	if tried == 0 {
		return nil, series.Source{}, fmt.Errorf("%w: node %s", ErrNoSource, node.Code)
	}
	return nil, series.Source{}, fmt.Errorf("resolve %s: %w", node.Code, errors.Join(errs...))
}

// Result is the outcome of resolving one node during a tree fetch.
type Result struct {
	Frame  *timeseries.Frame
	Source series.Source
}

// FetchTree resolves every node under root that has a source some provider
// serves. Results are keyed by node code. Nodes without a usable source
// are skipped; failures of sourced nodes are joined into the returned
// error alongside the partial results.
func (r *Resolver) FetchTree(ctx context.Context, root *series.Node, opts Options) (map[string]Result, error) {
	results := make(map[string]Result)
	var errs []error

	for _, node := range root.Walk() {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		frame, src, err := r.Resolve(ctx, node, opts)
		switch {
		case err == nil:
			results[node.Code] = Result{Frame: frame, Source: src}
		case errors.Is(err, ErrNoSource):
			continue
		case ctx.Err() != nil:
			return results, ctx.Err()
		default:
			errs = append(errs, err)
		}
	}

	r.log.Info().
		Str("root", root.Code).
		Int("fetched", len(results)).
		Int("failed", len(errs)).
		Msg("Tree fetch completed")

	return results, errors.Join(errs...)
}
