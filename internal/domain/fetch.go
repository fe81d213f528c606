// Package domain holds the contracts shared by the provider clients, the
// fetch orchestration and the HTTP surface.
package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aristath/macroecon/internal/timeseries"
)

// FetchOptions narrows a provider request. Start and End are YYYY-MM-DD
// strings and may be empty. Params carries provider qualifiers such as the
// BEA table and line number.
type FetchOptions struct {
	Start  string
	End    string
	Params map[string]string
}

// Param returns one provider qualifier, or "" when unset.
func (o FetchOptions) Param(key string) string {
	return o.Params[key]
}

// WithParams returns a copy of o whose Params are replaced.
func (o FetchOptions) WithParams(params map[string]string) FetchOptions {
	o.Params = params
	return o
}

// SeriesFetcher retrieves one series from a provider. Results have a single
// value column, an ascending index without duplicates and NaN for values
// the provider could not report.
type SeriesFetcher interface {
	Provider() string
	FetchSeries(ctx context.Context, seriesID string, opts FetchOptions) (*timeseries.Frame, error)
}

// SeriesCache is the part of the cache store the clients depend on.
// Get returns nil, nil on a miss.
type SeriesCache interface {
	Get(key string) (*timeseries.Frame, error)
	Put(key string, frame *timeseries.Frame, tags map[string]any) error
}

// MetadataCache stores JSON documents with an expiry, for provider lookups
// that are not time series (series info, table lists, search results).
// GetIfFresh returns nil, nil on a miss.
type MetadataCache interface {
	GetIfFresh(table, key string) (json.RawMessage, error)
	Store(table, key string, data interface{}, ttl time.Duration) error
}
