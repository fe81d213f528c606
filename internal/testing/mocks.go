package testing

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/macroecon/internal/domain"
	"github.com/aristath/macroecon/internal/timeseries"
)

// FakeFetcher is an in-memory domain.SeriesFetcher for one provider.
type FakeFetcher struct {
	mu       sync.Mutex
	provider string
	series   map[string]*timeseries.Frame
	errs     map[string]error
	calls    []string
}

// NewFakeFetcher creates a fetcher answering for provider.
func NewFakeFetcher(provider string) *FakeFetcher {
	return &FakeFetcher{
		provider: provider,
		series:   make(map[string]*timeseries.Frame),
		errs:     make(map[string]error),
	}
}

// SetSeries registers the frame returned for seriesID.
func (f *FakeFetcher) SetSeries(seriesID string, frame *timeseries.Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.series[seriesID] = frame
}

// SetError makes requests for seriesID fail with err.
func (f *FakeFetcher) SetError(seriesID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[seriesID] = err
}

// Calls returns the requested series ids in order.
func (f *FakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// Provider implements domain.SeriesFetcher.
func (f *FakeFetcher) Provider() string {
	return f.provider
}

// FetchSeries returns a copy of the registered frame, trimmed to the
// requested dates. Unknown ids fail.
func (f *FakeFetcher) FetchSeries(ctx context.Context, seriesID string, opts domain.FetchOptions) (*timeseries.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, seriesID)

	if err := f.errs[seriesID]; err != nil {
		return nil, err
	}
	frame, ok := f.series[seriesID]
	if !ok {
		return nil, fmt.Errorf("%s: series %s not found", f.provider, seriesID)
	}

	start, err := timeseries.ParseDate(opts.Start)
	if err != nil {
		return nil, err
	}
	end, err := timeseries.ParseDate(opts.End)
	if err != nil {
		return nil, err
	}
	return frame.Clone().Between(start, end), nil
}

type metaEntry struct {
	data    json.RawMessage
	expires time.Time
}

// MemMetadata is an in-memory domain.MetadataCache.
type MemMetadata struct {
	mu      sync.Mutex
	entries map[string]metaEntry
	now     func() time.Time
}

// NewMemMetadata creates an empty metadata cache.
func NewMemMetadata() *MemMetadata {
	return &MemMetadata{entries: make(map[string]metaEntry), now: time.Now}
}

// GetIfFresh implements domain.MetadataCache.
func (m *MemMetadata) GetIfFresh(table, key string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[table+"/"+key]
	if !ok || !m.now().Before(e.expires) {
		return nil, nil
	}
	return e.data, nil
}

// Store implements domain.MetadataCache.
func (m *MemMetadata) Store(table, key string, data interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[table+"/"+key] = metaEntry{data: raw, expires: m.now().Add(ttl)}
	return nil
}

// Len returns the number of stored documents, fresh or not.
func (m *MemMetadata) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
