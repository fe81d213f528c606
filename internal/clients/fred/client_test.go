package fred

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/macroecon/internal/cache"
	"github.com/aristath/macroecon/internal/clients/base"
	"github.com/aristath/macroecon/internal/domain"
	"github.com/aristath/macroecon/internal/series"
)

type memMeta map[string]json.RawMessage

func (m memMeta) GetIfFresh(table, key string) (json.RawMessage, error) {
	return m[table+"/"+key], nil
}

func (m memMeta) Store(table, key string, data interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	m[table+"/"+key] = raw
	return nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *cache.Store) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store, err := cache.NewStore(t.TempDir(), time.Hour, zerolog.Nop())
	require.NoError(t, err)

	client := NewClient("test-key", store, memMeta{}, zerolog.Nop())
	client.baseURL = server.URL
	client.SetInterval(0)
	return client, store
}

const observationsJSON = `{
	"observations": [
		{"date": "2024-02-01", "value": "310.3"},
		{"date": "2024-01-01", "value": "309.7"},
		{"date": "2024-03-01", "value": "."}
	]
}`

func TestFetchSeries(t *testing.T) {
	var calls int32
	client, store := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/series/observations", r.URL.Path)
		assert.Equal(t, "CPIAUCSL", r.URL.Query().Get("series_id"))
		assert.Equal(t, "test-key", r.URL.Query().Get("api_key"))
		assert.Equal(t, "json", r.URL.Query().Get("file_type"))
		assert.Equal(t, "2024-01-01", r.URL.Query().Get("observation_start"))
		assert.Empty(t, r.URL.Query().Get("observation_end"))
		w.Write([]byte(observationsJSON))
	})

	opts := domain.FetchOptions{Start: "2024-01-01"}
	frame, err := client.FetchSeries(context.Background(), "CPIAUCSL", opts)
	require.NoError(t, err)

	require.Equal(t, 2, frame.Len())
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), frame.Index[0])
	assert.Equal(t, []float64{309.7, 310.3}, frame.Values())

	// Second call is served from the cache.
	again, err := client.FetchSeries(context.Background(), "CPIAUCSL", opts)
	require.NoError(t, err)
	assert.True(t, frame.Equal(again))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	key := cache.MakeKey("fred", "CPIAUCSL", map[string]any{"start": "2024-01-01", "end": nil})
	entries, err := store.ListEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, key, entries[0].Key)
	assert.Equal(t, "fred", entries[0].Metadata["source"])
	assert.Equal(t, "CPIAUCSL", entries[0].Metadata["series_id"])
}

func TestFetchSeries_MissingKey(t *testing.T) {
	client := NewClient("", nil, nil, zerolog.Nop())

	_, err := client.FetchSeries(context.Background(), "GDP", domain.FetchOptions{})
	assert.ErrorIs(t, err, base.ErrMissingAPIKey)
}

func TestFetchSeries_StatusError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error_message":"Bad Request. The series does not exist."}`, http.StatusBadRequest)
	})

	_, err := client.FetchSeries(context.Background(), "NOPE", domain.FetchOptions{})
	require.Error(t, err)

	var statusErr *base.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
}

func TestFetchNode(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "PCE", r.URL.Query().Get("series_id"))
		w.Write([]byte(observationsJSON))
	})

	node := series.NewNode("Personal Consumption", "PCE", series.WithSources(
		series.NewSource(series.ProviderBEA, "T20805", map[string]string{"line_number": "1"}),
		series.FRED("PCE"),
	))
	frame, err := client.FetchNode(context.Background(), node, domain.FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, frame.Len())

	_, err = client.FetchNode(context.Background(), series.NewNode("Bare", "BARE"), domain.FetchOptions{})
	assert.Error(t, err)
}

func TestSeriesInfo_CachesLookup(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/series", r.URL.Path)
		w.Write([]byte(`{"seriess":[{"id":"GDP","title":"Gross Domestic Product","units":"Billions of Dollars","frequency":"Quarterly"}]}`))
	})

	info, err := client.SeriesInfo(context.Background(), "GDP")
	require.NoError(t, err)
	assert.Equal(t, "Gross Domestic Product", info.Title)
	assert.Equal(t, "Quarterly", info.Frequency)

	_, err = client.SeriesInfo(context.Background(), "GDP")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSeriesInfo_NotFound(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"seriess":[]}`))
	})

	_, err := client.SeriesInfo(context.Background(), "NOPE")
	assert.Error(t, err)
}

func TestSearch(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/series/search", r.URL.Path)
		assert.Equal(t, "core inflation", r.URL.Query().Get("search_text"))
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		w.Write([]byte(`{"seriess":[{"id":"CPILFESL","title":"CPI less food and energy"},{"id":"PCEPILFE","title":"PCE excluding food and energy"}]}`))
	})

	results, err := client.Search(context.Background(), "core inflation", 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "CPILFESL", results[0].ID)
}

func TestProvider(t *testing.T) {
	assert.Equal(t, "fred", NewClient("k", nil, nil, zerolog.Nop()).Provider())
}
