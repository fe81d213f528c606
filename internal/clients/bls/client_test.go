package bls

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/macroecon/internal/cache"
	"github.com/aristath/macroecon/internal/domain"
	"github.com/aristath/macroecon/internal/series"
)

// fakeBLS answers every requested series with monthly data for the
// requested years and records the requests it saw.
type fakeBLS struct {
	mu       sync.Mutex
	requests []request
	status   string
	message  []string
}

func (f *fakeBLS) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		f.mu.Lock()
		f.requests = append(f.requests, req)
		status := f.status
		f.mu.Unlock()

		if status == "" {
			status = statusSucceeded
		}

		type entry struct {
			SeriesID string   `json:"seriesID"`
			Data     []record `json:"data"`
		}
		var out []entry
		for _, id := range req.SeriesID {
			var data []record
			var from, to int
			fmt.Sscan(req.StartYear, &from)
			fmt.Sscan(req.EndYear, &to)
			for y := to; y >= from; y-- {
				data = append(data, record{Year: fmt.Sprint(y), Period: "M13", Value: "999"})
				for m := 12; m >= 1; m-- {
					data = append(data, record{Year: fmt.Sprint(y), Period: fmt.Sprintf("M%02d", m), Value: fmt.Sprintf("%d.%d", y, m)})
				}
			}
			out = append(out, entry{SeriesID: id, Data: data})
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  status,
			"message": f.message,
			"Results": map[string]interface{}{"series": out},
		})
	}
}

func (f *fakeBLS) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func newTestClient(t *testing.T, apiKey string, fake *fakeBLS) *Client {
	server := httptest.NewServer(fake.handler(t))
	t.Cleanup(server.Close)

	store, err := cache.NewStore(t.TempDir(), time.Hour, zerolog.Nop())
	require.NoError(t, err)

	client := NewClient(apiKey, store, zerolog.Nop())
	client.url = server.URL
	client.SetInterval(0)
	client.now = func() time.Time { return time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC) }
	return client
}

func TestNewClient_Limits(t *testing.T) {
	keyed := NewClient("key", nil, zerolog.Nop())
	assert.Equal(t, 50, keyed.maxSeries)
	assert.Equal(t, 20, keyed.maxYears)
	assert.Contains(t, keyed.url, "/v2/")

	keyless := NewClient("", nil, zerolog.Nop())
	assert.Equal(t, 25, keyless.maxSeries)
	assert.Equal(t, 10, keyless.maxYears)
	assert.Contains(t, keyless.url, "/v1/")
}

func TestParseRecords(t *testing.T) {
	obs := parseRecords([]record{
		{Year: "2024", Period: "M13", Value: "300"},
		{Year: "2024", Period: "Q01", Value: "300"},
		{Year: "2024", Period: "M02", Value: "310.5"},
		{Year: "2024", Period: "M01", Value: "-"},
		{Year: "2023", Period: "M12", Value: "1,234.5"},
	})

	require.Len(t, obs, 3)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), obs[0].Date)
	assert.Equal(t, 310.5, obs[0].Value)
	assert.True(t, math.IsNaN(obs[1].Value), "dash parses as NaN")
	assert.Equal(t, 1234.5, obs[2].Value)
}

func TestFetchSeries(t *testing.T) {
	fake := &fakeBLS{}
	client := newTestClient(t, "key", fake)

	opts := domain.FetchOptions{Start: "2023-03-01", End: "2023-05-01"}
	frame, err := client.FetchSeries(context.Background(), "CUSR0000SA0", opts)
	require.NoError(t, err)

	require.Equal(t, 3, frame.Len())
	assert.Equal(t, time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC), frame.Index[0])
	assert.Equal(t, []float64{2023.3, 2023.4, 2023.5}, frame.Values())

	require.Len(t, fake.requests, 1)
	assert.Equal(t, "2023", fake.requests[0].StartYear)
	assert.Equal(t, "2023", fake.requests[0].EndYear)
	assert.Equal(t, "key", fake.requests[0].RegistrationKey)

	// Another range inside the same year is served from the cache.
	_, err = client.FetchSeries(context.Background(), "CUSR0000SA0", domain.FetchOptions{Start: "2023-01-01", End: "2023-12-01"})
	require.NoError(t, err)
	assert.Equal(t, 1, fake.count())
}

func TestFetchSeries_DefaultRangeIsChunked(t *testing.T) {
	fake := &fakeBLS{}
	client := newTestClient(t, "", fake)

	frame, err := client.FetchSeries(context.Background(), "LNS14000000", domain.FetchOptions{})
	require.NoError(t, err)

	// 2014 through 2024 is eleven years; keyless requests carry ten.
	require.Equal(t, 2, fake.count())
	assert.Equal(t, "2014", fake.requests[0].StartYear)
	assert.Equal(t, "2023", fake.requests[0].EndYear)
	assert.Equal(t, "2024", fake.requests[1].StartYear)
	assert.Equal(t, "2024", fake.requests[1].EndYear)
	assert.Empty(t, fake.requests[0].RegistrationKey)

	assert.Equal(t, 11*12, frame.Len())
	assert.NoError(t, frame.Validate())
}

func TestFetchSeries_APIError(t *testing.T) {
	fake := &fakeBLS{status: "REQUEST_NOT_PROCESSED", message: []string{"Daily threshold reached"}}
	client := newTestClient(t, "key", fake)

	_, err := client.FetchSeries(context.Background(), "CUSR0000SA0", domain.FetchOptions{Start: "2024-01-01"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Daily threshold reached")
}

func TestFetchMultiple_BatchesAndCaches(t *testing.T) {
	fake := &fakeBLS{}
	client := newTestClient(t, "", fake)

	ids := make([]string, 30)
	for i := range ids {
		ids[i] = fmt.Sprintf("CES%08d01", i)
	}
	ids = append(ids, ids[0])

	results, err := client.FetchMultiple(context.Background(), ids, 2022, 2024)
	require.NoError(t, err)
	assert.Len(t, results, 30)
	require.Equal(t, 2, fake.count())
	assert.Len(t, fake.requests[0].SeriesID, 25)
	assert.Len(t, fake.requests[1].SeriesID, 5)
	assert.Equal(t, 36, results[ids[7]].Len())

	again, err := client.FetchMultiple(context.Background(), ids, 2022, 2024)
	require.NoError(t, err)
	assert.Len(t, again, 30)
	assert.Equal(t, 2, fake.count(), "second call is served from the cache")
}

func TestFetchNodeTree(t *testing.T) {
	fake := &fakeBLS{}
	client := newTestClient(t, "key", fake)

	root := series.NewNode("CPI", "CPI",
		series.WithSources(series.NewSource(series.ProviderBLS, "CUSR0000SA0", nil), series.FRED("CPIAUCSL")),
		series.WithChildren(
			series.NewNode("Food", "FOOD", series.WithSources(series.NewSource(series.ProviderBLS, "CUSR0000SAF1", nil))),
			series.NewNode("FRED only", "FO", series.WithSources(series.FRED("X"))),
		),
	)

	frames, err := client.FetchNodeTree(context.Background(), root, 2024, 2024)
	require.NoError(t, err)
	assert.Len(t, frames, 2)
	assert.Contains(t, frames, "CPI")
	assert.Contains(t, frames, "FOOD")
	assert.NotContains(t, frames, "FO")
	require.Equal(t, 1, fake.count())
	assert.ElementsMatch(t, []string{"CUSR0000SA0", "CUSR0000SAF1"}, fake.requests[0].SeriesID)

	empty, err := client.FetchNodeTree(context.Background(), series.NewNode("X", "X"), 0, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
