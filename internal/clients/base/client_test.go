package base

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/macroecon/internal/cache"
	"github.com/aristath/macroecon/internal/timeseries"
)

func newStore(t *testing.T) *cache.Store {
	store, err := cache.NewStore(t.TempDir(), time.Hour, zerolog.Nop())
	require.NoError(t, err)
	return store
}

func sample() *timeseries.Frame {
	return timeseries.NewSeries([]time.Time{time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}, []float64{1})
}

func TestCached_FetchesOnceThenHits(t *testing.T) {
	c := New("fred", time.Millisecond, newStore(t), zerolog.Nop())

	calls := 0
	fetch := func() (*timeseries.Frame, error) {
		calls++
		return sample(), nil
	}

	first, err := c.Cached("0123456789abcdef", map[string]any{"provider": "fred"}, fetch)
	require.NoError(t, err)
	second, err := c.Cached("0123456789abcdef", nil, fetch)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.True(t, first.Equal(second))
}

func TestCached_WithoutStore(t *testing.T) {
	c := New("fred", time.Millisecond, nil, zerolog.Nop())

	calls := 0
	for i := 0; i < 2; i++ {
		_, err := c.Cached("0123456789abcdef", nil, func() (*timeseries.Frame, error) {
			calls++
			return sample(), nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, calls)
}

func TestCached_PropagatesFetchError(t *testing.T) {
	store := newStore(t)
	c := New("fred", time.Millisecond, store, zerolog.Nop())
	boom := errors.New("boom")

	_, err := c.Cached("0123456789abcdef", nil, func() (*timeseries.Frame, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	entries, err := store.ListEntries()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCached_CorruptEntryIsAnError(t *testing.T) {
	store := newStore(t)
	c := New("fred", time.Millisecond, store, zerolog.Nop())
	key := "0123456789abcdef"
	require.NoError(t, store.Put(key, sample(), nil))
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), key+".meta.json"), []byte("not json"), 0644))

	calls := 0
	_, err := c.Cached(key, nil, func() (*timeseries.Frame, error) {
		calls++
		return sample(), nil
	})
	assert.ErrorIs(t, err, cache.ErrCorruptEntry)
	assert.Zero(t, calls)

	frame, err := c.Lookup(key)
	assert.ErrorIs(t, err, cache.ErrCorruptEntry)
	assert.Nil(t, frame)
}

type failingCache struct{ err error }

func (f failingCache) Get(string) (*timeseries.Frame, error) { return nil, nil }

func (f failingCache) Put(string, *timeseries.Frame, map[string]any) error { return f.err }

func TestCached_PropagatesWriteError(t *testing.T) {
	diskFull := errors.New("no space left on device")
	c := New("bls", time.Millisecond, failingCache{err: diskFull}, zerolog.Nop())

	frame, err := c.Cached("0123456789abcdef", nil, func() (*timeseries.Frame, error) { return sample(), nil })
	assert.ErrorIs(t, err, diskFull)
	assert.ErrorContains(t, err, "bls cache write")
	assert.Nil(t, frame)

	assert.ErrorIs(t, c.Remember("0123456789abcdef", sample(), nil), diskFull)
}

func TestGetJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	c := New("fred", time.Millisecond, nil, zerolog.Nop())
	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, c.GetJSON(context.Background(), server.URL, &out))
	assert.True(t, out.OK)
}

func TestDo_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error_message":"Bad Request. The series does not exist."}`))
	}))
	defer server.Close()

	c := New("fred", time.Millisecond, nil, zerolog.Nop())
	var out map[string]any
	err := c.GetJSON(context.Background(), server.URL, &out)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	assert.Contains(t, statusErr.Error(), "series does not exist")
}

func TestPostJSON_SendsBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(`{"status":"REQUEST_SUCCEEDED"}`))
	}))
	defer server.Close()

	c := New("bls", time.Millisecond, nil, zerolog.Nop())
	var out struct {
		Status string `json:"status"`
	}
	require.NoError(t, c.PostJSON(context.Background(), server.URL, map[string]any{"seriesid": []string{"X"}}, &out))
	assert.Equal(t, "REQUEST_SUCCEEDED", out.Status)
}

func TestDo_ContextCancelled(t *testing.T) {
	c := New("bea", time.Hour, nil, zerolog.Nop())
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	// first request consumes the burst
	var out map[string]any
	require.NoError(t, c.GetJSON(context.Background(), server.URL, &out))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := c.GetJSON(ctx, server.URL, &out)
	assert.Error(t, err)
}

func TestOptional(t *testing.T) {
	assert.Nil(t, Optional(""))
	assert.Equal(t, "2020-01-01", Optional("2020-01-01"))
}
