package bea

import (
	"context"
	"encoding/json"
	"math"
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

const tableJSON = `{"BEAAPI": {"Results": {"Data": [
	{"LineNumber": "1", "LineDescription": "Gross domestic product", "TimePeriod": "2024Q1", "DataValue": "28,269.2"},
	{"LineNumber": "1", "LineDescription": "Gross domestic product", "TimePeriod": "2023Q4", "DataValue": "27,956.0"},
	{"LineNumber": "1", "LineDescription": "Gross domestic product", "TimePeriod": "2024Q2", "DataValue": "28,652.3"},
	{"LineNumber": "2", "LineDescription": "Personal consumption expenditures", "TimePeriod": "2024Q1", "DataValue": "19,424.9"},
	{"LineNumber": "2", "LineDescription": "Personal consumption expenditures", "TimePeriod": "2024Q2", "DataValue": "(NA)"}
]}}}`

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

func quarter(year, q int) time.Time {
	return time.Date(year, time.Month((q-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
}

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"2024Q3", time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), false},
		{"2024Q1", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), false},
		{"2024M09", time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC), false},
		{"2024", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), false},
		{"2024Q5", time.Time{}, true},
		{"2024M13", time.Time{}, true},
		{"24Q1", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePeriod(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFetchNIPATable(t *testing.T) {
	var calls int32
	client, store := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		q := r.URL.Query()
		assert.Equal(t, "test-key", q.Get("UserID"))
		assert.Equal(t, "JSON", q.Get("ResultFormat"))
		assert.Equal(t, "GetData", q.Get("Method"))
		assert.Equal(t, "NIPA", q.Get("datasetname"))
		assert.Equal(t, "T10105", q.Get("TableName"))
		assert.Equal(t, "Q", q.Get("Frequency"))
		assert.Equal(t, "ALL", q.Get("Year"))
		w.Write([]byte(tableJSON))
	})

	frame, err := client.FetchNIPATable(context.Background(), "T10105", "", "")
	require.NoError(t, err)

	assert.Equal(t, []time.Time{quarter(2023, 4), quarter(2024, 1), quarter(2024, 2)}, frame.Index)
	assert.Equal(t, []string{"line_1", "line_2"}, frame.ColumnNames())

	gdp, _ := frame.Column("line_1")
	assert.Equal(t, []float64{27956.0, 28269.2, 28652.3}, gdp)

	pce, _ := frame.Column("line_2")
	assert.True(t, math.IsNaN(pce[0]), "line 2 has no 2023Q4 row")
	assert.Equal(t, 19424.9, pce[1])
	assert.True(t, math.IsNaN(pce[2]), "(NA) is NaN")

	_, err = client.FetchNIPATable(context.Background(), "T10105", "Q", "ALL")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	entries, err := store.ListEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "T10105", entries[0].Metadata["table"])
	lines, ok := entries[0].Metadata["lines"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Gross domestic product", lines["line_1"])
}

func TestFetchSeries(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "T10105", r.URL.Query().Get("TableName"))
		w.Write([]byte(tableJSON))
	})

	opts := domain.FetchOptions{
		Start:  "2024-01-01",
		Params: map[string]string{"line_number": "1", "frequency": "Q"},
	}
	frame, err := client.FetchSeries(context.Background(), "T10105", opts)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{quarter(2024, 1), quarter(2024, 2)}, frame.Index)
	assert.Equal(t, []float64{28269.2, 28652.3}, frame.Values())

	pce, err := client.FetchSeries(context.Background(), "PCE", domain.FetchOptions{
		Params: map[string]string{"table": "T10105", "line_number": "2"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, pce.Len(), "missing values are dropped")

	_, err = client.FetchSeries(context.Background(), "T10105", domain.FetchOptions{
		Params: map[string]string{"line_number": "99"},
	})
	assert.Error(t, err)
}

func TestFetchSeries_RequiresLine(t *testing.T) {
	client := NewClient("k", nil, nil, zerolog.Nop())

	_, err := client.FetchSeries(context.Background(), "T10105", domain.FetchOptions{})
	assert.ErrorIs(t, err, ErrMissingLine)
}

func TestFetchSeries_MissingKey(t *testing.T) {
	client := NewClient("", nil, nil, zerolog.Nop())

	_, err := client.FetchSeries(context.Background(), "T10105", domain.FetchOptions{
		Params: map[string]string{"line_number": "1"},
	})
	assert.ErrorIs(t, err, base.ErrMissingAPIKey)
}

func TestAPIError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"BEAAPI": {"Results": {"Error": {"APIErrorCode": "1", "APIErrorDescription": "Invalid TableName"}}}}`))
	})

	_, err := client.FetchNIPATable(context.Background(), "T99999", "Q", "ALL")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid TableName")
}

func TestUnexpectedResponse(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"something": "else"}`))
	})

	_, err := client.FetchNIPATable(context.Background(), "T10105", "Q", "ALL")
	assert.Error(t, err)
}

func TestListTables(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "GetParameterValues", r.URL.Query().Get("Method"))
		assert.Equal(t, "TableName", r.URL.Query().Get("ParameterName"))
		w.Write([]byte(`{"BEAAPI": {"Results": {"ParamValue": [
			{"TableName": "T10105", "Description": "Table 1.1.5. Gross Domestic Product (A) (Q)"},
			{"TableName": "T20805", "Description": "Table 2.8.5. Personal Consumption Expenditures by Major Type of Product, Monthly (M)"}
		]}}}`))
	})

	tables, err := client.ListTables(context.Background())
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, "T20805", tables[1].TableName)

	_, err = client.ListTables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
