// Package bea provides a client for the BEA NIPA tables.
//
// Every NIPA call returns a whole table, so tables are cached as one frame
// with a column per line and single series are cut from it.
package bea

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/macroecon/internal/cache"
	"github.com/aristath/macroecon/internal/clientdata"
	"github.com/aristath/macroecon/internal/clients/base"
	"github.com/aristath/macroecon/internal/config"
	"github.com/aristath/macroecon/internal/domain"
	"github.com/aristath/macroecon/internal/series"
	"github.com/aristath/macroecon/internal/timeseries"
)

// RequestInterval is the minimum spacing between BEA requests.
const RequestInterval = 600 * time.Millisecond

// DefaultFrequency is used when a source does not name one.
const DefaultFrequency = "Q"

// AllYears requests the full history of a table.
const AllYears = "ALL"

const tableListKey = "NIPA"

// ErrMissingLine is returned by FetchSeries when no line_number is given.
var ErrMissingLine = errors.New("line_number is required for BEA series")

var (
	quarterPattern = regexp.MustCompile(`^(\d{4})Q([1-4])$`)
	monthPattern   = regexp.MustCompile(`^(\d{4})M(\d{2})$`)
	yearPattern    = regexp.MustCompile(`^(\d{4})$`)
)

// TableInfo describes one NIPA table.
type TableInfo struct {
	TableName   string `json:"TableName"`
	Description string `json:"Description"`
}

// Client fetches NIPA tables from BEA.
type Client struct {
	*base.Client
	baseURL string
	apiKey  string
	meta    domain.MetadataCache
}

// NewClient creates a BEA client. cache and meta are optional.
func NewClient(apiKey string, cache domain.SeriesCache, meta domain.MetadataCache, log zerolog.Logger) *Client {
	return &Client{
		Client:  base.New(series.ProviderBEA, RequestInterval, cache, log),
		baseURL: config.BEAAPIURL,
		apiKey:  apiKey,
		meta:    meta,
	}
}

type dataRow struct {
	LineNumber      string `json:"LineNumber"`
	LineDescription string `json:"LineDescription"`
	TimePeriod      string `json:"TimePeriod"`
	DataValue       string `json:"DataValue"`
}

type results struct {
	Error      json.RawMessage `json:"Error"`
	Data       []dataRow       `json:"Data"`
	ParamValue []TableInfo     `json:"ParamValue"`
}

type envelope struct {
	BEAAPI *struct {
		Error   json.RawMessage `json:"Error"`
		Results json.RawMessage `json:"Results"`
	} `json:"BEAAPI"`
}

// request runs one API call and returns its Results block.
func (c *Client) request(ctx context.Context, params url.Values) (*results, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("bea: %w", base.ErrMissingAPIKey)
	}

	c.Log().Info().
		Str("method", params.Get("Method")).
		Str("table", params.Get("TableName")).
		Str("frequency", params.Get("Frequency")).
		Msg("BEA API request")

	params.Set("UserID", c.apiKey)
	params.Set("ResultFormat", "JSON")

	var env envelope
	if err := c.GetJSON(ctx, c.baseURL+"?"+params.Encode(), &env); err != nil {
		return nil, err
	}
	if env.BEAAPI == nil {
		return nil, errors.New("unexpected BEA response: missing BEAAPI")
	}
	if len(env.BEAAPI.Error) > 0 {
		return nil, fmt.Errorf("BEA API error: %s", compact(env.BEAAPI.Error))
	}

	var res results
	if err := json.Unmarshal(env.BEAAPI.Results, &res); err != nil {
		return nil, fmt.Errorf("unexpected BEA results: %w", err)
	}
	if len(res.Error) > 0 {
		return nil, fmt.Errorf("BEA API error: %s", compact(res.Error))
	}
	return &res, nil
}

func compact(raw json.RawMessage) string {
	return strings.Join(strings.Fields(string(raw)), " ")
}

// ParsePeriod converts a BEA TimePeriod (2024Q3, 2024M09 or 2024) to the
// first day of the period.
func ParsePeriod(tp string) (time.Time, error) {
	if m := quarterPattern.FindStringSubmatch(tp); m != nil {
		year, _ := strconv.Atoi(m[1])
		q, _ := strconv.Atoi(m[2])
		return time.Date(year, time.Month((q-1)*3+1), 1, 0, 0, 0, 0, time.UTC), nil
	}
	if m := monthPattern.FindStringSubmatch(tp); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		if month < 1 || month > 12 {
			return time.Time{}, fmt.Errorf("cannot parse BEA TimePeriod: %s", tp)
		}
		return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC), nil
	}
	if m := yearPattern.FindStringSubmatch(tp); m != nil {
		year, _ := strconv.Atoi(m[1])
		return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC), nil
	}
	return time.Time{}, fmt.Errorf("cannot parse BEA TimePeriod: %s", tp)
}

// LineColumn names the frame column holding a table line.
func LineColumn(line int) string {
	return "line_" + strconv.Itoa(line)
}

// pivot turns table rows into a frame with one column per line number,
// ordered by line. Periods a line does not report are NaN.
func pivot(rows []dataRow) (*timeseries.Frame, map[string]string, error) {
	byLine := make(map[int][]timeseries.Observation)
	descriptions := make(map[string]string)
	dates := make(map[time.Time]bool)

	for _, r := range rows {
		line, err := strconv.Atoi(strings.TrimSpace(r.LineNumber))
		if err != nil {
			continue
		}
		date, err := ParsePeriod(r.TimePeriod)
		if err != nil {
			return nil, nil, err
		}
		byLine[line] = append(byLine[line], timeseries.Observation{Date: date, Value: timeseries.ParseValue(r.DataValue)})
		descriptions[LineColumn(line)] = r.LineDescription
		dates[date] = true
	}

	index := make([]time.Time, 0, len(dates))
	for d := range dates {
		index = append(index, d)
	}
	sort.Slice(index, func(i, j int) bool { return index[i].Before(index[j]) })

	lines := make([]int, 0, len(byLine))
	for line := range byLine {
		lines = append(lines, line)
	}
	sort.Ints(lines)

	frame := timeseries.NewFrame(index)
	for _, line := range lines {
		s := timeseries.FromObservations(byLine[line])
		pos := make(map[time.Time]float64, s.Len())
		for i, d := range s.Index {
			pos[d] = s.Columns[0].Values[i]
		}
		values := make([]float64, len(index))
		for i, d := range index {
			v, ok := pos[d]
			if !ok {
				v = math.NaN()
			}
			values[i] = v
		}
		frame.Columns = append(frame.Columns, timeseries.Column{Name: LineColumn(line), Values: values})
	}
	return frame, descriptions, nil
}

// FetchNIPATable returns a whole NIPA table as a frame with one line_<n>
// column per table line. Tables are cached per table, frequency and year.
func (c *Client) FetchNIPATable(ctx context.Context, table, frequency, year string) (*timeseries.Frame, error) {
	if frequency == "" {
		frequency = DefaultFrequency
	}
	if year == "" {
		year = AllYears
	}

	key := cache.MakeKey("bea_table", table, map[string]any{"frequency": frequency, "year": year})
	if frame, err := c.Lookup(key); err != nil || frame != nil {
		return frame, err
	}

	params := url.Values{}
	params.Set("Method", "GetData")
	params.Set("datasetname", "NIPA")
	params.Set("TableName", table)
	params.Set("Frequency", frequency)
	params.Set("Year", year)

	res, err := c.request(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("fetch BEA table %s: %w", table, err)
	}

	frame, descriptions, err := pivot(res.Data)
	if err != nil {
		return nil, fmt.Errorf("BEA table %s: %w", table, err)
	}

	if err := c.Remember(key, frame, map[string]any{
		"source":    series.ProviderBEA,
		"table":     table,
		"frequency": frequency,
		"year":      year,
		"lines":     descriptions,
	}); err != nil {
		return nil, err
	}
	return frame, nil
}

// FetchSeries cuts one line out of a NIPA table. opts must carry
// line_number; table defaults to seriesID and frequency to Q.
func (c *Client) FetchSeries(ctx context.Context, seriesID string, opts domain.FetchOptions) (*timeseries.Frame, error) {
	lineParam := opts.Param(series.ParamLineNumber)
	if lineParam == "" {
		return nil, ErrMissingLine
	}
	line, err := strconv.Atoi(lineParam)
	if err != nil {
		return nil, fmt.Errorf("invalid BEA line_number %q: %w", lineParam, err)
	}

	table := opts.Param(series.ParamTable)
	if table == "" {
		table = seriesID
	}

	frame, err := c.FetchNIPATable(ctx, table, opts.Param(series.ParamFrequency), AllYears)
	if err != nil {
		return nil, err
	}

	out, err := frame.Series(LineColumn(line))
	if err != nil {
		return nil, fmt.Errorf("BEA table %s has no line %d: %w", table, line, err)
	}

	start, err := timeseries.ParseDate(opts.Start)
	if err != nil {
		return nil, err
	}
	end, err := timeseries.ParseDate(opts.End)
	if err != nil {
		return nil, err
	}
	return out.Between(start, end).DropNaN(), nil
}

// ListTables returns the NIPA tables BEA publishes.
func (c *Client) ListTables(ctx context.Context) ([]TableInfo, error) {
	if c.meta != nil {
		data, err := c.meta.GetIfFresh(clientdata.TableBEATables, tableListKey)
		if err == nil && data != nil {
			var tables []TableInfo
			if err := json.Unmarshal(data, &tables); err == nil {
				return tables, nil
			}
		}
	}

	params := url.Values{}
	params.Set("Method", "GetParameterValues")
	params.Set("datasetname", "NIPA")
	params.Set("ParameterName", "TableName")

	res, err := c.request(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("list BEA tables: %w", err)
	}

	tables := res.ParamValue
	if tables == nil {
		tables = []TableInfo{}
	}
	if c.meta != nil {
		if err := c.meta.Store(clientdata.TableBEATables, tableListKey, tables, clientdata.TTLTableList); err != nil {
			c.Log().Warn().Err(err).Msg("Failed to cache BEA table list")
		}
	}
	return tables, nil
}
