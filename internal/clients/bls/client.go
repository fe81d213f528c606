// Package bls provides a client for the BLS Public Data API.
//
// With a registration key the v2 endpoint is used (50 series and 20 years
// per request). Without one the client falls back to v1 (25 series and 10
// years). Longer year spans are split into several requests.
package bls

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/macroecon/internal/cache"
	"github.com/aristath/macroecon/internal/clients/base"
	"github.com/aristath/macroecon/internal/config"
	"github.com/aristath/macroecon/internal/domain"
	"github.com/aristath/macroecon/internal/series"
	"github.com/aristath/macroecon/internal/timeseries"
)

// RequestInterval is the minimum spacing between BLS requests.
const RequestInterval = 500 * time.Millisecond

const statusSucceeded = "REQUEST_SUCCEEDED"

// Client fetches series from BLS.
type Client struct {
	*base.Client
	url       string
	apiKey    string
	maxSeries int
	maxYears  int
	now       func() time.Time
}

// NewClient creates a BLS client. cache is optional.
func NewClient(apiKey string, cache domain.SeriesCache, log zerolog.Logger) *Client {
	c := &Client{
		Client: base.New(series.ProviderBLS, RequestInterval, cache, log),
		apiKey: apiKey,
		now:    time.Now,
	}

	if apiKey != "" {
		c.url = config.BLSAPIURL
		c.maxSeries = config.BLSMaxSeriesPerRequest
		c.maxYears = config.BLSMaxYearsPerRequest
	} else {
		c.Log().Warn().
			Int("max_series", config.BLSMaxSeriesKeyless).
			Int("max_years", config.BLSMaxYearsKeyless).
			Msg("No BLS API key configured, using the v1 endpoint")
		c.url = config.BLSAPIURLv1
		c.maxSeries = config.BLSMaxSeriesKeyless
		c.maxYears = config.BLSMaxYearsKeyless
	}
	return c
}

type request struct {
	SeriesID        []string `json:"seriesid"`
	StartYear       string   `json:"startyear"`
	EndYear         string   `json:"endyear"`
	RegistrationKey string   `json:"registrationkey,omitempty"`
}

type record struct {
	Year   string `json:"year"`
	Period string `json:"period"`
	Value  string `json:"value"`
}

type response struct {
	Status  string   `json:"status"`
	Message []string `json:"message"`
	Results struct {
		Series []struct {
			SeriesID string   `json:"seriesID"`
			Data     []record `json:"data"`
		} `json:"series"`
	} `json:"Results"`
}

// years resolves a year range. Zero values default to the last maxYears.
func (c *Client) years(startYear, endYear int) (int, int) {
	now := c.now().Year()
	if startYear == 0 {
		startYear = now - c.maxYears
	}
	if endYear == 0 {
		endYear = now
	}
	return startYear, endYear
}

func yearOf(date string) int {
	if len(date) < 4 {
		return 0
	}
	y, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return y
}

func cacheKey(seriesID string, startYear, endYear int) string {
	return cache.MakeKey(series.ProviderBLS, seriesID, map[string]any{
		"start": startYear,
		"end":   endYear,
	})
}

func tags(seriesID string) map[string]any {
	return map[string]any{"source": series.ProviderBLS, "series_id": seriesID}
}

// post sends one request for at most maxSeries ids and maxYears years.
func (c *Client) post(ctx context.Context, ids []string, startYear, endYear int) (*response, error) {
	payload := request{
		SeriesID:        ids,
		StartYear:       strconv.Itoa(startYear),
		EndYear:         strconv.Itoa(endYear),
		RegistrationKey: c.apiKey,
	}

	c.Log().Info().
		Int("series", len(ids)).
		Int("start_year", startYear).
		Int("end_year", endYear).
		Msg("BLS API request")

	var resp response
	if err := c.PostJSON(ctx, c.url, payload, &resp); err != nil {
		return nil, err
	}
	if resp.Status != statusSucceeded {
		msg := "unknown error"
		if len(resp.Message) > 0 {
			msg = strings.Join(resp.Message, "; ")
		}
		return nil, fmt.Errorf("BLS API error: %s", msg)
	}
	return &resp, nil
}

// fetchBatch requests ids over the full year range, splitting it into
// spans the endpoint accepts, and returns the parsed frame per series id.
func (c *Client) fetchBatch(ctx context.Context, ids []string, startYear, endYear int) (map[string]*timeseries.Frame, error) {
	obs := make(map[string][]timeseries.Observation, len(ids))

	for from := startYear; from <= endYear; from += c.maxYears {
		to := from + c.maxYears - 1
		if to > endYear {
			to = endYear
		}

		resp, err := c.post(ctx, ids, from, to)
		if err != nil {
			return nil, err
		}
		for _, s := range resp.Results.Series {
			obs[s.SeriesID] = append(obs[s.SeriesID], parseRecords(s.Data)...)
		}
	}

	frames := make(map[string]*timeseries.Frame, len(obs))
	for id, o := range obs {
		frames[id] = timeseries.FromObservations(o).DropNaN()
	}
	return frames, nil
}

// parseRecords keeps monthly observations. M13 is the annual average.
func parseRecords(records []record) []timeseries.Observation {
	out := make([]timeseries.Observation, 0, len(records))
	for _, r := range records {
		if r.Period == "M13" || !strings.HasPrefix(r.Period, "M") {
			continue
		}
		year, err := strconv.Atoi(r.Year)
		if err != nil {
			continue
		}
		month, err := strconv.Atoi(r.Period[1:])
		if err != nil || month < 1 || month > 12 {
			continue
		}
		out = append(out, timeseries.Observation{
			Date:  time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC),
			Value: timeseries.ParseValue(r.Value),
		})
	}
	return out
}

// FetchSeries returns one BLS series. The request covers whole years;
// the result is trimmed to opts.Start and opts.End when they are set.
func (c *Client) FetchSeries(ctx context.Context, seriesID string, opts domain.FetchOptions) (*timeseries.Frame, error) {
	startYear, endYear := c.years(yearOf(opts.Start), yearOf(opts.End))

	frame, err := c.Cached(cacheKey(seriesID, startYear, endYear), tags(seriesID), func() (*timeseries.Frame, error) {
		frames, err := c.fetchBatch(ctx, []string{seriesID}, startYear, endYear)
		if err != nil {
			return nil, fmt.Errorf("fetch BLS series %s: %w", seriesID, err)
		}
		frame, ok := frames[seriesID]
		if !ok {
			return nil, fmt.Errorf("BLS returned no data for %s", seriesID)
		}
		return frame, nil
	})
	if err != nil {
		return nil, err
	}

	return trim(frame, opts)
}

func trim(frame *timeseries.Frame, opts domain.FetchOptions) (*timeseries.Frame, error) {
	start, err := timeseries.ParseDate(opts.Start)
	if err != nil {
		return nil, err
	}
	end, err := timeseries.ParseDate(opts.End)
	if err != nil {
		return nil, err
	}
	return frame.Between(start, end), nil
}

// FetchMultiple returns the series for ids keyed by series id. Cached
// series are served first; the rest are requested in batches. Zero years
// select the default range.
func (c *Client) FetchMultiple(ctx context.Context, ids []string, startYear, endYear int) (map[string]*timeseries.Frame, error) {
	startYear, endYear = c.years(startYear, endYear)
	results := make(map[string]*timeseries.Frame, len(ids))

	var missing []string
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		frame, err := c.Lookup(cacheKey(id, startYear, endYear))
		if err != nil {
			return results, err
		}
		if frame != nil {
			results[id] = frame
			continue
		}
		missing = append(missing, id)
	}

	for i := 0; i < len(missing); i += c.maxSeries {
		batch := missing[i:min(i+c.maxSeries, len(missing))]

		frames, err := c.fetchBatch(ctx, batch, startYear, endYear)
		if err != nil {
			return results, fmt.Errorf("fetch BLS batch: %w", err)
		}
		for id, frame := range frames {
			if err := c.Remember(cacheKey(id, startYear, endYear), frame, tags(id)); err != nil {
				return results, err
			}
			results[id] = frame
		}
	}

	return results, nil
}

// FetchNodeTree fetches the BLS source of every node under root and
// returns the frames keyed by node code. Nodes without a BLS source are
// skipped.
func (c *Client) FetchNodeTree(ctx context.Context, root *series.Node, startYear, endYear int) (map[string]*timeseries.Frame, error) {
	codeToID := make(map[string]string)
	var ids []string
	root.Each(func(n *series.Node) bool {
		if src, ok := n.Source(series.ProviderBLS); ok {
			codeToID[n.Code] = src.SeriesID
			ids = append(ids, src.SeriesID)
		}
		return true
	})
	if len(ids) == 0 {
		return map[string]*timeseries.Frame{}, nil
	}

	byID, err := c.FetchMultiple(ctx, ids, startYear, endYear)
	if err != nil {
		return nil, err
	}

	out := make(map[string]*timeseries.Frame, len(codeToID))
	for code, id := range codeToID {
		if frame, ok := byID[id]; ok {
			out[code] = frame
		}
	}
	return out, nil
}
