// Package fred provides a client for the St. Louis Fed FRED API.
package fred

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
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

// RequestInterval is the minimum spacing between FRED requests.
const RequestInterval = 500 * time.Millisecond

// DefaultSearchLimit is used when Search is called with limit <= 0.
const DefaultSearchLimit = 20

// SeriesInfo is the FRED description of a series.
type SeriesInfo struct {
	ID                 string `json:"id"`
	Title              string `json:"title"`
	Units              string `json:"units"`
	Frequency          string `json:"frequency"`
	SeasonalAdjustment string `json:"seasonal_adjustment"`
	LastUpdated        string `json:"last_updated"`
	ObservationStart   string `json:"observation_start"`
	ObservationEnd     string `json:"observation_end"`
	Notes              string `json:"notes,omitempty"`
}

// Client fetches series from FRED.
type Client struct {
	*base.Client
	baseURL string
	apiKey  string
	meta    domain.MetadataCache
}

// NewClient creates a FRED client. cache and meta are optional.
func NewClient(apiKey string, cache domain.SeriesCache, meta domain.MetadataCache, log zerolog.Logger) *Client {
	return &Client{
		Client:  base.New(series.ProviderFRED, RequestInterval, cache, log),
		baseURL: config.FREDAPIURL,
		apiKey:  apiKey,
		meta:    meta,
	}
}

type observationsResponse struct {
	Observations []struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	} `json:"observations"`
}

type seriesResponse struct {
	Series []SeriesInfo `json:"seriess"`
}

func (c *Client) endpoint(path string, params url.Values) string {
	params.Set("api_key", c.apiKey)
	params.Set("file_type", "json")
	return fmt.Sprintf("%s/%s?%s", c.baseURL, path, params.Encode())
}

// FetchSeries returns the observations of seriesID between opts.Start and
// opts.End. Missing observations (FRED reports ".") are dropped.
func (c *Client) FetchSeries(ctx context.Context, seriesID string, opts domain.FetchOptions) (*timeseries.Frame, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("fred: %w", base.ErrMissingAPIKey)
	}

	key := cache.MakeKey(series.ProviderFRED, seriesID, map[string]any{
		"start": base.Optional(opts.Start),
		"end":   base.Optional(opts.End),
	})
	tags := map[string]any{"source": series.ProviderFRED, "series_id": seriesID}

	return c.Cached(key, tags, func() (*timeseries.Frame, error) {
		params := url.Values{}
		params.Set("series_id", seriesID)
		if opts.Start != "" {
			params.Set("observation_start", opts.Start)
		}
		if opts.End != "" {
			params.Set("observation_end", opts.End)
		}

		c.Log().Debug().Str("series_id", seriesID).Msg("Fetching observations")

		var resp observationsResponse
		if err := c.GetJSON(ctx, c.endpoint("series/observations", params), &resp); err != nil {
			return nil, fmt.Errorf("fetch FRED series %s: %w", seriesID, err)
		}

		obs := make([]timeseries.Observation, 0, len(resp.Observations))
		for _, o := range resp.Observations {
			date, err := timeseries.ParseDate(o.Date)
			if err != nil {
				return nil, fmt.Errorf("fred %s: %w", seriesID, err)
			}
			obs = append(obs, timeseries.Observation{Date: date, Value: timeseries.ParseValue(o.Value)})
		}
		return timeseries.FromObservations(obs).DropNaN(), nil
	})
}

// FetchNode fetches the FRED source of node.
func (c *Client) FetchNode(ctx context.Context, node *series.Node, opts domain.FetchOptions) (*timeseries.Frame, error) {
	src, ok := node.Source(series.ProviderFRED)
	if !ok {
		return nil, fmt.Errorf("node %s has no FRED source", node.Code)
	}
	return c.FetchSeries(ctx, src.SeriesID, opts)
}

// SeriesInfo returns the FRED description of seriesID.
func (c *Client) SeriesInfo(ctx context.Context, seriesID string) (*SeriesInfo, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("fred: %w", base.ErrMissingAPIKey)
	}

	if c.meta != nil {
		data, err := c.meta.GetIfFresh(clientdata.TableFREDSeriesInfo, seriesID)
		if err == nil && data != nil {
			var info SeriesInfo
			if err := json.Unmarshal(data, &info); err == nil {
				return &info, nil
			}
		}
	}

	params := url.Values{}
	params.Set("series_id", seriesID)

	var resp seriesResponse
	if err := c.GetJSON(ctx, c.endpoint("series", params), &resp); err != nil {
		return nil, fmt.Errorf("fetch FRED series info %s: %w", seriesID, err)
	}
	if len(resp.Series) == 0 {
		return nil, fmt.Errorf("FRED series %s not found", seriesID)
	}

	info := resp.Series[0]
	if c.meta != nil {
		if err := c.meta.Store(clientdata.TableFREDSeriesInfo, seriesID, info, clientdata.TTLSeriesInfo); err != nil {
			c.Log().Warn().Err(err).Str("series_id", seriesID).Msg("Failed to cache series info")
		}
	}
	return &info, nil
}

// Search runs a full-text series search.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]SeriesInfo, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("fred: %w", base.ErrMissingAPIKey)
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	cacheKey := query + "|" + strconv.Itoa(limit)
	if c.meta != nil {
		data, err := c.meta.GetIfFresh(clientdata.TableFREDSearch, cacheKey)
		if err == nil && data != nil {
			var results []SeriesInfo
			if err := json.Unmarshal(data, &results); err == nil {
				return results, nil
			}
		}
	}

	params := url.Values{}
	params.Set("search_text", query)
	params.Set("limit", strconv.Itoa(limit))

	var resp seriesResponse
	if err := c.GetJSON(ctx, c.endpoint("series/search", params), &resp); err != nil {
		return nil, fmt.Errorf("search FRED for %q: %w", query, err)
	}

	results := resp.Series
	if results == nil {
		results = []SeriesInfo{}
	}
	if c.meta != nil {
		if err := c.meta.Store(clientdata.TableFREDSearch, cacheKey, results, clientdata.TTLSearch); err != nil {
			c.Log().Warn().Err(err).Str("query", query).Msg("Failed to cache search results")
		}
	}
	return results, nil
}
