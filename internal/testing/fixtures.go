package testing

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/macroecon/internal/cache"
	"github.com/aristath/macroecon/internal/series"
	"github.com/aristath/macroecon/internal/timeseries"
)

// SampleTree returns a small three-level tree with FRED and BEA sources:
//
//	GDP
//	  GDP_C (PCEC)
//	    GDP_C_G (DGDSRC1)
//	    GDP_C_S (PCESC96, no FRED source)
//	  GDP_I (GPDI)
func SampleTree() *series.Node {
	return series.NewNode("Gross Domestic Product", "GDP",
		series.WithDescription("Headline output"),
		series.WithSources(
			series.FRED("GDP"),
			series.NewSource(series.ProviderBEA, "T10105", map[string]string{
				series.ParamTable:      "T10105",
				series.ParamLineNumber: "1",
				series.ParamFrequency:  "Q",
			}),
		),
		series.WithChildren(
			series.NewNode("Personal Consumption", "GDP_C",
				series.WithSources(series.FRED("PCEC")),
				series.WithChildren(
					series.NewNode("Goods", "GDP_C_G", series.WithSources(series.FRED("DGDSRC1"))),
					series.NewNode("Services", "GDP_C_S", series.WithSources(
						series.NewSource(series.ProviderBEA, "T10105", map[string]string{
							series.ParamLineNumber: "5",
						}),
					)),
				),
			),
			series.NewNode("Private Investment", "GDP_I", series.WithSources(series.FRED("GPDI"))),
		),
	)
}

// MonthlySeries returns a series with one value per month starting at
// start. NaN values are kept.
func MonthlySeries(start time.Time, values ...float64) *timeseries.Frame {
	index := make([]time.Time, len(values))
	for i := range values {
		index[i] = time.Date(start.Year(), start.Month()+time.Month(i), 1, 0, 0, 0, 0, time.UTC)
	}
	v := make([]float64, len(values))
	copy(v, values)
	return timeseries.NewSeries(index, v)
}

// SampleFrame is twelve months of 2024 with a gap in May.
func SampleFrame() *timeseries.Frame {
	return MonthlySeries(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		100, 100.5, 101, 101.2, math.NaN(), 102, 102.4, 102.9, 103.1, 103.6, 104, 104.3)
}

// NewStore returns a cache store over t.TempDir().
func NewStore(t *testing.T, ttl time.Duration, opts ...cache.Option) *cache.Store {
	t.Helper()

	store, err := cache.NewStore(t.TempDir(), ttl, zerolog.Nop(), opts...)
	if err != nil {
		t.Fatalf("Failed to create cache store: %v", err)
	}
	return store
}
