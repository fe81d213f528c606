package fetch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/macroecon/internal/cache"
	"github.com/aristath/macroecon/internal/domain"
	"github.com/aristath/macroecon/internal/series"
	"github.com/aristath/macroecon/internal/timeseries"
)

type stubFetcher struct {
	provider string
	fail     map[string]error
	calls    []string
	lastOpts domain.FetchOptions
}

func (s *stubFetcher) Provider() string { return s.provider }

func (s *stubFetcher) FetchSeries(ctx context.Context, id string, opts domain.FetchOptions) (*timeseries.Frame, error) {
	s.calls = append(s.calls, id)
	s.lastOpts = opts
	if err, ok := s.fail[id]; ok {
		return nil, err
	}
	return timeseries.NewSeries([]time.Time{time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}, []float64{float64(len(id))}), nil
}

func tree() *series.Node {
	return series.NewNode("GDP", "GDP",
		series.WithSources(
			series.FRED("GDP"),
			series.NewSource(series.ProviderBEA, "T10105", map[string]string{"line_number": "1", "frequency": "Q"}),
		),
		series.WithChildren(
			series.NewNode("Consumption", "GDP_C", series.WithSources(series.FRED("PCEC"))),
			series.NewNode("Unsourced", "GDP_X"),
			series.NewNode("BEA only", "GDP_I", series.WithSources(
				series.NewSource(series.ProviderBEA, "T10105", map[string]string{"line_number": "7"}),
			)),
		),
	)
}

func TestCollect(t *testing.T) {
	root := tree()

	fred := Collect(root, series.ProviderFRED)
	require.Len(t, fred, 2)
	assert.Equal(t, "GDP", fred[0].Node.Code)
	assert.Equal(t, "PCEC", fred[1].Source.SeriesID)

	bea := Collect(root, series.ProviderBEA)
	require.Len(t, bea, 2)
	assert.Equal(t, "GDP_I", bea[1].Node.Code)

	assert.Len(t, Collect(root, ""), 4)
	assert.Empty(t, Collect(root, series.ProviderBLS))
}

func TestNewResolver_Order(t *testing.T) {
	fred := &stubFetcher{provider: "fred"}
	bea := &stubFetcher{provider: "bea"}
	bls := &stubFetcher{provider: "bls"}

	r := NewResolver([]string{"bea", "unknown", "fred", "bea"}, zerolog.Nop(), fred, bea, bls)
	assert.Equal(t, []string{"bea", "fred", "bls"}, r.Providers())
}

func TestResolve_FirstSuccessWins(t *testing.T) {
	fred := &stubFetcher{provider: "fred"}
	bea := &stubFetcher{provider: "bea"}
	r := NewResolver([]string{"bea", "fred"}, zerolog.Nop(), fred, bea)

	_, src, err := r.Resolve(context.Background(), tree(), Options{Start: "2020-01-01"})
	require.NoError(t, err)
	assert.Equal(t, "bea", src.Provider)
	assert.Equal(t, []string{"T10105"}, bea.calls)
	assert.Empty(t, fred.calls)
	assert.Equal(t, "1", bea.lastOpts.Param("line_number"))
	assert.Equal(t, "2020-01-01", bea.lastOpts.Start)
}

func TestResolve_FallsBack(t *testing.T) {
	fred := &stubFetcher{provider: "fred", fail: map[string]error{"GDP": errors.New("fred down")}}
	bea := &stubFetcher{provider: "bea"}
	r := NewResolver([]string{"fred", "bea"}, zerolog.Nop(), fred, bea)

	_, src, err := r.Resolve(context.Background(), tree(), Options{})
	require.NoError(t, err)
	assert.Equal(t, "bea", src.Provider)
}

func TestResolve_CorruptCacheStops(t *testing.T) {
	corrupt := fmt.Errorf("fred cache read: %w", cache.ErrCorruptEntry)
	fred := &stubFetcher{provider: "fred", fail: map[string]error{"GDP": corrupt}}
	bea := &stubFetcher{provider: "bea"}
	r := NewResolver([]string{"fred", "bea"}, zerolog.Nop(), fred, bea)

	_, _, err := r.Resolve(context.Background(), tree(), Options{})
	assert.ErrorIs(t, err, cache.ErrCorruptEntry)
	assert.Empty(t, bea.calls)
}

func TestResolve_AllFail(t *testing.T) {
	fredErr := errors.New("fred down")
	beaErr := errors.New("bea down")
	fred := &stubFetcher{provider: "fred", fail: map[string]error{"GDP": fredErr}}
	bea := &stubFetcher{provider: "bea", fail: map[string]error{"T10105": beaErr}}
	r := NewResolver(nil, zerolog.Nop(), fred, bea)

	_, _, err := r.Resolve(context.Background(), tree(), Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, fredErr)
	assert.ErrorIs(t, err, beaErr)
	assert.NotErrorIs(t, err, ErrNoSource)
}

func TestResolve_NoSource(t *testing.T) {
	r := NewResolver(nil, zerolog.Nop(), &stubFetcher{provider: "bls"})

	_, _, err := r.Resolve(context.Background(), tree(), Options{})
	assert.ErrorIs(t, err, ErrNoSource)
}

func TestResolve_PinnedProvider(t *testing.T) {
	fred := &stubFetcher{provider: "fred"}
	bea := &stubFetcher{provider: "bea"}
	r := NewResolver([]string{"bea", "fred"}, zerolog.Nop(), fred, bea)

	_, src, err := r.Resolve(context.Background(), tree(), Options{Provider: "fred"})
	require.NoError(t, err)
	assert.Equal(t, "fred", src.Provider)
	assert.Empty(t, bea.calls)

	_, _, err = r.Resolve(context.Background(), tree(), Options{Provider: "bls"})
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, _, err = r.Resolve(context.Background(), tree().Find("GDP_I"), Options{Provider: "fred"})
	assert.ErrorIs(t, err, ErrNoSource)
}

func TestFetchTree(t *testing.T) {
	fail := errors.New("line 7 unavailable")
	fred := &stubFetcher{provider: "fred"}
	bea := &stubFetcher{provider: "bea", fail: map[string]error{"T10105": fail}}
	r := NewResolver([]string{"fred", "bea"}, zerolog.Nop(), fred, bea)

	results, err := r.FetchTree(context.Background(), tree(), Options{})
	assert.ErrorIs(t, err, fail)

	assert.Len(t, results, 2)
	assert.Equal(t, "fred", results["GDP"].Source.Provider)
	assert.Equal(t, "PCEC", results["GDP_C"].Source.SeriesID)
	assert.NotContains(t, results, "GDP_X")
	assert.NotContains(t, results, "GDP_I")
}

func TestFetchTree_Cancelled(t *testing.T) {
	r := NewResolver(nil, zerolog.Nop(), &stubFetcher{provider: "fred"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.FetchTree(ctx, tree(), Options{})
	assert.ErrorIs(t, err, context.Canceled)
}
