package transforms

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/macroecon/internal/timeseries"
)

func TestRebaseIndex(t *testing.T) {
	f := monthly(50, 80, 100)

	out, err := RebaseIndex(f, time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assertValues(t, []float64{62.5, 100, 125}, out)

	// Closest observation is used when the base date is absent.
	out, err = RebaseIndex(f, time.Date(2020, 3, 20, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assertValues(t, []float64{50, 80, 100}, out)

	// Equidistant between January and February: the later date wins.
	out, err = RebaseIndex(f, time.Date(2020, 1, 16, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assertValues(t, []float64{62.5, 100, 125}, out)

	_, err = RebaseIndex(timeseries.NewSeries(nil, nil), time.Now())
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestRealFromNominal(t *testing.T) {
	nominal := monthly(200, 220, 240)
	deflator := timeseries.NewSeries(nominal.Index[1:], []float64{110, 120})

	out, err := RealFromNominal(nominal, deflator)
	require.NoError(t, err)
	assert.Equal(t, nominal.Index[1:], out.Index)
	assertValues(t, []float64{200, 200}, out)
}

func TestContributionToChange(t *testing.T) {
	component := monthly(10, 12, 15)
	aggregate := timeseries.NewSeries(component.Index[:2], []float64{100, 110})

	out, err := ContributionToChange(component, aggregate)
	require.NoError(t, err)
	assert.Equal(t, component.Index[:2], out.Index)
	assertValues(t, []float64{nan, 2}, out)
}

func TestSeasonal(t *testing.T) {
	sa := monthly(100, 100, 100)
	nsa := timeseries.NewSeries(sa.Index[:2], []float64{90, 110})

	factor, err := SeasonalFactor(sa, nsa)
	require.NoError(t, err)
	assertValues(t, []float64{0.9, 1.1}, factor)

	cmp, err := CompareSANSA(sa, nsa)
	require.NoError(t, err)
	assert.Equal(t, []string{"sa", "nsa", "seasonal_factor"}, cmp.ColumnNames())
	col, ok := cmp.Column("seasonal_factor")
	require.True(t, ok)
	assert.InDeltaSlice(t, []float64{0.9, 1.1}, col, 1e-12)
}
