package transforms

import (
	"errors"
	"math"
	"time"

	"github.com/aristath/macroecon/internal/timeseries"
)

// ErrEmpty is returned when a transform needs at least one observation.
var ErrEmpty = errors.New("transforms: empty series")

// RebaseIndex rescales an index so the observation nearest to base equals
// 100. Equidistant neighbours resolve to the later date.
func RebaseIndex(f *timeseries.Frame, base time.Time) (*timeseries.Frame, error) {
	if f.Empty() {
		return nil, ErrEmpty
	}

	pos := nearest(f.Index, base)
	x := f.Values()
	baseValue := x[pos]

	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v / baseValue * 100
	}
	return aligned(f, out), nil
}

func nearest(index []time.Time, t time.Time) int {
	best := 0
	bestDist := time.Duration(math.MaxInt64)
	for i, ts := range index {
		d := ts.Sub(t)
		if d < 0 {
			d = -d
		}
		// <= keeps the later of two equidistant dates; index is ascending.
		if d <= bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// RealFromNominal deflates current-dollar values: nominal / deflator * 100,
// on the dates both series share.
func RealFromNominal(nominal, deflator *timeseries.Frame) (*timeseries.Frame, error) {
	return combine(nominal, deflator, func(n, d float64) float64 { return n / d * 100 })
}

// ContributionToChange approximates a component's contribution to the
// aggregate's percent change: diff(component) / aggregate[t-1] * 100. The
// difference and the lag are taken on each series before aligning them.
func ContributionToChange(component, aggregate *timeseries.Frame) (*timeseries.Frame, error) {
	change := LevelChange(component, 1)

	agg := aggregate.Values()
	prev := nanSlice(len(agg))
	for i := 1; i < len(agg); i++ {
		prev[i] = agg[i-1]
	}

	return combine(change, aligned(aggregate, prev), func(c, p float64) float64 { return c / p * 100 })
}

// combine inner-joins a and b and applies fn row by row.
func combine(a, b *timeseries.Frame, fn func(x, y float64) float64) (*timeseries.Frame, error) {
	joined, err := timeseries.InnerJoin([]string{"a", "b"}, a, b)
	if err != nil {
		return nil, err
	}

	x, _ := joined.Column("a")
	y, _ := joined.Column("b")
	out := make([]float64, len(x))
	for i := range x {
		out[i] = fn(x[i], y[i])
	}
	return aligned(joined, out), nil
}
