// Package transforms derives new series from fetched ones: rates of change,
// level conversions, smoothing, seasonal comparisons and statistical tests.
//
// Every function reads the value column (or the first column) of its input
// and returns a single-series frame aligned to the input index. Positions
// without enough history are NaN.
package transforms

import (
	"math"
	"time"

	"github.com/aristath/macroecon/internal/timeseries"
)

func aligned(f *timeseries.Frame, values []float64) *timeseries.Frame {
	index := make([]time.Time, len(f.Index))
	copy(index, f.Index)
	return timeseries.NewSeries(index, values)
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// ratio returns x[t] / x[t-periods].
func ratio(x []float64, periods int) []float64 {
	out := nanSlice(len(x))
	for i := periods; i < len(x); i++ {
		out[i] = x[i] / x[i-periods]
	}
	return out
}

// PctChange is the percent change over periods observations.
func PctChange(f *timeseries.Frame, periods int) *timeseries.Frame {
	r := ratio(f.Values(), periods)
	for i, v := range r {
		r[i] = (v - 1) * 100
	}
	return aligned(f, r)
}

// MoMChange is the month-over-month percent change.
func MoMChange(f *timeseries.Frame) *timeseries.Frame {
	return PctChange(f, 1)
}

// QoQChange is the quarter-over-quarter percent change.
func QoQChange(f *timeseries.Frame) *timeseries.Frame {
	return PctChange(f, 1)
}

// compound annualises a one-period change: ((1+r)^n - 1) * 100.
func compound(f *timeseries.Frame, n float64) *timeseries.Frame {
	r := ratio(f.Values(), 1)
	for i, v := range r {
		r[i] = (math.Pow(v, n) - 1) * 100
	}
	return aligned(f, r)
}

// MoMAnnualized is the month-over-month change compounded over twelve months.
func MoMAnnualized(f *timeseries.Frame) *timeseries.Frame {
	return compound(f, 12)
}

// QoQAnnualized is the quarter-over-quarter change at a seasonally adjusted
// annual rate.
func QoQAnnualized(f *timeseries.Frame) *timeseries.Frame {
	return compound(f, 4)
}

// YoYChange is the year-over-year percent change. periods is 12 for
// monthly data and 4 for quarterly.
func YoYChange(f *timeseries.Frame, periods int) *timeseries.Frame {
	return PctChange(f, periods)
}

// LevelChange is the absolute difference over periods observations, e.g.
// monthly payroll gains.
func LevelChange(f *timeseries.Frame, periods int) *timeseries.Frame {
	x := f.Values()
	out := nanSlice(len(x))
	for i := periods; i < len(x); i++ {
		out[i] = x[i] - x[i-periods]
	}
	return aligned(f, out)
}

// AnnualizedRateFromIndex is ((P[t]/P[t-n])^(factor/n) - 1) * 100 for a
// price index. factor is 12 for monthly data and 4 for quarterly.
func AnnualizedRateFromIndex(f *timeseries.Frame, periods, factor int) *timeseries.Frame {
	r := ratio(f.Values(), periods)
	exp := float64(factor) / float64(periods)
	for i, v := range r {
		r[i] = (math.Pow(v, exp) - 1) * 100
	}
	return aligned(f, r)
}

// NMonthAnnualized is the n-month annualised rate of a monthly index.
func NMonthAnnualized(f *timeseries.Frame, n int) *timeseries.Frame {
	return AnnualizedRateFromIndex(f, n, 12)
}

// PeriodsPerYear infers the sampling frequency from the median spacing of
// the index: 12 for monthly, 4 for quarterly, 1 for annual data. Frames
// too short to tell are treated as monthly.
func PeriodsPerYear(f *timeseries.Frame) int {
	if f.Len() < 2 {
		return 12
	}
	gaps := make([]float64, 0, f.Len()-1)
	for i := 1; i < f.Len(); i++ {
		gaps = append(gaps, f.Index[i].Sub(f.Index[i-1]).Hours()/24)
	}
	days := median(gaps)
	switch {
	case days > 300:
		return 1
	case days > 80:
		return 4
	default:
		return 12
	}
}
