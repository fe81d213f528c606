package transforms

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/floats"

	"github.com/aristath/macroecon/internal/timeseries"
)

func hasNaN(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

// trailingMean is the mean of x[i-window+1..i]; NaN until the window is
// full or when the window holds a NaN.
func trailingMean(x []float64, window int) []float64 {
	out := nanSlice(len(x))
	if len(x) < window {
		return out
	}

	if window == 1 {
		copy(out, x)
		return out
	}

	if !hasNaN(x) {
		sma := talib.Sma(x, window)
		copy(out[window-1:], sma[window-1:])
		return out
	}

	for i := window - 1; i < len(x); i++ {
		w := x[i-window+1 : i+1]
		if hasNaN(w) {
			continue
		}
		out[i] = floats.Sum(w) / float64(window)
	}
	return out
}

// MovingAverage is the simple moving average over window observations.
// With center set the window is centred on each observation, leaning
// forward for even windows.
func MovingAverage(f *timeseries.Frame, window int, center bool) (*timeseries.Frame, error) {
	if window < 1 {
		return nil, fmt.Errorf("moving average window must be positive, got %d", window)
	}

	trailing := trailingMean(f.Values(), window)
	if !center {
		return aligned(f, trailing), nil
	}

	shift := (window - 1) / 2
	out := nanSlice(len(trailing))
	for i := range out {
		if j := i + shift; j < len(trailing) {
			out[i] = trailing[j]
		}
	}
	return aligned(f, out), nil
}

// ExponentialSmoothing is the bias-adjusted exponentially weighted mean
// with alpha = 2 / (span + 1). Missing observations carry no weight but
// still age the earlier ones.
func ExponentialSmoothing(f *timeseries.Frame, span float64) (*timeseries.Frame, error) {
	if span < 1 {
		return nil, fmt.Errorf("span must be at least 1, got %g", span)
	}

	decay := 1 - 2/(span+1)
	x := f.Values()
	out := nanSlice(len(x))

	var num, den float64
	for i, v := range x {
		num *= decay
		den *= decay
		if !math.IsNaN(v) {
			num += v
			den++
		}
		if den > 0 {
			out[i] = num / den
		}
	}
	return aligned(f, out), nil
}

// EMA is the recursive exponential moving average seeded with the simple
// average of the first period observations. Missing observations are
// skipped and stay NaN in the output.
func EMA(f *timeseries.Frame, period int) (*timeseries.Frame, error) {
	if period < 2 {
		return nil, fmt.Errorf("EMA period must be at least 2, got %d", period)
	}

	x := f.Values()
	positions := make([]int, 0, len(x))
	present := make([]float64, 0, len(x))
	for i, v := range x {
		if !math.IsNaN(v) {
			positions = append(positions, i)
			present = append(present, v)
		}
	}

	out := nanSlice(len(x))
	if len(present) < period {
		return aligned(f, out), nil
	}

	ema := talib.Ema(present, period)
	for k := period - 1; k < len(ema); k++ {
		out[positions[k]] = ema[k]
	}
	return aligned(f, out), nil
}
