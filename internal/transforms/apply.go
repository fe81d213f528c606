package transforms

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aristath/macroecon/internal/timeseries"
)

// ErrUnknownTransform is returned by Apply for names it does not know.
var ErrUnknownTransform = errors.New("unknown transform")

type transformFunc func(f *timeseries.Frame, arg string) (*timeseries.Frame, error)

func fixed(fn func(*timeseries.Frame) *timeseries.Frame) transformFunc {
	return func(f *timeseries.Frame, _ string) (*timeseries.Frame, error) {
		return fn(f), nil
	}
}

func intArg(arg string, def int) (int, error) {
	if arg == "" {
		return def, nil
	}
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid transform argument %q", arg)
	}
	return n, nil
}

var registry = map[string]transformFunc{
	"mom":     fixed(MoMChange),
	"mom_ann": fixed(MoMAnnualized),
	"qoq":     fixed(QoQChange),
	"qoq_ann": fixed(QoQAnnualized),
	"yoy": func(f *timeseries.Frame, arg string) (*timeseries.Frame, error) {
		periods, err := intArg(arg, PeriodsPerYear(f))
		if err != nil {
			return nil, err
		}
		return YoYChange(f, periods), nil
	},
	"diff": func(f *timeseries.Frame, arg string) (*timeseries.Frame, error) {
		periods, err := intArg(arg, 1)
		if err != nil {
			return nil, err
		}
		return LevelChange(f, periods), nil
	},
	"ann": func(f *timeseries.Frame, arg string) (*timeseries.Frame, error) {
		months, err := intArg(arg, 3)
		if err != nil {
			return nil, err
		}
		return NMonthAnnualized(f, months), nil
	},
	"ma": func(f *timeseries.Frame, arg string) (*timeseries.Frame, error) {
		window, err := intArg(arg, 3)
		if err != nil {
			return nil, err
		}
		return MovingAverage(f, window, false)
	},
	"cma": func(f *timeseries.Frame, arg string) (*timeseries.Frame, error) {
		window, err := intArg(arg, 3)
		if err != nil {
			return nil, err
		}
		return MovingAverage(f, window, true)
	},
	"ewm": func(f *timeseries.Frame, arg string) (*timeseries.Frame, error) {
		span, err := intArg(arg, 12)
		if err != nil {
			return nil, err
		}
		return ExponentialSmoothing(f, float64(span))
	},
	"ema": func(f *timeseries.Frame, arg string) (*timeseries.Frame, error) {
		period, err := intArg(arg, 12)
		if err != nil {
			return nil, err
		}
		return EMA(f, period)
	},
	"rebase": func(f *timeseries.Frame, arg string) (*timeseries.Frame, error) {
		if arg == "" {
			return nil, errors.New("rebase needs a base date, e.g. rebase:2017-01-01")
		}
		base, err := timeseries.ParseDate(arg)
		if err != nil {
			return nil, err
		}
		return RebaseIndex(f, base)
	},
}

// Names lists the transforms Apply understands.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Apply runs a single-series transform by name. An optional argument
// follows a colon: "yoy:4", "ma:12", "ann:6", "rebase:2017-01-01". yoy
// defaults to the frequency of the data.
func Apply(expr string, f *timeseries.Frame) (*timeseries.Frame, error) {
	name, arg, _ := strings.Cut(strings.TrimSpace(expr), ":")
	fn, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransform, name)
	}
	return fn(f, arg)
}
