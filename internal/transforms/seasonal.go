package transforms

import (
	"github.com/aristath/macroecon/internal/timeseries"
)

// CompareSANSA aligns a seasonally adjusted series with its unadjusted
// counterpart. The result has sa, nsa and seasonal_factor (nsa / sa) columns.
func CompareSANSA(sa, nsa *timeseries.Frame) (*timeseries.Frame, error) {
	joined, err := timeseries.InnerJoin([]string{"sa", "nsa"}, sa, nsa)
	if err != nil {
		return nil, err
	}

	adjusted, _ := joined.Column("sa")
	raw, _ := joined.Column("nsa")
	factor := make([]float64, len(adjusted))
	for i := range adjusted {
		factor[i] = raw[i] / adjusted[i]
	}
	joined.Columns = append(joined.Columns, timeseries.Column{Name: "seasonal_factor", Values: factor})
	return joined, nil
}

// SeasonalFactor is nsa / sa on the shared dates.
func SeasonalFactor(sa, nsa *timeseries.Frame) (*timeseries.Frame, error) {
	return combine(nsa, sa, func(n, s float64) float64 { return n / s })
}
