package config

import (
	"fmt"
	"time"
)

// DefaultCacheTTL is how long fetched series stay fresh.
const DefaultCacheTTL = 24 * time.Hour

// FRED
const (
	FREDAPIURL = "https://api.stlouisfed.org/fred"
)

// BLS public data API. v2 needs a registration key; v1 is keyless with
// tighter limits.
const (
	BLSAPIURL              = "https://api.bls.gov/publicAPI/v2/timeseries/data/"
	BLSAPIURLv1            = "https://api.bls.gov/publicAPI/v1/timeseries/data/"
	BLSMaxSeriesPerRequest = 50
	BLSMaxYearsPerRequest  = 20
	BLSMaxSeriesKeyless    = 25
	BLSMaxYearsKeyless     = 10
)

// BEA
const (
	BEAAPIURL = "https://apps.bea.gov/api/data/"
)

// NIPAMetrics maps NIPA measure names to the table-code suffix BEA uses
// for them (T1.1.5 is current dollars, T1.1.6 chained dollars, ...).
var NIPAMetrics = map[string]string{
	"pct_change_real":  "01",
	"quantity_index":   "03",
	"price_index":      "04",
	"current_dollars":  "05",
	"chained_dollars":  "06",
	"pct_change_price": "07",
}

// NIPATableVariants returns the table code for every standard measure of a
// NIPA table family, e.g. section 2, family 8 gives T20805 for current dollars.
func NIPATableVariants(section, family int) map[string]string {
	base := fmt.Sprintf("T%d%02d", section, family)
	out := make(map[string]string, len(NIPAMetrics))
	for name, suffix := range NIPAMetrics {
		out[name] = base + suffix
	}
	return out
}
