package clientdata

import "time"

// TTL constants for different lookups.
const (
	TTLSeriesInfo = 24 * time.Hour     // FRED titles, units and last_updated move with releases
	TTLSearch     = 6 * time.Hour      // search ranking shifts as series are added
	TTLTableList  = 7 * 24 * time.Hour // the NIPA table list changes with annual revisions
)
