package series

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Provider names understood by the clients in this module.
const (
	ProviderFRED = "fred"
	ProviderBEA  = "bea"
	ProviderBLS  = "bls"
)

// Provider parameter names.
const (
	ParamTable      = "table"
	ParamFrequency  = "frequency"
	ParamLineNumber = "line_number"
	ParamItemCode   = "item_code"
	ParamSeasonal   = "seasonal"
	ParamIndustry   = "industry_code"
	ParamDataType   = "data_type"
)

// Source identifies one series at one provider.
//
// FRED needs only the series id. BEA sources carry table, frequency and
// line_number; BLS sources built from item codes carry item_code and seasonal.
type Source struct {
	Provider string
	SeriesID string
	params   map[string]string
}

// NewSource creates a source, copying params so later changes by the caller
// do not leak into the tree.
func NewSource(provider, seriesID string, params map[string]string) Source {
	s := Source{Provider: provider, SeriesID: seriesID}
	if len(params) > 0 {
		s.params = make(map[string]string, len(params))
		for k, v := range params {
			s.params[k] = v
		}
	}
	return s
}

// FRED is shorthand for a FRED source.
func FRED(seriesID string) Source {
	return NewSource(ProviderFRED, seriesID, nil)
}

// Param returns a single provider parameter, or "" when unset.
func (s Source) Param(key string) string {
	return s.params[key]
}

// Params returns a copy of the provider parameters. Never nil.
func (s Source) Params() map[string]string {
	out := make(map[string]string, len(s.params))
	for k, v := range s.params {
		out[k] = v
	}
	return out
}

// String renders the source as provider:series_id.
func (s Source) String() string {
	return s.Provider + ":" + s.SeriesID
}

// Describe renders the source with its parameters in key order, for logs and tables.
func (s Source) Describe() string {
	if len(s.params) == 0 {
		return s.String()
	}
	keys := make([]string, 0, len(s.params))
	for k := range s.params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + s.params[k]
	}
	return fmt.Sprintf("%s{%s}", s.String(), strings.Join(parts, ","))
}

type sourceJSON struct {
	Provider string            `json:"provider"`
	SeriesID string            `json:"series_id"`
	Params   map[string]string `json:"params"`
}

// MarshalJSON encodes the source as a {provider, series_id, params} object.
func (s Source) MarshalJSON() ([]byte, error) {
	return json.Marshal(sourceJSON{Provider: s.Provider, SeriesID: s.SeriesID, Params: s.Params()})
}

// UnmarshalJSON decodes a {provider, series_id, params} object.
func (s *Source) UnmarshalJSON(data []byte) error {
	var raw sourceJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = NewSource(raw.Provider, raw.SeriesID, raw.Params)
	return nil
}

func (s Source) toMap() map[string]any {
	return map[string]any{
		"provider":  s.Provider,
		"series_id": s.SeriesID,
		"params":    s.Params(),
	}
}
