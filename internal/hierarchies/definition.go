package hierarchies

import (
	"fmt"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/aristath/macroecon/internal/series"
)

// Definition is the YAML shape of one node. The root may also carry defaults.
type Definition struct {
	Name        string       `yaml:"name"`
	Code        string       `yaml:"code"`
	Description string       `yaml:"description"`
	Sources     []SourceDef  `yaml:"sources"`
	Children    []Definition `yaml:"children"`
	Defaults    *Defaults    `yaml:"defaults,omitempty"`
}

// Defaults apply to every source in a file unless the source overrides them.
type Defaults struct {
	BEAFrequency string `yaml:"bea_frequency"`
}

// SourceDef is a source written in one of the shorthand forms:
//
//	{fred: CPIAUCSL}
//	{bls: LNS14000000}
//	{bls_cpi: SAF11, seasonal: U}       -> CUUR0000SAF11
//	{bls_ces: "05000000", data_type: "03"} -> CES0500000003
//	{bea: T20805, line: 3, freq: M}
type SourceDef struct {
	FRED     string `yaml:"fred"`
	BLS      string `yaml:"bls"`
	BLSCPI   string `yaml:"bls_cpi"`
	BLSCES   string `yaml:"bls_ces"`
	BEA      string `yaml:"bea"`
	Seasonal string `yaml:"seasonal"`
	DataType string `yaml:"data_type"`
	Line     int    `yaml:"line"`
	Freq     string `yaml:"freq"`
}

var (
	cesIndustry = regexp.MustCompile(`^\d{8}$`)
	cesDataType = regexp.MustCompile(`^\d{2}$`)
)

// Parse decodes a YAML hierarchy and builds the tree.
func Parse(data []byte) (*series.Node, error) {
	def, err := decode(data)
	if err != nil {
		return nil, err
	}
	return build(def, nil)
}

func decode(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse hierarchy: %w", err)
	}
	if def.Code == "" {
		return nil, fmt.Errorf("hierarchy root has no code")
	}
	return &def, nil
}

// build converts a definition to a validated tree. Nodes whose code appears
// in grafts are replaced by the given subtree.
func build(def *Definition, grafts map[string]*series.Node) (*series.Node, error) {
	defaults := Defaults{BEAFrequency: "Q"}
	if def.Defaults != nil && def.Defaults.BEAFrequency != "" {
		defaults.BEAFrequency = def.Defaults.BEAFrequency
	}

	root, err := buildNode(def, defaults, grafts)
	if err != nil {
		return nil, err
	}
	if err := root.Validate(); err != nil {
		return nil, err
	}
	return root, nil
}

func buildNode(def *Definition, defaults Defaults, grafts map[string]*series.Node) (*series.Node, error) {
	if def.Code == "" {
		return nil, fmt.Errorf("node %q has no code", def.Name)
	}
	if g, ok := grafts[def.Code]; ok {
		return g, nil
	}

	sources := make([]series.Source, 0, len(def.Sources))
	for i, sd := range def.Sources {
		src, err := sd.toSource(defaults)
		if err != nil {
			return nil, fmt.Errorf("node %s source %d: %w", def.Code, i, err)
		}
		sources = append(sources, src)
	}

	children := make([]*series.Node, 0, len(def.Children))
	for i := range def.Children {
		child, err := buildNode(&def.Children[i], defaults, grafts)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}

	return series.NewNode(def.Name, def.Code,
		series.WithDescription(def.Description),
		series.WithSources(sources...),
		series.WithChildren(children...),
	), nil
}

func (sd SourceDef) toSource(defaults Defaults) (series.Source, error) {
	set := 0
	for _, v := range []string{sd.FRED, sd.BLS, sd.BLSCPI, sd.BLSCES, sd.BEA} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return series.Source{}, fmt.Errorf("expected exactly one of fred, bls, bls_cpi, bls_ces, bea")
	}

	seasonal := sd.Seasonal
	if seasonal == "" {
		seasonal = "S"
	}
	if seasonal != "S" && seasonal != "U" {
		return series.Source{}, fmt.Errorf("seasonal must be S or U, got %q", seasonal)
	}

	switch {
	case sd.FRED != "":
		return series.FRED(sd.FRED), nil

	case sd.BLS != "":
		return series.NewSource(series.ProviderBLS, sd.BLS, nil), nil

	case sd.BLSCPI != "":
		return CPISource(sd.BLSCPI, seasonal), nil

	case sd.BLSCES != "":
		dataType := sd.DataType
		if dataType == "" {
			dataType = "01"
		}
		if !cesIndustry.MatchString(sd.BLSCES) {
			return series.Source{}, fmt.Errorf("CES industry code must be 8 digits, got %q", sd.BLSCES)
		}
		if !cesDataType.MatchString(dataType) {
			return series.Source{}, fmt.Errorf("CES data type must be 2 digits, got %q", dataType)
		}
		return CESSource(sd.BLSCES, dataType, seasonal), nil

	default:
		if sd.Line <= 0 {
			return series.Source{}, fmt.Errorf("bea source %s needs a positive line", sd.BEA)
		}
		freq := sd.Freq
		if freq == "" {
			freq = defaults.BEAFrequency
		}
		return BEASource(sd.BEA, sd.Line, freq), nil
	}
}

// CPISource builds the BLS CPI-U U.S. city average series for an item code.
func CPISource(item, seasonal string) series.Source {
	return series.NewSource(series.ProviderBLS, "CU"+seasonal+"R0000"+item, map[string]string{
		series.ParamItemCode: item,
		series.ParamSeasonal: seasonal,
	})
}

// CESSource builds the BLS CES national series for an industry and data type.
func CESSource(industry, dataType, seasonal string) series.Source {
	return series.NewSource(series.ProviderBLS, "CE"+seasonal+industry+dataType, map[string]string{
		series.ParamIndustry: industry,
		series.ParamDataType: dataType,
		series.ParamSeasonal: seasonal,
	})
}

// BEASource builds a NIPA table line source.
func BEASource(table string, line int, frequency string) series.Source {
	return series.NewSource(series.ProviderBEA, table, map[string]string{
		series.ParamTable:      table,
		series.ParamFrequency:  frequency,
		series.ParamLineNumber: strconv.Itoa(line),
	})
}
