// Package timeseries holds the tabular time series exchanged between the
// provider clients, the cache store and the transforms.
package timeseries

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ValueColumn is the column name single-series frames use.
const ValueColumn = "value"

// DateLayout is the layout for date strings exchanged with providers and the API.
const DateLayout = "2006-01-02"

// ErrNoColumn is returned when a named column is missing from a frame.
var ErrNoColumn = errors.New("timeseries: column not found")

// Column is one named float column aligned to the frame index.
type Column struct {
	Name   string
	Values []float64
}

// Frame is a timestamp-indexed table of float columns.
// Index is ascending without duplicates and in UTC; missing values are NaN.
type Frame struct {
	Index   []time.Time
	Columns []Column
}

// Observation is one dated value as reported by a provider.
type Observation struct {
	Date  time.Time
	Value float64
}

// NewSeries builds a single-column frame named ValueColumn.
func NewSeries(index []time.Time, values []float64) *Frame {
	return &Frame{
		Index:   index,
		Columns: []Column{{Name: ValueColumn, Values: values}},
	}
}

// NewFrame builds a frame from an index and columns.
func NewFrame(index []time.Time, columns ...Column) *Frame {
	return &Frame{Index: index, Columns: columns}
}

// FromObservations normalises raw provider rows into a single series:
// sorted ascending, one row per timestamp (the last reported value wins).
func FromObservations(obs []Observation) *Frame {
	sorted := make([]Observation, len(obs))
	copy(sorted, obs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	index := make([]time.Time, 0, len(sorted))
	values := make([]float64, 0, len(sorted))
	for _, o := range sorted {
		if n := len(index); n > 0 && index[n-1].Equal(o.Date) {
			values[n-1] = o.Value
			continue
		}
		index = append(index, o.Date.UTC())
		values = append(values, o.Value)
	}
	return NewSeries(index, values)
}

// ParseValue converts a provider value string to a float.
// Thousands separators are stripped; placeholders such as ".", "-" and
// "(NA)" and anything else non-numeric become NaN.
func ParseValue(raw string) float64 {
	s := strings.TrimSpace(strings.ReplaceAll(raw, ",", ""))
	switch s {
	case "", ".", "-", "(NA)", "(D)", "(X)":
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// ParseDate parses a YYYY-MM-DD date in UTC. Empty input returns the zero time.
func ParseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Index)
}

// Empty reports whether the frame has no rows.
func (f *Frame) Empty() bool {
	return f.Len() == 0
}

// ColumnNames returns the column names in order.
func (f *Frame) ColumnNames() []string {
	names := make([]string, len(f.Columns))
	for i, c := range f.Columns {
		names[i] = c.Name
	}
	return names
}

// Column returns the values of a named column.
func (f *Frame) Column(name string) ([]float64, bool) {
	for _, c := range f.Columns {
		if c.Name == name {
			return c.Values, true
		}
	}
	return nil, false
}

// Values returns the value column, or the first column when there is none.
func (f *Frame) Values() []float64 {
	if v, ok := f.Column(ValueColumn); ok {
		return v
	}
	if len(f.Columns) > 0 {
		return f.Columns[0].Values
	}
	return nil
}

// Series extracts one column as a single-series frame.
func (f *Frame) Series(column string) (*Frame, error) {
	v, ok := f.Column(column)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoColumn, column)
	}
	index := make([]time.Time, len(f.Index))
	copy(index, f.Index)
	values := make([]float64, len(v))
	copy(values, v)
	return NewSeries(index, values), nil
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	out := &Frame{Index: make([]time.Time, len(f.Index))}
	copy(out.Index, f.Index)
	for _, c := range f.Columns {
		values := make([]float64, len(c.Values))
		copy(values, c.Values)
		out.Columns = append(out.Columns, Column{Name: c.Name, Values: values})
	}
	return out
}

// filter keeps the rows for which keep returns true.
func (f *Frame) filter(keep func(i int) bool) *Frame {
	out := &Frame{Columns: make([]Column, len(f.Columns))}
	for ci, c := range f.Columns {
		out.Columns[ci].Name = c.Name
	}
	for i, ts := range f.Index {
		if !keep(i) {
			continue
		}
		out.Index = append(out.Index, ts)
		for ci, c := range f.Columns {
			out.Columns[ci].Values = append(out.Columns[ci].Values, c.Values[i])
		}
	}
	return out
}

// Between keeps rows with start <= t <= end. A zero bound is open.
func (f *Frame) Between(start, end time.Time) *Frame {
	return f.filter(func(i int) bool {
		ts := f.Index[i]
		if !start.IsZero() && ts.Before(start) {
			return false
		}
		if !end.IsZero() && ts.After(end) {
			return false
		}
		return true
	})
}

// DropNaN removes rows where any column is NaN.
func (f *Frame) DropNaN() *Frame {
	return f.filter(func(i int) bool {
		for _, c := range f.Columns {
			if math.IsNaN(c.Values[i]) {
				return false
			}
		}
		return true
	})
}

// Validate checks column lengths, index ordering and that every index
// entry is in UTC.
func (f *Frame) Validate() error {
	for _, c := range f.Columns {
		if len(c.Values) != len(f.Index) {
			return fmt.Errorf("column %s has %d values for %d index entries", c.Name, len(c.Values), len(f.Index))
		}
	}
	for i, ts := range f.Index {
		if ts.Location() != time.UTC {
			return fmt.Errorf("index entry %d is in %s, want UTC", i, ts.Location())
		}
	}
	for i := 1; i < len(f.Index); i++ {
		if !f.Index[i].After(f.Index[i-1]) {
			return fmt.Errorf("index not strictly ascending at %s", f.Index[i].Format(time.RFC3339))
		}
	}
	return nil
}

// Equal compares index instants and column values bit for bit.
// NaN equals NaN when the payload bits match.
func (f *Frame) Equal(other *Frame) bool {
	if f == nil || other == nil {
		return f == other
	}
	if len(f.Index) != len(other.Index) || len(f.Columns) != len(other.Columns) {
		return false
	}
	for i := range f.Index {
		if !f.Index[i].Equal(other.Index[i]) {
			return false
		}
	}
	for ci, c := range f.Columns {
		oc := other.Columns[ci]
		if c.Name != oc.Name || len(c.Values) != len(oc.Values) {
			return false
		}
		for i, v := range c.Values {
			if math.Float64bits(v) != math.Float64bits(oc.Values[i]) {
				return false
			}
		}
	}
	return true
}

// InnerJoin aligns the value columns of several series on their common
// timestamps, naming the output columns after names.
func InnerJoin(names []string, frames ...*Frame) (*Frame, error) {
	if len(names) != len(frames) {
		return nil, fmt.Errorf("inner join: %d names for %d frames", len(names), len(frames))
	}
	if len(frames) == 0 {
		return &Frame{}, nil
	}

	lookups := make([]map[int64]float64, len(frames))
	for i, fr := range frames {
		values := fr.Values()
		m := make(map[int64]float64, fr.Len())
		for j, ts := range fr.Index {
			m[ts.UnixNano()] = values[j]
		}
		lookups[i] = m
	}

	out := &Frame{Columns: make([]Column, len(frames))}
	for i, name := range names {
		out.Columns[i].Name = name
	}
	for _, ts := range frames[0].Index {
		key := ts.UnixNano()
		row := make([]float64, len(frames))
		ok := true
		for i, m := range lookups {
			v, found := m[key]
			if !found {
				ok = false
				break
			}
			row[i] = v
		}
		if !ok {
			continue
		}
		out.Index = append(out.Index, ts)
		for i, v := range row {
			out.Columns[i].Values = append(out.Columns[i].Values, v)
		}
	}
	return out, nil
}
