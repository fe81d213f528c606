// Package ui renders command output: aligned tables, key/value listings and
// series trees.
package ui

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
)

// Align selects how a column's cells are padded.
type Align int

const (
	AlignLeft Align = iota
	AlignRight
)

// Table writes rows under a bold header and a rule.
type Table struct {
	w       io.Writer
	headers []string
	align   []Align
	rows    [][]string
	noColor bool
}

// NewTable creates a table with the given headers. All columns are left
// aligned until SetAlign is called.
func NewTable(w io.Writer, noColor bool, headers ...string) *Table {
	return &Table{
		w:       w,
		headers: headers,
		align:   make([]Align, len(headers)),
		noColor: noColor,
	}
}

// SetAlign sets the alignment of one column. Out of range columns are ignored.
func (t *Table) SetAlign(column int, a Align) {
	if column >= 0 && column < len(t.align) {
		t.align[column] = a
	}
}

// AddRow appends a row. Missing cells render empty, extra cells are dropped.
func (t *Table) AddRow(cells ...string) {
	row := make([]string, len(t.headers))
	copy(row, cells)
	t.rows = append(t.rows, row)
}

// Len returns the number of rows added.
func (t *Table) Len() int {
	return len(t.rows)
}

// Render writes the table.
func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = width(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if w := width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	header := t.color(color.Bold, color.FgCyan)
	rule := t.color(color.FgHiBlack)
	last := len(t.headers) - 1

	for i, h := range t.headers {
		header.Fprint(t.w, t.pad(i, h, widths[i], i == last))
		if i < last {
			fmt.Fprint(t.w, "  ")
		}
	}
	fmt.Fprintln(t.w)

	for i, w := range widths {
		rule.Fprint(t.w, strings.Repeat("─", w))
		if i < last {
			rule.Fprint(t.w, "  ")
		}
	}
	fmt.Fprintln(t.w)

	for _, row := range t.rows {
		var line strings.Builder
		for i, cell := range row {
			line.WriteString(t.pad(i, cell, widths[i], i == last))
			if i < last {
				line.WriteString("  ")
			}
		}
		fmt.Fprintln(t.w, strings.TrimRight(line.String(), " "))
	}
}

// pad aligns a cell. The last left-aligned column is not padded so lines
// carry no trailing blanks.
func (t *Table) pad(column int, s string, w int, last bool) string {
	gap := w - width(s)
	if gap <= 0 {
		return s
	}
	if t.align[column] == AlignRight {
		return strings.Repeat(" ", gap) + s
	}
	if last {
		return s
	}
	return s + strings.Repeat(" ", gap)
}

func (t *Table) color(attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if t.noColor {
		c.DisableColor()
	}
	return c
}

// KeyValueTable writes "key: value" lines with the keys aligned.
type KeyValueTable struct {
	w       io.Writer
	keys    []string
	values  []string
	noColor bool
}

// NewKeyValueTable creates an empty key/value table.
func NewKeyValueTable(w io.Writer, noColor bool) *KeyValueTable {
	return &KeyValueTable{w: w, noColor: noColor}
}

// AddRow appends a pair.
func (t *KeyValueTable) AddRow(key, value string) {
	t.keys = append(t.keys, key)
	t.values = append(t.values, value)
}

// Render writes the pairs.
func (t *KeyValueTable) Render() {
	keyWidth := 0
	for _, k := range t.keys {
		if w := width(k) + 1; w > keyWidth {
			keyWidth = w
		}
	}

	cyan := color.New(color.FgCyan)
	if t.noColor {
		cyan.DisableColor()
	}
	for i, k := range t.keys {
		label := k + ":"
		cyan.Fprint(t.w, label+strings.Repeat(" ", keyWidth-width(label)))
		fmt.Fprintf(t.w, " %s\n", t.values[i])
	}
}

// Success prints a green status line.
func Success(w io.Writer, noColor bool, format string, args ...any) {
	c := color.New(color.FgGreen)
	if noColor {
		c.DisableColor()
	}
	c.Fprintf(w, format+"\n", args...)
}

// Warn prints a yellow status line.
func Warn(w io.Writer, noColor bool, format string, args ...any) {
	c := color.New(color.FgYellow)
	if noColor {
		c.DisableColor()
	}
	c.Fprintf(w, format+"\n", args...)
}

func width(s string) int {
	return utf8.RuneCountInString(s)
}
