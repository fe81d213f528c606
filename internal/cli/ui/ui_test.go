package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aristath/macroecon/internal/series"
)

func TestTable(t *testing.T) {
	var buf bytes.Buffer
	table := NewTable(&buf, true, "KEY", "SIZE", "STALE")
	table.SetAlign(1, AlignRight)
	table.AddRow("fred_GDP", "1024", "no")
	table.AddRow("bls_CUUR0000SA0", "96", "yes")
	table.Render()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Equal(t, []string{
		"KEY              SIZE  STALE",
		"───────────────  ────  ─────",
		"fred_GDP         1024  no",
		"bls_CUUR0000SA0    96  yes",
	}, lines)
	assert.Equal(t, 2, table.Len())
}

func TestTableShortRowsAndNoHeaders(t *testing.T) {
	var buf bytes.Buffer
	table := NewTable(&buf, true, "A", "B")
	table.AddRow("x")
	table.AddRow("y", "z", "dropped")
	table.Render()
	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "x\n")

	buf.Reset()
	NewTable(&buf, true).Render()
	assert.Empty(t, buf.String())
}

func TestKeyValueTable(t *testing.T) {
	var buf bytes.Buffer
	kv := NewKeyValueTable(&buf, true)
	kv.AddRow("Tree", "gdp")
	kv.AddRow("Provider", "fred")
	kv.Render()

	assert.Equal(t, "Tree:     gdp\nProvider: fred\n", buf.String())
}

func TestStatusLines(t *testing.T) {
	var buf bytes.Buffer
	Success(&buf, true, "saved %d entries", 3)
	Warn(&buf, true, "skipped %s", "x")
	assert.Equal(t, "saved 3 entries\nskipped x\n", buf.String())
}

func TestRenderTree(t *testing.T) {
	root := series.NewNode("Root", "R",
		series.WithSources(series.FRED("R"), series.NewSource(series.ProviderBEA, "T1", nil)),
		series.WithChildren(
			series.NewNode("A", "A", series.WithChildren(
				series.NewNode("A1", "A1", series.WithSources(series.FRED("A1"))),
			)),
			series.NewNode("B", "B"),
		),
	)

	want := strings.Join([]string{
		"Root [R] fred:R, bea:T1",
		"├── A [A]",
		"│   └── A1 [A1] fred:A1",
		"└── B [B]",
	}, "\n")
	assert.Equal(t, want, RenderTree(root))
}

func TestRenderTreeSingleNode(t *testing.T) {
	assert.Equal(t, "Only [O]", RenderTree(series.NewNode("Only", "O")))
	assert.Empty(t, RenderTree(nil))
}
