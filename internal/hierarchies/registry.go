// Package hierarchies builds the built-in series trees (CPI, PCE, GDP, CES
// and CPS) from the YAML definitions shipped in pkg/embedded.
package hierarchies

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/aristath/macroecon/internal/series"
	"github.com/aristath/macroecon/pkg/embedded"
)

// ErrUnknownTree is returned by Build for names without a builder.
var ErrUnknownTree = errors.New("hierarchies: unknown tree")

// Builder returns a freshly built tree on every call.
type Builder func() (*series.Node, error)

// Registry maps tree names to builders.
type Registry struct {
	builders map[string]Builder
}

// NewRegistry registers every *.yaml file of fsys under its file stem,
// plus gdp_detail when both gdp and pce definitions are present.
func NewRegistry(fsys fs.FS) (*Registry, error) {
	files, err := fs.Glob(fsys, "*.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to list hierarchy files: %w", err)
	}

	r := &Registry{builders: make(map[string]Builder, len(files)+1)}
	for _, file := range files {
		name := strings.TrimSuffix(path.Base(file), ".yaml")
		file := file
		r.Register(name, func() (*series.Node, error) {
			return loadFile(fsys, file)
		})
	}

	_, hasGDP := r.builders["gdp"]
	_, hasPCE := r.builders["pce"]
	if hasGDP && hasPCE {
		r.Register("gdp_detail", func() (*series.Node, error) {
			return buildGDPDetail(fsys)
		})
	}
	return r, nil
}

// Default returns the registry over the embedded definitions.
func Default() *Registry {
	r, err := NewRegistry(embedded.Hierarchies())
	if err != nil {
		// the embedded file set is fixed at compile time
		panic(err)
	}
	return r
}

// Register adds or replaces a builder.
func (r *Registry) Register(name string, b Builder) {
	r.builders[name] = b
}

// Names returns the registered tree names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether a builder is registered for name.
func (r *Registry) Has(name string) bool {
	_, ok := r.builders[name]
	return ok
}

// Build returns a new tree for name.
func (r *Registry) Build(name string) (*series.Node, error) {
	b, ok := r.builders[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTree, name)
	}
	root, err := b()
	if err != nil {
		return nil, fmt.Errorf("failed to build %s tree: %w", name, err)
	}
	return root, nil
}

func loadFile(fsys fs.FS, file string) (*series.Node, error) {
	def, err := readDefinition(fsys, file)
	if err != nil {
		return nil, err
	}
	return build(def, nil)
}

func readDefinition(fsys fs.FS, file string) (*Definition, error) {
	data, err := fs.ReadFile(fsys, file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", file, err)
	}
	def, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	return def, nil
}

// buildGDPDetail builds the GDP tree with the full PCE tree in place of the
// collapsed consumption branch.
func buildGDPDetail(fsys fs.FS) (*series.Node, error) {
	pce, err := loadFile(fsys, "pce.yaml")
	if err != nil {
		return nil, err
	}
	gdp, err := readDefinition(fsys, "gdp.yaml")
	if err != nil {
		return nil, err
	}
	return build(gdp, map[string]*series.Node{"GDP_C": pce})
}
