// Package series models hierarchical economic series trees.
//
// A tree is a set of named nodes (CPI > Food > Food at home > ...), each
// listing the provider series that can be fetched for it. Nodes keep a
// non-owning parent pointer and a cached depth so ancestry and indentation
// are O(depth) without a second index.
package series

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrCycle is returned when attaching a node under itself or one of its descendants.
	ErrCycle = errors.New("series: attaching node would create a cycle")
	// ErrAlreadyAttached is returned when the child already belongs to a parent.
	ErrAlreadyAttached = errors.New("series: node is already attached to a parent")
	// ErrNilNode is returned when a nil child is attached.
	ErrNilNode = errors.New("series: nil node")
	// ErrDuplicateCode is returned by Validate when codes repeat within a tree.
	ErrDuplicateCode = errors.New("series: duplicate node code")
)

// Node is one series in a hierarchy.
type Node struct {
	Name        string
	Code        string
	Description string
	Sources     []Source

	children []*Node
	parent   *Node
	level    int
}

// Option configures a node built with NewNode.
type Option func(*Node)

// WithDescription sets the node description.
func WithDescription(description string) Option {
	return func(n *Node) { n.Description = description }
}

// WithSources appends provider sources to the node.
func WithSources(sources ...Source) Option {
	return func(n *Node) { n.Sources = append(n.Sources, sources...) }
}

// WithChildren adopts the given nodes as children, in order.
// A child that already has a parent is detached from it first.
func WithChildren(children ...*Node) Option {
	return func(n *Node) {
		for _, c := range children {
			if c == nil {
				continue
			}
			if c.parent != nil {
				c.parent.removeChild(c)
			}
			c.parent = n
			n.children = append(n.children, c)
		}
	}
}

// NewNode builds a node and links any children given through WithChildren.
// The returned node is a root at level 0.
func NewNode(name, code string, opts ...Option) *Node {
	n := &Node{Name: name, Code: code}
	for _, opt := range opts {
		opt(n)
	}
	n.relink()
	return n
}

// Children returns the ordered child list. The slice must not be modified.
func (n *Node) Children() []*Node {
	return n.children
}

// Parent returns the parent node, or nil for a root.
func (n *Node) Parent() *Node {
	return n.parent
}

// Level returns the depth of the node; the root is 0.
func (n *Node) Level() int {
	return n.level
}

// Root returns the top of the tree containing n.
func (n *Node) Root() *Node {
	r := n
	for r.parent != nil {
		r = r.parent
	}
	return r
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool {
	return len(n.children) == 0
}

// AddChild appends child under n and re-derives levels for the whole
// attached subtree.
func (n *Node) AddChild(child *Node) error {
	if child == nil {
		return ErrNilNode
	}
	for a := n; a != nil; a = a.parent {
		if a == child {
			return fmt.Errorf("%w: %s under %s", ErrCycle, child.Code, n.Code)
		}
	}
	if child.parent != nil {
		return fmt.Errorf("%w: %s already under %s", ErrAlreadyAttached, child.Code, child.parent.Code)
	}

	child.parent = n
	n.children = append(n.children, child)
	n.relink()
	return nil
}

func (n *Node) removeChild(child *Node) {
	for i, c := range n.children {
		if c == child {
			n.children = append(n.children[:i:i], n.children[i+1:]...)
			child.parent = nil
			return
		}
	}
}

// relink walks the subtree below n and restores parent pointers and levels.
// Iterative so that very deep trees cannot exhaust the stack.
func (n *Node) relink() {
	stack := []*Node{n}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, c := range cur.children {
			c.parent = cur
			c.level = cur.level + 1
			stack = append(stack, c)
		}
	}
}

// Each visits the subtree rooted at n in pre-order (node first, children in
// order). Returning false from fn stops the walk.
func (n *Node) Each(fn func(*Node) bool) {
	stack := []*Node{n}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(cur) {
			return
		}
		for i := len(cur.children) - 1; i >= 0; i-- {
			stack = append(stack, cur.children[i])
		}
	}
}

// Walk returns every node of the subtree in pre-order.
func (n *Node) Walk() []*Node {
	var out []*Node
	n.Each(func(node *Node) bool {
		out = append(out, node)
		return true
	})
	return out
}

// Leaves returns the leaf nodes of the subtree in pre-order.
// A leaf asked for its leaves returns itself.
func (n *Node) Leaves() []*Node {
	var out []*Node
	n.Each(func(node *Node) bool {
		if node.IsLeaf() {
			out = append(out, node)
		}
		return true
	})
	return out
}

// Size returns the number of nodes in the subtree.
func (n *Node) Size() int {
	count := 0
	n.Each(func(*Node) bool {
		count++
		return true
	})
	return count
}

// Find returns the first node in pre-order whose code matches, or nil.
func (n *Node) Find(code string) *Node {
	var found *Node
	n.Each(func(node *Node) bool {
		if node.Code == code {
			found = node
			return false
		}
		return true
	})
	return found
}

// FindAll returns every node in pre-order whose code matches.
func (n *Node) FindAll(code string) []*Node {
	var out []*Node
	n.Each(func(node *Node) bool {
		if node.Code == code {
			out = append(out, node)
		}
		return true
	})
	return out
}

// Path returns the codes from the root down to n.
func (n *Node) Path() []string {
	path := make([]string, n.level+1)
	i := n.level
	for cur := n; cur != nil && i >= 0; cur = cur.parent {
		path[i] = cur.Code
		i--
	}
	return path
}

// Source returns the first source registered for provider.
func (n *Node) Source(provider string) (Source, bool) {
	for _, s := range n.Sources {
		if s.Provider == provider {
			return s, true
		}
	}
	return Source{}, false
}

// Validate checks that codes are unique within the subtree.
func (n *Node) Validate() error {
	seen := make(map[string]int)
	n.Each(func(node *Node) bool {
		seen[node.Code]++
		return true
	})

	var dups []string
	for code, count := range seen {
		if count > 1 {
			dups = append(dups, code)
		}
	}
	if len(dups) == 0 {
		return nil
	}
	sort.Strings(dups)
	return fmt.Errorf("%w: %s", ErrDuplicateCode, strings.Join(dups, ", "))
}

// String renders one line: indentation by level, name, code and sources.
func (n *Node) String() string {
	var b strings.Builder
	b.WriteString(strings.Repeat("  ", n.level))
	b.WriteString(n.Name)
	b.WriteString(" [")
	b.WriteString(n.Code)
	b.WriteString("]")
	if len(n.Sources) > 0 {
		parts := make([]string, len(n.Sources))
		for i, s := range n.Sources {
			parts[i] = s.String()
		}
		b.WriteString(" (")
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString(")")
	}
	return b.String()
}

// PrintTree renders the subtree, one String() line per node.
func (n *Node) PrintTree() string {
	nodes := n.Walk()
	lines := make([]string, len(nodes))
	for i, node := range nodes {
		lines[i] = node.String()
	}
	return strings.Join(lines, "\n")
}

// ToMap converts the subtree into nested maps. Leaves carry no "children" key.
func (n *Node) ToMap() map[string]any {
	sources := make([]any, len(n.Sources))
	for i, s := range n.Sources {
		sources[i] = s.toMap()
	}
	m := map[string]any{
		"name":        n.Name,
		"code":        n.Code,
		"level":       n.level,
		"description": n.Description,
		"sources":     sources,
	}
	if !n.IsLeaf() {
		children := make([]any, len(n.children))
		for i, c := range n.children {
			children[i] = c.ToMap()
		}
		m["children"] = children
	}
	return m
}

type nodeJSON struct {
	Name        string      `json:"name"`
	Code        string      `json:"code"`
	Level       int         `json:"level"`
	Description string      `json:"description"`
	Sources     []Source    `json:"sources"`
	Children    []*nodeJSON `json:"children,omitempty"`
}

func (n *Node) toJSON() *nodeJSON {
	out := &nodeJSON{
		Name:        n.Name,
		Code:        n.Code,
		Level:       n.level,
		Description: n.Description,
		Sources:     n.Sources,
	}
	if out.Sources == nil {
		out.Sources = []Source{}
	}
	for _, c := range n.children {
		out.Children = append(out.Children, c.toJSON())
	}
	return out
}

// MarshalJSON encodes the subtree with stable field order.
func (n *Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.toJSON())
}

// ParseJSON rebuilds a tree from the output of MarshalJSON.
// Stored levels are ignored and derived again from the structure.
func ParseJSON(data []byte) (*Node, error) {
	var raw nodeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode series tree: %w", err)
	}
	if raw.Code == "" {
		return nil, fmt.Errorf("failed to decode series tree: root has no code")
	}
	return raw.build(), nil
}

func (j *nodeJSON) build() *Node {
	children := make([]*Node, 0, len(j.Children))
	for _, c := range j.Children {
		children = append(children, c.build())
	}
	return NewNode(j.Name, j.Code,
		WithDescription(j.Description),
		WithSources(j.Sources...),
		WithChildren(children...),
	)
}
