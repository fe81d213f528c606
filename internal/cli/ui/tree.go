package ui

import (
	"strings"

	"github.com/xlab/treeprint"

	"github.com/aristath/macroecon/internal/series"
)

// RenderTree draws a series subtree with box-drawing branches, one node per
// line as "Name [CODE] provider:id, ...". The root has no branch prefix.
func RenderTree(root *series.Node) string {
	if root == nil {
		return ""
	}
	t := treeprint.New()
	addNode(t, root)

	// treeprint labels its own root "."; the series root replaces that line.
	body := strings.TrimRight(t.String(), "\n")
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		return nodeLabel(root) + body[i:]
	}
	return nodeLabel(root)
}

func addNode(branch treeprint.Tree, n *series.Node) {
	for _, child := range n.Children() {
		if child.IsLeaf() {
			branch.AddNode(nodeLabel(child))
			continue
		}
		addNode(branch.AddBranch(nodeLabel(child)), child)
	}
}

func nodeLabel(n *series.Node) string {
	var b strings.Builder
	b.WriteString(n.Name)
	b.WriteString(" [")
	b.WriteString(n.Code)
	b.WriteString("]")
	if len(n.Sources) > 0 {
		parts := make([]string, len(n.Sources))
		for i, s := range n.Sources {
			parts[i] = s.String()
		}
		b.WriteString(" ")
		b.WriteString(strings.Join(parts, ", "))
	}
	return b.String()
}
