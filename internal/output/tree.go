package output

import (
	"strings"
)

// TreeNode is one line of a rendered tree and its children.
type TreeNode struct {
	ID       string
	Title    string
	Meta     string
	Children []TreeNode
}

// TreeRenderOptions configures tree rendering behavior
type TreeRenderOptions struct {
	MaxDepth int  // 0 = unlimited
	ShowID   bool // prefix each line with "ID:"
}

// RenderTreeLines renders multiple root nodes and returns individual lines
func RenderTreeLines(roots []TreeNode, opts TreeRenderOptions) []string {
	return renderTreeNodes(roots, opts, 0, "")
}

// RenderTree renders roots joined by newlines.
func RenderTree(roots []TreeNode, opts TreeRenderOptions) string {
	return strings.Join(RenderTreeLines(roots, opts), "\n")
}

func renderTreeNodes(nodes []TreeNode, opts TreeRenderOptions, depth int, prefix string) []string {
	if opts.MaxDepth > 0 && depth >= opts.MaxDepth {
		return nil
	}

	var lines []string
	for i, node := range nodes {
		isLast := i == len(nodes)-1

		connector := "├── "
		if isLast {
			connector = "└── "
		}

		var parts []string
		if opts.ShowID {
			parts = append(parts, node.ID+":")
		}
		parts = append(parts, firstLine(node.Title))
		if node.Meta != "" {
			parts = append(parts, "("+node.Meta+")")
		}
		lines = append(lines, prefix+connector+strings.Join(parts, " "))

		childPrefix := prefix
		if isLast {
			childPrefix += "    "
		} else {
			childPrefix += "│   "
		}
		lines = append(lines, renderTreeNodes(node.Children, opts, depth+1, childPrefix)...)
	}
	return lines
}

// firstLine trims s to its first line, marking the cut with "…".
func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i]) + " …"
	}
	return s
}
