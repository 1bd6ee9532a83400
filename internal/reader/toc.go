package reader

import "github.com/garlicbreadcleric/increadable/internal/domain"

// BuildTOC nests a flat heading list into a tree and marks the active path for
// the given reading position. The input slice is not modified.
func BuildTOC(headings []domain.Heading, position int) []*domain.TocNode {
	active := ActiveHeading(headings, position)

	roots := make([]*domain.TocNode, 0)
	for i, h := range headings {
		h.Active = i == active
		node := &domain.TocNode{Heading: h, Children: []*domain.TocNode{}}

		if len(roots) == 0 || h.Level == 1 || roots[len(roots)-1].Level >= h.Level {
			roots = append(roots, node)
			continue
		}

		parent := roots[len(roots)-1]
		for len(parent.Children) > 0 {
			last := parent.Children[len(parent.Children)-1]
			if last.Level >= h.Level {
				break
			}
			parent = last
		}
		parent.Children = append(parent.Children, node)
	}

	for _, root := range roots {
		propagateActive(root)
	}
	return roots
}

// ActiveHeading returns the index of the last heading at or before position,
// or -1 when there is none.
func ActiveHeading(headings []domain.Heading, position int) int {
	active := -1
	for i, h := range headings {
		if h.Position > position {
			break
		}
		active = i
	}
	return active
}

func propagateActive(node *domain.TocNode) bool {
	for _, child := range node.Children {
		if propagateActive(child) {
			node.Active = true
		}
	}
	return node.Active
}

// Walk visits the tree in pre-order. Returning false from fn stops the walk.
func Walk(nodes []*domain.TocNode, fn func(node *domain.TocNode, depth int) bool) {
	var walk func(nodes []*domain.TocNode, depth int) bool
	walk = func(nodes []*domain.TocNode, depth int) bool {
		for _, n := range nodes {
			if !fn(n, depth) {
				return false
			}
			if !walk(n.Children, depth+1) {
				return false
			}
		}
		return true
	}
	walk(nodes, 0)
}

// ActivePath returns the active nodes from the root down to the active leaf
func ActivePath(nodes []*domain.TocNode) []*domain.TocNode {
	var path []*domain.TocNode
	for {
		var next *domain.TocNode
		for _, n := range nodes {
			if n.Active {
				next = n
				break
			}
		}
		if next == nil {
			return path
		}
		path = append(path, next)
		nodes = next.Children
	}
}
