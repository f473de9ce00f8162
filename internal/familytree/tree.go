package familytree

import "github.com/dukerupert/heirloom/internal/model"

// TreeNode is one member placed in the forest.
type TreeNode struct {
	Member     model.FamilyMember   `json:"member"`
	Spouse     *model.FamilyMember  `json:"spouse,omitempty"`
	Children   []*TreeNode          `json:"children"`
	Parents    []model.FamilyMember `json:"parents"`
	Siblings   []model.FamilyMember `json:"siblings"`
	Generation int                  `json:"generation"`
}

// BuildForest assigns generations and nests children under their parents.
//
// Roots are members without resolved parents, walked depth-first in member
// order. A member is attached under the first parent that reaches it. Members
// no walk reached (parent cycles) become generation-0 roots of their own in
// a second pass, so every member appears exactly once.
func BuildForest(g *Graph) []*TreeNode {
	if g.Len() == 0 {
		return []*TreeNode{}
	}

	rels := g.allRelatives()
	nodes := make(map[string]*TreeNode, g.Len())
	for _, m := range g.members {
		r := rels[m.ID]
		nodes[m.ID] = &TreeNode{
			Member:   m,
			Spouse:   r.Spouse,
			Children: []*TreeNode{},
			Parents:  r.Parents,
			Siblings: r.Siblings,
		}
	}

	visited := make(map[string]bool, g.Len())
	var walk func(n *TreeNode, gen int)
	walk = func(n *TreeNode, gen int) {
		visited[n.Member.ID] = true
		n.Generation = gen
		for _, c := range rels[n.Member.ID].Children {
			child, ok := nodes[c.ID]
			if !ok || visited[c.ID] {
				continue
			}
			n.Children = append(n.Children, child)
			walk(child, gen+1)
		}
	}

	roots := []*TreeNode{}
	for _, m := range g.members {
		if len(rels[m.ID].Parents) > 0 || visited[m.ID] {
			continue
		}
		roots = append(roots, nodes[m.ID])
		walk(nodes[m.ID], 0)
	}
	for _, m := range g.members {
		if visited[m.ID] {
			continue
		}
		roots = append(roots, nodes[m.ID])
		walk(nodes[m.ID], 0)
	}
	return roots
}

// Walk visits every node depth-first, parents before children. Returning
// false from fn stops the walk.
func Walk(roots []*TreeNode, fn func(*TreeNode) bool) {
	var visit func(n *TreeNode) bool
	visit = func(n *TreeNode) bool {
		if !fn(n) {
			return false
		}
		for _, c := range n.Children {
			if !visit(c) {
				return false
			}
		}
		return true
	}
	for _, r := range roots {
		if !visit(r) {
			return
		}
	}
}

// Generations groups every node of the forest by generation index.
func Generations(roots []*TreeNode) [][]*TreeNode {
	var out [][]*TreeNode
	Walk(roots, func(n *TreeNode) bool {
		for len(out) <= n.Generation {
			out = append(out, nil)
		}
		out[n.Generation] = append(out[n.Generation], n)
		return true
	})
	return out
}

// FindByUser returns the node linked to the given account, or nil.
func FindByUser(roots []*TreeNode, userID string) *TreeNode {
	if userID == "" {
		return nil
	}
	var found *TreeNode
	Walk(roots, func(n *TreeNode) bool {
		if n.Member.UserID != nil && *n.Member.UserID == userID {
			found = n
			return false
		}
		return true
	})
	return found
}

// Count returns the number of nodes in the forest.
func Count(roots []*TreeNode) int {
	n := 0
	Walk(roots, func(*TreeNode) bool {
		n++
		return true
	})
	return n
}
