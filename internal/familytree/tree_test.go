package familytree

import (
	"strings"
	"testing"

	"github.com/dukerupert/heirloom/internal/model"
)

func generationOf(roots []*TreeNode) map[string]int {
	out := map[string]int{}
	Walk(roots, func(n *TreeNode) bool {
		out[n.Member.ID] = n.Generation
		return true
	})
	return out
}

func TestBuildForestEmpty(t *testing.T) {
	roots := BuildForest(NewGraph(nil, nil))
	if roots == nil || len(roots) != 0 {
		t.Errorf("roots = %v, want empty non-nil slice", roots)
	}
}

func TestBuildForestParentChild(t *testing.T) {
	g := NewGraph(
		[]model.FamilyMember{member("a", "A"), member("b", "B")},
		[]model.FamilyRelationship{edge("e1", "a", "b", model.RelationshipChild)},
	)
	roots := BuildForest(g)
	if len(roots) != 1 {
		t.Fatalf("roots = %d, want 1", len(roots))
	}
	root := roots[0]
	if root.Member.ID != "a" || root.Generation != 0 {
		t.Errorf("root = %s gen %d, want a gen 0", root.Member.ID, root.Generation)
	}
	if len(root.Children) != 1 || root.Children[0].Member.ID != "b" {
		t.Fatalf("children = %v, want [b]", root.Children)
	}
	if root.Children[0].Generation != 1 {
		t.Errorf("b generation = %d, want 1", root.Children[0].Generation)
	}
	if !equalIDs(ids(root.Children[0].Parents), []string{"a"}) {
		t.Errorf("b parents = %v, want [a]", ids(root.Children[0].Parents))
	}
}

func TestBuildForestNoEdges(t *testing.T) {
	g := NewGraph([]model.FamilyMember{member("a", "A"), member("b", "B"), member("c", "C")}, nil)
	roots := BuildForest(g)
	if len(roots) != 3 {
		t.Fatalf("roots = %d, want 3", len(roots))
	}
	for _, r := range roots {
		if r.Generation != 0 || len(r.Children) != 0 {
			t.Errorf("%s: generation %d, children %d; want 0, 0", r.Member.ID, r.Generation, len(r.Children))
		}
	}
}

func TestBuildForestCycleTerminates(t *testing.T) {
	g := NewGraph(
		[]model.FamilyMember{member("a", "A"), member("b", "B"), member("c", "C")},
		[]model.FamilyRelationship{
			edge("e1", "a", "b", model.RelationshipParent),
			edge("e2", "b", "a", model.RelationshipParent),
			edge("e3", "b", "c", model.RelationshipChild),
		},
	)
	roots := BuildForest(g)

	if got := Count(roots); got != 3 {
		t.Errorf("forest has %d nodes, want 3", got)
	}
	seen := map[string]int{}
	Walk(roots, func(n *TreeNode) bool {
		seen[n.Member.ID]++
		return true
	})
	for id, n := range seen {
		if n != 1 {
			t.Errorf("%s appears %d times, want 1", id, n)
		}
	}
	if len(roots) != 1 || roots[0].Member.ID != "a" || roots[0].Generation != 0 {
		t.Errorf("cycle should surface as a single generation-0 root a, got %v", roots)
	}
}

func TestBuildForestEveryMemberOnce(t *testing.T) {
	// Diamond: c has two parents a and b; d is c's child; e is a spouse-only fragment.
	g := NewGraph(
		[]model.FamilyMember{member("a", "A"), member("b", "B"), member("c", "C"), member("d", "D"), member("e", "E")},
		[]model.FamilyRelationship{
			edge("e1", "a", "c", model.RelationshipChild),
			edge("e2", "c", "b", model.RelationshipParent),
			edge("e3", "a", "b", model.RelationshipSpouse),
			edge("e4", "c", "d", model.RelationshipChild),
			edge("e5", "e", "d", model.RelationshipSpouse),
		},
	)
	roots := BuildForest(g)

	if got := Count(roots); got != g.Len() {
		t.Errorf("forest has %d nodes, want %d", got, g.Len())
	}
	gens := generationOf(roots)
	want := map[string]int{"a": 0, "b": 0, "c": 1, "d": 2, "e": 0}
	for id, gen := range want {
		if gens[id] != gen {
			t.Errorf("%s generation = %d, want %d", id, gens[id], gen)
		}
	}

	var rootIDs []string
	for _, r := range roots {
		rootIDs = append(rootIDs, r.Member.ID)
	}
	if !equalIDs(rootIDs, []string{"a", "b", "e"}) {
		t.Errorf("roots = %v, want [a b e]", rootIDs)
	}
	if roots[0].Spouse == nil || roots[0].Spouse.ID != "b" {
		t.Errorf("a spouse = %v, want b", roots[0].Spouse)
	}
	// c hangs under the first parent that reached it only
	if len(roots[1].Children) != 0 {
		t.Errorf("b children = %d, want 0", len(roots[1].Children))
	}
}

func TestBuildForestRootsHaveNoParents(t *testing.T) {
	g := NewGraph(
		[]model.FamilyMember{member("a", "A"), member("b", "B"), member("c", "C")},
		[]model.FamilyRelationship{
			edge("e1", "b", "c", model.RelationshipSibling),
			edge("e2", "a", "b", model.RelationshipParent),
		},
	)
	roots := BuildForest(g)
	rels := g.allRelatives()
	for _, m := range g.Members() {
		if len(rels[m.ID].Parents) > 0 {
			continue
		}
		found := false
		for _, r := range roots {
			if r.Member.ID == m.ID && r.Generation == 0 {
				found = true
			}
		}
		if !found {
			t.Errorf("parentless member %s is not a generation-0 root", m.ID)
		}
	}
}

func TestGenerations(t *testing.T) {
	g := NewGraph(
		[]model.FamilyMember{member("a", "A"), member("b", "B"), member("c", "C"), member("d", "D")},
		[]model.FamilyRelationship{
			edge("e1", "a", "b", model.RelationshipChild),
			edge("e2", "b", "c", model.RelationshipChild),
		},
	)
	gens := Generations(BuildForest(g))
	if len(gens) != 3 {
		t.Fatalf("generations = %d, want 3", len(gens))
	}
	if len(gens[0]) != 2 || len(gens[1]) != 1 || len(gens[2]) != 1 {
		t.Errorf("bucket sizes = %d/%d/%d, want 2/1/1", len(gens[0]), len(gens[1]), len(gens[2]))
	}
}

func TestFindByUser(t *testing.T) {
	uid := "user-7"
	b := member("b", "B")
	b.UserID = &uid
	b.IsPlaceholder = false
	g := NewGraph(
		[]model.FamilyMember{member("a", "A"), b},
		[]model.FamilyRelationship{edge("e1", "a", "b", model.RelationshipChild)},
	)
	roots := BuildForest(g)

	n := FindByUser(roots, uid)
	if n == nil || n.Member.ID != "b" {
		t.Fatalf("FindByUser = %v, want b", n)
	}
	if FindByUser(roots, "nobody") != nil {
		t.Error("unknown user should not match")
	}
	if FindByUser(roots, "") != nil {
		t.Error("empty user id should not match placeholders")
	}
}

func TestWriteOutline(t *testing.T) {
	birth, death := "1900-03-01", "1980-07-04"
	a := member("a", "Rose")
	a.BirthDate, a.DeathDate = &birth, &death
	g := NewGraph(
		[]model.FamilyMember{a, member("b", "Jack"), member("c", "Cal")},
		[]model.FamilyRelationship{
			edge("e1", "a", "b", model.RelationshipSpouse),
			edge("e2", "a", "c", model.RelationshipChild),
		},
	)

	var sb strings.Builder
	if err := WriteOutline(&sb, BuildForest(g)); err != nil {
		t.Fatalf("write outline: %v", err)
	}
	got := sb.String()
	if !strings.HasPrefix(got, "Rose (1900-1980) * & Jack *\n") {
		t.Errorf("outline first line wrong:\n%s", got)
	}
	if !strings.Contains(got, "\n  Cal *\n") {
		t.Errorf("outline should indent child:\n%s", got)
	}
}
