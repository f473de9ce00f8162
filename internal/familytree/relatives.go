package familytree

import "github.com/dukerupert/heirloom/internal/model"

// Relatives are the immediate relatives of one member.
type Relatives struct {
	Parents  []model.FamilyMember `json:"parents"`
	Children []model.FamilyMember `json:"children"`
	Spouse   *model.FamilyMember  `json:"spouse"`
	Siblings []model.FamilyMember `json:"siblings"`
}

func newRelatives() *Relatives {
	return &Relatives{
		Parents:  []model.FamilyMember{},
		Children: []model.FamilyMember{},
		Siblings: []model.FamilyMember{},
	}
}

// add files other under the bucket named by t, as seen from the owner of r.
func (r *Relatives) add(t model.RelationshipType, other model.FamilyMember) {
	switch t {
	case model.RelationshipParent:
		r.Parents = append(r.Parents, other)
	case model.RelationshipChild:
		r.Children = append(r.Children, other)
	case model.RelationshipSpouse:
		// a second spouse edge silently replaces the first
		m := other
		r.Spouse = &m
	case model.RelationshipSibling:
		r.Siblings = append(r.Siblings, other)
	}
}

// Relatives resolves the relatives of memberID in a single pass over the
// edges. From the subject's side an edge reads as stored; from the object's
// side it reads as its inverse. Edges whose other end is not a known member
// are skipped.
func (g *Graph) Relatives(memberID string) Relatives {
	r := newRelatives()
	for _, e := range g.edges {
		if e.PersonID == memberID {
			if other, ok := g.Member(e.RelatedPersonID); ok {
				r.add(e.Type, other)
			}
		}
		if e.RelatedPersonID == memberID {
			if other, ok := g.Member(e.PersonID); ok {
				r.add(e.Type.Inverse(), other)
			}
		}
	}
	return *r
}

// allRelatives resolves every member at once in one pass over the edges.
func (g *Graph) allRelatives() map[string]*Relatives {
	out := make(map[string]*Relatives, len(g.members))
	for _, m := range g.members {
		out[m.ID] = newRelatives()
	}
	for _, e := range g.edges {
		subject, okS := g.Member(e.PersonID)
		object, okO := g.Member(e.RelatedPersonID)
		if !okS || !okO {
			continue
		}
		out[subject.ID].add(e.Type, object)
		out[object.ID].add(e.Type.Inverse(), subject)
	}
	return out
}
