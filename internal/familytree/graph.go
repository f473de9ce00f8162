// Package familytree holds the in-memory relationship graph of one family and
// derives relatives and the generation forest from it.
package familytree

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/heirloom/internal/model"
)

const dateLayout = "2006-01-02"

var (
	ErrInvalidMember         = errors.New("full name is required")
	ErrInvalidDate           = errors.New("dates must be formatted YYYY-MM-DD")
	ErrDeathBeforeBirth      = errors.New("death date is before birth date")
	ErrMemberNotFound        = errors.New("family member not found")
	ErrDuplicateMember       = errors.New("family member already exists")
	ErrInvalidRelationship   = errors.New("relationship type must be parent, child, spouse or sibling")
	ErrSelfRelationship      = errors.New("a member cannot be related to themselves")
	ErrDuplicateRelationship = errors.New("relationship already exists")
	ErrUserAlreadyLinked     = errors.New("account is already linked to another family member")
)

// Graph is the member list and stored edges of one family. Only one direction
// of each fact is stored; the other is read through RelationshipType.Inverse.
// A Graph is not safe for concurrent mutation.
type Graph struct {
	members []model.FamilyMember
	index   map[string]int
	edges   []model.FamilyRelationship
}

// NewGraph builds a graph from loaded rows. Members with a repeated id are
// dropped; edges are kept as given, including ones that point at unknown members.
func NewGraph(members []model.FamilyMember, edges []model.FamilyRelationship) *Graph {
	g := &Graph{
		members: make([]model.FamilyMember, 0, len(members)),
		index:   make(map[string]int, len(members)),
		edges:   make([]model.FamilyRelationship, len(edges)),
	}
	for _, m := range members {
		if _, ok := g.index[m.ID]; ok {
			continue
		}
		g.index[m.ID] = len(g.members)
		g.members = append(g.members, m)
	}
	copy(g.edges, edges)
	return g
}

// Clone returns an independent copy.
func (g *Graph) Clone() *Graph {
	return NewGraph(g.members, g.edges)
}

// Len returns the number of members.
func (g *Graph) Len() int {
	return len(g.members)
}

// Members returns the members in load order.
func (g *Graph) Members() []model.FamilyMember {
	out := make([]model.FamilyMember, len(g.members))
	copy(out, g.members)
	return out
}

// Edges returns the stored edges in insertion order.
func (g *Graph) Edges() []model.FamilyRelationship {
	out := make([]model.FamilyRelationship, len(g.edges))
	copy(out, g.edges)
	return out
}

// Member looks up a member by id.
func (g *Graph) Member(id string) (model.FamilyMember, bool) {
	i, ok := g.index[id]
	if !ok {
		return model.FamilyMember{}, false
	}
	return g.members[i], true
}

// AddMember appends a validated member.
func (g *Graph) AddMember(m model.FamilyMember) error {
	if err := ValidateMember(m); err != nil {
		return err
	}
	if _, ok := g.index[m.ID]; ok {
		return ErrDuplicateMember
	}
	if err := g.CheckUserLink(m.ID, m.UserID); err != nil {
		return err
	}
	g.index[m.ID] = len(g.members)
	g.members = append(g.members, m)
	return nil
}

// UpdateMember merges patch into the member and returns the result.
func (g *Graph) UpdateMember(id string, patch model.MemberPatch) (model.FamilyMember, error) {
	i, ok := g.index[id]
	if !ok {
		return model.FamilyMember{}, ErrMemberNotFound
	}
	updated := patch.Apply(g.members[i])
	if err := ValidateMember(updated); err != nil {
		return model.FamilyMember{}, err
	}
	if patch.UserID != nil {
		if err := g.CheckUserLink(id, updated.UserID); err != nil {
			return model.FamilyMember{}, err
		}
	}
	g.members[i] = updated
	return updated, nil
}

// ReplaceMember swaps in a member already persisted elsewhere.
func (g *Graph) ReplaceMember(m model.FamilyMember) error {
	i, ok := g.index[m.ID]
	if !ok {
		return ErrMemberNotFound
	}
	g.members[i] = m
	return nil
}

// RemoveMember deletes the member and every edge that touches it. It returns
// the removed edges.
func (g *Graph) RemoveMember(id string) ([]model.FamilyRelationship, error) {
	i, ok := g.index[id]
	if !ok {
		return nil, ErrMemberNotFound
	}
	g.members = append(g.members[:i], g.members[i+1:]...)
	delete(g.index, id)
	for j := i; j < len(g.members); j++ {
		g.index[g.members[j].ID] = j
	}
	return g.removeEdges(func(e model.FamilyRelationship) bool { return e.Touches(id) }), nil
}

// CheckUserLink reports ErrUserAlreadyLinked when a member other than
// memberID is linked to userID. A nil or empty userID links nobody.
func (g *Graph) CheckUserLink(memberID string, userID *string) error {
	if userID == nil || *userID == "" {
		return nil
	}
	for _, m := range g.members {
		if m.ID != memberID && m.UserID != nil && *m.UserID == *userID {
			return ErrUserAlreadyLinked
		}
	}
	return nil
}

// CheckEdge reports why rel could not be added, or nil.
func (g *Graph) CheckEdge(rel model.FamilyRelationship) error {
	if !rel.Type.Valid() {
		return ErrInvalidRelationship
	}
	if rel.PersonID == rel.RelatedPersonID {
		return ErrSelfRelationship
	}
	if _, ok := g.index[rel.PersonID]; !ok {
		return fmt.Errorf("person %s: %w", rel.PersonID, ErrMemberNotFound)
	}
	if _, ok := g.index[rel.RelatedPersonID]; !ok {
		return fmt.Errorf("related person %s: %w", rel.RelatedPersonID, ErrMemberNotFound)
	}
	for _, e := range g.edges {
		if sameFact(e, rel) {
			return ErrDuplicateRelationship
		}
	}
	return nil
}

// AddEdge stores a new edge after CheckEdge.
func (g *Graph) AddEdge(rel model.FamilyRelationship) error {
	if err := g.CheckEdge(rel); err != nil {
		return err
	}
	g.edges = append(g.edges, rel)
	return nil
}

// RemoveEdges deletes every edge between a and b regardless of stored order
// and type. It returns the removed edges.
func (g *Graph) RemoveEdges(a, b string) []model.FamilyRelationship {
	return g.removeEdges(func(e model.FamilyRelationship) bool { return e.Connects(a, b) })
}

func (g *Graph) removeEdges(match func(model.FamilyRelationship) bool) []model.FamilyRelationship {
	var removed []model.FamilyRelationship
	kept := g.edges[:0]
	for _, e := range g.edges {
		if match(e) {
			removed = append(removed, e)
			continue
		}
		kept = append(kept, e)
	}
	// clear the tail so removed values are not retained
	for i := len(kept); i < len(g.edges); i++ {
		g.edges[i] = model.FamilyRelationship{}
	}
	g.edges = kept
	return removed
}

// sameFact reports whether two edges state the same relationship, either
// verbatim or as each other's inverse.
func sameFact(a, b model.FamilyRelationship) bool {
	if a.PersonID == b.PersonID && a.RelatedPersonID == b.RelatedPersonID {
		return a.Type == b.Type
	}
	if a.PersonID == b.RelatedPersonID && a.RelatedPersonID == b.PersonID {
		return a.Type == b.Type.Inverse()
	}
	return false
}

// ValidateMember checks the invariants every new or edited member must hold.
func ValidateMember(m model.FamilyMember) error {
	if err := ValidateStored(m); err != nil {
		return err
	}
	birth, _ := parseDate(m.BirthDate)
	death, _ := parseDate(m.DeathDate)
	if !birth.IsZero() && !death.IsZero() && death.Before(birth) {
		return ErrDeathBeforeBirth
	}
	return nil
}

// ValidateStored checks what a member row needs to be loaded: a name and
// well-formed dates. Older rows may have a death date before the birth date.
func ValidateStored(m model.FamilyMember) error {
	if strings.TrimSpace(m.FullName) == "" {
		return ErrInvalidMember
	}
	if _, err := parseDate(m.BirthDate); err != nil {
		return err
	}
	if _, err := parseDate(m.DeathDate); err != nil {
		return err
	}
	return nil
}

func parseDate(s *string) (time.Time, error) {
	if s == nil || *s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, *s)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return t, nil
}
