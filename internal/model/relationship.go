package model

import (
	"slices"
	"time"
)

type RelationshipType string

const (
	RelationshipParent  RelationshipType = "parent"
	RelationshipChild   RelationshipType = "child"
	RelationshipSpouse  RelationshipType = "spouse"
	RelationshipSibling RelationshipType = "sibling"
)

// RelationshipTypes lists every valid type.
var RelationshipTypes = []RelationshipType{
	RelationshipParent, RelationshipChild, RelationshipSpouse, RelationshipSibling,
}

func (t RelationshipType) Valid() bool {
	return slices.Contains(RelationshipTypes, t)
}

// Inverse is the type read from the other end of a stored edge: a stored
// "A child B" reads as "B parent A". Spouse and sibling are their own inverse.
func (t RelationshipType) Inverse() RelationshipType {
	if t.Symmetric() {
		return t
	}
	switch t {
	case RelationshipParent:
		return RelationshipChild
	case RelationshipChild:
		return RelationshipParent
	}
	return t
}

// Symmetric reports whether the type reads the same in both directions.
func (t RelationshipType) Symmetric() bool {
	return t == RelationshipSpouse || t == RelationshipSibling
}

// FamilyRelationship is one stored directed edge: PersonID --Type--> RelatedPersonID.
type FamilyRelationship struct {
	ID              string           `json:"id"`
	FamilyID        string           `json:"family_id"`
	PersonID        string           `json:"person_id"`
	RelatedPersonID string           `json:"related_person_id"`
	Type            RelationshipType `json:"relationship_type"`
	CreatedAt       time.Time        `json:"created_at"`
}

// Touches reports whether memberID is either endpoint.
func (r FamilyRelationship) Touches(memberID string) bool {
	return r.PersonID == memberID || r.RelatedPersonID == memberID
}

// Connects reports whether the edge joins a and b in either stored order.
func (r FamilyRelationship) Connects(a, b string) bool {
	return (r.PersonID == a && r.RelatedPersonID == b) ||
		(r.PersonID == b && r.RelatedPersonID == a)
}
