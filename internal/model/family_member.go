package model

import (
	"strings"
	"time"
)

// FamilyMember is one person in a family tree. A member without a UserID is a
// placeholder kept as biographical data only.
type FamilyMember struct {
	ID            string    `json:"id"`
	FamilyID      string    `json:"family_id"`
	UserID        *string   `json:"user_id"`
	FullName      string    `json:"full_name"`
	BirthDate     *string   `json:"birth_date"`
	DeathDate     *string   `json:"death_date"`
	AvatarURL     *string   `json:"avatar_url"`
	Bio           *string   `json:"bio"`
	IsPlaceholder bool      `json:"is_placeholder"`
	CreatedBy     string    `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// MemberPatch holds a partial update. Nil fields are left unchanged; an empty
// string clears an optional field.
type MemberPatch struct {
	UserID    *string `json:"user_id,omitempty"`
	FullName  *string `json:"full_name,omitempty"`
	BirthDate *string `json:"birth_date,omitempty"`
	DeathDate *string `json:"death_date,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
	Bio       *string `json:"bio,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p MemberPatch) Empty() bool {
	return p.UserID == nil && p.FullName == nil && p.BirthDate == nil &&
		p.DeathDate == nil && p.AvatarURL == nil && p.Bio == nil
}

// Apply returns a copy of m with the patch merged in.
func (p MemberPatch) Apply(m FamilyMember) FamilyMember {
	if p.FullName != nil {
		m.FullName = strings.TrimSpace(*p.FullName)
	}
	if p.UserID != nil {
		m.UserID = optional(*p.UserID)
	}
	if p.BirthDate != nil {
		m.BirthDate = optional(*p.BirthDate)
	}
	if p.DeathDate != nil {
		m.DeathDate = optional(*p.DeathDate)
	}
	if p.AvatarURL != nil {
		m.AvatarURL = optional(*p.AvatarURL)
	}
	if p.Bio != nil {
		m.Bio = optional(*p.Bio)
	}
	m.IsPlaceholder = m.UserID == nil
	return m
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// StringPtr returns a pointer to s, or nil when s is blank.
func StringPtr(s string) *string {
	return optional(s)
}
