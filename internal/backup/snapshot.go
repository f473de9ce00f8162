package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/heirloom/internal/familytree"
	"github.com/dukerupert/heirloom/internal/model"
)

const snapshotVersion = 1

var ErrInvalidSnapshot = errors.New("invalid family tree snapshot")

// Snapshot is the plaintext content of one backup object.
type Snapshot struct {
	Version       int                        `json:"version"`
	FamilyID      string                     `json:"family_id"`
	TakenAt       time.Time                  `json:"taken_at"`
	Members       []model.FamilyMember       `json:"members"`
	Relationships []model.FamilyRelationship `json:"relationships"`
}

func encodeSnapshot(s Snapshot) ([]byte, error) {
	s.Version = snapshotVersion
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// decodeSnapshot parses data and checks it with checkSnapshot.
func decodeSnapshot(data []byte, familyID string) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if s.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidSnapshot, s.Version)
	}
	if s.FamilyID != familyID {
		return nil, fmt.Errorf("%w: snapshot belongs to another family", ErrInvalidSnapshot)
	}
	if err := checkSnapshot(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// checkSnapshot applies the checks rows pass when loaded from the database,
// plus the foreign keys a restore needs. Repeated facts and legacy date
// orderings are accepted because loading tolerates both.
func checkSnapshot(s *Snapshot) error {
	ids := make(map[string]bool, len(s.Members))
	for _, m := range s.Members {
		if m.ID == "" {
			return fmt.Errorf("%w: member without id", ErrInvalidSnapshot)
		}
		if ids[m.ID] {
			return fmt.Errorf("%w: member %s: %v", ErrInvalidSnapshot, m.ID, familytree.ErrDuplicateMember)
		}
		if err := familytree.ValidateStored(m); err != nil {
			return fmt.Errorf("%w: member %s: %v", ErrInvalidSnapshot, m.ID, err)
		}
		ids[m.ID] = true
	}
	for _, r := range s.Relationships {
		if r.ID == "" {
			return fmt.Errorf("%w: relationship without id", ErrInvalidSnapshot)
		}
		switch {
		case !r.Type.Valid():
			return fmt.Errorf("%w: relationship %s: %v", ErrInvalidSnapshot, r.ID, familytree.ErrInvalidRelationship)
		case r.PersonID == r.RelatedPersonID:
			return fmt.Errorf("%w: relationship %s: %v", ErrInvalidSnapshot, r.ID, familytree.ErrSelfRelationship)
		case !ids[r.PersonID] || !ids[r.RelatedPersonID]:
			return fmt.Errorf("%w: relationship %s: %v", ErrInvalidSnapshot, r.ID, familytree.ErrMemberNotFound)
		}
	}
	return nil
}

// dropDangling removes edges whose endpoints are not in members, which
// happens when a member row was quarantined at load. It returns the number
// removed.
func dropDangling(s *Snapshot) int {
	ids := make(map[string]bool, len(s.Members))
	for _, m := range s.Members {
		ids[m.ID] = true
	}
	kept := s.Relationships[:0]
	for _, r := range s.Relationships {
		if ids[r.PersonID] && ids[r.RelatedPersonID] {
			kept = append(kept, r)
		}
	}
	n := len(s.Relationships) - len(kept)
	s.Relationships = kept
	return n
}
