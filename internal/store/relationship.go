package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dukerupert/heirloom/internal/database"
	"github.com/dukerupert/heirloom/internal/model"
	"github.com/google/uuid"
)

type RelationshipStore struct {
	db *database.DB
}

func NewRelationshipStore(db *database.DB) *RelationshipStore {
	return &RelationshipStore{db: db}
}

const relationshipCols = `id, family_id, person_id, related_person_id, relationship_type, created_at`

type relationshipRow struct {
	ID              string `validate:"required"`
	FamilyID        string `validate:"required"`
	PersonID        string `validate:"required"`
	RelatedPersonID string `validate:"required,nefield=PersonID"`
	Type            string `validate:"oneof=parent child spouse sibling"`
	CreatedAt       time.Time
}

func (r *relationshipRow) toModel() model.FamilyRelationship {
	return model.FamilyRelationship{
		ID:              r.ID,
		FamilyID:        r.FamilyID,
		PersonID:        r.PersonID,
		RelatedPersonID: r.RelatedPersonID,
		Type:            model.RelationshipType(r.Type),
		CreatedAt:       r.CreatedAt,
	}
}

// ListByFamily returns the family's edges in insertion order. Rows that fail
// validation are skipped and reported.
func (s *RelationshipStore) ListByFamily(ctx context.Context, familyID string) ([]model.FamilyRelationship, []Quarantined, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+relationshipCols+` FROM family_relationships WHERE family_id = ? ORDER BY created_at, id`,
		familyID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("query family relationships: %w", err)
	}
	defer rows.Close()

	rels := []model.FamilyRelationship{}
	var bad []Quarantined
	for rows.Next() {
		var r relationshipRow
		if err := rows.Scan(&r.ID, &r.FamilyID, &r.PersonID, &r.RelatedPersonID, &r.Type, &r.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("scan family relationship: %w", err)
		}
		if err := checkRow(&r); err != nil {
			bad = append(bad, Quarantined{Table: "family_relationships", ID: r.ID, Reason: err.Error()})
			continue
		}
		rels = append(rels, r.toModel())
	}
	return rels, bad, rows.Err()
}

// Create inserts rel, assigning an id and timestamp.
func (s *RelationshipStore) Create(ctx context.Context, rel model.FamilyRelationship) (*model.FamilyRelationship, error) {
	if rel.ID == "" {
		rel.ID = uuid.NewString()
	}
	rel.CreatedAt = time.Now().UTC()
	if err := insertRelationship(ctx, s.db, rel); err != nil {
		return nil, err
	}
	return &rel, nil
}

func insertRelationship(ctx context.Context, q database.Querier, rel model.FamilyRelationship) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO family_relationships (`+relationshipCols+`) VALUES (?, ?, ?, ?, ?, ?)`,
		rel.ID, rel.FamilyID, rel.PersonID, rel.RelatedPersonID, rel.Type, rel.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert family relationship: %w", err)
	}
	return nil
}

// DeletePair removes every edge between a and b in either stored order and
// returns the number of rows removed.
func (s *RelationshipStore) DeletePair(ctx context.Context, familyID, a, b string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM family_relationships
		 WHERE family_id = ?
		   AND ((person_id = ? AND related_person_id = ?) OR (person_id = ? AND related_person_id = ?))`,
		familyID, a, b, b, a,
	)
	if err != nil {
		return 0, fmt.Errorf("delete family relationship pair: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
