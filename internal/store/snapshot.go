package store

import (
	"context"
	"fmt"

	"github.com/dukerupert/heirloom/internal/database"
	"github.com/dukerupert/heirloom/internal/model"
)

// ReplaceFamilyTree swaps the family's members and edges for the given rows
// in one transaction. Rows are written with their original ids and timestamps.
func ReplaceFamilyTree(ctx context.Context, db *database.DB, familyID string, members []model.FamilyMember, rels []model.FamilyRelationship) error {
	return db.WithTx(ctx, func(tx *database.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM family_relationships WHERE family_id = ?`, familyID); err != nil {
			return fmt.Errorf("clear family relationships: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM family_tree_members WHERE family_id = ?`, familyID); err != nil {
			return fmt.Errorf("clear family tree members: %w", err)
		}
		for _, m := range members {
			m.FamilyID = familyID
			if err := insertMember(ctx, tx, m); err != nil {
				return err
			}
		}
		for _, r := range rels {
			r.FamilyID = familyID
			if err := insertRelationship(ctx, tx, r); err != nil {
				return err
			}
		}
		return nil
	})
}
