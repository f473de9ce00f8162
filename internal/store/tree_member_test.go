package store

import (
	"context"
	"errors"
	"testing"

	"github.com/dukerupert/heirloom/internal/model"
)

func setupTreeTestDB(t *testing.T) (*TreeMemberStore, *RelationshipStore, string) {
	t.Helper()
	db := setupTestDB(t)
	fid := setupFamily(t, db, "Tree")
	return NewTreeMemberStore(db), NewRelationshipStore(db), fid
}

func createMember(t *testing.T, ms *TreeMemberStore, fid, name string, birth *string) *model.FamilyMember {
	t.Helper()
	m, err := ms.Create(context.Background(), model.FamilyMember{
		FamilyID:  fid,
		FullName:  name,
		BirthDate: birth,
		CreatedBy: "u-owner",
	})
	if err != nil {
		t.Fatalf("create member %q: %v", name, err)
	}
	return m
}

func TestTreeMemberCreateAndGet(t *testing.T) {
	ms, _, fid := setupTreeTestDB(t)
	ctx := context.Background()

	m := createMember(t, ms, fid, "Ada", model.StringPtr("1950-03-01"))
	if m.ID == "" {
		t.Fatal("expected non-empty ID")
	}
	if !m.IsPlaceholder {
		t.Error("member without user should be a placeholder")
	}

	got, err := ms.GetByID(ctx, fid, m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected member, got nil")
	}
	if got.FullName != "Ada" {
		t.Errorf("full_name = %q, want %q", got.FullName, "Ada")
	}
	if got.BirthDate == nil || *got.BirthDate != "1950-03-01" {
		t.Errorf("birth_date = %v, want 1950-03-01", got.BirthDate)
	}
	if got.DeathDate != nil {
		t.Errorf("death_date = %v, want nil", *got.DeathDate)
	}

	missing, err := ms.GetByID(ctx, fid, "nope")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing member")
	}
}

func TestTreeMemberListOrdersByBirthDate(t *testing.T) {
	ms, _, fid := setupTreeTestDB(t)

	createMember(t, ms, fid, "Unknown", nil)
	createMember(t, ms, fid, "Young", model.StringPtr("1990-01-01"))
	createMember(t, ms, fid, "Old", model.StringPtr("1920-01-01"))

	members, bad, err := ms.ListByFamily(context.Background(), fid)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(bad) != 0 {
		t.Errorf("quarantined = %v, want none", bad)
	}
	want := []string{"Old", "Young", "Unknown"}
	if len(members) != len(want) {
		t.Fatalf("len = %d, want %d", len(members), len(want))
	}
	for i, name := range want {
		if members[i].FullName != name {
			t.Errorf("members[%d] = %q, want %q", i, members[i].FullName, name)
		}
	}
}

func TestTreeMemberUpdate(t *testing.T) {
	ms, _, fid := setupTreeTestDB(t)
	ctx := context.Background()

	m := createMember(t, ms, fid, "Bea", nil)
	m.FullName = "Beatrice"
	m.UserID = model.StringPtr("u-9")

	updated, err := ms.Update(ctx, *m)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated == nil {
		t.Fatal("expected updated member")
	}
	if updated.IsPlaceholder {
		t.Error("member with user should not be a placeholder")
	}

	got, _ := ms.GetByID(ctx, fid, m.ID)
	if got.FullName != "Beatrice" {
		t.Errorf("full_name = %q, want %q", got.FullName, "Beatrice")
	}
	if got.UserID == nil || *got.UserID != "u-9" {
		t.Errorf("user_id = %v, want u-9", got.UserID)
	}

	ghost := *m
	ghost.ID = "ghost"
	res, err := ms.Update(ctx, ghost)
	if err != nil {
		t.Fatalf("update missing: %v", err)
	}
	if res != nil {
		t.Error("expected nil when updating missing member")
	}
}

func TestTreeMemberDeleteRemovesEdges(t *testing.T) {
	ms, rs, fid := setupTreeTestDB(t)
	ctx := context.Background()

	a := createMember(t, ms, fid, "A", nil)
	b := createMember(t, ms, fid, "B", nil)
	c := createMember(t, ms, fid, "C", nil)
	rs.Create(ctx, model.FamilyRelationship{FamilyID: fid, PersonID: a.ID, RelatedPersonID: b.ID, Type: model.RelationshipParent})
	rs.Create(ctx, model.FamilyRelationship{FamilyID: fid, PersonID: c.ID, RelatedPersonID: a.ID, Type: model.RelationshipSibling})
	rs.Create(ctx, model.FamilyRelationship{FamilyID: fid, PersonID: b.ID, RelatedPersonID: c.ID, Type: model.RelationshipSibling})

	deleted, err := ms.Delete(ctx, fid, a.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !deleted {
		t.Error("expected deleted = true")
	}

	rels, _, err := rs.ListByFamily(ctx, fid)
	if err != nil {
		t.Fatalf("list relationships: %v", err)
	}
	if len(rels) != 1 {
		t.Fatalf("relationships = %d, want 1", len(rels))
	}
	if rels[0].Touches(a.ID) {
		t.Errorf("remaining edge still touches deleted member: %+v", rels[0])
	}

	deleted, err = ms.Delete(ctx, fid, a.ID)
	if err != nil {
		t.Fatalf("delete again: %v", err)
	}
	if deleted {
		t.Error("expected deleted = false for missing member")
	}
}

func TestTreeMemberQuarantinesMalformedRows(t *testing.T) {
	db := setupTestDB(t)
	fid := setupFamily(t, db, "Tree")
	ms := NewTreeMemberStore(db)
	ctx := context.Background()

	createMember(t, ms, fid, "Good", nil)
	insert := `INSERT INTO family_tree_members (id, family_id, full_name, birth_date, is_placeholder, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, TRUE, 'u-owner', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`
	if _, err := db.ExecContext(ctx, insert, "blank", fid, "   ", nil); err != nil {
		t.Fatalf("insert blank: %v", err)
	}
	if _, err := db.ExecContext(ctx, insert, "baddate", fid, "Zed", "soon"); err != nil {
		t.Fatalf("insert bad date: %v", err)
	}

	members, bad, err := ms.ListByFamily(ctx, fid)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(members) != 1 || members[0].FullName != "Good" {
		t.Errorf("members = %+v, want only Good", members)
	}
	if len(bad) != 2 {
		t.Fatalf("quarantined = %d, want 2", len(bad))
	}
	ids := map[string]bool{bad[0].ID: true, bad[1].ID: true}
	if !ids["blank"] || !ids["baddate"] {
		t.Errorf("quarantined ids = %v, want blank and baddate", ids)
	}

	if _, err := ms.GetByID(ctx, fid, "blank"); !errors.Is(err, ErrMalformedRow) {
		t.Errorf("GetByID(blank) error = %v, want ErrMalformedRow", err)
	}
}
