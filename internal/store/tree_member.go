package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/heirloom/internal/database"
	"github.com/dukerupert/heirloom/internal/model"
	"github.com/google/uuid"
)

type TreeMemberStore struct {
	db *database.DB
}

func NewTreeMemberStore(db *database.DB) *TreeMemberStore {
	return &TreeMemberStore{db: db}
}

const treeMemberCols = `id, family_id, user_id, full_name, birth_date, death_date, avatar_url, bio, is_placeholder, created_by, created_at, updated_at`

// memberRow is a family_tree_members row as scanned, before validation.
type memberRow struct {
	ID            string `validate:"required"`
	FamilyID      string `validate:"required"`
	UserID        sql.NullString
	FullName      string         `validate:"notblank"`
	BirthDate     sql.NullString `validate:"omitempty,datetime=2006-01-02"`
	DeathDate     sql.NullString `validate:"omitempty,datetime=2006-01-02"`
	AvatarURL     sql.NullString
	Bio           sql.NullString
	IsPlaceholder bool
	CreatedBy     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func scanMemberRow(s scanner) (*memberRow, error) {
	var r memberRow
	err := s.Scan(&r.ID, &r.FamilyID, &r.UserID, &r.FullName, &r.BirthDate, &r.DeathDate,
		&r.AvatarURL, &r.Bio, &r.IsPlaceholder, &r.CreatedBy, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *memberRow) toModel() model.FamilyMember {
	m := model.FamilyMember{
		ID:        r.ID,
		FamilyID:  r.FamilyID,
		UserID:    nullable(r.UserID),
		FullName:  r.FullName,
		BirthDate: nullable(r.BirthDate),
		DeathDate: nullable(r.DeathDate),
		AvatarURL: nullable(r.AvatarURL),
		Bio:       nullable(r.Bio),
		CreatedBy: r.CreatedBy,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	// a member without an account is always a placeholder
	m.IsPlaceholder = r.IsPlaceholder || m.UserID == nil
	return m
}

// ListByFamily returns the family's members ordered by birth date (unknown
// dates last). Rows that fail validation are skipped and reported.
func (s *TreeMemberStore) ListByFamily(ctx context.Context, familyID string) ([]model.FamilyMember, []Quarantined, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+treeMemberCols+` FROM family_tree_members
		 WHERE family_id = ?
		 ORDER BY CASE WHEN birth_date IS NULL OR birth_date = '' THEN 1 ELSE 0 END, birth_date, created_at, id`,
		familyID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("query family tree members: %w", err)
	}
	defer rows.Close()

	members := []model.FamilyMember{}
	var bad []Quarantined
	for rows.Next() {
		r, err := scanMemberRow(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("scan family tree member: %w", err)
		}
		if err := checkRow(r); err != nil {
			bad = append(bad, Quarantined{Table: "family_tree_members", ID: r.ID, Reason: err.Error()})
			continue
		}
		members = append(members, r.toModel())
	}
	return members, bad, rows.Err()
}

// GetByID returns nil, nil when the member does not exist in the family.
func (s *TreeMemberStore) GetByID(ctx context.Context, familyID, id string) (*model.FamilyMember, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+treeMemberCols+` FROM family_tree_members WHERE id = ? AND family_id = ?`,
		id, familyID,
	)
	r, err := scanMemberRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get family tree member: %w", err)
	}
	if err := checkRow(r); err != nil {
		return nil, fmt.Errorf("get family tree member %s: %w", id, err)
	}
	m := r.toModel()
	return &m, nil
}

// Create inserts m, assigning an id and timestamps.
func (s *TreeMemberStore) Create(ctx context.Context, m model.FamilyMember) (*model.FamilyMember, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	m.IsPlaceholder = m.UserID == nil

	if err := insertMember(ctx, s.db, m); err != nil {
		return nil, err
	}
	return &m, nil
}

func insertMember(ctx context.Context, q database.Querier, m model.FamilyMember) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO family_tree_members (`+treeMemberCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.FamilyID, m.UserID, m.FullName, m.BirthDate, m.DeathDate,
		m.AvatarURL, m.Bio, m.IsPlaceholder, m.CreatedBy, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert family tree member: %w", err)
	}
	return nil
}

// Update writes every mutable column of m and returns the stored row.
func (s *TreeMemberStore) Update(ctx context.Context, m model.FamilyMember) (*model.FamilyMember, error) {
	m.UpdatedAt = time.Now().UTC()
	m.IsPlaceholder = m.UserID == nil
	res, err := s.db.ExecContext(ctx,
		`UPDATE family_tree_members
		 SET user_id = ?, full_name = ?, birth_date = ?, death_date = ?, avatar_url = ?, bio = ?, is_placeholder = ?, updated_at = ?
		 WHERE id = ? AND family_id = ?`,
		m.UserID, m.FullName, m.BirthDate, m.DeathDate, m.AvatarURL, m.Bio, m.IsPlaceholder, m.UpdatedAt,
		m.ID, m.FamilyID,
	)
	if err != nil {
		return nil, fmt.Errorf("update family tree member: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, nil
	}
	return s.GetByID(ctx, m.FamilyID, m.ID)
}

// Delete removes the member's relationship edges and then the member in one
// transaction. It reports whether the member existed.
func (s *TreeMemberStore) Delete(ctx context.Context, familyID, id string) (bool, error) {
	var deleted bool
	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM family_relationships WHERE family_id = ? AND (person_id = ? OR related_person_id = ?)`,
			familyID, id, id,
		); err != nil {
			return fmt.Errorf("delete member relationships: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`DELETE FROM family_tree_members WHERE id = ? AND family_id = ?`,
			id, familyID,
		)
		if err != nil {
			return fmt.Errorf("delete family tree member: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		deleted = n > 0
		return nil
	})
	return deleted, err
}
