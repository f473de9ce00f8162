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

// ErrLastAdmin is returned when a change would leave a family without an admin.
var ErrLastAdmin = errors.New("a family needs at least one admin")

type FamilyStore struct {
	db *database.DB
}

func NewFamilyStore(db *database.DB) *FamilyStore {
	return &FamilyStore{db: db}
}

const familyCols = `id, name, created_at, updated_at`
const familyUserCols = `family_id, user_id, role, created_at`

func scanFamily(s scanner) (*model.Family, error) {
	var f model.Family
	if err := s.Scan(&f.ID, &f.Name, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

func scanFamilyUser(s scanner) (*model.FamilyUser, error) {
	var u model.FamilyUser
	if err := s.Scan(&u.FamilyID, &u.UserID, &u.Role, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts a family and makes the creator its admin.
func (s *FamilyStore) Create(ctx context.Context, name, creatorUserID string) (*model.Family, error) {
	now := time.Now().UTC()
	f := &model.Family{ID: uuid.NewString(), Name: name, CreatedAt: now, UpdatedAt: now}

	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO families (`+familyCols+`) VALUES (?, ?, ?, ?)`,
			f.ID, f.Name, f.CreatedAt, f.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert family: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO family_users (`+familyUserCols+`) VALUES (?, ?, ?, ?)`,
			f.ID, creatorUserID, model.RoleAdmin, now,
		); err != nil {
			return fmt.Errorf("insert family admin: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *FamilyStore) GetByID(ctx context.Context, id string) (*model.Family, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+familyCols+` FROM families WHERE id = ?`, id)
	f, err := scanFamily(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get family: %w", err)
	}
	return f, nil
}

// Rename returns nil, nil when the family does not exist.
func (s *FamilyStore) Rename(ctx context.Context, id, name string) (*model.Family, error) {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE families SET name = ?, updated_at = ? WHERE id = ?`,
		name, time.Now().UTC(), id,
	); err != nil {
		return nil, fmt.Errorf("rename family: %w", err)
	}
	return s.GetByID(ctx, id)
}

// Delete removes the family and, through cascading keys, its memberships,
// tree and backup records.
func (s *FamilyStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM families WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete family: %w", err)
	}
	return nil
}

// ListForUser returns every family the user belongs to, oldest membership first.
func (s *FamilyStore) ListForUser(ctx context.Context, userID string) ([]model.Family, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT f.id, f.name, f.created_at, f.updated_at
		 FROM families f
		 JOIN family_users fu ON f.id = fu.family_id
		 WHERE fu.user_id = ?
		 ORDER BY fu.created_at ASC, f.name ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list families for user: %w", err)
	}
	defer rows.Close()

	var families []model.Family
	for rows.Next() {
		f, err := scanFamily(rows)
		if err != nil {
			return nil, fmt.Errorf("scan family: %w", err)
		}
		families = append(families, *f)
	}
	return families, rows.Err()
}

func (s *FamilyStore) AddUser(ctx context.Context, familyID, userID string, role model.Role) (*model.FamilyUser, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("add family user: invalid role %q", role)
	}
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO family_users (`+familyUserCols+`) VALUES (?, ?, ?, ?)`,
		familyID, userID, role, now,
	); err != nil {
		return nil, fmt.Errorf("add family user: %w", err)
	}
	return &model.FamilyUser{FamilyID: familyID, UserID: userID, Role: role, CreatedAt: now}, nil
}

// keepsAdmin is true for a family_users row that may lose its admin role:
// it is not an admin, or another admin remains.
const keepsAdmin = `(role <> 'admin' OR (SELECT COUNT(*) FROM family_users a WHERE a.family_id = family_users.family_id AND a.role = 'admin') > 1)`

// RemoveUser revokes a membership. Removing a user who is not a member is a
// no-op; removing the last admin returns ErrLastAdmin.
func (s *FamilyStore) RemoveUser(ctx context.Context, familyID, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM family_users WHERE family_id = ? AND user_id = ? AND `+keepsAdmin,
		familyID, userID,
	)
	if err != nil {
		return fmt.Errorf("remove family user: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	u, err := s.GetUser(ctx, familyID, userID)
	if err != nil {
		return err
	}
	if u != nil {
		return ErrLastAdmin
	}
	return nil
}

// UpdateRole changes a member's role. It returns nil, nil when the user does
// not belong to the family and ErrLastAdmin when the last admin would be
// demoted.
func (s *FamilyStore) UpdateRole(ctx context.Context, familyID, userID string, role model.Role) (*model.FamilyUser, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("update family role: invalid role %q", role)
	}
	query := `UPDATE family_users SET role = ? WHERE family_id = ? AND user_id = ?`
	if role != model.RoleAdmin {
		query += ` AND ` + keepsAdmin
	}
	res, err := s.db.ExecContext(ctx, query, role, familyID, userID)
	if err != nil {
		return nil, fmt.Errorf("update family role: %w", err)
	}
	n, _ := res.RowsAffected()
	u, err := s.GetUser(ctx, familyID, userID)
	if err != nil {
		return nil, err
	}
	if n == 0 && u != nil && u.Role != role {
		return nil, ErrLastAdmin
	}
	return u, nil
}

func (s *FamilyStore) GetUser(ctx context.Context, familyID, userID string) (*model.FamilyUser, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+familyUserCols+` FROM family_users WHERE family_id = ? AND user_id = ?`,
		familyID, userID,
	)
	u, err := scanFamilyUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get family user: %w", err)
	}
	return u, nil
}

// PrimaryFamilyForUser returns the user's earliest membership, or nil if the
// user belongs to no family.
func (s *FamilyStore) PrimaryFamilyForUser(ctx context.Context, userID string) (*model.FamilyUser, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+familyUserCols+` FROM family_users WHERE user_id = ? ORDER BY created_at ASC, family_id ASC LIMIT 1`,
		userID,
	)
	u, err := scanFamilyUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("primary family for user: %w", err)
	}
	return u, nil
}
