package database

import (
	"context"
	"testing"
)

func TestRebindSQLiteUnchanged(t *testing.T) {
	q := "SELECT * FROM families WHERE id = ? AND name = ?"
	if got := DriverSQLite.Rebind(q); got != q {
		t.Errorf("Rebind = %q, want %q", got, q)
	}
}

func TestRebindPostgres(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SELECT 1", "SELECT 1"},
		{"DELETE FROM t WHERE a = ? AND b = ?", "DELETE FROM t WHERE a = $1 AND b = $2"},
		{"SELECT '?' FROM t WHERE a = ?", "SELECT '?' FROM t WHERE a = $1"},
		{
			"DELETE FROM r WHERE (p = ? AND q = ?) OR (p = ? AND q = ?)",
			"DELETE FROM r WHERE (p = $1 AND q = $2) OR (p = $3 AND q = $4)",
		},
	}
	for _, tt := range tests {
		if got := DriverPostgres.Rebind(tt.in); got != tt.want {
			t.Errorf("Rebind(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseDriver(t *testing.T) {
	tests := []struct {
		in      string
		want    Driver
		wantErr bool
	}{
		{"", DriverSQLite, false},
		{"SQLite", DriverSQLite, false},
		{"postgresql", DriverPostgres, false},
		{"pgx", DriverPostgres, false},
		{"mysql", "", true},
	}
	for _, tt := range tests {
		got, err := ParseDriver(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDriver(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDriver(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestOpenMemoryRunsMigrations(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	for _, table := range []string{"families", "family_users", "family_tree_members", "family_relationships", "family_tree_backups"} {
		var n int
		if err := db.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			t.Errorf("query %s: %v", table, err)
		}
	}

	v, err := db.MigrationVersion(context.Background())
	if err != nil {
		t.Fatalf("migration version: %v", err)
	}
	if v != 2 {
		t.Errorf("version = %d, want 2", v)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	errBoom := context.Canceled
	err = db.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO families (id, name, created_at, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)", "f1", "Smith"); err != nil {
			return err
		}
		return errBoom
	})
	if err != errBoom {
		t.Fatalf("WithTx err = %v, want %v", err, errBoom)
	}

	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM families").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("families = %d, want 0 after rollback", n)
	}
}
