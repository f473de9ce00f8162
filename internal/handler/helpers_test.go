package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dukerupert/heirloom/internal/auth"
	"github.com/dukerupert/heirloom/internal/backup"
	"github.com/dukerupert/heirloom/internal/database"
	"github.com/dukerupert/heirloom/internal/model"
	"github.com/dukerupert/heirloom/internal/service"
	"github.com/dukerupert/heirloom/internal/store"
)

type testEnv struct {
	db       *database.DB
	mux      *http.ServeMux
	familyID string
	families *store.FamilyStore
	trees    *service.Registry
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupHandlerEnv wires every handler against an in-memory database with one
// family owned by "u-owner".
func setupHandlerEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	families := store.NewFamilyStore(db)
	f, err := families.Create(context.Background(), "Lovelace", "u-owner")
	if err != nil {
		t.Fatalf("create family: %v", err)
	}

	stores := service.Stores{
		Members:       store.NewTreeMemberStore(db),
		Relationships: store.NewRelationshipStore(db),
	}
	trees, err := service.NewRegistry(stores, 8, testLogger(), nil)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	backups := store.NewBackupStore(db)
	manager := backup.NewManager(backup.Config{}, db, backup.Stores{
		Members:       stores.Members,
		Relationships: stores.Relationships,
		Backups:       backups,
	}, testLogger(), nil)

	th := NewTreeHandler(trees, families, testLogger())
	fh := NewFamilyHandler(families, trees, testLogger())
	bh := NewBackupHandler(manager, backups, testLogger())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/families", fh.List)
	mux.HandleFunc("POST /api/families", fh.Create)
	mux.HandleFunc("PATCH /api/families", fh.Rename)
	mux.HandleFunc("DELETE /api/families", fh.Delete)
	mux.HandleFunc("POST /api/families/users", fh.AddUser)
	mux.HandleFunc("PATCH /api/families/users/{user_id}", fh.UpdateUserRole)
	mux.HandleFunc("DELETE /api/families/users/{user_id}", fh.RemoveUser)
	mux.HandleFunc("GET /api/family-tree", th.Get)
	mux.HandleFunc("POST /api/family-tree/refresh", th.Refresh)
	mux.HandleFunc("GET /api/family-tree/members/{id}/relatives", th.Relatives)
	mux.HandleFunc("POST /api/family-tree/members", th.CreateMember)
	mux.HandleFunc("PATCH /api/family-tree/members/{id}", th.UpdateMember)
	mux.HandleFunc("DELETE /api/family-tree/members/{id}", th.DeleteMember)
	mux.HandleFunc("POST /api/family-tree/relationships", th.CreateRelationship)
	mux.HandleFunc("DELETE /api/family-tree/relationships", th.DeleteRelationship)
	mux.HandleFunc("GET /api/family-tree/backups", bh.List)
	mux.HandleFunc("GET /api/family-tree/backups/status", bh.Status)
	mux.HandleFunc("POST /api/family-tree/backups", bh.Create)
	mux.HandleFunc("POST /api/family-tree/backups/{id}/restore", bh.Restore)
	mux.HandleFunc("GET /api/family-tree/backups/{id}/download", bh.Download)

	return &testEnv{db: db, mux: mux, familyID: f.ID, families: families, trees: trees}
}

// do sends a request as the family owner.
func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	return e.doAs(t, auth.AuthContext{UserID: "u-owner", FamilyID: e.familyID, Role: model.RoleAdmin}, method, target, body)
}

func (e *testEnv) doAs(t *testing.T, ac auth.AuthContext, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(auth.WithAuth(req.Context(), ac))
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[map[string]string](t, rec)["error"]
}

// addMember creates a member through the API and returns it.
func (e *testEnv) addMember(t *testing.T, body string) model.FamilyMember {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/family-tree/members", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add member: status = %d, want %d (%s)", rec.Code, http.StatusCreated, rec.Body.String())
	}
	return decodeBody[createMemberResponse](t, rec).Member
}
