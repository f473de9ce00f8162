package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/dukerupert/heirloom/internal/familytree"
	"github.com/dukerupert/heirloom/internal/model"
)

type treeBody struct {
	FamilyID        string                     `json:"family_id"`
	Members         []model.FamilyMember       `json:"members"`
	Relationships   []model.FamilyRelationship `json:"relationships"`
	Forest          []*familytree.TreeNode     `json:"forest"`
	Generations     [][]string                 `json:"generations"`
	CurrentUserNode *familytree.TreeNode       `json:"current_user_node"`
}

func TestGetEmptyTree(t *testing.T) {
	env := setupHandlerEnv(t)

	rec := env.do(t, http.MethodGet, "/api/family-tree", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	for _, key := range []string{`"members":[]`, `"relationships":[]`, `"forest":[]`, `"generations":[]`, `"current_user_node":null`} {
		if !strings.Contains(rec.Body.String(), key) {
			t.Errorf("body = %s, want it to contain %s", rec.Body.String(), key)
		}
	}
	body := decodeBody[treeBody](t, rec)
	if body.FamilyID != env.familyID {
		t.Errorf("family_id = %q, want %q", body.FamilyID, env.familyID)
	}
}

func TestCreateRelatedMemberBuildsGenerations(t *testing.T) {
	env := setupHandlerEnv(t)

	ada := env.addMember(t, `{"full_name":"Ada Lovelace","birth_date":"1815-12-10","user_id":"u-owner"}`)
	if ada.IsPlaceholder {
		t.Error("member linked to a user should not be a placeholder")
	}

	rec := env.do(t, http.MethodPost, "/api/family-tree/members",
		fmt.Sprintf(`{"full_name":"Byron King","relate_to":%q,"relationship_type":"child"}`, ada.ID))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (%s)", rec.Code, http.StatusCreated, rec.Body.String())
	}
	created := decodeBody[createMemberResponse](t, rec)
	if created.Relationship == nil {
		t.Fatal("relationship = nil, want edge from related member")
	}
	if created.Relationship.PersonID != ada.ID || created.Relationship.RelatedPersonID != created.Member.ID {
		t.Errorf("edge = %s -> %s, want %s -> %s",
			created.Relationship.PersonID, created.Relationship.RelatedPersonID, ada.ID, created.Member.ID)
	}
	if !created.Member.IsPlaceholder {
		t.Error("member without user should be a placeholder")
	}

	body := decodeBody[treeBody](t, env.do(t, http.MethodGet, "/api/family-tree", ""))
	if len(body.Members) != 2 {
		t.Fatalf("members = %d, want 2", len(body.Members))
	}
	if len(body.Forest) != 1 || body.Forest[0].Member.ID != ada.ID {
		t.Fatalf("forest roots = %d, want Ada as the only root", len(body.Forest))
	}
	if len(body.Generations) != 2 || body.Generations[1][0] != created.Member.ID {
		t.Errorf("generations = %v, want [[%s] [%s]]", body.Generations, ada.ID, created.Member.ID)
	}
	if body.CurrentUserNode == nil || body.CurrentUserNode.Member.ID != ada.ID {
		t.Errorf("current_user_node = %+v, want Ada", body.CurrentUserNode)
	}
}

func TestCreateMemberValidation(t *testing.T) {
	env := setupHandlerEnv(t)
	ada := env.addMember(t, `{"full_name":"Ada"}`)

	tests := []struct {
		name   string
		body   string
		status int
		want   string
	}{
		{"blank name", `{"full_name":"   "}`, http.StatusBadRequest, "full_name is required"},
		{"bad birth date", `{"full_name":"A","birth_date":"10/12/1815"}`, http.StatusBadRequest, "birth_date"},
		{"death before birth", `{"full_name":"A","birth_date":"1900-01-01","death_date":"1850-01-01"}`, http.StatusBadRequest, "death date"},
		{"type without target", `{"full_name":"A","relationship_type":"child"}`, http.StatusBadRequest, "relate_to"},
		{"bad type", fmt.Sprintf(`{"full_name":"A","relate_to":%q,"relationship_type":"cousin"}`, ada.ID), http.StatusBadRequest, "relationship_type"},
		{"unknown target", `{"full_name":"A","relate_to":"nope","relationship_type":"child"}`, http.StatusNotFound, "not found"},
		{"unknown field", `{"full_name":"A","nickname":"B"}`, http.StatusBadRequest, "invalid JSON"},
		{"empty body", ``, http.StatusBadRequest, "empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/family-tree/members", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
			if msg := errorMessage(t, rec); !strings.Contains(msg, tt.want) {
				t.Errorf("error = %q, want it to contain %q", msg, tt.want)
			}
		})
	}

	body := decodeBody[treeBody](t, env.do(t, http.MethodGet, "/api/family-tree", ""))
	if len(body.Members) != 1 {
		t.Errorf("members = %d, want 1 after rejected requests", len(body.Members))
	}
}

func TestUpdateMember(t *testing.T) {
	env := setupHandlerEnv(t)
	ada := env.addMember(t, `{"full_name":"Ada","birth_date":"1815-12-10"}`)
	path := "/api/family-tree/members/" + ada.ID

	rec := env.do(t, http.MethodPatch, path, `{"full_name":"Ada King","bio":"Analyst"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (%s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	got := decodeBody[model.FamilyMember](t, rec)
	if got.FullName != "Ada King" {
		t.Errorf("full_name = %q, want %q", got.FullName, "Ada King")
	}
	if got.Bio == nil || *got.Bio != "Analyst" {
		t.Errorf("bio = %v, want %q", got.Bio, "Analyst")
	}
	if got.BirthDate == nil || *got.BirthDate != "1815-12-10" {
		t.Errorf("birth_date = %v, want unchanged", got.BirthDate)
	}

	rec = env.do(t, http.MethodPatch, path, `{"death_date":"1800-01-01"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("death before birth: status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	rec = env.do(t, http.MethodPatch, path, `{"bio":""}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("clear bio: status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := decodeBody[model.FamilyMember](t, rec); got.Bio != nil {
		t.Errorf("bio = %q, want cleared", *got.Bio)
	}

	rec = env.do(t, http.MethodPatch, "/api/family-tree/members/missing", `{"bio":"x"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown member: status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestMemberAccountLinks(t *testing.T) {
	env := setupHandlerEnv(t)
	if _, err := env.families.AddUser(context.Background(), env.familyID, "u-cousin", model.RoleViewer); err != nil {
		t.Fatalf("add user: %v", err)
	}
	ada := env.addMember(t, `{"full_name":"Ada","user_id":"u-owner"}`)
	bea := env.addMember(t, `{"full_name":"Bea"}`)
	path := "/api/family-tree/members/" + bea.ID

	rec := env.do(t, http.MethodPatch, path, `{"user_id":"u-stranger"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("outside account: status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	rec = env.do(t, http.MethodPost, "/api/family-tree/members", `{"full_name":"Cy","user_id":"u-stranger"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("create with outside account: status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	rec = env.do(t, http.MethodPatch, path, `{"user_id":"u-owner"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("second link: status = %d, want %d (%s)", rec.Code, http.StatusConflict, rec.Body.String())
	}
	rec = env.do(t, http.MethodPost, "/api/family-tree/members", `{"full_name":"Cy","user_id":"u-owner"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("create second link: status = %d, want %d", rec.Code, http.StatusConflict)
	}

	rec = env.do(t, http.MethodPatch, path, `{"user_id":"u-cousin"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("link cousin: status = %d, want %d (%s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	// relinking the same member is fine
	rec = env.do(t, http.MethodPatch, "/api/family-tree/members/"+ada.ID, `{"user_id":"u-owner"}`)
	if rec.Code != http.StatusOK {
		t.Errorf("relink: status = %d, want %d (%s)", rec.Code, http.StatusOK, rec.Body.String())
	}
}

func TestDeleteMemberRemovesEdges(t *testing.T) {
	env := setupHandlerEnv(t)
	ada := env.addMember(t, `{"full_name":"Ada"}`)
	env.addMember(t, fmt.Sprintf(`{"full_name":"Byron","relate_to":%q,"relationship_type":"child"}`, ada.ID))

	rec := env.do(t, http.MethodDelete, "/api/family-tree/members/"+ada.ID, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}

	body := decodeBody[treeBody](t, env.do(t, http.MethodGet, "/api/family-tree", ""))
	if len(body.Members) != 1 || len(body.Relationships) != 0 {
		t.Errorf("members = %d, relationships = %d, want 1 and 0", len(body.Members), len(body.Relationships))
	}

	rec = env.do(t, http.MethodGet, "/api/family-tree/members/"+ada.ID+"/relatives", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("relatives of deleted member: status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	rec = env.do(t, http.MethodDelete, "/api/family-tree/members/"+ada.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete: status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestRelationshipLifecycle(t *testing.T) {
	env := setupHandlerEnv(t)
	ada := env.addMember(t, `{"full_name":"Ada"}`)
	william := env.addMember(t, `{"full_name":"William"}`)
	pair := fmt.Sprintf(`{"person_id":%q,"related_person_id":%q,"relationship_type":"spouse"}`, ada.ID, william.ID)

	rec := env.do(t, http.MethodPost, "/api/family-tree/relationships", pair)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, want %d (%s)", rec.Code, http.StatusCreated, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/family-tree/relationships", pair)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate: status = %d, want %d", rec.Code, http.StatusConflict)
	}

	self := fmt.Sprintf(`{"person_id":%q,"related_person_id":%q,"relationship_type":"sibling"}`, ada.ID, ada.ID)
	rec = env.do(t, http.MethodPost, "/api/family-tree/relationships", self)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("self edge: status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	rec = env.do(t, http.MethodGet, "/api/family-tree/members/"+william.ID+"/relatives", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("relatives: status = %d, want %d", rec.Code, http.StatusOK)
	}
	rel := decodeBody[familytree.Relatives](t, rec)
	if rel.Spouse == nil || rel.Spouse.ID != ada.ID {
		t.Errorf("spouse = %+v, want Ada", rel.Spouse)
	}

	rec = env.do(t, http.MethodDelete, "/api/family-tree/relationships?person_id="+william.ID+"&related_person_id="+ada.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := decodeBody[map[string]int](t, rec)["removed"]; got != 1 {
		t.Errorf("removed = %d, want 1", got)
	}

	rec = env.do(t, http.MethodDelete, "/api/family-tree/relationships?person_id="+ada.ID, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing related_person_id: status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestRefreshSeesExternalWrites(t *testing.T) {
	env := setupHandlerEnv(t)
	env.do(t, http.MethodGet, "/api/family-tree", "")

	if _, err := env.db.Exec(
		`INSERT INTO family_tree_members (id, family_id, full_name, is_placeholder, created_by, created_at, updated_at)
		 VALUES ('ext', ?, 'External', TRUE, 'u-other', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`, env.familyID,
	); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if body := decodeBody[treeBody](t, env.do(t, http.MethodGet, "/api/family-tree", "")); len(body.Members) != 0 {
		t.Fatalf("members before refresh = %d, want cached 0", len(body.Members))
	}
	rec := env.do(t, http.MethodPost, "/api/family-tree/refresh", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: status = %d, want %d", rec.Code, http.StatusOK)
	}
	if body := decodeBody[treeBody](t, rec); len(body.Members) != 1 {
		t.Errorf("members after refresh = %d, want 1", len(body.Members))
	}
}
