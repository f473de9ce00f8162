package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/heirloom/internal/auth"
	"github.com/dukerupert/heirloom/internal/familytree"
	"github.com/dukerupert/heirloom/internal/model"
	"github.com/dukerupert/heirloom/internal/service"
	"github.com/dukerupert/heirloom/internal/store"
)

// TreeHandler serves the caller's family tree.
type TreeHandler struct {
	trees    *service.Registry
	families *store.FamilyStore
	logger   *slog.Logger
}

func NewTreeHandler(trees *service.Registry, families *store.FamilyStore, logger *slog.Logger) *TreeHandler {
	return &TreeHandler{trees: trees, families: families, logger: logger}
}

type treeResponse struct {
	service.Snapshot
	// Generations holds member ids grouped by depth in the forest.
	Generations     [][]string           `json:"generations"`
	CurrentUserNode *familytree.TreeNode `json:"current_user_node"`
}

type createMemberRequest struct {
	FullName         string  `json:"full_name" validate:"notblank"`
	UserID           *string `json:"user_id"`
	BirthDate        *string `json:"birth_date" validate:"omitempty,datetime=2006-01-02"`
	DeathDate        *string `json:"death_date" validate:"omitempty,datetime=2006-01-02"`
	AvatarURL        *string `json:"avatar_url"`
	Bio              *string `json:"bio"`
	RelateTo         string  `json:"relate_to" validate:"required_with=RelationshipType"`
	RelationshipType string  `json:"relationship_type" validate:"required_with=RelateTo,omitempty,oneof=parent child spouse sibling"`
}

type createMemberResponse struct {
	Member       model.FamilyMember        `json:"member"`
	Relationship *model.FamilyRelationship `json:"relationship,omitempty"`
}

type updateMemberRequest struct {
	FullName  *string `json:"full_name"`
	UserID    *string `json:"user_id"`
	BirthDate *string `json:"birth_date" validate:"omitempty,datetime=2006-01-02"`
	DeathDate *string `json:"death_date" validate:"omitempty,datetime=2006-01-02"`
	AvatarURL *string `json:"avatar_url"`
	Bio       *string `json:"bio"`
}

type createRelationshipRequest struct {
	PersonID         string `json:"person_id" validate:"required"`
	RelatedPersonID  string `json:"related_person_id" validate:"required"`
	RelationshipType string `json:"relationship_type" validate:"required,oneof=parent child spouse sibling"`
}

func (h *TreeHandler) tree(w http.ResponseWriter, r *http.Request) (*service.Tree, bool) {
	t, err := h.trees.Get(r.Context(), auth.FamilyID(r.Context()))
	if err != nil {
		h.logger.Error("load family tree", "family_id", auth.FamilyID(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load family tree")
		return nil, false
	}
	return t, true
}

// checkAccount rejects linking a member to an account outside the family.
func (h *TreeHandler) checkAccount(ctx context.Context, userID *string) error {
	if userID == nil || strings.TrimSpace(*userID) == "" {
		return nil
	}
	fu, err := h.families.GetUser(ctx, auth.FamilyID(ctx), strings.TrimSpace(*userID))
	if err != nil {
		return err
	}
	if fu == nil {
		return fmt.Errorf("%w: user_id is not a member of this family", service.ErrValidation)
	}
	return nil
}

func (h *TreeHandler) respondTree(w http.ResponseWriter, r *http.Request, t *service.Tree) {
	snap := t.Snapshot()
	resp := treeResponse{
		Snapshot:        snap,
		Generations:     [][]string{},
		CurrentUserNode: familytree.FindByUser(snap.Forest, auth.UserID(r.Context())),
	}
	for _, gen := range familytree.Generations(snap.Forest) {
		ids := make([]string, len(gen))
		for i, n := range gen {
			ids[i] = n.Member.ID
		}
		resp.Generations = append(resp.Generations, ids)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *TreeHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tree(w, r)
	if !ok {
		return
	}
	h.respondTree(w, r, t)
}

func (h *TreeHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tree(w, r)
	if !ok {
		return
	}
	if err := t.Refresh(r.Context()); err != nil {
		writeServiceError(w, h.logger, "refresh family tree", err)
		return
	}
	h.respondTree(w, r, t)
}

func (h *TreeHandler) Relatives(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tree(w, r)
	if !ok {
		return
	}
	rel, err := t.Relatives(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, h.logger, "resolve relatives", err)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

func (h *TreeHandler) CreateMember(w http.ResponseWriter, r *http.Request) {
	var req createMemberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, h.logger, "add family member", err)
		return
	}
	if err := h.checkAccount(r.Context(), req.UserID); err != nil {
		writeServiceError(w, h.logger, "add family member", err)
		return
	}
	t, ok := h.tree(w, r)
	if !ok {
		return
	}

	m := model.FamilyMember{
		FullName:  req.FullName,
		UserID:    trimmed(req.UserID),
		BirthDate: trimmed(req.BirthDate),
		DeathDate: trimmed(req.DeathDate),
		AvatarURL: trimmed(req.AvatarURL),
		Bio:       trimmed(req.Bio),
		CreatedBy: auth.UserID(r.Context()),
	}

	if req.RelateTo == "" {
		created, err := t.AddMember(r.Context(), m)
		if err != nil {
			writeServiceError(w, h.logger, "add family member", err)
			return
		}
		writeJSON(w, http.StatusCreated, createMemberResponse{Member: created})
		return
	}

	created, rel, err := t.AddRelatedMember(r.Context(), m, req.RelateTo, model.RelationshipType(req.RelationshipType))
	if err != nil {
		if created.ID != "" {
			h.logger.Warn("member added without relationship", "member_id", created.ID, "relate_to", req.RelateTo)
		}
		writeServiceError(w, h.logger, "add family member", err)
		return
	}
	writeJSON(w, http.StatusCreated, createMemberResponse{Member: created, Relationship: rel})
}

func (h *TreeHandler) UpdateMember(w http.ResponseWriter, r *http.Request) {
	var req updateMemberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, h.logger, "update family member", err)
		return
	}
	if err := h.checkAccount(r.Context(), req.UserID); err != nil {
		writeServiceError(w, h.logger, "update family member", err)
		return
	}
	t, ok := h.tree(w, r)
	if !ok {
		return
	}

	updated, err := t.UpdateMember(r.Context(), r.PathValue("id"), model.MemberPatch{
		FullName:  req.FullName,
		UserID:    req.UserID,
		BirthDate: req.BirthDate,
		DeathDate: req.DeathDate,
		AvatarURL: req.AvatarURL,
		Bio:       req.Bio,
	})
	if err != nil {
		writeServiceError(w, h.logger, "update family member", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *TreeHandler) DeleteMember(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tree(w, r)
	if !ok {
		return
	}
	if err := t.DeleteMember(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, h.logger, "delete family member", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TreeHandler) CreateRelationship(w http.ResponseWriter, r *http.Request) {
	var req createRelationshipRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, h.logger, "add relationship", err)
		return
	}
	t, ok := h.tree(w, r)
	if !ok {
		return
	}

	rel, err := t.AddRelationship(r.Context(), model.FamilyRelationship{
		PersonID:        req.PersonID,
		RelatedPersonID: req.RelatedPersonID,
		Type:            model.RelationshipType(req.RelationshipType),
	})
	if err != nil {
		writeServiceError(w, h.logger, "add relationship", err)
		return
	}
	writeJSON(w, http.StatusCreated, rel)
}

func (h *TreeHandler) DeleteRelationship(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tree(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	n, err := t.RemoveRelationship(r.Context(), q.Get("person_id"), q.Get("related_person_id"))
	if err != nil {
		writeServiceError(w, h.logger, "remove relationship", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	return model.StringPtr(*s)
}
