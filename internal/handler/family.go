package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/heirloom/internal/auth"
	"github.com/dukerupert/heirloom/internal/model"
	"github.com/dukerupert/heirloom/internal/service"
	"github.com/dukerupert/heirloom/internal/store"
)

// FamilyHandler manages families and their memberships.
type FamilyHandler struct {
	families *store.FamilyStore
	trees    *service.Registry
	logger   *slog.Logger
}

func NewFamilyHandler(families *store.FamilyStore, trees *service.Registry, logger *slog.Logger) *FamilyHandler {
	return &FamilyHandler{families: families, trees: trees, logger: logger}
}

type createFamilyRequest struct {
	Name string `json:"name" validate:"notblank,max=120"`
}

type updateRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=admin editor viewer"`
}

type addFamilyUserRequest struct {
	UserID string `json:"user_id" validate:"notblank"`
	Role   string `json:"role" validate:"required,oneof=admin editor viewer"`
}

func (h *FamilyHandler) List(w http.ResponseWriter, r *http.Request) {
	families, err := h.families.ListForUser(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeServiceError(w, h.logger, "list families", err)
		return
	}
	if families == nil {
		families = []model.Family{}
	}
	writeJSON(w, http.StatusOK, families)
}

// Create makes a new family with the caller as its admin.
func (h *FamilyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createFamilyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, h.logger, "create family", err)
		return
	}
	f, err := h.families.Create(r.Context(), strings.TrimSpace(req.Name), auth.UserID(r.Context()))
	if err != nil {
		writeServiceError(w, h.logger, "create family", err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

// Rename changes the name of the caller's family.
func (h *FamilyHandler) Rename(w http.ResponseWriter, r *http.Request) {
	var req createFamilyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, h.logger, "rename family", err)
		return
	}
	f, err := h.families.Rename(r.Context(), auth.FamilyID(r.Context()), strings.TrimSpace(req.Name))
	if err != nil {
		writeServiceError(w, h.logger, "rename family", err)
		return
	}
	if f == nil {
		writeError(w, http.StatusNotFound, "family not found")
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// Delete removes the caller's family with its whole tree.
func (h *FamilyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	familyID := auth.FamilyID(r.Context())
	unlock := h.trees.LockFamily(familyID)
	err := h.families.Delete(r.Context(), familyID)
	if err == nil {
		h.trees.Invalidate(familyID)
	}
	unlock()
	if err != nil {
		writeServiceError(w, h.logger, "delete family", err)
		return
	}
	h.logger.Info("family deleted", "family_id", familyID, "user_id", auth.UserID(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

// AddUser grants an account a role in the caller's family.
func (h *FamilyHandler) AddUser(w http.ResponseWriter, r *http.Request) {
	var req addFamilyUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, h.logger, "add family user", err)
		return
	}
	familyID := auth.FamilyID(r.Context())
	userID := strings.TrimSpace(req.UserID)

	existing, err := h.families.GetUser(r.Context(), familyID, userID)
	if err != nil {
		writeServiceError(w, h.logger, "add family user", err)
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "user already belongs to this family")
		return
	}

	fu, err := h.families.AddUser(r.Context(), familyID, userID, model.Role(req.Role))
	if err != nil {
		writeServiceError(w, h.logger, "add family user", err)
		return
	}
	writeJSON(w, http.StatusCreated, fu)
}

// RemoveUser revokes an account's membership. Admins cannot remove themselves.
func (h *FamilyHandler) RemoveUser(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	if userID == auth.UserID(r.Context()) {
		writeError(w, http.StatusBadRequest, "cannot remove yourself")
		return
	}
	if err := h.families.RemoveUser(r.Context(), auth.FamilyID(r.Context()), userID); err != nil {
		writeFamilyError(w, h.logger, "remove family user", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateUserRole changes an account's role. The last admin cannot be demoted.
func (h *FamilyHandler) UpdateUserRole(w http.ResponseWriter, r *http.Request) {
	var req updateRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, h.logger, "update family role", err)
		return
	}
	fu, err := h.families.UpdateRole(r.Context(), auth.FamilyID(r.Context()), r.PathValue("user_id"), model.Role(req.Role))
	if err != nil {
		writeFamilyError(w, h.logger, "update family role", err)
		return
	}
	if fu == nil {
		writeError(w, http.StatusNotFound, "user does not belong to this family")
		return
	}
	writeJSON(w, http.StatusOK, fu)
}

func writeFamilyError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	if errors.Is(err, store.ErrLastAdmin) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeServiceError(w, logger, op, err)
}
