package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/heirloom/internal/auth"
	"github.com/dukerupert/heirloom/internal/backup"
	"github.com/dukerupert/heirloom/internal/model"
	"github.com/dukerupert/heirloom/internal/store"
)

// BackupHandler runs and restores encrypted family-tree backups.
type BackupHandler struct {
	manager *backup.Manager
	backups *store.BackupStore
	logger  *slog.Logger
}

func NewBackupHandler(manager *backup.Manager, backups *store.BackupStore, logger *slog.Logger) *BackupHandler {
	return &BackupHandler{manager: manager, backups: backups, logger: logger}
}

type runBackupRequest struct {
	Passphrase string `json:"passphrase" validate:"required,min=8"`
	// Remember keeps the passphrase in memory for scheduled backups.
	Remember bool `json:"remember"`
}

type restoreBackupRequest struct {
	Passphrase string `json:"passphrase" validate:"required"`
}

type restoreResponse struct {
	BackupID      string `json:"backup_id"`
	Members       int    `json:"members"`
	Relationships int    `json:"relationships"`
}

type backupStatusResponse struct {
	backup.Status
	Enabled          bool          `json:"enabled"`
	ScheduledBackups bool          `json:"scheduled_backups"`
	Latest           *model.Backup `json:"latest"`
	TotalBytes       int64         `json:"total_bytes"`
}

func (h *BackupHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 500)
	}
	backups, err := h.backups.List(r.Context(), auth.FamilyID(r.Context()), limit)
	if err != nil {
		writeServiceError(w, h.logger, "list backups", err)
		return
	}
	if backups == nil {
		backups = []model.Backup{}
	}
	writeJSON(w, http.StatusOK, backups)
}

func (h *BackupHandler) Status(w http.ResponseWriter, r *http.Request) {
	familyID := auth.FamilyID(r.Context())
	latest, err := h.backups.LatestCompleted(r.Context(), familyID)
	if err != nil {
		writeServiceError(w, h.logger, "get backup status", err)
		return
	}
	total, err := h.backups.TotalSizeByFamily(r.Context(), familyID)
	if err != nil {
		writeServiceError(w, h.logger, "get backup status", err)
		return
	}
	writeJSON(w, http.StatusOK, backupStatusResponse{
		Status:           h.manager.Status(),
		Enabled:          h.manager.Enabled(),
		ScheduledBackups: h.manager.HasCachedPassphrase(familyID),
		Latest:           latest,
		TotalBytes:       total,
	})
}

func (h *BackupHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req runBackupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, h.logger, "run backup", err)
		return
	}
	familyID := auth.FamilyID(r.Context())

	b, err := h.manager.Run(r.Context(), familyID, req.Passphrase)
	if err != nil {
		h.writeBackupError(w, "run backup", err)
		return
	}
	if req.Remember {
		h.manager.CachePassphrase(familyID, req.Passphrase)
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *BackupHandler) Restore(w http.ResponseWriter, r *http.Request) {
	var req restoreBackupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, h.logger, "restore backup", err)
		return
	}
	id := r.PathValue("id")
	snap, err := h.manager.Restore(r.Context(), id, auth.FamilyID(r.Context()), req.Passphrase)
	if err != nil {
		h.writeBackupError(w, "restore backup", err)
		return
	}
	writeJSON(w, http.StatusOK, restoreResponse{
		BackupID:      id,
		Members:       len(snap.Members),
		Relationships: len(snap.Relationships),
	})
}

// Download streams the encrypted object as stored.
func (h *BackupHandler) Download(w http.ResponseWriter, r *http.Request) {
	body, size, err := h.manager.Download(r.Context(), r.PathValue("id"), auth.FamilyID(r.Context()))
	if err != nil {
		h.writeBackupError(w, "download backup", err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+"family-tree-"+r.PathValue("id")+".json.enc"+`"`)
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("stream backup", "backup_id", r.PathValue("id"), "error", err)
	}
}

func (h *BackupHandler) writeBackupError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, backup.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "backups are not configured")
	case errors.Is(err, backup.ErrBackupNotFound):
		writeError(w, http.StatusNotFound, "backup not found")
	case errors.Is(err, backup.ErrNoPassphrase):
		writeError(w, http.StatusBadRequest, "passphrase is required")
	case errors.Is(err, backup.ErrDecrypt),
		errors.Is(err, backup.ErrCiphertextTooShort),
		errors.Is(err, backup.ErrUnknownFormat):
		writeError(w, http.StatusBadRequest, "wrong passphrase or corrupted backup")
	case errors.Is(err, backup.ErrInvalidSnapshot):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeServiceError(w, h.logger, op, err)
	}
}
