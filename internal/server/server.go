package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/heirloom/internal/auth"
	"github.com/dukerupert/heirloom/internal/backup"
	"github.com/dukerupert/heirloom/internal/config"
	"github.com/dukerupert/heirloom/internal/database"
	"github.com/dukerupert/heirloom/internal/handler"
	"github.com/dukerupert/heirloom/internal/middleware"
	"github.com/dukerupert/heirloom/internal/service"
	"github.com/dukerupert/heirloom/internal/store"
	ws "github.com/dukerupert/heirloom/internal/websocket"
)

const rateLimiterKeys = 10000

type Server struct {
	db            *database.DB
	hub           *ws.Hub
	trees         *service.Registry
	familyStore   *store.FamilyStore
	verifier      *auth.Verifier
	rateLimiter   *middleware.RateLimiter
	backupManager *backup.Manager
	wsOrigins     []string

	treeH   *handler.TreeHandler
	familyH *handler.FamilyHandler
	backupH *handler.BackupHandler

	logger *slog.Logger
}

func New(cfg *config.Config, db *database.DB, logger *slog.Logger) (*Server, error) {
	verifier, err := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience)
	if err != nil {
		return nil, fmt.Errorf("create token verifier: %w", err)
	}
	limiter, err := middleware.NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst, rateLimiterKeys)
	if err != nil {
		return nil, fmt.Errorf("create rate limiter: %w", err)
	}

	hub := ws.NewHub(logger)

	memberStore := store.NewTreeMemberStore(db)
	relationshipStore := store.NewRelationshipStore(db)
	familyStore := store.NewFamilyStore(db)
	backupStore := store.NewBackupStore(db)

	trees, err := service.NewRegistry(service.Stores{
		Members:       memberStore,
		Relationships: relationshipStore,
	}, cfg.RegistrySize, logger, func(ev service.ChangeEvent) {
		hub.Broadcast(ws.NewMessage(ev.FamilyID, ev.Entity, ev.Action, ev.ID))
	})
	if err != nil {
		return nil, err
	}

	backupMgr := backup.NewManager(cfg.Backup(), db, backup.Stores{
		Members:       memberStore,
		Relationships: relationshipStore,
		Backups:       backupStore,
	}, logger, func(familyID string) {
		trees.Invalidate(familyID)
		hub.Broadcast(ws.NewMessage(familyID, service.EntityTree, service.ActionRefreshed, familyID))
	})
	backupMgr.SetFamilyLock(trees.LockFamily)

	return &Server{
		db:            db,
		hub:           hub,
		trees:         trees,
		familyStore:   familyStore,
		verifier:      verifier,
		rateLimiter:   limiter,
		backupManager: backupMgr,
		wsOrigins:     cfg.WSOrigins,
		treeH:         handler.NewTreeHandler(trees, familyStore, logger.With("component", "family_tree_handler")),
		familyH:       handler.NewFamilyHandler(familyStore, trees, logger.With("component", "family_handler")),
		backupH:       handler.NewBackupHandler(backupMgr, backupStore, logger.With("component", "backup_handler")),
		logger:        logger,
	}, nil
}

// Start launches background work: the scheduled backup loop.
func (s *Server) Start(ctx context.Context) {
	s.backupManager.Start(ctx)
}

// Stop ends background work started by Start.
func (s *Server) Stop() {
	s.backupManager.Stop()
}

// BackupManager returns the backup manager.
func (s *Server) BackupManager() *backup.Manager {
	return s.backupManager
}

// Hub returns the websocket hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

// Verifier returns the bearer token verifier.
func (s *Server) Verifier() *auth.Verifier {
	return s.verifier
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("GET /health", s.healthHandler)

	// Protected routes: bearer auth, then a per-user rate limit
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.verifier, s.familyStore)
	rateLimit := middleware.RateLimit(s.rateLimiter, middleware.ByUserOrIP)
	outerMux.Handle("/", authMiddleware(rateLimit(protectedMux)))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	// family scoped; viewers read, editors and admins write
	family := func(h http.HandlerFunc) http.Handler {
		return middleware.RequireFamily(middleware.RequireEditor(h))
	}
	admin := func(h http.HandlerFunc) http.Handler {
		return middleware.RequireFamily(middleware.RequireAdmin(h))
	}

	// Families
	mux.HandleFunc("GET /api/families", s.familyH.List)
	mux.HandleFunc("POST /api/families", s.familyH.Create)
	mux.Handle("PATCH /api/families", admin(s.familyH.Rename))
	mux.Handle("DELETE /api/families", admin(s.familyH.Delete))
	mux.Handle("POST /api/families/users", admin(s.familyH.AddUser))
	mux.Handle("PATCH /api/families/users/{user_id}", admin(s.familyH.UpdateUserRole))
	mux.Handle("DELETE /api/families/users/{user_id}", admin(s.familyH.RemoveUser))

	// Family tree
	mux.Handle("GET /api/family-tree", family(s.treeH.Get))
	mux.Handle("POST /api/family-tree/refresh", middleware.RequireFamily(http.HandlerFunc(s.treeH.Refresh)))
	mux.Handle("GET /api/family-tree/members/{id}/relatives", family(s.treeH.Relatives))
	mux.Handle("POST /api/family-tree/members", family(s.treeH.CreateMember))
	mux.Handle("PATCH /api/family-tree/members/{id}", family(s.treeH.UpdateMember))
	mux.Handle("DELETE /api/family-tree/members/{id}", family(s.treeH.DeleteMember))
	mux.Handle("POST /api/family-tree/relationships", family(s.treeH.CreateRelationship))
	mux.Handle("DELETE /api/family-tree/relationships", family(s.treeH.DeleteRelationship))

	// Backups
	mux.Handle("GET /api/family-tree/backups", family(s.backupH.List))
	mux.Handle("GET /api/family-tree/backups/status", family(s.backupH.Status))
	mux.Handle("POST /api/family-tree/backups", family(s.backupH.Create))
	mux.Handle("POST /api/family-tree/backups/{id}/restore", admin(s.backupH.Restore))
	mux.Handle("GET /api/family-tree/backups/{id}/download", admin(s.backupH.Download))

	// WebSocket
	mux.Handle("GET /ws", middleware.RequireFamily(ws.HandleWebSocket(s.hub, s.wsOrigins, s.logger.With("component", "websocket_handler"))))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if err := s.db.PingContext(ctx); err != nil {
		s.logger.Error("health check", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
