package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dukerupert/heirloom/internal/auth"
	"github.com/dukerupert/heirloom/internal/model"
	"github.com/dukerupert/heirloom/internal/store"
)

// TokenVerifier validates a bearer token and returns its claims.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// MembershipStore resolves a user's family membership.
type MembershipStore interface {
	GetUser(ctx context.Context, familyID, userID string) (*model.FamilyUser, error)
	PrimaryFamilyForUser(ctx context.Context, userID string) (*model.FamilyUser, error)
}

var _ MembershipStore = (*store.FamilyStore)(nil)

// RequireAuth validates the bearer token and populates AuthContext. The family
// comes from ?family_id= or X-Family-ID when given, otherwise from the caller's
// earliest membership. A caller with no family gets an AuthContext without one.
func RequireAuth(verifier TokenVerifier, families MembershipStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			claims, err := verifier.Verify(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			ac := auth.AuthContext{UserID: claims.Subject}
			var fu *model.FamilyUser
			if familyID := requestedFamily(r); familyID != "" {
				fu, err = families.GetUser(r.Context(), familyID, claims.Subject)
				if err == nil && fu == nil {
					writeError(w, http.StatusForbidden, "not a member of this family")
					return
				}
			} else {
				fu, err = families.PrimaryFamilyForUser(r.Context(), claims.Subject)
			}
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to resolve family")
				return
			}
			if fu != nil {
				ac.FamilyID = fu.FamilyID
				ac.Role = fu.Role
			}

			if sink, ok := r.Context().Value(authSinkKey{}).(*auth.AuthContext); ok {
				*sink = ac
			}
			ctx := auth.WithAuth(r.Context(), ac)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireFamily rejects callers that do not belong to any family.
func RequireFamily(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.FamilyID(r.Context()) == "" {
			writeError(w, http.StatusForbidden, "no family")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireEditor lets viewers through only for safe methods.
func RequireEditor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
		default:
			if !auth.CanEdit(r.Context()) {
				writeError(w, http.StatusForbidden, "read-only access")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin checks that the authenticated user has the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.IsAdmin(r.Context()) {
			writeError(w, http.StatusForbidden, "admin only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type authSinkKey struct{}

// withAuthSink lets an outer middleware see the AuthContext resolved further in.
func withAuthSink(ctx context.Context, ac *auth.AuthContext) context.Context {
	return context.WithValue(ctx, authSinkKey{}, ac)
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	// browsers cannot set headers on websocket upgrades
	return r.URL.Query().Get("access_token")
}

func requestedFamily(r *http.Request) string {
	if id := r.URL.Query().Get("family_id"); id != "" {
		return id
	}
	return r.Header.Get("X-Family-ID")
}

func userIDFrom(r *http.Request) string {
	return auth.UserID(r.Context())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
