package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/heirloom/internal/auth"
)

// HandleWebSocket upgrades an authenticated request and streams change
// notifications for the caller's family until the connection closes.
// originPatterns lists the extra origins allowed to connect.
func HandleWebSocket(hub *Hub, originPatterns []string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ac, ok := auth.FromContext(r.Context())
		if !ok || ac.FamilyID == "" {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			logger.Warn("websocket accept", "error", err)
			return
		}

		logger.Debug("websocket connected", "family_id", ac.FamilyID, "user_id", ac.UserID)
		client := NewClient(hub, conn, ac.FamilyID, ac.UserID)
		client.Run(r.Context())
		logger.Debug("websocket disconnected", "family_id", ac.FamilyID, "user_id", ac.UserID)
	}
}
