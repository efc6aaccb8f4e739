package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"
)

// Authenticator resolves the account behind an upgrade request. ok is false
// when the request carries no valid credential.
type Authenticator func(r *http.Request) (accountID int64, ok bool, err error)

// HandleUsageFeed authenticates before upgrading, then streams the
// account's usage updates until the connection closes.
func HandleUsageFeed(hub *Hub, auth Authenticator, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok, err := auth(r)
		if err != nil {
			logger.Error("usage feed auth", "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
			return
		}
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"missing or invalid API key"}` + "\n"))
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			InsecureSkipVerify: true, // browser extensions and dashboards connect from other origins
		})
		if err != nil {
			logger.Warn("usage feed accept", "error", err)
			return
		}
		defer conn.CloseNow()

		NewClient(hub, accountID, conn).Run(r.Context())
	}
}
