// Package token issues the credentials a client needs to join a
// collaboration room: a short-lived session token that embeds a longer
// storage token scoped to one document.
package token

import (
	"net/http"
	"time"

	"tldraw-collab/auth"
	"tldraw-collab/middleware"
	"tldraw-collab/stores"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

const (
	// storageTokenTTL outlives any realistic editing session so the
	// collaboration tier can keep flushing long after the user's session
	// token expired.
	storageTokenTTL = 8 * time.Hour

	// sessionTokenTTL is deliberately tight. The token only needs to
	// survive the WebSocket handshake.
	sessionTokenTTL = 60 * time.Second
)

type issueResponse struct {
	Token string `json:"token"`
	WsURL string `json:"wsUrl"`
}

// HandleIssue resolves the caller's rights on a file and mints the token
// pair for it. wsURL is the collaboration endpoint advertised to clients.
func HandleIssue(store stores.Store, secret []byte, wsURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := r.Context().Value(middleware.UserClaimsContextKey).(*auth.UserClaims)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "Missing user context"})
			return
		}

		fileID := chi.URLParam(r, "id")
		record, err := store.FileByID(r.Context(), fileID)
		if err != nil {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, map[string]string{"error": "Not found"})
			return
		}
		if !record.CanRead(claims.Subject) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, map[string]string{"error": "Not found"})
			return
		}
		canWrite := record.CanWrite(claims.Subject)

		storageToken, err := auth.MintStorageToken(secret, auth.StorageClaims{
			FileID:   record.ID,
			OwnerID:  record.OwnerID,
			FilePath: record.Path,
			CanWrite: canWrite,
		}, storageTokenTTL)
		if err != nil {
			logrus.WithError(err).Error("storage token mint failed")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Token mint failed"})
			return
		}

		sessionToken, err := auth.MintSessionToken(secret, auth.SessionClaims{
			FileID:       record.ID,
			RoomToken:    auth.RoomID(secret, record.ID),
			UserID:       claims.Subject,
			CanWrite:     canWrite,
			StorageToken: storageToken,
		}, sessionTokenTTL)
		if err != nil {
			logrus.WithError(err).Error("session token mint failed")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Token mint failed"})
			return
		}

		logrus.WithFields(logrus.Fields{
			"file_id":   record.ID,
			"user_id":   claims.Subject,
			"can_write": canWrite,
		}).Info("collaboration token issued")

		render.JSON(w, r, issueResponse{Token: sessionToken, WsURL: wsURL})
	}
}
