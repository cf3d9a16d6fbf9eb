package files

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"tldraw-collab/auth"
	"tldraw-collab/core"
	"tldraw-collab/middleware"
	"tldraw-collab/stores"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

type createFileRequest struct {
	Name   string          `json:"name"`
	Shared core.SharedMode `json:"shared,omitempty"`
}

func userClaims(r *http.Request) (*auth.UserClaims, bool) {
	claims, ok := r.Context().Value(middleware.UserClaimsContextKey).(*auth.UserClaims)
	return claims, ok
}

// HandleCreateFile registers a new document owned by the caller.
func HandleCreateFile(store stores.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := userClaims(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "Missing user context"})
			return
		}

		var req createFileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid request body"})
			return
		}

		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" || strings.ContainsAny(req.Name, "/\\") || strings.Contains(req.Name, "..") {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid file name"})
			return
		}
		switch req.Shared {
		case core.SharedNone, core.SharedRead, core.SharedWrite:
		default:
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid shared mode"})
			return
		}

		now := time.Now().UTC()
		record := &core.FileRecord{
			ID:        ulid.Make().String(),
			OwnerID:   claims.Subject,
			Name:      req.Name,
			Path:      req.Name,
			Shared:    req.Shared,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := store.CreateFile(r.Context(), record); err != nil {
			logrus.WithError(err).WithField("owner_id", claims.Subject).Error("file create failed")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Create failed"})
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, record)
	}
}

// HandleListFiles returns the caller's documents.
func HandleListFiles(store stores.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := userClaims(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "Missing user context"})
			return
		}

		records, err := store.ListFiles(r.Context(), claims.Subject)
		if err != nil {
			logrus.WithError(err).WithField("owner_id", claims.Subject).Error("file list failed")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "List failed"})
			return
		}
		if records == nil {
			records = []*core.FileRecord{}
		}
		render.JSON(w, r, records)
	}
}

// HandleGetFile returns one document's metadata, subject to sharing rules.
func HandleGetFile(store stores.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := userClaims(r)
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "Missing user context"})
			return
		}

		record, err := store.FileByID(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, map[string]string{"error": "Not found"})
			return
		}
		if !record.CanRead(claims.Subject) {
			// Indistinguishable from a missing file on purpose.
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, map[string]string{"error": "Not found"})
			return
		}
		render.JSON(w, r, record)
	}
}
