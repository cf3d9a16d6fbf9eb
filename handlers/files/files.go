// Package files implements the server side of the document-store callback
// protocol: document read/save and asset upload/serve, authorized entirely
// by the storage token each request carries.
package files

import (
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"

	"tldraw-collab/auth"
	"tldraw-collab/core"
	"tldraw-collab/middleware"
	"tldraw-collab/stores"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

var mimeExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
}

func storageClaims(r *http.Request) (*auth.StorageClaims, bool) {
	claims, ok := r.Context().Value(middleware.StorageClaimsContextKey).(*auth.StorageClaims)
	return claims, ok
}

// requireFileMatch enforces the exact match between the token's embedded
// document identity and the one named in the URL.
func requireFileMatch(w http.ResponseWriter, r *http.Request) (*auth.StorageClaims, bool) {
	claims, ok := storageClaims(r)
	if !ok {
		render.Status(r, http.StatusForbidden)
		render.JSON(w, r, map[string]string{"error": "Missing storage context"})
		return nil, false
	}
	if chi.URLParam(r, "id") != claims.FileID {
		render.Status(r, http.StatusForbidden)
		render.JSON(w, r, map[string]string{"error": "Token/file mismatch"})
		return nil, false
	}
	return claims, true
}

// HandleReadDocument returns the raw document body. A document that was
// never written answers 200 with an empty body so the collaboration tier
// starts a blank room.
func HandleReadDocument(store stores.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := requireFileMatch(w, r)
		if !ok {
			return
		}

		data, err := store.GetDocument(r.Context(), claims.OwnerID, claims.FilePath)
		if err != nil && !errors.Is(err, core.ErrNotFound) {
			logrus.WithError(err).WithField("file_id", claims.FileID).Error("document read failed")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Read failed"})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}
}

// HandleSaveDocument replaces the document body, creating it if absent.
// The write-scope check happens in the storage-token middleware.
func HandleSaveDocument(store stores.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := requireFileMatch(w, r)
		if !ok {
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil || len(body) == 0 {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Empty body"})
			return
		}

		if err := store.PutDocument(r.Context(), claims.OwnerID, claims.FilePath, body); err != nil {
			logrus.WithError(err).WithField("file_id", claims.FileID).Error("document save failed")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Save failed"})
			return
		}

		render.JSON(w, r, map[string]string{"status": "ok"})
	}
}

// HandleUploadAsset stores a binary asset under the owner's namespace and
// returns the opaque key it can be fetched with.
func HandleUploadAsset(store stores.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := requireFileMatch(w, r)
		if !ok {
			return
		}

		data, err := io.ReadAll(r.Body)
		if err != nil || len(data) == 0 {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "No data"})
			return
		}

		// Strip parameters from the MIME type (e.g. "image/png; charset=binary").
		mimeType := strings.TrimSpace(strings.Split(r.Header.Get("Content-Type"), ";")[0])
		ext, ok := mimeExtensions[mimeType]
		if !ok {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Unsupported file type"})
			return
		}

		filename := ulid.Make().String() + "." + ext
		if err := store.PutAsset(r.Context(), claims.OwnerID, filename, data); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"owner_id": claims.OwnerID,
				"filename": filename,
			}).Error("asset store failed")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Upload failed"})
			return
		}

		render.JSON(w, r, map[string]string{
			"assetKey": base64.RawURLEncoding.EncodeToString([]byte(claims.OwnerID + "/" + filename)),
		})
	}
}

// HandleServeAsset serves a previously uploaded asset by its opaque key.
// Any valid storage token grants read access.
func HandleServeAsset(store stores.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := storageClaims(r); !ok {
			render.Status(r, http.StatusForbidden)
			render.JSON(w, r, map[string]string{"error": "Missing storage context"})
			return
		}

		decoded, err := base64.RawURLEncoding.DecodeString(chi.URLParam(r, "key"))
		if err != nil || !strings.Contains(string(decoded), "/") {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid asset key"})
			return
		}

		parts := strings.SplitN(string(decoded), "/", 2)
		ownerID, filename := parts[0], parts[1]
		if strings.Contains(filename, "/") || strings.Contains(filename, "..") ||
			strings.Contains(ownerID, "..") || ownerID == "" || filename == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid path"})
			return
		}

		data, err := store.GetAsset(r.Context(), ownerID, filename)
		if errors.Is(err, core.ErrNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, map[string]string{"error": "Not found"})
			return
		}
		if err != nil {
			logrus.WithError(err).WithField("filename", filename).Error("asset read failed")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Serve failed"})
			return
		}

		w.Header().Set("Content-Type", assetContentType(filename))
		w.Write(data)
	}
}

func assetContentType(filename string) string {
	switch {
	case strings.HasSuffix(filename, ".png"):
		return "image/png"
	case strings.HasSuffix(filename, ".jpg"):
		return "image/jpeg"
	case strings.HasSuffix(filename, ".gif"):
		return "image/gif"
	case strings.HasSuffix(filename, ".webp"):
		return "image/webp"
	}
	return "application/octet-stream"
}
