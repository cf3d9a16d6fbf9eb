// Package uploads is the asset admission edge. It validates image uploads
// as close to the client as possible and forwards accepted payloads to the
// document store through the storage bridge.
package uploads

import (
	"errors"
	"io"
	"net/http"
	"regexp"
	"strings"

	"tldraw-collab/auth"
	"tldraw-collab/bridge"

	"github.com/go-chi/render"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// sanitizeFilename strips filesystem-unsafe characters from a
// client-supplied name and prefixes it with a fresh ULID.
func sanitizeFilename(name string) string {
	return ulid.Make().String() + "-" + unsafeFilenameChars.ReplaceAllString(name, "_")
}

// Handle accepts a multipart image upload authorized by a session token.
func Handle(secret []byte, storeBaseURL string, maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" || !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "Missing token"})
			return
		}

		claims, err := auth.VerifySessionToken(secret, authHeader[len("Bearer "):])
		if err != nil {
			render.Status(r, http.StatusForbidden)
			render.JSON(w, r, map[string]string{"error": "Invalid token"})
			return
		}
		storageClaims, err := auth.VerifyStorageToken(secret, claims.StorageToken)
		if err != nil {
			render.Status(r, http.StatusForbidden)
			render.JSON(w, r, map[string]string{"error": "Token missing storage context"})
			return
		}

		if r.ContentLength > maxBytes {
			render.Status(r, http.StatusRequestEntityTooLarge)
			render.JSON(w, r, map[string]string{"error": "File too large"})
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				render.Status(r, http.StatusRequestEntityTooLarge)
				render.JSON(w, r, map[string]string{"error": "File too large"})
				return
			}
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid multipart body"})
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "No file"})
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Failed to read file"})
			return
		}

		mimeType := strings.TrimSpace(strings.Split(header.Header.Get("Content-Type"), ";")[0])
		if !allowedMimes[mimeType] {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid file type"})
			return
		}
		if !matchesMagic(mimeType, data) {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "File content does not match declared type"})
			return
		}

		log := logrus.WithFields(logrus.Fields{
			"file_id":   claims.FileID,
			"user_id":   claims.UserID,
			"filename":  sanitizeFilename(header.Filename),
			"mime_type": mimeType,
			"size":      len(data),
		})

		b := bridge.New(storeBaseURL, claims.StorageToken, *storageClaims)
		assetURL, err := b.UploadAsset(r.Context(), data, mimeType)
		if err != nil {
			if errors.Is(err, bridge.ErrReadOnly) {
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, map[string]string{"error": "Read-only token"})
				return
			}
			log.WithError(err).Error("asset upload failed")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Upload failed"})
			return
		}

		log.Info("asset uploaded")
		render.JSON(w, r, map[string]string{"url": assetURL})
	}
}
