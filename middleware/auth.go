package middleware

import (
	"context"
	"net/http"
	"strings"

	"tldraw-collab/auth"

	"github.com/go-chi/render"
)

type contextKey string

const (
	// UserClaimsContextKey carries the login session of a filestore API call.
	UserClaimsContextKey = contextKey("userClaims")

	// StorageClaimsContextKey carries the verified storage token of a
	// callback-protocol call.
	StorageClaimsContextKey = contextKey("storageClaims")
)

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", false
	}
	return parts[1], true
}

// AuthJWT guards user-facing API routes with the login session token.
func AuthJWT(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, map[string]string{"error": "Authorization header format must be Bearer {token}"})
				return
			}

			claims, err := auth.VerifyUserToken(secret, token)
			if err != nil {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, map[string]string{"error": "Invalid token"})
				return
			}

			ctx := context.WithValue(r.Context(), UserClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireStorageToken guards the callback-protocol routes. With write set,
// a read-only storage token is refused before the handler runs.
func RequireStorageToken(secret []byte, write bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, map[string]string{"error": "Missing token"})
				return
			}

			claims, err := auth.VerifyStorageToken(secret, token)
			if err != nil {
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, map[string]string{"error": "Invalid or expired token"})
				return
			}

			if write && !claims.CanWrite {
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, map[string]string{"error": "Read-only token"})
				return
			}

			ctx := context.WithValue(r.Context(), StorageClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
