// Package ws is the connection gateway: it admits or rejects realtime
// connection attempts before the websocket upgrade, then hands admitted
// sockets to their room.
package ws

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"

	"tldraw-collab/auth"
	"tldraw-collab/core"
	"tldraw-collab/registry"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// Gateway implements http.Handler for the realtime endpoint.
type Gateway struct {
	secret        []byte
	allowedOrigin string // empty disables the origin check
	registry      *registry.Registry
	limiter       *ipLimiter
	upgrader      websocket.Upgrader
}

func New(secret []byte, allowedOrigin string, maxConnsPerIP int, reg *registry.Registry) *Gateway {
	return &Gateway{
		secret:        secret,
		allowedOrigin: normalizeOrigin(allowedOrigin),
		registry:      reg,
		limiter:       newIPLimiter(maxConnsPerIP),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The origin policy is enforced below with a distinct status;
			// the upgrader must not apply its own.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP runs the admission sequence. Each rejection uses its own
// status and no partial admission survives an error.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	log := logrus.WithField("client_ip", ip)

	// Quota first, before any token parsing.
	if !g.limiter.acquire(ip) {
		log.Warn("connection quota exceeded")
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}
	admitted := false
	defer func() {
		if !admitted {
			g.limiter.release(ip)
		}
	}()

	raw := r.URL.Query().Get("token")
	if raw == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	claims, err := auth.VerifySessionToken(g.secret, raw)
	if err != nil {
		log.WithError(err).Warn("session token rejected")
		http.Error(w, "invalid token", http.StatusForbidden)
		return
	}
	storageClaims, err := auth.VerifyStorageToken(g.secret, claims.StorageToken)
	if err != nil {
		log.WithError(err).Warn("embedded storage token rejected")
		http.Error(w, "invalid token", http.StatusForbidden)
		return
	}

	if g.allowedOrigin != "" {
		origin := normalizeOrigin(r.Header.Get("Origin"))
		// Non-browser clients send no Origin and are admitted on
		// quota+token alone.
		if origin != "" && origin != g.allowedOrigin {
			log.WithField("origin", origin).Warn("blocked origin")
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	admitted = true

	go g.serve(conn, ip, claims, storageClaims)
}

func (g *Gateway) serve(wsc *websocket.Conn, ip string, claims *auth.SessionClaims, storageClaims *auth.StorageClaims) {
	defer g.limiter.release(ip)

	log := logrus.WithFields(logrus.Fields{
		"room_id":   claims.RoomToken,
		"user_id":   claims.UserID,
		"can_write": claims.CanWrite,
	})

	handle, err := g.registry.Join(context.Background(), claims.RoomToken, claims.StorageToken, *storageClaims)
	if err != nil {
		log.WithError(err).Error("room join failed")
		wsc.Close()
		return
	}
	defer handle.Leave()

	var conn core.Conn = &wsConn{conn: wsc}
	if !claims.CanWrite {
		conn = ReadOnly(conn)
	}

	sessionID := ulid.Make().String()
	log.WithField("session_id", sessionID).Info("session joined")
	handle.Serve(sessionID, conn)
	log.WithField("session_id", sessionID).Info("session left")
}

// clientIP prefers the rightmost X-Forwarded-For entry: the proxy appends
// the real client address to the end of the chain, while earlier entries
// are client-supplied and trivially spoofable.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[len(parts)-1])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func normalizeOrigin(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return strings.TrimRight(raw, "/")
	}
	return u.Scheme + "://" + u.Host
}
