package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Two capability tokens flow through the system. The storage token is the
// long-lived (hours) grant for document-store I/O on one file; the session
// token is the short-lived (about a minute) grant for one realtime
// connection and embeds the storage token so the collab tier can perform
// file I/O callbacks without ever holding store credentials of its own.

const storageTokenType = "storage"

// SessionClaims is the payload of a session token.
type SessionClaims struct {
	jwt.RegisteredClaims
	FileID       string `json:"fileId"`
	RoomToken    string `json:"roomToken"`
	UserID       string `json:"userId"`
	CanWrite     bool   `json:"canWrite"`
	StorageToken string `json:"storageToken"`
}

// StorageClaims is the payload of a storage token.
type StorageClaims struct {
	jwt.RegisteredClaims
	Type     string `json:"type"`
	FileID   string `json:"fileId"`
	OwnerID  string `json:"ownerId"`
	FilePath string `json:"filePath"`
	CanWrite bool   `json:"canWrite"`
}

// Validate runs after signature and expiry have been checked, never before.
func (c *SessionClaims) Validate() error {
	if c.FileID == "" || c.RoomToken == "" || c.UserID == "" {
		return fmt.Errorf("session token missing required fields")
	}
	if c.StorageToken == "" {
		return fmt.Errorf("session token missing storage context")
	}
	return nil
}

// Validate runs after signature and expiry have been checked, never before.
func (c *StorageClaims) Validate() error {
	if c.Type != storageTokenType {
		return fmt.Errorf("wrong token type %q", c.Type)
	}
	if c.FileID == "" || c.OwnerID == "" || c.FilePath == "" {
		return fmt.Errorf("storage token missing required fields")
	}
	return nil
}

// MintSessionToken signs a session token for one connection to the room
// derived from claims. The caller controls the horizon; it should stay
// around a minute since the token travels as a URL query parameter.
func MintSessionToken(secret []byte, claims SessionClaims, ttl time.Duration) (string, error) {
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	return jwt.NewWithClaims(jwt.SigningMethodHS256, &claims).SignedString(secret)
}

// MintStorageToken signs a storage token scoped to one file.
func MintStorageToken(secret []byte, claims StorageClaims, ttl time.Duration) (string, error) {
	now := time.Now()
	claims.Type = storageTokenType
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	return jwt.NewWithClaims(jwt.SigningMethodHS256, &claims).SignedString(secret)
}

// VerifySessionToken checks structure, signature, expiry and required
// fields of a session token. The signature comparison inside the JWT
// library is constant-time.
func VerifySessionToken(secret []byte, raw string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	if err := parseHS256(secret, raw, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifyStorageToken checks a storage token, including its kind tag.
func VerifyStorageToken(secret []byte, raw string) (*StorageClaims, error) {
	claims := &StorageClaims{}
	if err := parseHS256(secret, raw, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func parseHS256(secret []byte, raw string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil {
		return err
	}
	if !token.Valid {
		return fmt.Errorf("invalid token")
	}
	return nil
}
