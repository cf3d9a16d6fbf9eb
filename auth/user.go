package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// UserClaims is the login session for the filestore API. It is unrelated to
// the capability tokens: it only identifies who is asking for one.
type UserClaims struct {
	jwt.RegisteredClaims
	Login     string `json:"login"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	Name      string `json:"name,omitempty"`
}

func (c *UserClaims) Validate() error {
	if c.Subject == "" {
		return fmt.Errorf("user token missing subject")
	}
	return nil
}

// MintUserToken signs a login session token for the filestore API.
func MintUserToken(secret []byte, claims UserClaims, ttl time.Duration) (string, error) {
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	return jwt.NewWithClaims(jwt.SigningMethodHS256, &claims).SignedString(secret)
}

// VerifyUserToken checks a login session token.
func VerifyUserToken(secret []byte, raw string) (*UserClaims, error) {
	claims := &UserClaims{}
	if err := parseHS256(secret, raw, claims); err != nil {
		return nil, err
	}
	return claims, nil
}
