package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// RoomID derives the room identity for a file. The derivation is keyed by
// the signing secret so the identity is stable for a given file but cannot
// be guessed from the file ID alone.
func RoomID(secret []byte, fileID string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte("room:" + fileID))
	return hex.EncodeToString(mac.Sum(nil))
}
