package auth

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"
)

var testSecret = []byte("test-secret-please-rotate")

func mintTestStorage(t *testing.T, ttl time.Duration) string {
	t.Helper()
	raw, err := MintStorageToken(testSecret, StorageClaims{
		FileID:   "01HZX3V9K7",
		OwnerID:  "alice",
		FilePath: "Drawings/plan.tldr",
		CanWrite: true,
	}, ttl)
	if err != nil {
		t.Fatalf("MintStorageToken: %v", err)
	}
	return raw
}

func mintTestSession(t *testing.T, ttl time.Duration) string {
	t.Helper()
	raw, err := MintSessionToken(testSecret, SessionClaims{
		FileID:       "01HZX3V9K7",
		RoomToken:    RoomID(testSecret, "01HZX3V9K7"),
		UserID:       "alice",
		CanWrite:     true,
		StorageToken: mintTestStorage(t, time.Hour),
	}, ttl)
	if err != nil {
		t.Fatalf("MintSessionToken: %v", err)
	}
	return raw
}

func TestSessionTokenRoundtrip(t *testing.T) {
	raw := mintTestSession(t, time.Minute)

	claims, err := VerifySessionToken(testSecret, raw)
	if err != nil {
		t.Fatalf("VerifySessionToken: %v", err)
	}
	if claims.FileID != "01HZX3V9K7" {
		t.Errorf("FileID = %q, want 01HZX3V9K7", claims.FileID)
	}
	if claims.UserID != "alice" {
		t.Errorf("UserID = %q, want alice", claims.UserID)
	}
	if !claims.CanWrite {
		t.Error("CanWrite = false, want true")
	}
	if claims.StorageToken == "" {
		t.Error("StorageToken is empty")
	}

	storage, err := VerifyStorageToken(testSecret, claims.StorageToken)
	if err != nil {
		t.Fatalf("VerifyStorageToken on embedded token: %v", err)
	}
	if storage.OwnerID != "alice" || storage.FilePath != "Drawings/plan.tldr" {
		t.Errorf("embedded storage claims = %+v", storage)
	}
}

func TestTamperedSignatureRejected(t *testing.T) {
	raw := mintTestSession(t, time.Minute)

	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		t.Fatalf("token has %d segments, want 3", len(parts))
	}

	// Flip every byte of the decoded signature in turn; each variant must
	// fail verification.
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	for i := range sig {
		mutated := make([]byte, len(sig))
		copy(mutated, sig)
		mutated[i] ^= 0x80
		forged := parts[0] + "." + parts[1] + "." + base64.RawURLEncoding.EncodeToString(mutated)
		if _, err := VerifySessionToken(testSecret, forged); err == nil {
			t.Fatalf("tampered signature at byte %d accepted", i)
		}
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	raw := mintTestSession(t, -time.Minute)
	if _, err := VerifySessionToken(testSecret, raw); err == nil {
		t.Fatal("expired session token accepted")
	}

	rawStorage := mintTestStorage(t, -time.Minute)
	if _, err := VerifyStorageToken(testSecret, rawStorage); err == nil {
		t.Fatal("expired storage token accepted")
	}
}

func TestWrongSecretRejected(t *testing.T) {
	raw := mintTestSession(t, time.Minute)
	if _, err := VerifySessionToken([]byte("other-secret"), raw); err == nil {
		t.Fatal("token verified with wrong secret")
	}
}

func TestMalformedTokenRejected(t *testing.T) {
	for _, raw := range []string{"", "garbage", "a.b", "a.b.c.d", "!!!.???.###"} {
		if _, err := VerifySessionToken(testSecret, raw); err == nil {
			t.Errorf("malformed token %q accepted", raw)
		}
	}
}

func TestTokenKindEnforced(t *testing.T) {
	// A storage token is not a valid session token: it carries no room or
	// storage context.
	if _, err := VerifySessionToken(testSecret, mintTestStorage(t, time.Hour)); err == nil {
		t.Error("storage token accepted as session token")
	}

	// A session token is not a valid storage token: wrong kind tag.
	if _, err := VerifyStorageToken(testSecret, mintTestSession(t, time.Minute)); err == nil {
		t.Error("session token accepted as storage token")
	}
}

func TestRoomIDDeterministic(t *testing.T) {
	a := RoomID(testSecret, "file-1")
	b := RoomID(testSecret, "file-1")
	if a != b {
		t.Errorf("RoomID not deterministic: %q vs %q", a, b)
	}
	if RoomID(testSecret, "file-2") == a {
		t.Error("distinct files map to the same room identity")
	}
	if RoomID([]byte("other-secret"), "file-1") == a {
		t.Error("room identity does not depend on the secret")
	}
	if strings.Contains(a, "file-1") {
		t.Error("room identity leaks the file ID")
	}
}

func TestUserTokenRoundtrip(t *testing.T) {
	raw, err := MintUserToken(testSecret, UserClaims{Login: "alice"}, time.Hour)
	if err != nil {
		t.Fatalf("MintUserToken: %v", err)
	}
	// Subject is required.
	if _, err := VerifyUserToken(testSecret, raw); err == nil {
		t.Fatal("user token without subject accepted")
	}

	claims := UserClaims{Login: "alice"}
	claims.Subject = "github:1234"
	raw, err = MintUserToken(testSecret, claims, time.Hour)
	if err != nil {
		t.Fatalf("MintUserToken: %v", err)
	}
	got, err := VerifyUserToken(testSecret, raw)
	if err != nil {
		t.Fatalf("VerifyUserToken: %v", err)
	}
	if got.Subject != "github:1234" || got.Login != "alice" {
		t.Errorf("claims = %+v", got)
	}
}
