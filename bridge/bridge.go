// Package bridge performs all document-store I/O for the collaboration
// tier. Every request is authorized solely by the storage token the bridge
// was built from; the process itself holds no store credentials.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tldraw-collab/auth"

	"github.com/sirupsen/logrus"
)

// ErrReadOnly is returned when a mutating call is attempted with a token
// that does not carry write permission. The check fails closed before any
// request leaves the process.
var ErrReadOnly = errors.New("storage token is read-only")

// Bridge is scoped to one document via a verified storage token.
type Bridge struct {
	baseURL  string
	rawToken string
	claims   auth.StorageClaims
	client   *http.Client
}

// New builds a bridge for the document named by claims. rawToken must be
// the exact token string claims were verified from; it is replayed verbatim
// as the bearer credential.
func New(baseURL, rawToken string, claims auth.StorageClaims) *Bridge {
	return &Bridge{
		baseURL:  strings.TrimRight(baseURL, "/"),
		rawToken: rawToken,
		claims:   claims,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// CanWrite reports whether the underlying token permits mutation.
func (b *Bridge) CanWrite() bool {
	return b.claims.CanWrite
}

// FileID returns the document identity the bridge is scoped to.
func (b *Bridge) FileID() string {
	return b.claims.FileID
}

// Load fetches the current document snapshot. A missing document is not an
// error: the store answers 200 with an empty body and Load returns nil so
// the room starts blank.
func (b *Bridge) Load(ctx context.Context) ([]byte, error) {
	resp, err := b.do(ctx, http.MethodGet, "/file/"+url.PathEscape(b.claims.FileID), nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("load failed: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read snapshot body: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	return data, nil
}

// Flush persists a snapshot. Failures are reported to the caller, which
// logs and retries on its next scheduled cycle; nothing here blocks or
// fails the live session.
func (b *Bridge) Flush(ctx context.Context, snapshot []byte) error {
	if !b.claims.CanWrite {
		return ErrReadOnly
	}
	if len(snapshot) == 0 {
		return nil
	}

	resp, err := b.do(ctx, http.MethodPut, "/file/"+url.PathEscape(b.claims.FileID), snapshot, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("flush failed: HTTP %d", resp.StatusCode)
	}
	return nil
}

// UploadAsset forwards a validated binary payload to the store and returns
// the URL the asset will be served from.
func (b *Bridge) UploadAsset(ctx context.Context, data []byte, mimeType string) (string, error) {
	if !b.claims.CanWrite {
		return "", ErrReadOnly
	}

	resp, err := b.do(ctx, http.MethodPost, "/file/"+url.PathEscape(b.claims.FileID)+"/asset", data, mimeType)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("asset upload failed: HTTP %d", resp.StatusCode)
	}

	var reply struct {
		AssetKey string `json:"assetKey"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return "", fmt.Errorf("decode asset reply: %w", err)
	}
	if reply.AssetKey == "" {
		return "", fmt.Errorf("store returned empty asset key")
	}

	// Assets are served by the store directly; the collab tier never
	// proxies them.
	return b.baseURL + "/asset/" + url.PathEscape(reply.AssetKey), nil
}

func (b *Bridge) do(ctx context.Context, method, path string, body []byte, contentType string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+b.rawToken)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	logrus.WithFields(logrus.Fields{
		"method":  method,
		"path":    path,
		"file_id": b.claims.FileID,
	}).Debug("document store call")

	return b.client.Do(req)
}
