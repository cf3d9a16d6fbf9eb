package core

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a file record, document body or
// asset does not exist. A missing document body is not a failure for the
// collaboration tier: it means a fresh document.
var ErrNotFound = errors.New("not found")

// SharedMode controls what non-owners may do with a file.
type SharedMode string

const (
	SharedNone  SharedMode = ""
	SharedRead  SharedMode = "read"
	SharedWrite SharedMode = "write"
)

type (
	// FileRecord is the metadata for one collaborative document. The record
	// is what token issuance resolves; the document body itself is addressed
	// by (OwnerID, Path).
	FileRecord struct {
		ID        string     `json:"id"`
		OwnerID   string     `json:"-"` // Not exposed in JSON responses, used internally.
		Name      string     `json:"name"`
		Path      string     `json:"path"`
		Shared    SharedMode `json:"shared"`
		CreatedAt time.Time  `json:"createdAt"`
		UpdatedAt time.Time  `json:"updatedAt"`
	}

	// FileIndex resolves file identifiers to their records.
	FileIndex interface {
		// CreateFile registers a new record. The store assigns timestamps.
		CreateFile(ctx context.Context, file *FileRecord) error

		// FileByID returns the record for id, or ErrNotFound.
		FileByID(ctx context.Context, id string) (*FileRecord, error)

		// ListFiles returns all records owned by a user, without bodies.
		ListFiles(ctx context.Context, ownerID string) ([]*FileRecord, error)
	}

	// DocumentStore persists document bodies on behalf of their owners.
	DocumentStore interface {
		// GetDocument returns the raw body for (ownerID, path), or
		// ErrNotFound if it was never written.
		GetDocument(ctx context.Context, ownerID, path string) ([]byte, error)

		// PutDocument replaces the body for (ownerID, path), creating it if
		// absent.
		PutDocument(ctx context.Context, ownerID, path string, data []byte) error
	}

	// AssetStore persists uploaded binary assets under an owner-scoped name.
	AssetStore interface {
		PutAsset(ctx context.Context, ownerID, name string, data []byte) error

		// GetAsset returns the asset bytes, or ErrNotFound.
		GetAsset(ctx context.Context, ownerID, name string) ([]byte, error)
	}
)

// CanWrite reports whether user may mutate the file described by f.
func (f *FileRecord) CanWrite(userID string) bool {
	return f.OwnerID == userID || f.Shared == SharedWrite
}

// CanRead reports whether user may view the file described by f.
func (f *FileRecord) CanRead(userID string) bool {
	return f.OwnerID == userID || f.Shared == SharedRead || f.Shared == SharedWrite
}
