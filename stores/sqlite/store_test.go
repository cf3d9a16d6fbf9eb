package sqlite

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"tldraw-collab/core"
)

func newTestStore(t *testing.T) *sqliteStore {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "test.db"))
}

func TestFileIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	record := &core.FileRecord{
		ID: "f1", OwnerID: "alice", Name: "plan", Path: "plan.tldr", Shared: core.SharedRead,
	}
	if err := s.CreateFile(ctx, record); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := s.CreateFile(ctx, record); err == nil {
		t.Error("duplicate CreateFile should fail")
	}

	got, err := s.FileByID(ctx, "f1")
	if err != nil {
		t.Fatalf("FileByID: %v", err)
	}
	if got.OwnerID != "alice" || got.Shared != core.SharedRead {
		t.Errorf("record = %+v", got)
	}
	if _, err := s.FileByID(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("FileByID(missing) = %v, want ErrNotFound", err)
	}

	records, err := s.ListFiles(ctx, "alice")
	if err != nil || len(records) != 1 {
		t.Fatalf("ListFiles = %v, %v", records, err)
	}
	records, err = s.ListFiles(ctx, "bob")
	if err != nil || len(records) != 0 {
		t.Errorf("ListFiles(bob) = %v, %v, want empty", records, err)
	}
}

func TestDocumentRoundtripAndUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetDocument(ctx, "alice", "plan.tldr"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("GetDocument on empty store = %v, want ErrNotFound", err)
	}

	if err := s.PutDocument(ctx, "alice", "plan.tldr", []byte("v1")); err != nil {
		t.Fatalf("PutDocument: %v", err)
	}
	if err := s.PutDocument(ctx, "alice", "plan.tldr", []byte("v2")); err != nil {
		t.Fatalf("PutDocument upsert: %v", err)
	}
	got, err := s.GetDocument(ctx, "alice", "plan.tldr")
	if err != nil || !bytes.Equal(got, []byte("v2")) {
		t.Fatalf("GetDocument = %q, %v, want v2", got, err)
	}

	if _, err := s.GetDocument(ctx, "bob", "plan.tldr"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("documents are not owner-scoped: %v", err)
	}
}

func TestSaveUpdatesRecordTimestamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := time.Now().Add(-time.Hour)
	record := &core.FileRecord{
		ID: "f1", OwnerID: "alice", Name: "plan", Path: "plan.tldr",
		CreatedAt: created, UpdatedAt: created,
	}
	if err := s.CreateFile(ctx, record); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	// CreateFile refreshes UpdatedAt; capture it before the body write.
	before, err := s.FileByID(ctx, "f1")
	if err != nil {
		t.Fatalf("FileByID: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	if err := s.PutDocument(ctx, "alice", "plan.tldr", []byte("body")); err != nil {
		t.Fatalf("PutDocument: %v", err)
	}

	after, err := s.FileByID(ctx, "f1")
	if err != nil {
		t.Fatalf("FileByID: %v", err)
	}
	if !after.UpdatedAt.After(before.UpdatedAt) {
		t.Errorf("UpdatedAt not advanced by a body write: %v -> %v", before.UpdatedAt, after.UpdatedAt)
	}
}

func TestAssetRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	data := []byte{0x89, 0x50, 0x4E, 0x47}
	if err := s.PutAsset(ctx, "alice", "a.png", data); err != nil {
		t.Fatalf("PutAsset: %v", err)
	}
	got, err := s.GetAsset(ctx, "alice", "a.png")
	if err != nil || !bytes.Equal(got, data) {
		t.Fatalf("GetAsset = %q, %v", got, err)
	}
	if _, err := s.GetAsset(ctx, "alice", "b.png"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetAsset(missing) = %v, want ErrNotFound", err)
	}
}
