package filesystem

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"tldraw-collab/core"
)

func TestFileIndex(t *testing.T) {
	s := NewStore(t.TempDir())
	ctx := context.Background()

	record := &core.FileRecord{ID: "f1", OwnerID: "alice", Name: "plan", Path: "plan.tldr"}
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
	// OwnerID is excluded from the record's JSON; the store must restore it.
	if got.OwnerID != "alice" {
		t.Errorf("OwnerID = %q, want alice", got.OwnerID)
	}
	if _, err := s.FileByID(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("FileByID(missing) = %v, want ErrNotFound", err)
	}

	records, err := s.ListFiles(ctx, "alice")
	if err != nil || len(records) != 1 {
		t.Fatalf("ListFiles = %v, %v", records, err)
	}
	if records[0].OwnerID != "alice" {
		t.Errorf("listed OwnerID = %q", records[0].OwnerID)
	}
}

func TestDocumentRoundtrip(t *testing.T) {
	s := NewStore(t.TempDir())
	ctx := context.Background()

	if _, err := s.GetDocument(ctx, "alice", "plan.tldr"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("GetDocument on empty store = %v, want ErrNotFound", err)
	}

	doc := []byte(`{"records":{}}`)
	if err := s.PutDocument(ctx, "alice", "plan.tldr", doc); err != nil {
		t.Fatalf("PutDocument: %v", err)
	}
	got, err := s.GetDocument(ctx, "alice", "plan.tldr")
	if err != nil || !bytes.Equal(got, doc) {
		t.Fatalf("GetDocument = %q, %v", got, err)
	}

	// Nested paths are allowed as long as they stay under the owner.
	if err := s.PutDocument(ctx, "alice", "folder/deep.tldr", doc); err != nil {
		t.Fatalf("PutDocument nested: %v", err)
	}
	if _, err := s.GetDocument(ctx, "alice", "folder/deep.tldr"); err != nil {
		t.Errorf("GetDocument nested: %v", err)
	}
}

func TestTraversalRefused(t *testing.T) {
	s := NewStore(t.TempDir())
	ctx := context.Background()

	if err := s.PutDocument(ctx, "alice", "../escape", []byte("x")); err == nil {
		t.Error("PutDocument with traversal path should fail")
	}
	if _, err := s.GetDocument(ctx, "../..", "etc/passwd"); err == nil || errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetDocument with traversal owner = %v, want a path error", err)
	}
	if err := s.PutAsset(ctx, "alice", "../../x.png", []byte("x")); err == nil {
		t.Error("PutAsset with traversal name should fail")
	}
}

func TestAssetRoundtrip(t *testing.T) {
	s := NewStore(t.TempDir())
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
