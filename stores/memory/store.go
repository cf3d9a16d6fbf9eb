package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tldraw-collab/core"

	"github.com/sirupsen/logrus"
)

// memStore keeps everything in process memory. Useful for tests and for
// running the whole stack without any external dependency.
type memStore struct {
	mu sync.RWMutex

	files map[string]*core.FileRecord
	// documents and assets are keyed by ownerID, then by path or name.
	documents map[string]map[string][]byte
	assets    map[string]map[string][]byte
}

// NewStore creates a new in-memory store.
func NewStore() *memStore {
	return &memStore{
		files:     make(map[string]*core.FileRecord),
		documents: make(map[string]map[string][]byte),
		assets:    make(map[string]map[string][]byte),
	}
}

func (s *memStore) CreateFile(ctx context.Context, file *core.FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if file.ID == "" {
		return fmt.Errorf("file ID cannot be empty")
	}
	if file.OwnerID == "" {
		return fmt.Errorf("owner ID cannot be empty")
	}
	if _, exists := s.files[file.ID]; exists {
		return fmt.Errorf("file %s already exists", file.ID)
	}

	now := time.Now()
	if file.CreatedAt.IsZero() {
		file.CreatedAt = now
	}
	file.UpdatedAt = now

	clone := *file
	s.files[file.ID] = &clone
	logrus.WithFields(logrus.Fields{"file_id": file.ID, "owner_id": file.OwnerID}).Info("File created")
	return nil
}

func (s *memStore) FileByID(ctx context.Context, id string) (*core.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.files[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	clone := *record
	return &clone, nil
}

func (s *memStore) ListFiles(ctx context.Context, ownerID string) ([]*core.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*core.FileRecord, 0)
	for _, record := range s.files {
		if record.OwnerID == ownerID {
			clone := *record
			records = append(records, &clone)
		}
	}
	return records, nil
}

func (s *memStore) GetDocument(ctx context.Context, ownerID, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.documents[ownerID][path]
	if !ok {
		return nil, core.ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *memStore) PutDocument(ctx context.Context, ownerID, path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.documents[ownerID] == nil {
		s.documents[ownerID] = make(map[string][]byte)
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	s.documents[ownerID][path] = stored

	if record := s.fileByPathLocked(ownerID, path); record != nil {
		record.UpdatedAt = time.Now()
	}
	return nil
}

func (s *memStore) PutAsset(ctx context.Context, ownerID, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.assets[ownerID] == nil {
		s.assets[ownerID] = make(map[string][]byte)
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	s.assets[ownerID][name] = stored
	return nil
}

func (s *memStore) GetAsset(ctx context.Context, ownerID, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.assets[ownerID][name]
	if !ok {
		return nil, core.ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *memStore) fileByPathLocked(ownerID, path string) *core.FileRecord {
	for _, record := range s.files {
		if record.OwnerID == ownerID && record.Path == path {
			return record
		}
	}
	return nil
}
