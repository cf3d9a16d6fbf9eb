package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tldraw-collab/core"

	"github.com/sirupsen/logrus"
)

// fsStore lays files out under basePath as three trees:
//
//	index/<fileID>.json   file records
//	docs/<owner>/<path>   document bodies
//	assets/<owner>/<name> uploaded assets
type fsStore struct {
	basePath string
}

// NewStore creates a new filesystem-based store.
func NewStore(basePath string) *fsStore {
	for _, dir := range []string{"index", "docs", "assets"} {
		if err := os.MkdirAll(filepath.Join(basePath, dir), 0755); err != nil {
			log.Fatalf("failed to create storage directory: %v", err)
		}
	}
	return &fsStore{basePath: basePath}
}

// safeJoin joins elems under root and refuses paths that escape it.
func (s *fsStore) safeJoin(root string, elems ...string) (string, error) {
	full := filepath.Join(append([]string{s.basePath, root}, elems...)...)
	absRoot, err := filepath.Abs(filepath.Join(s.basePath, root))
	if err != nil {
		return "", err
	}
	absFull, err := filepath.Abs(full)
	if err != nil {
		return "", err
	}
	if absFull != absRoot && !strings.HasPrefix(absFull, absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid path: access denied")
	}
	return absFull, nil
}

// ownerPath resolves a path inside one owner's tree. The escape check is
// rooted at the owner directory so one owner's path cannot reach another's.
func (s *fsStore) ownerPath(root, ownerID string, elems ...string) (string, error) {
	if ownerID == "" || strings.ContainsAny(ownerID, `/\`) || strings.Contains(ownerID, "..") {
		return "", fmt.Errorf("invalid owner id %q", ownerID)
	}
	return s.safeJoin(filepath.Join(root, ownerID), elems...)
}

func (s *fsStore) CreateFile(ctx context.Context, file *core.FileRecord) error {
	indexPath, err := s.safeJoin("index", file.ID+".json")
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{"file_id": file.ID, "path": indexPath})

	if _, err := os.Stat(indexPath); err == nil {
		return fmt.Errorf("file %s already exists", file.ID)
	}

	now := time.Now()
	if file.CreatedAt.IsZero() {
		file.CreatedAt = now
	}
	file.UpdatedAt = now

	data, err := json.Marshal(indexEntry{Record: file, OwnerID: file.OwnerID})
	if err != nil {
		return err
	}
	if err := os.WriteFile(indexPath, data, 0644); err != nil {
		log.WithError(err).Error("Failed to write file record")
		return err
	}
	log.Info("File created")
	return nil
}

// indexEntry wraps a record with its owner, which the record's own JSON
// form deliberately omits.
type indexEntry struct {
	Record  *core.FileRecord `json:"record"`
	OwnerID string           `json:"ownerId"`
}

func (s *fsStore) FileByID(ctx context.Context, id string) (*core.FileRecord, error) {
	indexPath, err := s.safeJoin("index", id+".json")
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrNotFound
		}
		logrus.WithError(err).WithField("file_id", id).Error("Failed to read file record")
		return nil, err
	}

	var entry indexEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	entry.Record.OwnerID = entry.OwnerID
	return entry.Record, nil
}

func (s *fsStore) ListFiles(ctx context.Context, ownerID string) ([]*core.FileRecord, error) {
	indexDir := filepath.Join(s.basePath, "index")
	entries, err := os.ReadDir(indexDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*core.FileRecord{}, nil
		}
		return nil, err
	}

	records := make([]*core.FileRecord, 0)
	for _, dirEntry := range entries {
		if dirEntry.IsDir() || !strings.HasSuffix(dirEntry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(indexDir, dirEntry.Name()))
		if err != nil {
			logrus.WithError(err).Warnf("Failed to read record %s, skipping", dirEntry.Name())
			continue
		}
		var entry indexEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			logrus.WithError(err).Warnf("Failed to unmarshal record %s, skipping", dirEntry.Name())
			continue
		}
		if entry.OwnerID != ownerID {
			continue
		}
		entry.Record.OwnerID = entry.OwnerID
		records = append(records, entry.Record)
	}
	return records, nil
}

func (s *fsStore) GetDocument(ctx context.Context, ownerID, path string) ([]byte, error) {
	docPath, err := s.ownerPath("docs", ownerID, path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(docPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrNotFound
		}
		logrus.WithError(err).WithField("path", docPath).Error("Failed to read document")
		return nil, err
	}
	return data, nil
}

func (s *fsStore) PutDocument(ctx context.Context, ownerID, path string, data []byte) error {
	docPath, err := s.ownerPath("docs", ownerID, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(docPath), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(docPath, data, 0644); err != nil {
		logrus.WithError(err).WithField("path", docPath).Error("Failed to write document")
		return err
	}
	return nil
}

func (s *fsStore) PutAsset(ctx context.Context, ownerID, name string, data []byte) error {
	assetPath, err := s.ownerPath("assets", ownerID, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(assetPath), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(assetPath, data, 0644); err != nil {
		logrus.WithError(err).WithField("path", assetPath).Error("Failed to write asset")
		return err
	}
	return nil
}

func (s *fsStore) GetAsset(ctx context.Context, ownerID, name string) ([]byte, error) {
	assetPath, err := s.ownerPath("assets", ownerID, name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(assetPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	return data, nil
}
