package aws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"strings"
	"time"

	"tldraw-collab/core"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// s3Store keeps file records, document bodies and assets under distinct
// key prefixes in one bucket:
//
//	files/<fileID>.json
//	docs/<owner>/<path>
//	assets/<owner>/<name>
type s3Store struct {
	s3Client *s3.Client
	bucket   string
}

// NewStore creates a new S3-based store.
func NewStore(bucketName string) *s3Store {
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}

	return &s3Store{
		s3Client: s3.NewFromConfig(cfg),
		bucket:   bucketName,
	}
}

// safeKey builds a key under prefix from path segments, refusing anything
// that could escape its segment.
func safeKey(prefix string, elems ...string) (string, error) {
	for _, elem := range elems {
		if elem == "" || elem == "." || elem == ".." || strings.Contains(elem, "..") {
			return "", fmt.Errorf("invalid key segment %q", elem)
		}
	}
	return path.Join(append([]string{prefix}, elems...)...), nil
}

func (s *s3Store) get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (s *s3Store) put(ctx context.Context, key string, data []byte) error {
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

// fileEntry carries the owner alongside the record, which the record's
// own JSON form deliberately omits.
type fileEntry struct {
	Record  *core.FileRecord `json:"record"`
	OwnerID string           `json:"ownerId"`
}

func (s *s3Store) CreateFile(ctx context.Context, file *core.FileRecord) error {
	key, err := safeKey("files", file.ID+".json")
	if err != nil {
		return err
	}

	now := time.Now()
	if file.CreatedAt.IsZero() {
		file.CreatedAt = now
	}
	file.UpdatedAt = now

	data, err := json.Marshal(fileEntry{Record: file, OwnerID: file.OwnerID})
	if err != nil {
		return err
	}
	return s.put(ctx, key, data)
}

func (s *s3Store) FileByID(ctx context.Context, id string) (*core.FileRecord, error) {
	key, err := safeKey("files", id+".json")
	if err != nil {
		return nil, err
	}

	data, err := s.get(ctx, key)
	if err != nil {
		return nil, err
	}

	var entry fileEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal file record: %w", err)
	}
	entry.Record.OwnerID = entry.OwnerID
	return entry.Record, nil
}

func (s *s3Store) ListFiles(ctx context.Context, ownerID string) ([]*core.FileRecord, error) {
	output, err := s.s3Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String("files/"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list file records: %w", err)
	}

	records := make([]*core.FileRecord, 0)
	for _, object := range output.Contents {
		data, err := s.get(ctx, *object.Key)
		if err != nil {
			log.Printf("warn: failed to get object %s: %v", *object.Key, err)
			continue
		}
		var entry fileEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			log.Printf("warn: failed to unmarshal record %s: %v", *object.Key, err)
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

func (s *s3Store) GetDocument(ctx context.Context, ownerID, docPath string) ([]byte, error) {
	key, err := safeKey("docs", ownerID, docPath)
	if err != nil {
		return nil, err
	}
	return s.get(ctx, key)
}

func (s *s3Store) PutDocument(ctx context.Context, ownerID, docPath string, data []byte) error {
	key, err := safeKey("docs", ownerID, docPath)
	if err != nil {
		return err
	}
	return s.put(ctx, key, data)
}

func (s *s3Store) PutAsset(ctx context.Context, ownerID, name string, data []byte) error {
	key, err := safeKey("assets", ownerID, name)
	if err != nil {
		return err
	}
	return s.put(ctx, key, data)
}

func (s *s3Store) GetAsset(ctx context.Context, ownerID, name string) ([]byte, error) {
	key, err := safeKey("assets", ownerID, name)
	if err != nil {
		return nil, err
	}
	return s.get(ctx, key)
}
