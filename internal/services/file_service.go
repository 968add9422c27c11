package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/tessera-ai/tessera/internal/core"
	"github.com/tessera-ai/tessera/internal/models"
)

// FileService owns file records, their blobs and their scratch
// vectors. Indexing is the ingest service's job; this layer stores,
// retrieves and cleans up.
type FileService struct {
	db      core.DbClient
	storage core.ObjectClient
	vector  core.VectorClient
	bucket  string
	logger  *slog.Logger
}

func NewFileService(db core.DbClient, storage core.ObjectClient, vector core.VectorClient, bucket string, logger *slog.Logger) *FileService {
	return &FileService{db: db, storage: storage, vector: vector, bucket: bucket, logger: logger}
}

// UploadAndCreate stores the raw payload and creates the file record.
// Content stays empty until extraction runs.
func (s *FileService) UploadAndCreate(ctx context.Context, userID, filename, contentType string, data []byte, meta map[string]any) (*models.File, error) {
	fileID := uuid.NewString()
	key := s.objectKey(userID, fileID, filename)

	if _, err := s.storage.UploadFile(ctx, s.bucket, key, data, contentType); err != nil {
		return nil, fmt.Errorf("upload blob: %w", err)
	}

	file := &models.File{
		ID:       fileID,
		UserID:   userID,
		Filename: filename,
		Path:     key,
		Meta:     meta,
	}
	if err := s.db.CreateFile(ctx, file); err != nil {
		return nil, fmt.Errorf("create file record: %w", err)
	}
	return file, nil
}

// CreateFromText creates a file record whose content is already known,
// with no blob behind it.
func (s *FileService) CreateFromText(ctx context.Context, userID, filename, content string, meta map[string]any) (*models.File, error) {
	file := &models.File{
		ID:       uuid.NewString(),
		UserID:   userID,
		Filename: filename,
		Data:     models.FileData{Content: content},
		Meta:     meta,
	}
	if err := s.db.CreateFile(ctx, file); err != nil {
		return nil, fmt.Errorf("create file record: %w", err)
	}
	return file, nil
}

func (s *FileService) Get(ctx context.Context, actor core.Actor, id string) (*models.File, error) {
	file, err := s.db.GetFileByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, fmt.Errorf("file %s: %w", id, core.ErrNotFound)
	}
	if !actor.IsAdmin() && file.UserID != actor.ID {
		return nil, core.ErrAccessDenied
	}
	return file, nil
}

// Open streams the original blob. Caller closes the reader.
func (s *FileService) Open(ctx context.Context, actor core.Actor, id string) (io.ReadCloser, *models.File, error) {
	file, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, nil, err
	}
	if file.Path == "" {
		return nil, nil, fmt.Errorf("file %s has no stored payload: %w", id, core.ErrNotFound)
	}
	rc, err := s.storage.GetObjectReader(ctx, s.bucket, file.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open blob: %w", err)
	}
	return rc, file, nil
}

// Delete removes the record, blob and scratch vectors. Membership in
// knowledge bases is not checked here; callers wanting safe removal go
// through the knowledge service.
func (s *FileService) Delete(ctx context.Context, actor core.Actor, id string) error {
	file, err := s.Get(ctx, actor, id)
	if err != nil {
		return err
	}

	if err := s.vector.DeleteCollection(ctx, fileCollection(id)); err != nil {
		s.logger.Warn("drop scratch collection failed", "file_id", id, "error", err)
	}
	if collection, _ := file.Meta["collection_name"].(string); collection != "" && collection != fileCollection(id) {
		if err := s.vector.DeleteByFilter(ctx, collection, map[string]any{"file_id": id}); err != nil {
			s.logger.Warn("remove shared vectors failed", "file_id", id, "collection", collection, "error", err)
		}
	}

	if file.Path != "" {
		if err := s.storage.DeleteFileAndRelated(ctx, s.bucket, file.Path); err != nil {
			return fmt.Errorf("delete blob: %w", err)
		}
	}
	return s.db.DeleteFileByID(ctx, id)
}

// objectKey creates a consistent S3 key layout.
func (s *FileService) objectKey(userID, fileID, filename string) string {
	filename = strings.TrimSpace(filename)
	filename = strings.ReplaceAll(filename, " ", "_")
	return path.Join("users", userID, "documents", fileID, filename)
}
