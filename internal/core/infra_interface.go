package core

import (
	"context"
	"io"

	"github.com/tessera-ai/tessera/internal/models"
)

// DbClient defines all persistence operations the services need.
// It abstracts Postgres so higher layers never depend on a specific DB.
type DbClient interface {
	CreateUser(ctx context.Context, user *models.User) (err error)
	GetUserByEmail(ctx context.Context, email string) (user *models.User, err error)

	CreateFile(ctx context.Context, file *models.File) error
	GetFileByID(ctx context.Context, id string) (*models.File, error)
	GetFilesByIDs(ctx context.Context, ids []string) ([]models.File, error)
	GetFileMetadatasByIDs(ctx context.Context, ids []string) ([]models.FileMetadata, error)
	UpdateFileContentByID(ctx context.Context, id string, content string) error
	UpdateFileHashByID(ctx context.Context, id string, hash string) error
	UpdateFileMetaByID(ctx context.Context, id string, meta map[string]any) error
	DeleteFileByID(ctx context.Context, id string) error

	CreateKnowledge(ctx context.Context, kb *models.KnowledgeBase) error
	GetKnowledgeByID(ctx context.Context, id string) (*models.KnowledgeBase, error)
	ListKnowledgeBases(ctx context.Context) ([]models.KnowledgeBase, error)
	UpdateKnowledgeByID(ctx context.Context, id string, name, description string) error
	UpdateKnowledgeDataByID(ctx context.Context, id string, data models.KnowledgeData) error
	DeleteKnowledgeByID(ctx context.Context, id string) error

	ListKnowledgeBasesReferencingFile(ctx context.Context, fileID string) ([]models.KnowledgeBase, error)

	ListModels(ctx context.Context) ([]models.Model, error)
	UpdateModelMetaByID(ctx context.Context, id string, meta models.ModelMeta) error

	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
// It is abstract so AWS can be replaced with MinIO, GCP, etc. easily.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)

	// DeleteFileAndRelated removes the object plus derived artifacts
	// sharing its stem (.mp3, .json, .txt sidecars).
	DeleteFileAndRelated(ctx context.Context, bucket, key string) error

	GetObjectReader(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// VectorItem is one embedded chunk stored in a collection.
type VectorItem struct {
	ID       string
	Text     string
	Vector   []float32
	Metadata map[string]any
}

// GetResult carries the raw rows returned from a collection read.
type GetResult struct {
	IDs       []string
	Documents []string
	Metadatas []map[string]any
}

// VectorClient abstracts the vector store. Collections are named sets
// of embedded chunks; filters are equality matches on metadata keys.
type VectorClient interface {
	HasCollection(ctx context.Context, collection string) (bool, error)
	DeleteCollection(ctx context.Context, collection string) error
	Insert(ctx context.Context, collection string, items []VectorItem) error
	Get(ctx context.Context, collection string) (*GetResult, error)
	Query(ctx context.Context, collection string, filter map[string]any) (*GetResult, error)
	DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error
	Reset(ctx context.Context) error
}
